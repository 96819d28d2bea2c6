package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/infrastructure/clock"
	"github.com/martijn/vaultkeep/internal/infrastructure/memory"
	"github.com/martijn/vaultkeep/internal/infrastructure/sqlite"
)

var testCollections = []string{"services", "orders", "customers"}

type testEnv struct {
	engine   *Engine
	records  *memory.RecordStore
	blobs    *memory.BlobStore
	clock    *clock.Manual
	activity *recordingActivity
	metrics  *countingMetrics
}

// newTestEnv builds an engine over in-memory sqlite repositories and memory
// stores seeded with three small collections. Time starts at 2026-03-01 12:00 UTC.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return newTestEnvOn(t, db)
}

// newTestEnvOn builds the same environment over an existing database.
func newTestEnvOn(t *testing.T, db *sqlite.DB) *testEnv {
	t.Helper()

	env := &testEnv{
		records:  memory.NewRecordStore(),
		blobs:    memory.NewBlobStore(),
		clock:    clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		activity: &recordingActivity{},
		metrics:  &countingMetrics{},
	}
	env.records.Seed("services", []domain.Record{
		{"id": "svc-1", "name": "Haircut", "active": true},
		{"id": "svc-2", "name": "Colouring", "active": false},
	})
	env.records.Seed("orders", []domain.Record{
		{"id": "ord-1", "service": "svc-1", "status": "paid"},
	})
	env.records.Seed("customers", []domain.Record{
		{"id": "cus-1", "email": "ada@example.com"},
		{"id": "cus-2", "email": "grace@example.com"},
	})

	var err error
	env.engine, err = NewEngine(Deps{
		Backups:          sqlite.NewBackupRepository(db),
		Configs:          sqlite.NewConfigRepository(db),
		Restores:         sqlite.NewRestoreRepository(db),
		Records:          env.records,
		Blobs:            env.blobs,
		Auth:             ScopeAuth{},
		Clock:            env.clock,
		Activity:         env.activity,
		Metrics:          env.metrics,
		Collections:      testCollections,
		ExpiredAuditDays: DefaultExpiredAuditDays,
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)

	return env
}

func operatorCtx() context.Context {
	return WithActor(context.Background(), LocalOperator)
}

func actorCtx(scopes ...string) context.Context {
	return WithActor(context.Background(), Actor{ID: "client-1", Scopes: scopes})
}

// wait blocks until every pipeline the engine started has finished.
func (env *testEnv) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.engine.Wait(ctx))
}

// backup runs a manual backup to completion and returns the stored record.
func (env *testEnv) backup(t *testing.T, opts CreateOptions) *domain.BackupRecord {
	t.Helper()
	created, err := env.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "", opts)
	require.NoError(t, err)
	env.wait(t)

	backup, err := env.engine.GetBackupByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BackupStatusCompleted, backup.Status)
	return backup
}

// waitForStatus polls until the backup reaches status.
func (env *testEnv) waitForStatus(t *testing.T, id string, status domain.BackupStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		backup, err := env.engine.GetBackupByID(context.Background(), id)
		return err == nil && backup.Status == status
	}, 5*time.Second, 5*time.Millisecond)
}

func (env *testEnv) setConfig(t *testing.T, mutate func(*domain.BackupConfig)) {
	t.Helper()
	cfg, err := env.engine.GetBackupConfig(context.Background())
	require.NoError(t, err)
	mutate(cfg)
	require.NoError(t, env.engine.UpdateBackupConfig(context.Background(), cfg))
}

func (env *testEnv) readAll(t *testing.T, collection string) []domain.Record {
	t.Helper()
	records, err := env.records.ReadAll(context.Background(), collection)
	require.NoError(t, err)
	return records
}

type recordingActivity struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingActivity) Record(_ context.Context, eventType string, _ map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, eventType)
}

func (a *recordingActivity) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

type countingMetrics struct {
	mu       sync.Mutex
	backups  map[string]int
	restores map[string]int
	removed  int
}

func (m *countingMetrics) BackupFinished(kind, status string, _ time.Duration, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backups == nil {
		m.backups = map[string]int{}
	}
	m.backups[status]++
}

func (m *countingMetrics) RestoreFinished(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restores == nil {
		m.restores = map[string]int{}
	}
	m.restores[status]++
}

func (m *countingMetrics) RetentionRemoved(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed += n
}

func (m *countingMetrics) backupCount(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backups[status]
}

func (m *countingMetrics) restoreCount(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restores[status]
}
