package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/vaultkeep/internal/artifact"
	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/repository"
	"github.com/martijn/vaultkeep/internal/infrastructure/sqlite"
)

func TestCreateBackupCompletes(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "nightly", CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusPending, created.Status)
	assert.Equal(t, "nightly", created.Name)
	assert.Equal(t, testCollections, created.CollectionsIncluded)
	require.NotNil(t, created.StartedBy)
	assert.Equal(t, LocalOperator.ID, *created.StartedBy)

	env.wait(t)

	backup, err := env.engine.GetBackupByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusCompleted, backup.Status)
	assert.Equal(t, 100, backup.Progress)
	require.NotNil(t, backup.ArtifactPath)
	require.NotNil(t, backup.SizeBytes)
	require.NotNil(t, backup.Checksum)
	assert.Nil(t, backup.ErrorMessage)
	assert.Equal(t, ArtifactPrefix+backup.ID+".vkar", *backup.ArtifactPath)

	blob, err := env.blobs.Get(context.Background(), *backup.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(blob)), *backup.SizeBytes)
	assert.True(t, artifact.Verify(blob, *backup.Checksum))

	header, payload, err := artifact.Open(blob)
	require.NoError(t, err)
	assert.Equal(t, backup.ID, header.Snapshot.BackupID)
	assert.Equal(t, domain.CompressionGzip, header.Compression)
	for _, name := range testCollections {
		assert.Equal(t, env.readAll(t, name), payload.Collections[name], name)
	}

	assert.Equal(t, 1, env.metrics.backupCount("completed"))
	assert.Contains(t, env.activity.Events(), domain.EventBackupCreated)
	assert.Contains(t, env.activity.Events(), domain.EventBackupCompleted)
	assert.False(t, env.engine.Running())
}

func TestCreateBackupDefaultName(t *testing.T) {
	env := newTestEnv(t)

	backup := env.backup(t, CreateOptions{})
	assert.Equal(t, "manual-20260301-120000", backup.Name)
}

func TestCreateBackupOptionsOverrideConfig(t *testing.T) {
	env := newTestEnv(t)

	compression := domain.CompressionZip
	retention := 3
	backup := env.backup(t, CreateOptions{
		Collections:   []string{"orders"},
		Compression:   &compression,
		RetentionDays: &retention,
	})

	assert.Equal(t, []string{"orders"}, backup.CollectionsIncluded)
	assert.Equal(t, domain.CompressionZip, backup.Compression)
	assert.Equal(t, 3, backup.RetentionDays)
	assert.True(t, backup.ExpiresAt.Equal(backup.StartedAt.AddDate(0, 0, 3)))
}

func TestCreateBackupFilesOnly(t *testing.T) {
	env := newTestEnv(t)
	env.setConfig(t, func(cfg *domain.BackupConfig) {
		cfg.IncludeDatabase = false
		cfg.IncludeFiles = true
	})

	backup := env.backup(t, CreateOptions{})
	assert.Empty(t, backup.CollectionsIncluded)
	assert.True(t, backup.IncludeFiles)
}

func TestCreateBackupValidation(t *testing.T) {
	env := newTestEnv(t)
	noFiles := false
	badCompression := domain.Compression("lz4")
	zeroDays := 0

	tests := []struct {
		name string
		kind domain.BackupKind
		opts CreateOptions
	}{
		{name: "unknown kind", kind: "hourly"},
		{name: "duplicate collection", kind: domain.BackupKindManual, opts: CreateOptions{Collections: []string{"orders", "orders"}}},
		{name: "empty collection name", kind: domain.BackupKindManual, opts: CreateOptions{Collections: []string{""}}},
		{name: "nothing selected", kind: domain.BackupKindManual, opts: CreateOptions{Collections: []string{}, IncludeFiles: &noFiles}},
		{name: "bad compression", kind: domain.BackupKindManual, opts: CreateOptions{Compression: &badCompression}},
		{name: "zero retention", kind: domain.BackupKindManual, opts: CreateOptions{RetentionDays: &zeroDays}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.CreateBackup(operatorCtx(), tt.kind, "", tt.opts)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	backups, err := env.engine.GetBackups(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestCreateBackupPermissions(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.CreateBackup(context.Background(), domain.BackupKindManual, "", CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = env.engine.CreateBackup(actorCtx("backup.restore"), domain.BackupKindManual, "", CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	// An actor asking for a scheduled backup still needs the capability
	_, err = env.engine.CreateBackup(actorCtx("backup.delete"), domain.BackupKindScheduled, "", CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	scheduled, err := env.engine.CreateBackup(context.Background(), domain.BackupKindScheduled, "", CreateOptions{})
	require.NoError(t, err)
	assert.Nil(t, scheduled.StartedBy)
	env.wait(t)

	granted, err := env.engine.CreateBackup(actorCtx("backup.create"), domain.BackupKindFull, "", CreateOptions{})
	require.NoError(t, err)
	require.NotNil(t, granted.StartedBy)
	assert.Equal(t, "client-1", *granted.StartedBy)
	env.wait(t)
}

func TestCreateBackupConflictWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	release := env.records.GateReads()

	first, err := env.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "", CreateOptions{})
	require.NoError(t, err)
	env.waitForStatus(t, first.ID, domain.BackupStatusRunning)
	assert.True(t, env.engine.Running())

	_, err = env.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "", CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = env.engine.CreateBackup(context.Background(), domain.BackupKindScheduled, "", CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrConflict)

	running, total, err := env.engine.FindBackups(context.Background(), repository.BackupFilter{
		Statuses: []domain.BackupStatus{domain.BackupStatusRunning},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, running, 1)
	assert.Equal(t, first.ID, running[0].ID)

	all, err := env.engine.GetBackups(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	release()
	env.wait(t)

	backup, err := env.engine.GetBackupByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusCompleted, backup.Status)

	// The slot is free again
	env.backup(t, CreateOptions{})
}

func TestCreateBackupConflictAcrossEngines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultkeep.db")
	open := func() *sqlite.DB {
		db, err := sqlite.New(path)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	}
	server := newTestEnvOn(t, open())
	cli := newTestEnvOn(t, open())
	ctx := context.Background()

	release := server.records.GateReads()
	created, err := server.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "", CreateOptions{})
	require.NoError(t, err)
	server.waitForStatus(t, created.ID, domain.BackupStatusRunning)

	_, err = cli.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "", CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, total, err := cli.engine.FindBackups(ctx, repository.BackupFilter{
		Statuses: []domain.BackupStatus{domain.BackupStatusPending, domain.BackupStatusRunning},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	release()
	server.wait(t)

	backup := cli.backup(t, CreateOptions{})
	assert.NotEqual(t, created.ID, backup.ID)
}

func TestConcurrentCreateBackupAdmitsOne(t *testing.T) {
	env := newTestEnv(t)
	release := env.records.GateReads()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "", CreateOptions{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 7, conflicts)

	release()
	env.wait(t)
}

func TestCancelRunningBackup(t *testing.T) {
	env := newTestEnv(t)
	release := env.records.GateReads()

	created, err := env.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "", CreateOptions{})
	require.NoError(t, err)
	env.waitForStatus(t, created.ID, domain.BackupStatusRunning)

	cancelled, err := env.engine.CancelBackup(operatorCtx(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusCancelled, cancelled.Status)

	release()
	env.wait(t)

	backup, err := env.engine.GetBackupByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusCancelled, backup.Status)
	assert.Nil(t, backup.ErrorMessage)
	assert.Nil(t, backup.ArtifactPath)
	assert.Nil(t, backup.Checksum)
	assert.Nil(t, backup.SizeBytes)
	require.NotNil(t, backup.FinishedAt)
	assert.Empty(t, env.blobs.Paths())
	assert.Equal(t, 1, env.metrics.backupCount("cancelled"))
	assert.Contains(t, env.activity.Events(), domain.EventBackupCancelled)

	_, err = env.engine.CancelBackup(operatorCtx(), created.ID)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
}

func TestCancelBackupPreconditions(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})

	_, err := env.engine.CancelBackup(operatorCtx(), backup.ID)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	stored, err := env.engine.GetBackupByID(context.Background(), backup.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusCompleted, stored.Status)

	_, err = env.engine.CancelBackup(operatorCtx(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.engine.CancelBackup(actorCtx("backup.restore"), backup.ID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestBackupFailsWhenRecordStoreUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.records.SetUnavailable(true)

	created, err := env.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "", CreateOptions{})
	require.NoError(t, err)
	env.wait(t)

	backup, err := env.engine.GetBackupByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusFailed, backup.Status)
	require.NotNil(t, backup.ErrorMessage)
	assert.Contains(t, *backup.ErrorMessage, "adapter unavailable")
	assert.Nil(t, backup.ArtifactPath)
	assert.Empty(t, env.blobs.Paths())
	assert.Equal(t, 1, env.metrics.backupCount("failed"))
	assert.False(t, env.engine.Running())
}

func TestBackupFailsWhenUploadFails(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.FailPuts(errors.New("disk full"))

	created, err := env.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "", CreateOptions{})
	require.NoError(t, err)
	env.wait(t)

	backup, err := env.engine.GetBackupByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusFailed, backup.Status)
	require.NotNil(t, backup.ErrorMessage)
	assert.Contains(t, *backup.ErrorMessage, "disk full")
	assert.Nil(t, backup.Checksum)
}

func TestBackupAbsorbsSingleCollectionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.records.FailRead("orders", errors.New("relation does not exist"))

	backup := env.backup(t, CreateOptions{})

	blob, err := env.blobs.Get(context.Background(), *backup.ArtifactPath)
	require.NoError(t, err)
	header, payload, err := artifact.Open(blob)
	require.NoError(t, err)

	assert.Empty(t, payload.Collections["orders"])
	assert.NotNil(t, payload.Collections["orders"])
	assert.Len(t, payload.Collections["services"], 2)
	require.Len(t, header.Snapshot.Warnings, 1)
	assert.Contains(t, header.Snapshot.Warnings[0], "orders")

	report, err := env.engine.ValidateBackup(context.Background(), backup.ID)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Contains(t, report.Warnings, header.Snapshot.Warnings[0])
}

func TestProgressEventsAreOrdered(t *testing.T) {
	env := newTestEnv(t)

	var (
		mu     sync.Mutex
		events []domain.ProgressEvent
	)
	unsubscribe := env.engine.OnProgress(func(ev domain.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	defer unsubscribe()

	backup := env.backup(t, CreateOptions{})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0 && events[len(events)-1].OverallProgress == 100
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	steps := map[string]bool{}
	for i, ev := range events {
		assert.Equal(t, backup.ID, ev.BackupID)
		assert.Equal(t, len(pipelineSteps), ev.TotalSteps)
		steps[ev.StepName] = true
		if i > 0 {
			assert.GreaterOrEqual(t, ev.OverallProgress, events[i-1].OverallProgress)
		}
	}
	for _, name := range pipelineSteps {
		assert.True(t, steps[name], "no progress for step %s", name)
	}
	assert.Equal(t, *backup.SizeBytes, events[len(events)-1].TotalBytes)
}

func TestDeleteBackup(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})

	err := env.engine.DeleteBackup(actorCtx("backup.create"), backup.ID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	require.NoError(t, env.engine.DeleteBackup(operatorCtx(), backup.ID))

	_, err = env.engine.GetBackupByID(context.Background(), backup.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.blobs.Get(context.Background(), *backup.ArtifactPath)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, env.activity.Events(), domain.EventBackupDeleted)

	err = env.engine.DeleteBackup(operatorCtx(), backup.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteRunningBackupConflicts(t *testing.T) {
	env := newTestEnv(t)
	release := env.records.GateReads()

	created, err := env.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "", CreateOptions{})
	require.NoError(t, err)
	env.waitForStatus(t, created.ID, domain.BackupStatusRunning)

	err = env.engine.DeleteBackup(operatorCtx(), created.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	release()
	env.wait(t)
}

func TestValidateBackup(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})

	report, err := env.engine.ValidateBackup(context.Background(), backup.ID)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.True(t, report.ChecksumMatches)
	assert.True(t, report.SizeMatches)
	assert.Empty(t, report.Errors)
}

func TestValidateBackupDetectsCorruption(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})

	require.NoError(t, env.blobs.FlipBit(*backup.ArtifactPath, int(*backup.SizeBytes)-1))

	report, err := env.engine.ValidateBackup(context.Background(), backup.ID)
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.False(t, report.ChecksumMatches)
	assert.True(t, report.SizeMatches)
	assert.Contains(t, report.Errors, "checksum mismatch")
}

func TestValidateBackupMissingArtifact(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})
	require.NoError(t, env.blobs.Delete(context.Background(), *backup.ArtifactPath))

	report, err := env.engine.ValidateBackup(context.Background(), backup.ID)
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "missing")

	_, err = env.engine.ValidateBackup(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestValidateBackupWithoutArtifact(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.FailPuts(errors.New("bucket gone"))

	created, err := env.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "", CreateOptions{})
	require.NoError(t, err)
	env.wait(t)

	report, err := env.engine.ValidateBackup(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.Contains(t, report.Errors, "backup is failed and has no artifact")
}

func TestGetBackupsNewestFirst(t *testing.T) {
	env := newTestEnv(t)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, env.backup(t, CreateOptions{}).ID)
		env.clock.Advance(time.Minute)
	}

	backups, err := env.engine.GetBackups(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{backups[0].ID, backups[1].ID, backups[2].ID})

	page, err := env.engine.GetBackups(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	_, err = env.engine.GetBackups(context.Background(), -1, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRecoverFailsInterruptedBackups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale := domain.NewBackupRecord(domain.BackupKindManual, "", testCollections, false,
		domain.CompressionGzip, nil, 30, env.clock.Now())
	require.NoError(t, env.engine.registry.Create(ctx, stale))
	_, err := env.engine.registry.Update(ctx, stale.ID, func(r *domain.BackupRecord) error { return r.Start() })
	require.NoError(t, err)

	pending := domain.NewBackupRecord(domain.BackupKindScheduled, "", testCollections, false,
		domain.CompressionGzip, nil, 30, env.clock.Now())
	require.NoError(t, env.engine.registry.Create(ctx, pending))

	n, err := env.engine.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{stale.ID, pending.ID} {
		backup, err := env.engine.GetBackupByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.BackupStatusFailed, backup.Status)
		require.NotNil(t, backup.ErrorMessage)
		assert.Contains(t, *backup.ErrorMessage, "interrupted")
	}
}

func TestBackupConfigDefaultsAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg, err := env.engine.GetBackupConfig(ctx)
	require.NoError(t, err)
	assert.False(t, cfg.AutoBackupEnabled)
	assert.Equal(t, domain.ScheduleDaily, cfg.ScheduleType)
	assert.Equal(t, "02:00", cfg.ScheduleTimeOfDay)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, domain.CompressionGzip, cfg.Compression)
	assert.True(t, cfg.IncludeDatabase)
	assert.Equal(t, 10, cfg.MaxBackups)
	assert.Equal(t, testCollections, cfg.Collections)

	cfg.AutoBackupEnabled = true
	cfg.ScheduleType = domain.ScheduleWeekly
	cfg.MaxBackups = 4
	require.NoError(t, env.engine.UpdateBackupConfig(ctx, cfg))

	stored, err := env.engine.GetBackupConfig(ctx)
	require.NoError(t, err)
	assert.True(t, stored.AutoBackupEnabled)
	assert.Equal(t, domain.ScheduleWeekly, stored.ScheduleType)
	assert.Equal(t, 4, stored.MaxBackups)
	assert.Contains(t, env.activity.Events(), domain.EventConfigUpdated)

	stored.RetentionDays = 0
	assert.ErrorIs(t, env.engine.UpdateBackupConfig(ctx, stored), domain.ErrValidation)
	assert.ErrorIs(t, env.engine.UpdateBackupConfig(ctx, nil), domain.ErrValidation)
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Deps{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
