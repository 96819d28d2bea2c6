package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/martijn/vaultkeep/internal/api/dto"
	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/repository"
	"github.com/martijn/vaultkeep/internal/core/service"
	"github.com/martijn/vaultkeep/internal/infrastructure/clock"
	"github.com/martijn/vaultkeep/internal/infrastructure/memory"
	"github.com/martijn/vaultkeep/internal/infrastructure/sqlite"
)

var baseTime = time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)

// testEnv holds all test dependencies
type testEnv struct {
	db           *sqlite.DB
	router       *gin.Engine
	engine       *service.Engine
	records      *memory.RecordStore
	blobs        *memory.BlobStore
	clock        *clock.Manual
	backupRepo   repository.BackupRepository
	activityRepo repository.ActivityRepository
}

// setupTestEnv creates a test environment with an in-memory SQLite database
// and memory stores. Routes run as the local operator unless a test
// overrides the actor header.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err, "failed to create test database")
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:           db,
		records:      memory.NewRecordStore(),
		blobs:        memory.NewBlobStore(),
		clock:        clock.NewManual(baseTime),
		backupRepo:   sqlite.NewBackupRepository(db),
		activityRepo: sqlite.NewActivityRepository(db),
	}
	env.records.Seed("services", []domain.Record{{"id": "svc-1", "name": "Haircut"}})
	env.records.Seed("orders", []domain.Record{{"id": "ord-1", "status": "paid"}})

	env.engine, err = service.NewEngine(service.Deps{
		Backups:     env.backupRepo,
		Configs:     sqlite.NewConfigRepository(db),
		Restores:    sqlite.NewRestoreRepository(db),
		Records:     env.records,
		Blobs:       env.blobs,
		Auth:        service.ScopeAuth{},
		Clock:       env.clock,
		Activity:    activityRecorder{repo: env.activityRepo, clock: env.clock},
		Collections: []string{"services", "orders"},

		ExpiredAuditDays: service.DefaultExpiredAuditDays,
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.engine.Wait(ctx)
	})

	backupHandler := NewBackupHandler(env.engine)
	restoreHandler := NewRestoreHandler(env.engine)
	configHandler := NewConfigHandler(env.engine)
	retentionHandler := NewRetentionHandler(env.engine)
	activityHandler := NewActivityHandler(env.activityRepo)

	// Setup gin router in test mode
	gin.SetMode(gin.TestMode)
	router := gin.New()

	// Register routes without auth middleware
	router.Use(testActor)
	router.POST("/backups", backupHandler.CreateBackup)
	router.GET("/backups", backupHandler.ListBackups)
	router.GET("/backups/events", backupHandler.Events)
	router.GET("/backups/:id", backupHandler.GetBackup)
	router.DELETE("/backups/:id", backupHandler.DeleteBackup)
	router.POST("/backups/:id/cancel", backupHandler.CancelBackup)
	router.GET("/backups/:id/validate", backupHandler.ValidateBackup)
	router.POST("/restores", restoreHandler.CreateRestore)
	router.GET("/restores", restoreHandler.ListRestores)
	router.GET("/restores/:id", restoreHandler.GetRestore)
	router.GET("/config", configHandler.GetConfig)
	router.PUT("/config", configHandler.UpdateConfig)
	router.POST("/retention/sweep", retentionHandler.Sweep)
	router.GET("/activity", activityHandler.ListActivity)
	env.router = router

	return env
}

// scopesHeader lets a test run a request with narrower scopes than the
// local operator.
const scopesHeader = "X-Test-Scopes"

func testActor(c *gin.Context) {
	actor := service.LocalOperator
	if scopes := c.GetHeader(scopesHeader); scopes != "" {
		actor = service.Actor{ID: "client-1", Scopes: splitList(scopes)}
	}
	c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), actor))
	c.Next()
}

type activityRecorder struct {
	repo  repository.ActivityRepository
	clock *clock.Manual
}

func (a activityRecorder) Record(ctx context.Context, eventType string, metadata map[string]any) {
	a.repo.Create(context.WithoutCancel(ctx), &domain.ActivityEvent{
		EventType: eventType,
		Metadata:  metadata,
		CreatedAt: a.clock.Now(),
	})
}

// seedTestData stores six finished backups a day apart, newest last:
// three completed manual, one completed scheduled, one failed full and one
// cancelled manual.
func (env *testEnv) seedTestData(t *testing.T) []string {
	t.Helper()

	seeds := []struct {
		kind   domain.BackupKind
		status domain.BackupStatus
	}{
		{domain.BackupKindManual, domain.BackupStatusCompleted},
		{domain.BackupKindScheduled, domain.BackupStatusCompleted},
		{domain.BackupKindFull, domain.BackupStatusFailed},
		{domain.BackupKindManual, domain.BackupStatusCompleted},
		{domain.BackupKindManual, domain.BackupStatusCancelled},
		{domain.BackupKindManual, domain.BackupStatusCompleted},
	}

	ids := make([]string, 0, len(seeds))
	for i, s := range seeds {
		backup := domain.NewBackupRecord(s.kind, "", []string{"services"}, false,
			domain.CompressionGzip, nil, 30, baseTime.AddDate(0, 0, i))
		backup.Status = s.status
		finished := backup.StartedAt.Add(time.Minute)
		backup.FinishedAt = &finished
		require.NoError(t, env.backupRepo.Create(context.Background(), backup))
		ids = append(ids, backup.ID)
	}
	return ids
}

// runBackup creates a manual backup through the API and waits for it to complete.
func (env *testEnv) runBackup(t *testing.T) dto.BackupResponse {
	t.Helper()

	w := env.doJSON(t, http.MethodPost, "/backups", map[string]any{})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	created := parseBody[dto.BackupResponse](t, w)
	env.wait(t)

	w = env.makeRequest(t, "/backups/"+created.ID)
	require.Equal(t, http.StatusOK, w.Code)
	backup := parseBody[dto.BackupResponse](t, w)
	require.Equal(t, "completed", backup.Status)
	env.clock.Advance(time.Minute)
	return backup
}

func (env *testEnv) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.engine.Wait(ctx))
}

// makeRequest performs a GET request and returns the response
func (env *testEnv) makeRequest(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, http.MethodGet, path, nil, nil)
}

func (env *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, method, path, body, nil)
}

func (env *testEnv) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err, "failed to create request")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// parseBody decodes the response body into T
func parseBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var resp T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "failed to parse response\nBody: %s", w.Body.String())
	return resp
}

// parseErrorResponse parses the response body into ErrorResponse
func parseErrorResponse(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	return parseBody[dto.ErrorResponse](t, w)
}

// ptr is a helper to create a pointer to a value
func ptr[T any](v T) *T {
	return &v
}
