package handler

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/vaultkeep/internal/api/dto"
	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/service"
)

func TestListBackups(t *testing.T) {
	tests := []struct {
		name           string
		queryString    string
		expectedStatus int
		expectedCount  int   // expected number of items in response
		expectedTotal  int   // expected total in pagination
		expectedSeeds  []int // expected seed indexes in order (if specified)
	}{
		{
			name:           "basic listing returns all backups newest first",
			queryString:    "",
			expectedStatus: http.StatusOK,
			expectedCount:  6,
			expectedTotal:  6,
			expectedSeeds:  []int{5, 4, 3, 2, 1, 0},
		},
		{
			name:           "filter by status",
			queryString:    "?status=completed",
			expectedStatus: http.StatusOK,
			expectedCount:  4,
			expectedTotal:  4,
			expectedSeeds:  []int{5, 3, 1, 0},
		},
		{
			name:           "filter by several statuses",
			queryString:    "?status=failed,cancelled",
			expectedStatus: http.StatusOK,
			expectedCount:  2,
			expectedTotal:  2,
			expectedSeeds:  []int{4, 2},
		},
		{
			name:           "filter by kind",
			queryString:    "?kind=scheduled",
			expectedStatus: http.StatusOK,
			expectedCount:  1,
			expectedTotal:  1,
			expectedSeeds:  []int{1},
		},
		{
			name:           "combined status and kind",
			queryString:    "?status=completed&kind=manual",
			expectedStatus: http.StatusOK,
			expectedCount:  3,
			expectedTotal:  3,
			expectedSeeds:  []int{5, 3, 0},
		},
		{
			name:           "pagination page 1 with per_page 4",
			queryString:    "?page=1&per_page=4",
			expectedStatus: http.StatusOK,
			expectedCount:  4,
			expectedTotal:  6,
			expectedSeeds:  []int{5, 4, 3, 2},
		},
		{
			name:           "pagination page 2 with per_page 4 (last partial page)",
			queryString:    "?page=2&per_page=4",
			expectedStatus: http.StatusOK,
			expectedCount:  2,
			expectedTotal:  6,
			expectedSeeds:  []int{1, 0},
		},
		{
			name:           "page past the end is empty",
			queryString:    "?page=3&per_page=4",
			expectedStatus: http.StatusOK,
			expectedCount:  0,
			expectedTotal:  6,
		},
		{
			name:           "invalid status returns 400",
			queryString:    "?status=finished",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid kind returns 400",
			queryString:    "?kind=nightly",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid page returns 400",
			queryString:    "?page=0",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid per_page returns 400",
			queryString:    "?per_page=abc",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			ids := env.seedTestData(t)

			w := env.makeRequest(t, "/backups"+tt.queryString)
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())

			if tt.expectedStatus != http.StatusOK {
				errResp := parseErrorResponse(t, w)
				assert.Equal(t, tt.expectedStatus, errResp.Code)
				return
			}

			resp := parseBody[dto.BackupListResponse](t, w)
			assert.Len(t, resp.Items, tt.expectedCount)
			assert.Equal(t, tt.expectedTotal, resp.Pagination.Total)

			if tt.expectedSeeds != nil {
				require.Len(t, resp.Items, len(tt.expectedSeeds))
				for i, seed := range tt.expectedSeeds {
					assert.Equal(t, ids[seed], resp.Items[i].ID, "item[%d]", i)
				}
			}
		})
	}
}

func TestListBackupsPaginationMetadata(t *testing.T) {
	env := setupTestEnv(t)
	env.seedTestData(t)

	w := env.makeRequest(t, "/backups?page=2&per_page=4")
	require.Equal(t, http.StatusOK, w.Code)

	resp := parseBody[dto.BackupListResponse](t, w)
	assert.Equal(t, 2, resp.Pagination.Page)
	assert.Equal(t, 4, resp.Pagination.PerPage)
	assert.Equal(t, 6, resp.Pagination.Total)
	assert.Equal(t, 2, resp.Pagination.TotalPages)
}

func TestCreateBackup(t *testing.T) {
	env := setupTestEnv(t)

	w := env.doJSON(t, http.MethodPost, "/backups", dto.CreateBackupRequest{
		Name:        "before-migration",
		Collections: []string{"orders"},
		Compression: ptr("zip"),
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	created := parseBody[dto.BackupResponse](t, w)
	assert.Equal(t, "before-migration", created.Name)
	assert.Equal(t, "manual", created.Kind)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, []string{"orders"}, created.CollectionsIncluded)
	require.NotNil(t, created.StartedBy)
	assert.Equal(t, service.LocalOperator.ID, *created.StartedBy)
	env.wait(t)

	w = env.makeRequest(t, "/backups/"+created.ID)
	require.Equal(t, http.StatusOK, w.Code)
	backup := parseBody[dto.BackupResponse](t, w)
	assert.Equal(t, "completed", backup.Status)
	assert.Equal(t, 100, backup.Progress)
	assert.Equal(t, "zip", backup.Compression)
	assert.NotNil(t, backup.Checksum)
	assert.NotNil(t, backup.SizeBytes)
}

func TestCreateBackupErrors(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		scopes         string
		expectedStatus int
	}{
		{"unknown kind", map[string]any{"kind": "nightly"}, "", http.StatusBadRequest},
		{"scheduled kind is reserved for the scheduler", map[string]any{"kind": "scheduled"}, "", http.StatusBadRequest},
		{"unknown compression", map[string]any{"compression": "lz4"}, "", http.StatusBadRequest},
		{"retention below one day", map[string]any{"retention_days": 0}, "", http.StatusBadRequest},
		{"duplicate collection", map[string]any{"collections": []string{"orders", "orders"}}, "", http.StatusBadRequest},
		{"malformed body", "not an object", "", http.StatusBadRequest},
		{"missing capability", map[string]any{}, "backup.restore", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)

			header := http.Header{}
			if tt.scopes != "" {
				header.Set(scopesHeader, tt.scopes)
			}
			w := env.do(t, http.MethodPost, "/backups", tt.body, header)
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.expectedStatus, parseErrorResponse(t, w).Code)
		})
	}
}

func TestCreateBackupConflictWhileRunning(t *testing.T) {
	env := setupTestEnv(t)
	release := env.records.GateReads()

	w := env.doJSON(t, http.MethodPost, "/backups", map[string]any{})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = env.doJSON(t, http.MethodPost, "/backups", map[string]any{})
	assert.Equal(t, http.StatusConflict, w.Code)

	release()
	env.wait(t)
}

func TestGetBackupNotFound(t *testing.T) {
	env := setupTestEnv(t)

	w := env.makeRequest(t, "/backups/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusNotFound, parseErrorResponse(t, w).Code)
}

func TestDeleteBackup(t *testing.T) {
	env := setupTestEnv(t)
	backup := env.runBackup(t)

	w := env.do(t, http.MethodDelete, "/backups/"+backup.ID, nil, http.Header{scopesHeader: {"backup.create"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodDelete, "/backups/"+backup.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, env.blobs.Paths())

	w = env.makeRequest(t, "/backups/"+backup.ID)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/backups/"+backup.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelBackup(t *testing.T) {
	env := setupTestEnv(t)
	release := env.records.GateReads()

	w := env.doJSON(t, http.MethodPost, "/backups", map[string]any{})
	require.Equal(t, http.StatusAccepted, w.Code)
	created := parseBody[dto.BackupResponse](t, w)

	require.Eventually(t, func() bool {
		backup, err := env.engine.GetBackupByID(context.Background(), created.ID)
		return err == nil && backup.Status == domain.BackupStatusRunning
	}, 5*time.Second, 5*time.Millisecond)

	w = env.do(t, http.MethodPost, "/backups/"+created.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cancelled", parseBody[dto.BackupResponse](t, w).Status)

	release()
	env.wait(t)

	// Cancelling a finished backup is a precondition failure
	w = env.do(t, http.MethodPost, "/backups/"+created.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Empty(t, env.blobs.Paths())
}

func TestValidateBackup(t *testing.T) {
	env := setupTestEnv(t)
	backup := env.runBackup(t)

	w := env.makeRequest(t, "/backups/"+backup.ID+"/validate")
	require.Equal(t, http.StatusOK, w.Code)
	report := parseBody[dto.ValidationResponse](t, w)
	assert.True(t, report.IsValid)
	assert.True(t, report.ChecksumMatches)
	assert.True(t, report.SizeMatches)
	assert.Empty(t, report.Errors)

	require.NoError(t, env.blobs.FlipBit(*backup.ArtifactPath, 40))

	w = env.makeRequest(t, "/backups/"+backup.ID+"/validate")
	require.Equal(t, http.StatusOK, w.Code)
	report = parseBody[dto.ValidationResponse](t, w)
	assert.False(t, report.IsValid)
	assert.False(t, report.ChecksumMatches)
	assert.Contains(t, report.Errors, "checksum mismatch")
}

func TestBackupEventsStream(t *testing.T) {
	env := setupTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/backups/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Headers are flushed after the subscription is registered
	created, err := env.engine.CreateBackup(service.WithActor(context.Background(), service.LocalOperator),
		domain.BackupKindManual, "", service.CreateOptions{})
	require.NoError(t, err)

	events := make(chan domain.ProgressEvent)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			var ev domain.ProgressEvent
			if json.Unmarshal([]byte(data), &ev) == nil {
				events <- ev
			}
		}
	}()

	var last domain.ProgressEvent
	timeout := time.After(5 * time.Second)
	for last.OverallProgress < 100 {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed early")
			assert.Equal(t, created.ID, ev.BackupID)
			assert.GreaterOrEqual(t, ev.OverallProgress, last.OverallProgress)
			last = ev
		case <-timeout:
			t.Fatal("no final progress event")
		}
	}
	assert.Equal(t, "done", last.StepName)

	cancel()
	env.wait(t)
}
