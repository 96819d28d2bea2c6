package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

func TestRestoreTargetCollectionOnly(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{Collections: []string{"services", "orders"}})

	snapshotServices := env.readAll(t, "services")
	env.records.Seed("services", []domain.Record{{"id": "svc-9", "name": "Tampered"}})
	changedOrders := []domain.Record{{"id": "ord-2", "service": "svc-9", "status": "open"}}
	env.records.Seed("orders", changedOrders)

	result, err := env.engine.RestoreFromBackup(operatorCtx(), domain.RestoreRequest{
		BackupID:          backup.ID,
		RestoreRecords:    true,
		TargetCollections: []string{"services"},
		ConfirmOverwrite:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, snapshotServices, env.readAll(t, "services"))
	assert.Equal(t, changedOrders, env.readAll(t, "orders"))

	assert.Equal(t, domain.RestoreStatusCompleted, result.Status)
	assert.Equal(t, []string{"services"}, result.RestoredCollections)
	assert.Empty(t, result.FailedCollections)
	assert.False(t, result.FilesRestored)
	require.NotNil(t, result.CompletedAt)

	stored, err := env.engine.GetRestore(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RestoreStatusCompleted, stored.Status)
	assert.Equal(t, backup.ID, stored.BackupID)
	require.NotNil(t, stored.StartedBy)
	assert.Equal(t, LocalOperator.ID, *stored.StartedBy)

	assert.Equal(t, 1, env.metrics.restoreCount("completed"))
	assert.Contains(t, env.activity.Events(), domain.EventRestoreComplete)
}

func TestRestoreAllCollections(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})

	want := map[string][]domain.Record{}
	for _, name := range testCollections {
		want[name] = env.readAll(t, name)
		env.records.Seed(name, []domain.Record{})
	}

	result, err := env.engine.RestoreFromBackup(operatorCtx(), domain.RestoreRequest{
		BackupID:         backup.ID,
		RestoreRecords:   true,
		ConfirmOverwrite: true,
	})
	require.NoError(t, err)
	assert.Equal(t, testCollections, result.RestoredCollections)
	for _, name := range testCollections {
		assert.Equal(t, want[name], env.readAll(t, name), name)
	}
}

func TestRestoreLeavesCollectionsCapturedEmptyUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.records.FailRead("orders", errors.New("relation does not exist"))
	backup := env.backup(t, CreateOptions{})
	env.records.FailRead("orders", nil)

	liveOrders := env.readAll(t, "orders")
	require.NotEmpty(t, liveOrders)

	result, err := env.engine.RestoreFromBackup(operatorCtx(), domain.RestoreRequest{
		BackupID:         backup.ID,
		RestoreRecords:   true,
		ConfirmOverwrite: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RestoreStatusCompleted, result.Status)
	assert.Equal(t, []string{"services", "customers"}, result.RestoredCollections)
	assert.Equal(t, liveOrders, env.readAll(t, "orders"))
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "orders")

	stored, err := env.engine.GetRestore(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Warnings, stored.Warnings)

	// Naming the collection restores the empty capture on purpose
	result, err = env.engine.RestoreFromBackup(operatorCtx(), domain.RestoreRequest{
		BackupID:          backup.ID,
		RestoreRecords:    true,
		TargetCollections: []string{"orders"},
		ConfirmOverwrite:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, result.RestoredCollections)
	assert.Empty(t, env.readAll(t, "orders"))
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "restored empty")
}

func TestRestoreWithoutConfirmationWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})

	_, err := env.engine.RestoreFromBackup(operatorCtx(), domain.RestoreRequest{
		BackupID:       backup.ID,
		RestoreRecords: true,
		RestoreFiles:   true,
	})
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
	assert.Zero(t, env.records.Writes())

	restores, total, err := env.engine.ListRestores(context.Background(), repository.RestoreFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, restores)
}

func TestRestoreRejectedRequests(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{Collections: []string{"services"}})

	tests := []struct {
		name    string
		ctx     context.Context
		req     domain.RestoreRequest
		wantErr error
	}{
		{
			name:    "missing backup id",
			ctx:     operatorCtx(),
			req:     domain.RestoreRequest{RestoreRecords: true, ConfirmOverwrite: true},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "nothing to restore",
			ctx:     operatorCtx(),
			req:     domain.RestoreRequest{BackupID: backup.ID, ConfirmOverwrite: true},
			wantErr: domain.ErrValidation,
		},
		{
			name: "duplicate target",
			ctx:  operatorCtx(),
			req: domain.RestoreRequest{
				BackupID: backup.ID, RestoreRecords: true, ConfirmOverwrite: true,
				TargetCollections: []string{"services", "services"},
			},
			wantErr: domain.ErrValidation,
		},
		{
			name: "target not in backup",
			ctx:  operatorCtx(),
			req: domain.RestoreRequest{
				BackupID: backup.ID, RestoreRecords: true, ConfirmOverwrite: true,
				TargetCollections: []string{"orders"},
			},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "no actor",
			ctx:     context.Background(),
			req:     domain.RestoreRequest{BackupID: backup.ID, RestoreRecords: true, ConfirmOverwrite: true},
			wantErr: domain.ErrPermissionDenied,
		},
		{
			name:    "missing capability",
			ctx:     actorCtx("backup.create", "backup.delete"),
			req:     domain.RestoreRequest{BackupID: backup.ID, RestoreRecords: true, ConfirmOverwrite: true},
			wantErr: domain.ErrPermissionDenied,
		},
		{
			name:    "unknown backup",
			ctx:     operatorCtx(),
			req:     domain.RestoreRequest{BackupID: "missing", RestoreRecords: true, ConfirmOverwrite: true},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.RestoreFromBackup(tt.ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Zero(t, env.records.Writes())
}

func TestRestoreScopedActor(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})

	_, err := env.engine.RestoreFromBackup(actorCtx("backup.restore"), domain.RestoreRequest{
		BackupID:         backup.ID,
		RestoreRecords:   true,
		ConfirmOverwrite: true,
	})
	assert.NoError(t, err)
}

func TestRestoreRequiresCompletedBackup(t *testing.T) {
	env := newTestEnv(t)
	env.records.SetUnavailable(true)

	created, err := env.engine.CreateBackup(operatorCtx(), domain.BackupKindManual, "", CreateOptions{})
	require.NoError(t, err)
	env.wait(t)
	env.records.SetUnavailable(false)

	_, err = env.engine.RestoreFromBackup(operatorCtx(), domain.RestoreRequest{
		BackupID:         created.ID,
		RestoreRecords:   true,
		ConfirmOverwrite: true,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, env.records.Writes())
}

func TestRestoreRejectsCorruptArtifact(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})
	require.NoError(t, env.blobs.FlipBit(*backup.ArtifactPath, 3))

	result, err := env.engine.RestoreFromBackup(operatorCtx(), domain.RestoreRequest{
		BackupID:         backup.ID,
		RestoreRecords:   true,
		ConfirmOverwrite: true,
	})
	assert.ErrorIs(t, err, domain.ErrIntegrity)
	assert.Zero(t, env.records.Writes())

	require.NotNil(t, result)
	assert.Equal(t, domain.RestoreStatusFailed, result.Status)
	require.NotNil(t, result.ErrorMessage)
	assert.Contains(t, *result.ErrorMessage, "checksum mismatch")
	assert.Equal(t, 1, env.metrics.restoreCount("failed"))
}

func TestRestoreMissingArtifact(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})
	require.NoError(t, env.blobs.Delete(context.Background(), *backup.ArtifactPath))

	_, err := env.engine.RestoreFromBackup(operatorCtx(), domain.RestoreRequest{
		BackupID:         backup.ID,
		RestoreRecords:   true,
		ConfirmOverwrite: true,
	})
	assert.ErrorIs(t, err, domain.ErrIntegrity)
	assert.Zero(t, env.records.Writes())
}

func TestRestorePartialFailure(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})

	snapshotServices := env.readAll(t, "services")
	env.records.Seed("services", []domain.Record{})
	liveCustomers := []domain.Record{{"id": "cus-3", "email": "new@example.com"}}
	env.records.Seed("customers", liveCustomers)
	env.records.FailReplace("orders", errors.New("disk I/O error"))

	result, err := env.engine.RestoreFromBackup(operatorCtx(), domain.RestoreRequest{
		BackupID:         backup.ID,
		RestoreRecords:   true,
		ConfirmOverwrite: true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPartialFailure)
	assert.ErrorIs(t, err, domain.ErrStorage)

	var partial *domain.PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, backup.ID, partial.BackupID)
	assert.Equal(t, []string{"services"}, partial.Restored)
	assert.Equal(t, []string{"orders"}, partial.Failed)
	assert.Equal(t, []string{"customers"}, partial.Skipped)

	assert.Equal(t, snapshotServices, env.readAll(t, "services"))
	assert.Equal(t, liveCustomers, env.readAll(t, "customers"))

	assert.Equal(t, domain.RestoreStatusPartial, result.Status)
	assert.Equal(t, []string{"services"}, result.RestoredCollections)
	assert.Equal(t, []string{"orders", "customers"}, result.FailedCollections)

	stored, err := env.engine.GetRestore(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RestoreStatusPartial, stored.Status)
	assert.Equal(t, []string{"services"}, stored.RestoredCollections)
	assert.Contains(t, env.activity.Events(), domain.EventRestorePartial)
}

func TestRestoreFirstWriteFailureIsNotPartial(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})
	env.records.FailReplace("services", errors.New("read-only database"))

	result, err := env.engine.RestoreFromBackup(operatorCtx(), domain.RestoreRequest{
		BackupID:         backup.ID,
		RestoreRecords:   true,
		ConfirmOverwrite: true,
	})
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.NotErrorIs(t, err, domain.ErrPartialFailure)
	assert.Equal(t, domain.RestoreStatusFailed, result.Status)
	assert.Empty(t, result.RestoredCollections)
	assert.Equal(t, testCollections, result.FailedCollections)
}

func TestRestoreFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	manifest := []domain.FileEntry{
		{Path: "files/logo.png", Size: 4, ContentType: "image/png"},
		{Path: "files/terms.txt", Size: 5, ContentType: "text/plain"},
	}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, env.blobs.Put(ctx, DefaultFileManifestPath, data))
	require.NoError(t, env.blobs.Put(ctx, "files/logo.png", []byte("\x89PNG")))
	require.NoError(t, env.blobs.Put(ctx, "files/terms.txt", []byte("terms")))

	env.setConfig(t, func(cfg *domain.BackupConfig) {
		cfg.IncludeFiles = true
		cfg.IncludeFileContents = true
	})
	backup := env.backup(t, CreateOptions{})

	require.NoError(t, env.blobs.Put(ctx, DefaultFileManifestPath, []byte(`[]`)))
	require.NoError(t, env.blobs.Delete(ctx, "files/terms.txt"))

	result, err := env.engine.RestoreFromBackup(operatorCtx(), domain.RestoreRequest{
		BackupID:         backup.ID,
		RestoreFiles:     true,
		ConfirmOverwrite: true,
	})
	require.NoError(t, err)
	assert.True(t, result.FilesRestored)
	assert.Empty(t, result.RestoredCollections)
	assert.Zero(t, env.records.Writes())

	restored, err := env.blobs.Get(ctx, DefaultFileManifestPath)
	require.NoError(t, err)
	var entries []domain.FileEntry
	require.NoError(t, json.Unmarshal(restored, &entries))
	assert.Equal(t, manifest, entries)

	terms, err := env.blobs.Get(ctx, "files/terms.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("terms"), terms)
}

func TestRestoreFilesFailureAfterRecordsIsPartial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	data, err := json.Marshal([]domain.FileEntry{{Path: "files/a.txt", Size: 1}})
	require.NoError(t, err)
	require.NoError(t, env.blobs.Put(ctx, DefaultFileManifestPath, data))
	env.setConfig(t, func(cfg *domain.BackupConfig) { cfg.IncludeFiles = true })
	backup := env.backup(t, CreateOptions{Collections: []string{"services"}})

	env.blobs.FailPuts(errors.New("bucket is read-only"))

	result, err := env.engine.RestoreFromBackup(operatorCtx(), domain.RestoreRequest{
		BackupID:         backup.ID,
		RestoreRecords:   true,
		RestoreFiles:     true,
		ConfirmOverwrite: true,
	})
	var partial *domain.PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"services"}, partial.Restored)
	assert.Equal(t, []string{"files"}, partial.Failed)
	assert.Empty(t, partial.Skipped)
	assert.False(t, result.FilesRestored)
}

func TestListRestoresNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	backup := env.backup(t, CreateOptions{})

	req := domain.RestoreRequest{BackupID: backup.ID, RestoreRecords: true, ConfirmOverwrite: true}
	first, err := env.engine.RestoreFromBackup(operatorCtx(), req)
	require.NoError(t, err)
	env.clock.Advance(time.Minute)
	second, err := env.engine.RestoreFromBackup(operatorCtx(), req)
	require.NoError(t, err)

	restores, total, err := env.engine.ListRestores(context.Background(), repository.RestoreFilter{BackupID: &backup.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, restores, 2)
	assert.Equal(t, second.ID, restores[0].ID)
	assert.Equal(t, first.ID, restores[1].ID)

	_, _, err = env.engine.ListRestores(context.Background(), repository.RestoreFilter{Limit: -1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.engine.GetRestore(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
