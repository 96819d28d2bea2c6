package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/martijn/vaultkeep/internal/artifact"
	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

// Deps are the collaborators an Engine is built from. The backing stores are
// fixed here; the engine never picks a different store at call time.
type Deps struct {
	Backups  repository.BackupRepository
	Configs  repository.ConfigRepository
	Restores repository.RestoreRepository
	Records  port.RecordStore
	Blobs    port.BlobStore
	Auth     port.AuthContext
	Clock    port.Clock
	Activity port.ActivityLog // optional
	Metrics  Metrics          // optional

	// Collections is the default catalog written into a fresh BackupConfig.
	Collections  []string
	ManifestPath string
	// ExpiredAuditDays is how long expired records stay listed. Zero purges
	// them on the sweep after they expire.
	ExpiredAuditDays int
	Logger           zerolog.Logger
}

// Engine is the public face of the backup system.
type Engine struct {
	registry  *Registry
	configs   repository.ConfigRepository
	restores  repository.RestoreRepository
	blobs     port.BlobStore
	auth      port.AuthContext
	clock     port.Clock
	activity  port.ActivityLog
	metrics   Metrics
	builder   *SnapshotBuilder
	restorer  *RestoreOrchestrator
	retention *RetentionManager
	reporter  *ProgressReporter

	collections []string
	logger      zerolog.Logger

	cfgMu sync.Mutex

	// mu guards the in-flight slot
	mu       sync.Mutex
	inflight *slot
	wg       sync.WaitGroup
}

func NewEngine(deps Deps) (*Engine, error) {
	switch {
	case deps.Backups == nil, deps.Configs == nil, deps.Restores == nil:
		return nil, fmt.Errorf("%w: engine requires backup, config and restore repositories", domain.ErrValidation)
	case deps.Records == nil, deps.Blobs == nil:
		return nil, fmt.Errorf("%w: engine requires a record store and a blob store", domain.ErrValidation)
	case deps.Auth == nil, deps.Clock == nil:
		return nil, fmt.Errorf("%w: engine requires an auth context and a clock", domain.ErrValidation)
	}

	activity := deps.Activity
	if activity == nil {
		activity = nopActivity{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if deps.ExpiredAuditDays < 0 {
		deps.ExpiredAuditDays = DefaultExpiredAuditDays
	}

	locks := NewCollectionLocks()
	registry := NewRegistry(deps.Backups)
	reporter := NewProgressReporter()

	e := &Engine{
		registry:    registry,
		configs:     deps.Configs,
		restores:    deps.Restores,
		blobs:       deps.Blobs,
		auth:        deps.Auth,
		clock:       deps.Clock,
		activity:    activity,
		metrics:     metrics,
		reporter:    reporter,
		collections: append([]string(nil), deps.Collections...),
		logger:      deps.Logger.With().Str("component", "engine").Logger(),
	}
	e.builder = NewSnapshotBuilder(deps.Records, deps.Blobs, locks, deps.ManifestPath, deps.Logger)
	e.restorer = NewRestoreOrchestrator(RestoreDeps{
		Registry:     registry,
		History:      deps.Restores,
		Records:      deps.Records,
		Blobs:        deps.Blobs,
		Locks:        locks,
		Auth:         deps.Auth,
		Reporter:     reporter,
		Activity:     activity,
		Metrics:      metrics,
		Now:          deps.Clock.Now,
		ManifestPath: e.builder.ManifestPath(),
		Logger:       deps.Logger,
	})
	e.retention = NewRetentionManager(registry, deps.Blobs, deps.Clock.Now, deps.ExpiredAuditDays, activity, deps.Logger)

	return e, nil
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// require returns the acting principal when it holds capability.
func (e *Engine) require(ctx context.Context, capability domain.Capability) (string, error) {
	actorID, ok := e.auth.CurrentActorID(ctx)
	if !ok || !e.auth.HasCapability(ctx, actorID, capability) {
		return "", fmt.Errorf("%w: %s required", domain.ErrPermissionDenied, capability)
	}
	return actorID, nil
}

// GetBackups returns records newest first. A limit of zero returns everything.
func (e *Engine) GetBackups(ctx context.Context, limit, offset int) ([]*domain.BackupRecord, error) {
	return e.registry.List(ctx, limit, offset)
}

// FindBackups lists records matching filter, newest first.
func (e *Engine) FindBackups(ctx context.Context, filter repository.BackupFilter) ([]*domain.BackupRecord, int, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, 0, fmt.Errorf("%w: limit and offset cannot be negative", domain.ErrValidation)
	}
	backups, err := e.registry.Find(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := e.registry.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return backups, total, nil
}

// GetBackupByID returns an error wrapping domain.ErrNotFound for unknown ids.
func (e *Engine) GetBackupByID(ctx context.Context, id string) (*domain.BackupRecord, error) {
	return e.registry.Get(ctx, id)
}

// DeleteBackup removes the artifact and then the registry entry. Backups that
// are still pending or running must be cancelled first.
func (e *Engine) DeleteBackup(ctx context.Context, id string) error {
	actorID, err := e.require(ctx, domain.CapabilityBackupDelete)
	if err != nil {
		return err
	}

	backup, err := e.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if !backup.Status.IsTerminal() {
		return fmt.Errorf("%w: backup %s is %s", domain.ErrConflict, id, backup.Status)
	}

	if backup.ArtifactPath != nil {
		if err := e.blobs.Delete(ctx, *backup.ArtifactPath); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: failed to delete artifact %s: %v", domain.ErrStorage, *backup.ArtifactPath, err)
		}
	}
	if err := e.registry.Delete(ctx, id); err != nil {
		return err
	}

	e.logger.Info().Str("backup_id", id).Str("actor", actorID).Msg("backup deleted")
	e.activity.Record(ctx, domain.EventBackupDeleted, map[string]any{
		"backup_id": id,
		"actor":     actorID,
		"reason":    "requested",
	})
	return nil
}

// ValidateBackup checks a backup's artifact against the registry without
// touching the live store. Problems are reported in the result; the error
// return is reserved for unknown ids and unreachable storage.
func (e *Engine) ValidateBackup(ctx context.Context, id string) (*domain.ValidationReport, error) {
	backup, err := e.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &domain.ValidationReport{
		BackupID: id,
		Errors:   []string{},
		Warnings: []string{},
	}
	defer func() {
		report.IsValid = len(report.Errors) == 0
	}()

	if !backup.HasArtifact() {
		report.Errors = append(report.Errors, fmt.Sprintf("backup is %s and has no artifact", backup.Status))
		return report, nil
	}

	blob, err := e.blobs.Get(ctx, *backup.ArtifactPath)
	if errors.Is(err, domain.ErrNotFound) {
		report.Errors = append(report.Errors, fmt.Sprintf("artifact %s is missing", *backup.ArtifactPath))
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load artifact: %v", domain.ErrStorage, err)
	}

	report.ChecksumMatches = backup.Checksum != nil && artifact.Verify(blob, *backup.Checksum)
	if !report.ChecksumMatches {
		report.Errors = append(report.Errors, "checksum mismatch")
	}
	report.SizeMatches = backup.SizeBytes != nil && *backup.SizeBytes == int64(len(blob))
	if !report.SizeMatches {
		report.Errors = append(report.Errors, fmt.Sprintf("size mismatch: artifact is %d bytes", len(blob)))
	}

	header, payload, err := artifact.Open(blob)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report, nil
	}
	if header.Snapshot.BackupID != backup.ID {
		report.Errors = append(report.Errors, fmt.Sprintf("artifact belongs to backup %s", header.Snapshot.BackupID))
	}
	for _, name := range backup.CollectionsIncluded {
		if _, ok := payload.Collections[name]; !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("collection %s is missing from the artifact", name))
		}
	}
	if payload.RecordCount() != header.Records {
		report.Errors = append(report.Errors,
			fmt.Sprintf("artifact holds %d records, header says %d", payload.RecordCount(), header.Records))
	}

	report.Warnings = append(report.Warnings, header.Snapshot.Warnings...)
	if backup.IsExpired(e.now()) {
		report.Warnings = append(report.Warnings, "backup is past its expiry and will be removed by the next sweep")
	}
	return report, nil
}

// RestoreFromBackup replaces live collections with a backup's contents.
// The replace is destructive; see RestoreOrchestrator.Restore.
func (e *Engine) RestoreFromBackup(ctx context.Context, req domain.RestoreRequest) (*domain.RestoreResult, error) {
	return e.restorer.Restore(ctx, req)
}

func (e *Engine) ListRestores(ctx context.Context, filter repository.RestoreFilter) ([]*domain.RestoreResult, int, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, 0, fmt.Errorf("%w: limit and offset cannot be negative", domain.ErrValidation)
	}
	restores, err := e.restores.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := e.restores.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return restores, total, nil
}

func (e *Engine) GetRestore(ctx context.Context, id string) (*domain.RestoreResult, error) {
	return e.restores.FindByID(ctx, id)
}

// OnProgress subscribes fn to backup and restore progress.
func (e *Engine) OnProgress(fn func(domain.ProgressEvent)) (unsubscribe func()) {
	return e.reporter.Subscribe(fn)
}

// GetBackupConfig returns the stored policy, saving the defaults on first use.
func (e *Engine) GetBackupConfig(ctx context.Context) (*domain.BackupConfig, error) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	cfg, err := e.configs.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup config: %w", err)
	}
	if cfg != nil {
		return cfg, nil
	}

	cfg = domain.DefaultBackupConfig(e.collections)
	cfg.UpdatedAt = e.now()
	if err := e.configs.Save(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to save default backup config: %w", err)
	}
	return cfg, nil
}

func (e *Engine) UpdateBackupConfig(ctx context.Context, cfg *domain.BackupConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is required", domain.ErrValidation)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	cfg.UpdatedAt = e.now()
	if err := e.configs.Save(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save backup config: %w", err)
	}

	e.logger.Info().
		Bool("auto_backup", cfg.AutoBackupEnabled).
		Str("schedule", string(cfg.ScheduleType)).
		Str("time_of_day", cfg.ScheduleTimeOfDay).
		Int("retention_days", cfg.RetentionDays).
		Int("max_backups", cfg.MaxBackups).
		Msg("backup config updated")
	e.activity.Record(ctx, domain.EventConfigUpdated, map[string]any{
		"auto_backup_enabled": cfg.AutoBackupEnabled,
		"schedule_type":       string(cfg.ScheduleType),
		"retention_days":      cfg.RetentionDays,
		"max_backups":         cfg.MaxBackups,
	})
	return nil
}

// Sweep runs the retention policies on behalf of the caller.
func (e *Engine) Sweep(ctx context.Context) (*SweepResult, error) {
	if _, err := e.require(ctx, domain.CapabilityBackupDelete); err != nil {
		return nil, err
	}
	return e.sweep(ctx)
}

func (e *Engine) sweep(ctx context.Context) (*SweepResult, error) {
	cfg, err := e.GetBackupConfig(ctx)
	if err != nil {
		return nil, err
	}
	result, err := e.retention.Sweep(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.metrics.RetentionRemoved(len(result.Deleted))
	return result, nil
}

// Recover fails records left pending or running by a previous process. It
// must run before the engine accepts new backups, and it assumes this engine
// is the only one writing to the registry: a backup another live process is
// running is failed as well.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	stale, err := e.registry.Find(ctx, repository.BackupFilter{
		Statuses: []domain.BackupStatus{domain.BackupStatusPending, domain.BackupStatusRunning},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished backups: %w", err)
	}

	recovered := 0
	for _, backup := range stale {
		if e.isInFlight(backup.ID) {
			continue
		}
		_, err := e.registry.Update(ctx, backup.ID, func(r *domain.BackupRecord) error {
			return r.Fail("interrupted: the engine stopped before the backup finished", e.now())
		})
		if err != nil {
			e.logger.Error().Err(err).Str("backup_id", backup.ID).Msg("failed to mark interrupted backup")
			continue
		}
		recovered++
		e.logger.Warn().Str("backup_id", backup.ID).Str("status", string(backup.Status)).
			Msg("backup interrupted by restart marked failed")
	}
	return recovered, nil
}

// Running reports whether a backup currently holds the in-flight slot.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight != nil
}

// Wait blocks until every started pipeline has finished or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) isInFlight(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight != nil && e.inflight.id == id
}
