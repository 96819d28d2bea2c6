package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/martijn/vaultkeep/internal/artifact"
	"github.com/martijn/vaultkeep/internal/core/domain"
)

// ArtifactPrefix is the blob path prefix of backup artifacts.
const ArtifactPrefix = "backups/"

const artifactExt = ".vkar"

// Pipeline steps, in order. Progress is published after each one.
var pipelineSteps = []string{"snapshot", "compress", "upload", "finalize"}

// CreateOptions override the stored BackupConfig for one backup. Nil fields
// keep the configured value.
type CreateOptions struct {
	Collections   []string
	IncludeFiles  *bool
	Compression   *domain.Compression
	RetentionDays *int
}

// slot is the single in-flight backup. cancel is closed by CancelBackup.
type slot struct {
	id     string
	cancel chan struct{}
}

func (s *slot) cancelled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

// errCancelled stops the pipeline at a step boundary.
var errCancelled = errors.New("backup cancelled")

// CreateBackup registers a pending backup and runs it in the background. Only
// one backup may be pending or running at a time, across every engine sharing
// the registry; a second call fails with domain.ErrConflict. Scheduled
// backups started without an actor skip the capability check.
func (e *Engine) CreateBackup(ctx context.Context, kind domain.BackupKind, name string, opts CreateOptions) (*domain.BackupRecord, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown backup kind %q", domain.ErrValidation, kind)
	}

	var startedBy *string
	if actorID, ok := e.auth.CurrentActorID(ctx); ok || kind != domain.BackupKindScheduled {
		if _, err := e.require(ctx, domain.CapabilityBackupCreate); err != nil {
			return nil, err
		}
		startedBy = &actorID
	}

	cfg, err := e.GetBackupConfig(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := resolvePlan(cfg, opts)
	if err != nil {
		return nil, err
	}

	backup := domain.NewBackupRecord(kind, name, plan.collections, plan.includeFiles,
		plan.compression, startedBy, plan.retentionDays, e.now())

	e.mu.Lock()
	if e.inflight != nil {
		running := e.inflight.id
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: backup %s is already in progress", domain.ErrConflict, running)
	}
	// Another process sharing the registry may hold a backup this engine
	// knows nothing about.
	if err := e.registry.Claim(ctx, backup); err != nil {
		e.mu.Unlock()
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to register backup: %w", err)
	}
	s := &slot{id: backup.ID, cancel: make(chan struct{})}
	e.inflight = s
	e.wg.Add(1)
	e.mu.Unlock()

	log := e.logger.With().Str("backup_id", backup.ID).Str("kind", string(kind)).Logger()
	log.Info().
		Strs("collections", backup.CollectionsIncluded).
		Bool("files", backup.IncludeFiles).
		Str("compression", string(backup.Compression)).
		Msg("backup created")
	e.activity.Record(ctx, domain.EventBackupCreated, map[string]any{
		"backup_id": backup.ID,
		"kind":      string(kind),
		"name":      backup.Name,
	})

	// The pipeline outlives the request that started it
	go e.run(context.WithoutCancel(ctx), backup.Clone(), plan.includeFileContents, s, log)

	return backup, nil
}

// CancelBackup marks a running backup cancelled. The pipeline stops at its
// next step boundary and never publishes an artifact.
func (e *Engine) CancelBackup(ctx context.Context, id string) (*domain.BackupRecord, error) {
	actorID, err := e.require(ctx, domain.CapabilityBackupCreate)
	if err != nil {
		return nil, err
	}

	backup, err := e.registry.Update(ctx, id, func(r *domain.BackupRecord) error {
		if r.Status != domain.BackupStatusRunning {
			return fmt.Errorf("%w: backup %s is %s, only running backups can be cancelled",
				domain.ErrPreconditionFailed, r.ID, r.Status)
		}
		return r.Cancel(e.now())
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.inflight != nil && e.inflight.id == id && !e.inflight.cancelled() {
		close(e.inflight.cancel)
	}
	e.mu.Unlock()

	e.logger.Info().Str("backup_id", id).Str("actor", actorID).Msg("backup cancellation requested")
	return backup, nil
}

type plan struct {
	collections         []string
	includeFiles        bool
	includeFileContents bool
	compression         domain.Compression
	retentionDays       int
}

func resolvePlan(cfg *domain.BackupConfig, opts CreateOptions) (*plan, error) {
	p := &plan{
		collections:         []string{},
		includeFiles:        cfg.IncludeFiles,
		includeFileContents: cfg.IncludeFileContents,
		compression:         cfg.Compression,
		retentionDays:       cfg.RetentionDays,
	}
	if cfg.IncludeDatabase {
		p.collections = append(p.collections, cfg.Collections...)
	}

	if opts.Collections != nil {
		seen := make(map[string]bool, len(opts.Collections))
		for _, name := range opts.Collections {
			if name == "" {
				return nil, fmt.Errorf("%w: empty collection name", domain.ErrValidation)
			}
			if seen[name] {
				return nil, fmt.Errorf("%w: duplicate collection %q", domain.ErrValidation, name)
			}
			seen[name] = true
		}
		p.collections = append([]string{}, opts.Collections...)
	}
	if opts.IncludeFiles != nil {
		p.includeFiles = *opts.IncludeFiles
	}
	if opts.Compression != nil {
		if !opts.Compression.Valid() {
			return nil, fmt.Errorf("%w: unsupported compression %q", domain.ErrValidation, *opts.Compression)
		}
		p.compression = *opts.Compression
	}
	if opts.RetentionDays != nil {
		if *opts.RetentionDays < 1 {
			return nil, fmt.Errorf("%w: retention_days must be at least 1", domain.ErrValidation)
		}
		p.retentionDays = *opts.RetentionDays
	}

	if len(p.collections) == 0 && !p.includeFiles {
		return nil, fmt.Errorf("%w: nothing to back up, no collections and no files selected", domain.ErrValidation)
	}
	return p, nil
}

// run drives one backup from pending to a terminal state.
func (e *Engine) run(ctx context.Context, backup *domain.BackupRecord, includeFileContents bool, s *slot, log zerolog.Logger) {
	defer e.wg.Done()

	start := time.Now()
	artifactPath := ArtifactPrefix + backup.ID + artifactExt
	uploaded := false

	size, checksum, err := e.pipeline(ctx, backup, includeFileContents, s, artifactPath, &uploaded, log)

	status := domain.BackupStatusCompleted
	switch {
	case errors.Is(err, errCancelled):
		status = domain.BackupStatusCancelled
	case err != nil:
		status = domain.BackupStatusFailed
		if _, ferr := e.registry.Update(ctx, backup.ID, func(r *domain.BackupRecord) error {
			if r.Status == domain.BackupStatusCancelled {
				return errCancelled
			}
			return r.Fail(err.Error(), e.now())
		}); errors.Is(ferr, errCancelled) {
			status = domain.BackupStatusCancelled
		} else if ferr != nil {
			log.Error().Err(ferr).Msg("failed to record backup failure")
		}
	}

	if status != domain.BackupStatusCompleted && uploaded {
		if derr := e.blobs.Delete(ctx, artifactPath); derr != nil && !errors.Is(derr, domain.ErrNotFound) {
			log.Error().Err(derr).Str("path", artifactPath).Msg("failed to remove artifact of unfinished backup")
		}
	}

	e.mu.Lock()
	if e.inflight == s {
		e.inflight = nil
	}
	e.mu.Unlock()
	e.reporter.Close(backup.ID)

	duration := time.Since(start)
	meta := map[string]any{"backup_id": backup.ID, "kind": string(backup.Kind)}
	switch status {
	case domain.BackupStatusCompleted:
		e.metrics.BackupFinished(string(backup.Kind), string(status), duration, size)
		log.Info().Int64("size_bytes", size).Str("checksum", checksum).Dur("duration", duration).Msg("backup completed")
		meta["size_bytes"] = size
		e.activity.Record(ctx, domain.EventBackupCompleted, meta)

		if _, err := e.sweep(ctx); err != nil {
			log.Error().Err(err).Msg("retention sweep after backup failed")
		}
	case domain.BackupStatusCancelled:
		e.metrics.BackupFinished(string(backup.Kind), string(status), duration, 0)
		log.Info().Dur("duration", duration).Msg("backup cancelled")
		e.activity.Record(ctx, domain.EventBackupCancelled, meta)
	default:
		e.metrics.BackupFinished(string(backup.Kind), string(status), duration, 0)
		log.Error().Err(err).Dur("duration", duration).Msg("backup failed")
		meta["error"] = err.Error()
		e.activity.Record(ctx, domain.EventBackupFailed, meta)
	}
}

// pipeline runs snapshot, compress, upload and finalize. Cancellation is
// honored between steps; a step in progress is allowed to finish.
func (e *Engine) pipeline(
	ctx context.Context,
	backup *domain.BackupRecord,
	includeFileContents bool,
	s *slot,
	artifactPath string,
	uploaded *bool,
	log zerolog.Logger,
) (int64, string, error) {
	if _, err := e.registry.Update(ctx, backup.ID, func(r *domain.BackupRecord) error {
		return r.Start()
	}); err != nil {
		return 0, "", fmt.Errorf("failed to start backup: %w", err)
	}
	log.Info().Msg("backup running")
	e.step(ctx, backup.ID, 0, 0, 0, 0, log)

	// snapshot
	payload, err := e.builder.Build(ctx, BuildRequest{
		BackupID:            backup.ID,
		Kind:                backup.Kind,
		Collections:         backup.CollectionsIncluded,
		IncludeFiles:        backup.IncludeFiles,
		IncludeFileContents: includeFileContents,
		CreatedAt:           backup.StartedAt,
		OnCollection: func(done, total int) {
			e.publish(backup.ID, 0, done*stepWeight()/total, 0, 0)
		},
	})
	if err != nil {
		return 0, "", fmt.Errorf("snapshot failed: %w", err)
	}
	if s.cancelled() {
		return 0, "", errCancelled
	}
	e.step(ctx, backup.ID, 1, stepWeight(), 0, 0, log)

	// compress
	blob, err := artifact.Seal(payload, backup.Compression)
	if err != nil {
		return 0, "", fmt.Errorf("compression failed: %w", err)
	}
	checksum := artifact.Checksum(blob)
	size := int64(len(blob))
	if s.cancelled() {
		return 0, "", errCancelled
	}
	e.step(ctx, backup.ID, 2, 2*stepWeight(), 0, size, log)

	// upload
	if err := e.blobs.Put(ctx, artifactPath, blob); err != nil {
		return 0, "", fmt.Errorf("%w: failed to store artifact: %v", domain.ErrStorage, err)
	}
	*uploaded = true
	if s.cancelled() {
		return 0, "", errCancelled
	}
	e.step(ctx, backup.ID, 3, 3*stepWeight(), size, size, log)

	// finalize
	_, err = e.registry.Update(ctx, backup.ID, func(r *domain.BackupRecord) error {
		if r.Status != domain.BackupStatusRunning {
			return errCancelled
		}
		return r.Complete(artifactPath, size, checksum, e.now())
	})
	if err != nil {
		if errors.Is(err, errCancelled) {
			return 0, "", err
		}
		return 0, "", fmt.Errorf("failed to finalize backup: %w", err)
	}
	e.publish(backup.ID, len(pipelineSteps), 100, size, size)

	return size, checksum, nil
}

func stepWeight() int {
	return 100 / len(pipelineSteps)
}

// step persists progress at a step boundary and publishes it.
func (e *Engine) step(ctx context.Context, backupID string, index, progress int, done, total int64, log zerolog.Logger) {
	_, err := e.registry.Update(ctx, backupID, func(r *domain.BackupRecord) error {
		if r.Status != domain.BackupStatusRunning {
			return errCancelled
		}
		return r.SetProgress(progress)
	})
	if err != nil && !errors.Is(err, errCancelled) {
		log.Warn().Err(err).Int("progress", progress).Msg("failed to persist backup progress")
	}
	e.publish(backupID, index, progress, done, total)
}

func (e *Engine) publish(backupID string, index, progress int, done, total int64) {
	name := "done"
	if index < len(pipelineSteps) {
		name = pipelineSteps[index]
	}
	e.reporter.Publish(backupID, domain.ProgressEvent{
		BackupID:        backupID,
		StepName:        name,
		StepIndex:       index,
		TotalSteps:      len(pipelineSteps),
		OverallProgress: progress,
		BytesProcessed:  done,
		TotalBytes:      total,
	})
}
