package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/martijn/vaultkeep/internal/artifact"
	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

// filesTarget names the file manifest in partial failure reports.
const filesTarget = "files"

// RestoreOrchestrator writes a completed backup back into the live stores.
// Restores are full replaces: every target collection loses its current
// contents.
type RestoreOrchestrator struct {
	registry     *Registry
	history      repository.RestoreRepository
	records      port.RecordStore
	blobs        port.BlobStore
	locks        *CollectionLocks
	auth         port.AuthContext
	reporter     *ProgressReporter
	activity     port.ActivityLog
	metrics      Metrics
	now          func() time.Time
	manifestPath string
	logger       zerolog.Logger
}

type RestoreDeps struct {
	Registry     *Registry
	History      repository.RestoreRepository
	Records      port.RecordStore
	Blobs        port.BlobStore
	Locks        *CollectionLocks
	Auth         port.AuthContext
	Reporter     *ProgressReporter
	Activity     port.ActivityLog
	Metrics      Metrics
	Now          func() time.Time
	ManifestPath string
	Logger       zerolog.Logger
}

func NewRestoreOrchestrator(deps RestoreDeps) *RestoreOrchestrator {
	o := &RestoreOrchestrator{
		registry:     deps.Registry,
		history:      deps.History,
		records:      deps.Records,
		blobs:        deps.Blobs,
		locks:        deps.Locks,
		auth:         deps.Auth,
		reporter:     deps.Reporter,
		activity:     deps.Activity,
		metrics:      deps.Metrics,
		now:          deps.Now,
		manifestPath: deps.ManifestPath,
		logger:       deps.Logger.With().Str("component", "restore").Logger(),
	}
	if o.locks == nil {
		o.locks = NewCollectionLocks()
	}
	if o.reporter == nil {
		o.reporter = NewProgressReporter()
	}
	if o.activity == nil {
		o.activity = nopActivity{}
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.manifestPath == "" {
		o.manifestPath = DefaultFileManifestPath
	}
	return o
}

// Restore checks, in order: request shape, the restore capability, overwrite
// confirmation, and that the backup is completed. None of those failures
// touch the live store. It then loads and verifies the artifact and replaces
// each target collection. A failure after at least one collection was
// replaced is reported as *domain.PartialFailureError.
func (o *RestoreOrchestrator) Restore(ctx context.Context, req domain.RestoreRequest) (*domain.RestoreResult, error) {
	if err := validateRestoreRequest(req); err != nil {
		return nil, err
	}

	actorID, ok := o.auth.CurrentActorID(ctx)
	if !ok || !o.auth.HasCapability(ctx, actorID, domain.CapabilityBackupRestore) {
		return nil, fmt.Errorf("%w: %s required", domain.ErrPermissionDenied, domain.CapabilityBackupRestore)
	}

	if !req.ConfirmOverwrite {
		return nil, fmt.Errorf("%w: restore replaces live data and must be confirmed with confirmOverwrite", domain.ErrPreconditionFailed)
	}

	backup, err := o.registry.Get(ctx, req.BackupID)
	if err != nil {
		return nil, err
	}
	if !backup.HasArtifact() {
		return nil, fmt.Errorf("%w: backup %s is %s, only completed backups can be restored",
			domain.ErrNotFound, backup.ID, backup.Status)
	}

	targets, err := resolveTargets(req, backup)
	if err != nil {
		return nil, err
	}

	result := domain.NewRestoreResult(backup.ID, &actorID, o.now())
	result.RestoredCollections = []string{}
	result.FailedCollections = []string{}
	result.Warnings = []string{}
	if err := o.history.Create(ctx, result); err != nil {
		return nil, fmt.Errorf("%w: failed to record restore: %v", domain.ErrStorage, err)
	}

	log := o.logger.With().Str("restore_id", result.ID).Str("backup_id", backup.ID).Logger()
	log.Info().Strs("collections", targets).Bool("files", req.RestoreFiles).Msg("restore started")

	payload, err := o.load(ctx, backup)
	if err != nil {
		return o.finish(ctx, result, domain.RestoreStatusFailed, err, log)
	}
	for _, name := range targets {
		if _, ok := payload.Collections[name]; !ok {
			err := fmt.Errorf("%w: artifact of backup %s has no collection %s", domain.ErrIntegrity, backup.ID, name)
			return o.finish(ctx, result, domain.RestoreStatusFailed, err, log)
		}
	}
	targets = o.dropUnreadable(req, payload, targets, result, log)

	stream := "restore:" + result.ID
	defer o.reporter.Close(stream)
	total := len(targets)
	if req.RestoreFiles {
		total++
	}

	unlock := o.locks.Lock(targets)
	defer unlock()

	for i, name := range targets {
		if err := o.records.ReplaceAll(ctx, name, payload.Collections[name]); err != nil {
			return o.writeFailed(ctx, result, targets[i+1:], req.RestoreFiles, name, err, log)
		}
		result.RestoredCollections = append(result.RestoredCollections, name)
		log.Info().Str("collection", name).Int("records", len(payload.Collections[name])).Msg("collection restored")
		o.publish(stream, backup.ID, "restore:"+name, i+1, total)
	}

	if req.RestoreFiles && len(payload.Files) > 0 {
		if err := o.restoreFiles(ctx, payload.Files); err != nil {
			return o.writeFailed(ctx, result, nil, false, filesTarget, err, log)
		}
		result.FilesRestored = true
		o.publish(stream, backup.ID, "restore:files", total, total)
	}

	return o.finish(ctx, result, domain.RestoreStatusCompleted, nil, log)
}

// load fetches the artifact and checks it against the registry before decoding it.
func (o *RestoreOrchestrator) load(ctx context.Context, backup *domain.BackupRecord) (*domain.SnapshotPayload, error) {
	blob, err := o.blobs.Get(ctx, *backup.ArtifactPath)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: artifact %s is missing", domain.ErrIntegrity, *backup.ArtifactPath)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load artifact: %v", domain.ErrStorage, err)
	}

	if backup.Checksum == nil || !artifact.Verify(blob, *backup.Checksum) {
		return nil, fmt.Errorf("%w: checksum mismatch for backup %s", domain.ErrIntegrity, backup.ID)
	}
	if backup.SizeBytes != nil && int64(len(blob)) != *backup.SizeBytes {
		return nil, fmt.Errorf("%w: artifact is %d bytes, registry says %d", domain.ErrIntegrity, len(blob), *backup.SizeBytes)
	}

	header, payload, err := artifact.Open(blob)
	if err != nil {
		return nil, err
	}
	if header.Snapshot.BackupID != backup.ID {
		return nil, fmt.Errorf("%w: artifact belongs to backup %s", domain.ErrIntegrity, header.Snapshot.BackupID)
	}
	return payload, nil
}

// dropUnreadable handles collections that were captured empty because they
// could not be read. A restore of every collection leaves them untouched; a
// restore that names one replaces it with the empty capture. Both are noted
// in the result's warnings.
func (o *RestoreOrchestrator) dropUnreadable(
	req domain.RestoreRequest,
	payload *domain.SnapshotPayload,
	targets []string,
	result *domain.RestoreResult,
	log zerolog.Logger,
) []string {
	if len(payload.Metadata.Unreadable) == 0 {
		return targets
	}
	unreadable := make(map[string]bool, len(payload.Metadata.Unreadable))
	for _, name := range payload.Metadata.Unreadable {
		unreadable[name] = true
	}

	kept := targets[:0:0]
	for _, name := range targets {
		if !unreadable[name] {
			kept = append(kept, name)
			continue
		}
		if req.TargetCollections != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("collection %s was unreadable when the backup was taken and was restored empty", name))
			log.Warn().Str("collection", name).Msg("restoring collection captured empty")
			kept = append(kept, name)
			continue
		}
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("collection %s was unreadable when the backup was taken and was left untouched; name it in targetCollections to restore it empty", name))
		log.Warn().Str("collection", name).Msg("skipping collection captured empty")
	}
	return kept
}

// restoreFiles rewrites the manifest, then any embedded file contents.
func (o *RestoreOrchestrator) restoreFiles(ctx context.Context, files []domain.FileEntry) error {
	manifest := make([]domain.FileEntry, len(files))
	for i, f := range files {
		f.Content = nil
		manifest[i] = f
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode file manifest: %w", err)
	}
	if err := o.blobs.Put(ctx, o.manifestPath, data); err != nil {
		return fmt.Errorf("failed to write file manifest: %w", err)
	}

	for _, f := range files {
		if f.Content == nil {
			continue
		}
		if err := o.blobs.Put(ctx, f.Path, f.Content); err != nil {
			return fmt.Errorf("failed to write file %s: %w", f.Path, err)
		}
	}
	return nil
}

// writeFailed reports a write-back failure. Without any restored collection
// the live store is unchanged and the restore simply failed.
func (o *RestoreOrchestrator) writeFailed(
	ctx context.Context,
	result *domain.RestoreResult,
	skipped []string,
	filesPending bool,
	failed string,
	cause error,
	log zerolog.Logger,
) (*domain.RestoreResult, error) {
	if filesPending {
		skipped = append(append([]string{}, skipped...), filesTarget)
	}
	result.FailedCollections = append([]string{failed}, skipped...)
	if !errors.Is(cause, domain.ErrStorage) && !errors.Is(cause, domain.ErrAdapterUnavailable) {
		cause = fmt.Errorf("%w: %v", domain.ErrStorage, cause)
	}

	if len(result.RestoredCollections) == 0 {
		return o.finish(ctx, result, domain.RestoreStatusFailed, cause, log)
	}

	partial := &domain.PartialFailureError{
		BackupID: result.BackupID,
		Restored: append([]string{}, result.RestoredCollections...),
		Failed:   []string{failed},
		Skipped:  skipped,
		Cause:    cause,
	}
	return o.finish(ctx, result, domain.RestoreStatusPartial, partial, log)
}

func (o *RestoreOrchestrator) finish(
	ctx context.Context,
	result *domain.RestoreResult,
	status domain.RestoreStatus,
	cause error,
	log zerolog.Logger,
) (*domain.RestoreResult, error) {
	result.Finish(status, cause, o.now())
	// The history row must land even if the caller has gone away
	if err := o.history.Update(context.WithoutCancel(ctx), result); err != nil {
		log.Error().Err(err).Msg("failed to record restore outcome")
	}

	o.metrics.RestoreFinished(string(status))
	meta := map[string]any{
		"restore_id": result.ID,
		"backup_id":  result.BackupID,
		"restored":   result.RestoredCollections,
		"failed":     result.FailedCollections,
	}

	switch status {
	case domain.RestoreStatusCompleted:
		log.Info().Strs("restored", result.RestoredCollections).Bool("files", result.FilesRestored).Msg("restore completed")
		o.activity.Record(ctx, domain.EventRestoreComplete, meta)
		return result, nil
	case domain.RestoreStatusPartial:
		log.Error().Err(cause).Strs("restored", result.RestoredCollections).Strs("failed", result.FailedCollections).
			Msg("restore partially failed, live store is in a mixed state")
		o.activity.Record(ctx, domain.EventRestorePartial, meta)
	default:
		log.Error().Err(cause).Msg("restore failed")
		meta["error"] = cause.Error()
		o.activity.Record(ctx, domain.EventRestoreFailed, meta)
	}
	return result, cause
}

func (o *RestoreOrchestrator) publish(stream, backupID, step string, index, total int) {
	progress := 100
	if total > 0 {
		progress = index * 100 / total
	}
	o.reporter.Publish(stream, domain.ProgressEvent{
		BackupID:        backupID,
		StepName:        step,
		StepIndex:       index,
		TotalSteps:      total,
		OverallProgress: progress,
	})
}

func validateRestoreRequest(req domain.RestoreRequest) error {
	if req.BackupID == "" {
		return fmt.Errorf("%w: backupId is required", domain.ErrValidation)
	}
	if !req.RestoreRecords && !req.RestoreFiles {
		return fmt.Errorf("%w: nothing to restore, set restoreRecords or restoreFiles", domain.ErrValidation)
	}
	if req.TargetCollections != nil && !req.RestoreRecords {
		return fmt.Errorf("%w: targetCollections requires restoreRecords", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(req.TargetCollections))
	for _, name := range req.TargetCollections {
		if name == "" {
			return fmt.Errorf("%w: empty collection name", domain.ErrValidation)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate collection %q", domain.ErrValidation, name)
		}
		seen[name] = true
	}
	return nil
}

// resolveTargets returns the collections to replace, in the backup's order.
func resolveTargets(req domain.RestoreRequest, backup *domain.BackupRecord) ([]string, error) {
	if !req.RestoreRecords {
		return []string{}, nil
	}
	if req.TargetCollections == nil {
		return append([]string{}, backup.CollectionsIncluded...), nil
	}

	included := make(map[string]bool, len(backup.CollectionsIncluded))
	for _, name := range backup.CollectionsIncluded {
		included[name] = true
	}
	wanted := make(map[string]bool, len(req.TargetCollections))
	for _, name := range req.TargetCollections {
		if !included[name] {
			return nil, fmt.Errorf("%w: backup %s does not include collection %s", domain.ErrValidation, backup.ID, name)
		}
		wanted[name] = true
	}

	targets := make([]string, 0, len(wanted))
	for _, name := range backup.CollectionsIncluded {
		if wanted[name] {
			targets = append(targets, name)
		}
	}
	return targets, nil
}
