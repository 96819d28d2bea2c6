package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

const DefaultExpiredAuditDays = 7

// SweepResult lists what one retention pass removed. Deleted holds every id
// whose artifact or registry entry was removed by the expiry and count
// policies; Expired is the subset kept as expired audit entries; Purged holds
// expired entries physically removed once their audit window passed.
type SweepResult struct {
	Deleted []string `json:"deleted"`
	Expired []string `json:"expired"`
	Purged  []string `json:"purged"`
}

func (r *SweepResult) Total() int {
	return len(r.Deleted) + len(r.Purged)
}

// RetentionManager applies the expiry and count policies to the registry.
// Pending and running records are never touched.
type RetentionManager struct {
	registry    *Registry
	blobs       port.BlobStore
	now         func() time.Time
	auditWindow time.Duration
	activity    port.ActivityLog
	logger      zerolog.Logger
}

func NewRetentionManager(
	registry *Registry,
	blobs port.BlobStore,
	now func() time.Time,
	expiredAuditDays int,
	activity port.ActivityLog,
	logger zerolog.Logger,
) *RetentionManager {
	if activity == nil {
		activity = nopActivity{}
	}
	return &RetentionManager{
		registry:    registry,
		blobs:       blobs,
		now:         now,
		auditWindow: time.Duration(expiredAuditDays) * 24 * time.Hour,
		activity:    activity,
		logger:      logger.With().Str("component", "retention").Logger(),
	}
}

// errSkip aborts a registry update whose record changed under us.
var errSkip = errors.New("record no longer eligible")

// Sweep runs policy (1) expiry by age, then policy (2) the maxBackups cap on
// the remaining completed records, then purges stale expired entries.
func (m *RetentionManager) Sweep(ctx context.Context, cfg *domain.BackupConfig) (*SweepResult, error) {
	now := m.now().UTC()
	result := &SweepResult{Deleted: []string{}, Expired: []string{}, Purged: []string{}}

	records, err := m.registry.Find(ctx, repository.BackupFilter{Statuses: []domain.BackupStatus{
		domain.BackupStatusCompleted, domain.BackupStatusFailed,
		domain.BackupStatusCancelled, domain.BackupStatusExpired,
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to list backups for retention: %w", err)
	}

	var remaining []*domain.BackupRecord
	for _, backup := range records {
		switch backup.Status {
		case domain.BackupStatusCompleted:
			if !backup.IsExpired(now) {
				remaining = append(remaining, backup)
				continue
			}
			if err := m.expire(ctx, backup, now); err != nil {
				m.logger.Error().Err(err).Str("backup_id", backup.ID).Msg("failed to expire backup")
				continue
			}
			result.Deleted = append(result.Deleted, backup.ID)
			result.Expired = append(result.Expired, backup.ID)

		case domain.BackupStatusFailed, domain.BackupStatusCancelled:
			if !backup.IsExpired(now) {
				continue
			}
			if err := m.remove(ctx, backup); err != nil {
				m.logger.Error().Err(err).Str("backup_id", backup.ID).Msg("failed to delete backup")
				continue
			}
			result.Deleted = append(result.Deleted, backup.ID)

		case domain.BackupStatusExpired:
			if backup.FinishedAt != nil && now.Sub(*backup.FinishedAt) < m.auditWindow {
				continue
			}
			if err := m.registry.Delete(ctx, backup.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				m.logger.Error().Err(err).Str("backup_id", backup.ID).Msg("failed to purge expired backup")
				continue
			}
			result.Purged = append(result.Purged, backup.ID)
		}
	}

	if cfg.MaxBackups > 0 && len(remaining) > cfg.MaxBackups {
		// Oldest first; ties broken by id for a stable choice
		sort.SliceStable(remaining, func(i, j int) bool {
			if remaining[i].StartedAt.Equal(remaining[j].StartedAt) {
				return remaining[i].ID < remaining[j].ID
			}
			return remaining[i].StartedAt.Before(remaining[j].StartedAt)
		})
		for _, backup := range remaining[:len(remaining)-cfg.MaxBackups] {
			if err := m.remove(ctx, backup); err != nil {
				m.logger.Error().Err(err).Str("backup_id", backup.ID).Msg("failed to delete backup over cap")
				continue
			}
			result.Deleted = append(result.Deleted, backup.ID)
		}
	}

	if result.Total() > 0 {
		m.logger.Info().
			Strs("deleted", result.Deleted).
			Strs("expired", result.Expired).
			Strs("purged", result.Purged).
			Msg("retention sweep removed backups")
	}
	m.activity.Record(ctx, domain.EventRetentionSweep, map[string]any{
		"deleted": len(result.Deleted),
		"expired": len(result.Expired),
		"purged":  len(result.Purged),
	})

	return result, nil
}

// expire deletes the artifact and keeps the record as an expired audit entry.
func (m *RetentionManager) expire(ctx context.Context, backup *domain.BackupRecord, now time.Time) error {
	if err := m.deleteArtifact(ctx, backup); err != nil {
		return err
	}
	_, err := m.registry.Update(ctx, backup.ID, func(r *domain.BackupRecord) error {
		if r.Status != domain.BackupStatusCompleted {
			return errSkip
		}
		return r.Expire(now)
	})
	if err != nil {
		return err
	}
	m.logger.Info().Str("backup_id", backup.ID).Msg("backup expired")
	m.activity.Record(ctx, domain.EventBackupExpired, map[string]any{"backup_id": backup.ID})
	return nil
}

// remove deletes the artifact, if any, and then the registry entry.
func (m *RetentionManager) remove(ctx context.Context, backup *domain.BackupRecord) error {
	if err := m.deleteArtifact(ctx, backup); err != nil {
		return err
	}
	if err := m.registry.Delete(ctx, backup.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	m.logger.Info().Str("backup_id", backup.ID).Str("status", string(backup.Status)).Msg("backup deleted by retention")
	m.activity.Record(ctx, domain.EventBackupDeleted, map[string]any{"backup_id": backup.ID, "reason": "retention"})
	return nil
}

func (m *RetentionManager) deleteArtifact(ctx context.Context, backup *domain.BackupRecord) error {
	if backup.ArtifactPath == nil {
		return nil
	}
	if err := m.blobs.Delete(ctx, *backup.ArtifactPath); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to delete artifact %s: %w", *backup.ArtifactPath, err)
	}
	return nil
}
