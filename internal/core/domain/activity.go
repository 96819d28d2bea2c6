package domain

import "time"

const (
	EventBackupCreated   = "backup.created"
	EventBackupCompleted = "backup.completed"
	EventBackupFailed    = "backup.failed"
	EventBackupCancelled = "backup.cancelled"
	EventBackupDeleted   = "backup.deleted"
	EventBackupExpired   = "backup.expired"
	EventRestoreComplete = "restore.completed"
	EventRestoreFailed   = "restore.failed"
	EventRestorePartial  = "restore.partial"
	EventRetentionSweep  = "retention.sweep"
	EventConfigUpdated   = "config.updated"
)

type ActivityEvent struct {
	ID        int64          `db:"id"`
	EventType string         `db:"event_type"`
	Metadata  map[string]any `db:"metadata"` // JSON object
	CreatedAt time.Time      `db:"created_at"`
}
