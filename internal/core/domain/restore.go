package domain

import (
	"time"

	"github.com/google/uuid"
)

// RestoreRequest lives for the duration of one restore call.
type RestoreRequest struct {
	BackupID          string
	RestoreRecords    bool
	RestoreFiles      bool
	TargetCollections []string // nil restores every collection in the artifact
	ConfirmOverwrite  bool
}

type RestoreStatus string

const (
	RestoreStatusRunning   RestoreStatus = "running"
	RestoreStatusCompleted RestoreStatus = "completed"
	RestoreStatusFailed    RestoreStatus = "failed"
	RestoreStatusPartial   RestoreStatus = "partial"
)

// RestoreResult is the persisted history entry of one restore attempt.
type RestoreResult struct {
	ID                  string        `db:"id"`
	BackupID            string        `db:"backup_id"`
	Status              RestoreStatus `db:"status"`
	RestoredCollections []string      `db:"restored_collections"` // JSON array
	FailedCollections   []string      `db:"failed_collections"`   // JSON array
	FilesRestored       bool          `db:"files_restored"`
	Warnings            []string      `db:"warnings"` // JSON array
	ErrorMessage        *string       `db:"error_message"`
	StartedBy           *string       `db:"started_by"`
	StartedAt           time.Time     `db:"started_at"`
	CompletedAt         *time.Time    `db:"completed_at"`
}

func NewRestoreResult(backupID string, startedBy *string, now time.Time) *RestoreResult {
	return &RestoreResult{
		ID:        uuid.New().String(),
		BackupID:  backupID,
		Status:    RestoreStatusRunning,
		StartedBy: startedBy,
		StartedAt: now.UTC(),
	}
}

func (r *RestoreResult) Finish(status RestoreStatus, err error, at time.Time) {
	at = at.UTC()
	r.Status = status
	r.CompletedAt = &at
	if err != nil {
		msg := err.Error()
		r.ErrorMessage = &msg
	}
}
