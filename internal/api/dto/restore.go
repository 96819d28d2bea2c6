package dto

import "time"

// CreateRestoreRequest represents the restore request. Restoring replaces live
// data, so confirm_overwrite must be true.
type CreateRestoreRequest struct {
	BackupID          string   `json:"backup_id" binding:"required"`
	RestoreRecords    *bool    `json:"restore_records"` // defaults to true
	RestoreFiles      bool     `json:"restore_files"`
	TargetCollections []string `json:"target_collections"`
	ConfirmOverwrite  bool     `json:"confirm_overwrite"`
}

// RestoreResponse represents a restore history entry
type RestoreResponse struct {
	ID                  string     `json:"id"`
	BackupID            string     `json:"backup_id"`
	Status              string     `json:"status"`
	RestoredCollections []string   `json:"restored_collections"`
	FailedCollections   []string   `json:"failed_collections"`
	SkippedCollections  []string   `json:"skipped_collections,omitempty"`
	FilesRestored       bool       `json:"files_restored"`
	Warnings            []string   `json:"warnings"`
	ErrorMessage        *string    `json:"error_message,omitempty"`
	StartedBy           *string    `json:"started_by,omitempty"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// RestoreListResponse represents a list of restores
type RestoreListResponse struct {
	Items      []RestoreResponse `json:"items"`
	Pagination PaginationInfo    `json:"pagination"`
}
