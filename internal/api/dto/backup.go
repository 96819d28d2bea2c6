package dto

import "time"

// CreateBackupRequest represents the backup creation request. Unset fields
// fall back to the stored backup config.
type CreateBackupRequest struct {
	Kind          string   `json:"kind" binding:"omitempty,oneof=full incremental manual emergency"`
	Name          string   `json:"name"`
	Collections   []string `json:"collections"`
	IncludeFiles  *bool    `json:"include_files"`
	Compression   *string  `json:"compression" binding:"omitempty,oneof=none gzip zip"`
	RetentionDays *int     `json:"retention_days" binding:"omitempty,min=1"`
}

// BackupResponse represents a backup record
type BackupResponse struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Kind                string     `json:"kind"`
	Status              string     `json:"status"`
	Progress            int        `json:"progress"`
	CollectionsIncluded []string   `json:"collections_included"`
	IncludeFiles        bool       `json:"include_files"`
	Compression         string     `json:"compression"`
	ArtifactPath        *string    `json:"artifact_path,omitempty"`
	SizeBytes           *int64     `json:"size_bytes,omitempty"`
	Checksum            *string    `json:"checksum,omitempty"`
	ErrorMessage        *string    `json:"error_message,omitempty"`
	StartedBy           *string    `json:"started_by,omitempty"`
	RetentionDays       int        `json:"retention_days"`
	ExpiresAt           time.Time  `json:"expires_at"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
}

// BackupListResponse represents a list of backups
type BackupListResponse struct {
	Items      []BackupResponse `json:"items"`
	Pagination PaginationInfo   `json:"pagination"`
}

// ValidationResponse reports the result of an artifact check
type ValidationResponse struct {
	BackupID        string   `json:"backup_id"`
	IsValid         bool     `json:"is_valid"`
	ChecksumMatches bool     `json:"checksum_matches"`
	SizeMatches     bool     `json:"size_matches"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
}
