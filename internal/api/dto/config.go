package dto

import "time"

// BackupConfigResponse represents the stored backup policy
type BackupConfigResponse struct {
	AutoBackupEnabled   bool      `json:"auto_backup_enabled"`
	ScheduleType        string    `json:"schedule_type"`
	ScheduleTimeOfDay   string    `json:"schedule_time_of_day"`
	RetentionDays       int       `json:"retention_days"`
	Compression         string    `json:"compression"`
	IncludeFiles        bool      `json:"include_files"`
	IncludeFileContents bool      `json:"include_file_contents"`
	IncludeDatabase     bool      `json:"include_database"`
	MaxBackups          int       `json:"max_backups"`
	Collections         []string  `json:"collections"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// UpdateBackupConfigRequest patches the backup policy. Omitted fields keep
// their stored value.
type UpdateBackupConfigRequest struct {
	AutoBackupEnabled   *bool    `json:"auto_backup_enabled,omitempty"`
	ScheduleType        *string  `json:"schedule_type,omitempty"`
	ScheduleTimeOfDay   *string  `json:"schedule_time_of_day,omitempty"`
	RetentionDays       *int     `json:"retention_days,omitempty"`
	Compression         *string  `json:"compression,omitempty"`
	IncludeFiles        *bool    `json:"include_files,omitempty"`
	IncludeFileContents *bool    `json:"include_file_contents,omitempty"`
	IncludeDatabase     *bool    `json:"include_database,omitempty"`
	MaxBackups          *int     `json:"max_backups,omitempty"`
	Collections         []string `json:"collections,omitempty"`
}
