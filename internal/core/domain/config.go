package domain

import (
	"fmt"
	"time"
)

type ScheduleType string

const (
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
)

// Interval returns the minimum spacing between two scheduled backups.
func (s ScheduleType) Interval() time.Duration {
	switch s {
	case ScheduleWeekly:
		return 168 * time.Hour
	case ScheduleMonthly:
		return 720 * time.Hour
	default:
		return 24 * time.Hour
	}
}

type BackupConfig struct {
	AutoBackupEnabled   bool         `db:"auto_backup_enabled"`
	ScheduleType        ScheduleType `db:"schedule_type"`
	ScheduleTimeOfDay   string       `db:"schedule_time_of_day"` // HH:MM, UTC
	RetentionDays       int          `db:"retention_days"`
	Compression         Compression  `db:"compression"`
	IncludeFiles        bool         `db:"include_files"`
	IncludeFileContents bool         `db:"include_file_contents"`
	IncludeDatabase     bool         `db:"include_database"`
	MaxBackups          int          `db:"max_backups"` // 0 disables the count cap
	Collections         []string     `db:"collections"` // JSON array
	UpdatedAt           time.Time    `db:"updated_at"`
}

func DefaultBackupConfig(collections []string) *BackupConfig {
	return &BackupConfig{
		AutoBackupEnabled: false,
		ScheduleType:      ScheduleDaily,
		ScheduleTimeOfDay: "02:00",
		RetentionDays:     30,
		Compression:       CompressionGzip,
		IncludeFiles:      false,
		IncludeDatabase:   true,
		MaxBackups:        10,
		Collections:       append([]string(nil), collections...),
	}
}

func (c *BackupConfig) Validate() error {
	switch c.ScheduleType {
	case ScheduleDaily, ScheduleWeekly, ScheduleMonthly:
	default:
		return fmt.Errorf("%w: schedule_type must be daily, weekly or monthly", ErrValidation)
	}
	if _, _, err := ParseTimeOfDay(c.ScheduleTimeOfDay); err != nil {
		return err
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("%w: retention_days must be at least 1", ErrValidation)
	}
	if !c.Compression.Valid() {
		return fmt.Errorf("%w: unsupported compression %q", ErrValidation, c.Compression)
	}
	if c.MaxBackups < 0 {
		return fmt.Errorf("%w: max_backups cannot be negative", ErrValidation)
	}
	if !c.IncludeDatabase && !c.IncludeFiles {
		return fmt.Errorf("%w: at least one of include_database or include_files is required", ErrValidation)
	}
	seen := make(map[string]bool, len(c.Collections))
	for _, name := range c.Collections {
		if name == "" {
			return fmt.Errorf("%w: empty collection name", ErrValidation)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate collection %q", ErrValidation, name)
		}
		seen[name] = true
	}
	return nil
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: schedule_time_of_day must be HH:MM, got %q", ErrValidation, s)
	}
	return t.Hour(), t.Minute(), nil
}
