package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

type configRepository struct {
	db *DB
}

func NewConfigRepository(db *DB) repository.ConfigRepository {
	return &configRepository{db: db}
}

func (r *configRepository) Get(ctx context.Context) (*domain.BackupConfig, error) {
	query := `
		SELECT auto_backup_enabled, schedule_type, schedule_time_of_day, retention_days, compression,
			include_files, include_file_contents, include_database, max_backups, collections, updated_at
		FROM backup_config
		WHERE id = 1
	`
	var cfg domain.BackupConfig
	var scheduleType, compression, collections string
	err := r.db.QueryRowContext(ctx, query).Scan(
		&cfg.AutoBackupEnabled,
		&scheduleType,
		&cfg.ScheduleTimeOfDay,
		&cfg.RetentionDays,
		&compression,
		&cfg.IncludeFiles,
		&cfg.IncludeFileContents,
		&cfg.IncludeDatabase,
		&cfg.MaxBackups,
		&collections,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup config: %w", err)
	}

	cfg.ScheduleType = domain.ScheduleType(scheduleType)
	cfg.Compression = domain.Compression(compression)
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	if cfg.Collections, err = unmarshalList(collections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal collections: %w", err)
	}

	return &cfg, nil
}

func (r *configRepository) Save(ctx context.Context, cfg *domain.BackupConfig) error {
	collections, err := marshalList(cfg.Collections)
	if err != nil {
		return fmt.Errorf("failed to marshal collections: %w", err)
	}

	query := `
		INSERT INTO backup_config (id, auto_backup_enabled, schedule_type, schedule_time_of_day, retention_days,
			compression, include_files, include_file_contents, include_database, max_backups, collections, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			auto_backup_enabled = excluded.auto_backup_enabled,
			schedule_type = excluded.schedule_type,
			schedule_time_of_day = excluded.schedule_time_of_day,
			retention_days = excluded.retention_days,
			compression = excluded.compression,
			include_files = excluded.include_files,
			include_file_contents = excluded.include_file_contents,
			include_database = excluded.include_database,
			max_backups = excluded.max_backups,
			collections = excluded.collections,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		cfg.AutoBackupEnabled,
		string(cfg.ScheduleType),
		cfg.ScheduleTimeOfDay,
		cfg.RetentionDays,
		string(cfg.Compression),
		cfg.IncludeFiles,
		cfg.IncludeFileContents,
		cfg.IncludeDatabase,
		cfg.MaxBackups,
		collections,
		cfg.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save backup config: %w", err)
	}
	return nil
}
