package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

const backupColumns = `id, name, kind, status, progress, collections_included, include_files, compression,
	artifact_path, size_bytes, checksum, error_message, started_by, retention_days,
	expires_at, started_at, completed_at, finished_at`

type backupRepository struct {
	db *DB
}

func NewBackupRepository(db *DB) repository.BackupRepository {
	return &backupRepository{db: db}
}

func (r *backupRepository) Create(ctx context.Context, backup *domain.BackupRecord) error {
	args, err := backupArgs(backup)
	if err != nil {
		return err
	}

	query := `INSERT INTO backup_record (` + backupColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: backup %s already exists", domain.ErrConflict, backup.ID)
		}
		return fmt.Errorf("failed to create backup: %w", err)
	}
	return nil
}

// CreateExclusive inserts backup in the same statement that checks for an
// unfinished record, so two processes sharing the file cannot both claim the
// slot.
func (r *backupRepository) CreateExclusive(ctx context.Context, backup *domain.BackupRecord) error {
	args, err := backupArgs(backup)
	if err != nil {
		return err
	}

	query := `INSERT INTO backup_record (` + backupColumns + `)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM backup_record WHERE status IN (?, ?))`
	args = append(args, string(domain.BackupStatusPending), string(domain.BackupStatusRunning))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: another backup is already in progress", domain.ErrConflict)
	}
	return nil
}

func backupArgs(backup *domain.BackupRecord) ([]any, error) {
	collections, err := marshalList(backup.CollectionsIncluded)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal collections: %w", err)
	}
	return []any{
		backup.ID,
		backup.Name,
		string(backup.Kind),
		string(backup.Status),
		backup.Progress,
		collections,
		backup.IncludeFiles,
		string(backup.Compression),
		NullString(backup.ArtifactPath),
		NullInt64(backup.SizeBytes),
		NullString(backup.Checksum),
		NullString(backup.ErrorMessage),
		NullString(backup.StartedBy),
		backup.RetentionDays,
		backup.ExpiresAt.UTC(),
		backup.StartedAt.UTC(),
		NullTime(backup.CompletedAt),
		NullTime(backup.FinishedAt),
	}, nil
}

func (r *backupRepository) FindByID(ctx context.Context, id string) (*domain.BackupRecord, error) {
	query := `SELECT ` + backupColumns + ` FROM backup_record WHERE id = ?`
	backup, err := r.scanBackup(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: backup %s", domain.ErrNotFound, id)
	}
	return backup, err
}

func (r *backupRepository) Update(ctx context.Context, backup *domain.BackupRecord) error {
	collections, err := marshalList(backup.CollectionsIncluded)
	if err != nil {
		return fmt.Errorf("failed to marshal collections: %w", err)
	}

	query := `
		UPDATE backup_record
		SET name = ?, kind = ?, status = ?, progress = ?, collections_included = ?, include_files = ?,
			compression = ?, artifact_path = ?, size_bytes = ?, checksum = ?, error_message = ?,
			started_by = ?, retention_days = ?, expires_at = ?, started_at = ?, completed_at = ?,
			finished_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		backup.Name,
		string(backup.Kind),
		string(backup.Status),
		backup.Progress,
		collections,
		backup.IncludeFiles,
		string(backup.Compression),
		NullString(backup.ArtifactPath),
		NullInt64(backup.SizeBytes),
		NullString(backup.Checksum),
		NullString(backup.ErrorMessage),
		NullString(backup.StartedBy),
		backup.RetentionDays,
		backup.ExpiresAt.UTC(),
		backup.StartedAt.UTC(),
		NullTime(backup.CompletedAt),
		NullTime(backup.FinishedAt),
		backup.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update backup: %w", err)
	}
	return expectOneRow(result, "backup", backup.ID)
}

func (r *backupRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM backup_record WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	return expectOneRow(result, "backup", id)
}

func (r *backupRepository) List(ctx context.Context, filter repository.BackupFilter) ([]*domain.BackupRecord, error) {
	query := `SELECT ` + backupColumns + ` FROM backup_record WHERE 1=1`
	query, args := r.applyBackupFilter(query, nil, filter)
	query += " ORDER BY started_at DESC, rowid DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var backups []*domain.BackupRecord
	for rows.Next() {
		backup, err := r.scanBackup(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, backup)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backups: %w", err)
	}

	return backups, nil
}

func (r *backupRepository) Count(ctx context.Context, filter repository.BackupFilter) (int, error) {
	query, args := r.applyBackupFilter(`SELECT COUNT(*) FROM backup_record WHERE 1=1`, nil, filter)

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count backups: %w", err)
	}
	return count, nil
}

func (r *backupRepository) applyBackupFilter(query string, args []interface{}, filter repository.BackupFilter) (string, []interface{}) {
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ", "))
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		query += fmt.Sprintf(" AND kind IN (%s)", strings.Join(placeholders, ", "))
	}
	return query, args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *backupRepository) scanBackup(row scanner) (*domain.BackupRecord, error) {
	var backup domain.BackupRecord
	var kind, status, compression, collections string
	var artifactPath, checksum, errorMessage, startedBy sql.NullString
	var sizeBytes sql.NullInt64
	var completedAt, finishedAt sql.NullTime

	err := row.Scan(
		&backup.ID,
		&backup.Name,
		&kind,
		&status,
		&backup.Progress,
		&collections,
		&backup.IncludeFiles,
		&compression,
		&artifactPath,
		&sizeBytes,
		&checksum,
		&errorMessage,
		&startedBy,
		&backup.RetentionDays,
		&backup.ExpiresAt,
		&backup.StartedAt,
		&completedAt,
		&finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan backup: %w", err)
	}

	backup.Kind = domain.BackupKind(kind)
	backup.Status = domain.BackupStatus(status)
	backup.Compression = domain.Compression(compression)
	backup.ArtifactPath = stringPtr(artifactPath)
	backup.SizeBytes = int64Ptr(sizeBytes)
	backup.Checksum = stringPtr(checksum)
	backup.ErrorMessage = stringPtr(errorMessage)
	backup.StartedBy = stringPtr(startedBy)
	backup.ExpiresAt = backup.ExpiresAt.UTC()
	backup.StartedAt = backup.StartedAt.UTC()
	backup.CompletedAt = timePtr(completedAt)
	backup.FinishedAt = timePtr(finishedAt)

	if backup.CollectionsIncluded, err = unmarshalList(collections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal collections: %w", err)
	}

	return &backup, nil
}
