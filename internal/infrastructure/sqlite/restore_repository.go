package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

const restoreColumns = `id, backup_id, status, restored_collections, failed_collections, files_restored,
	warnings, error_message, started_by, started_at, completed_at`

type restoreRepository struct {
	db *DB
}

func NewRestoreRepository(db *DB) repository.RestoreRepository {
	return &restoreRepository{db: db}
}

func (r *restoreRepository) Create(ctx context.Context, restore *domain.RestoreResult) error {
	restored, failed, warnings, err := marshalRestoreLists(restore)
	if err != nil {
		return err
	}

	query := `INSERT INTO restore_result (` + restoreColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		restore.ID,
		restore.BackupID,
		string(restore.Status),
		restored,
		failed,
		restore.FilesRestored,
		warnings,
		NullString(restore.ErrorMessage),
		NullString(restore.StartedBy),
		restore.StartedAt.UTC(),
		NullTime(restore.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create restore: %w", err)
	}
	return nil
}

func (r *restoreRepository) FindByID(ctx context.Context, id string) (*domain.RestoreResult, error) {
	query := `SELECT ` + restoreColumns + ` FROM restore_result WHERE id = ?`
	restore, err := r.scanRestore(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: restore %s", domain.ErrNotFound, id)
	}
	return restore, err
}

func (r *restoreRepository) Update(ctx context.Context, restore *domain.RestoreResult) error {
	restored, failed, warnings, err := marshalRestoreLists(restore)
	if err != nil {
		return err
	}

	query := `
		UPDATE restore_result
		SET status = ?, restored_collections = ?, failed_collections = ?, files_restored = ?,
			warnings = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		string(restore.Status),
		restored,
		failed,
		restore.FilesRestored,
		warnings,
		NullString(restore.ErrorMessage),
		NullTime(restore.CompletedAt),
		restore.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update restore: %w", err)
	}
	return expectOneRow(result, "restore", restore.ID)
}

func (r *restoreRepository) List(ctx context.Context, filter repository.RestoreFilter) ([]*domain.RestoreResult, error) {
	query := `SELECT ` + restoreColumns + ` FROM restore_result WHERE 1=1`
	var args []interface{}

	if filter.BackupID != nil {
		query += " AND backup_id = ?"
		args = append(args, *filter.BackupID)
	}

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
		return nil, fmt.Errorf("failed to list restores: %w", err)
	}
	defer rows.Close()

	var restores []*domain.RestoreResult
	for rows.Next() {
		restore, err := r.scanRestore(rows)
		if err != nil {
			return nil, err
		}
		restores = append(restores, restore)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating restores: %w", err)
	}

	return restores, nil
}

func (r *restoreRepository) Count(ctx context.Context, filter repository.RestoreFilter) (int, error) {
	query := `SELECT COUNT(*) FROM restore_result WHERE 1=1`
	var args []interface{}

	if filter.BackupID != nil {
		query += " AND backup_id = ?"
		args = append(args, *filter.BackupID)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count restores: %w", err)
	}
	return count, nil
}

func (r *restoreRepository) scanRestore(row scanner) (*domain.RestoreResult, error) {
	var restore domain.RestoreResult
	var status, restored, failed, warnings string
	var errorMessage, startedBy sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&restore.ID,
		&restore.BackupID,
		&status,
		&restored,
		&failed,
		&restore.FilesRestored,
		&warnings,
		&errorMessage,
		&startedBy,
		&restore.StartedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan restore: %w", err)
	}

	restore.Status = domain.RestoreStatus(status)
	restore.ErrorMessage = stringPtr(errorMessage)
	restore.StartedBy = stringPtr(startedBy)
	restore.StartedAt = restore.StartedAt.UTC()
	restore.CompletedAt = timePtr(completedAt)

	if restore.RestoredCollections, err = unmarshalList(restored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal restored collections: %w", err)
	}
	if restore.FailedCollections, err = unmarshalList(failed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed collections: %w", err)
	}
	if restore.Warnings, err = unmarshalList(warnings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal restore warnings: %w", err)
	}

	return &restore, nil
}

func marshalRestoreLists(restore *domain.RestoreResult) (restored, failed, warnings string, err error) {
	if restored, err = marshalList(restore.RestoredCollections); err != nil {
		return "", "", "", fmt.Errorf("failed to marshal restored collections: %w", err)
	}
	if failed, err = marshalList(restore.FailedCollections); err != nil {
		return "", "", "", fmt.Errorf("failed to marshal failed collections: %w", err)
	}
	if warnings, err = marshalList(restore.Warnings); err != nil {
		return "", "", "", fmt.Errorf("failed to marshal restore warnings: %w", err)
	}
	return restored, failed, warnings, nil
}
