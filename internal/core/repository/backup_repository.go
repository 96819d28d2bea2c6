package repository

import (
	"context"

	"github.com/martijn/vaultkeep/internal/core/domain"
)

type BackupFilter struct {
	Statuses []domain.BackupStatus
	Kinds    []domain.BackupKind
	Limit    int
	Offset   int
}

// BackupRepository persists BackupRecord metadata keyed by id.
// FindByID, Update and Delete return errors wrapping domain.ErrNotFound for unknown ids.
type BackupRepository interface {
	Create(ctx context.Context, backup *domain.BackupRecord) error
	// CreateExclusive creates backup only when no record is pending or
	// running, and returns an error wrapping domain.ErrConflict otherwise.
	CreateExclusive(ctx context.Context, backup *domain.BackupRecord) error
	FindByID(ctx context.Context, id string) (*domain.BackupRecord, error)
	Update(ctx context.Context, backup *domain.BackupRecord) error
	Delete(ctx context.Context, id string) error

	// List returns records sorted by started_at descending.
	List(ctx context.Context, filter BackupFilter) ([]*domain.BackupRecord, error)
	Count(ctx context.Context, filter BackupFilter) (int, error)
}
