package repository

import (
	"context"

	"github.com/martijn/vaultkeep/internal/core/domain"
)

type RestoreFilter struct {
	BackupID *string
	Limit    int
	Offset   int
}

type RestoreRepository interface {
	Create(ctx context.Context, restore *domain.RestoreResult) error
	FindByID(ctx context.Context, id string) (*domain.RestoreResult, error)
	Update(ctx context.Context, restore *domain.RestoreResult) error
	List(ctx context.Context, filter RestoreFilter) ([]*domain.RestoreResult, error)
	Count(ctx context.Context, filter RestoreFilter) (int, error)
}
