package repository

import (
	"context"

	"github.com/martijn/vaultkeep/internal/core/domain"
)

type ConfigRepository interface {
	// Get returns nil, nil when no config has been saved yet.
	Get(ctx context.Context) (*domain.BackupConfig, error)
	Save(ctx context.Context, cfg *domain.BackupConfig) error
}
