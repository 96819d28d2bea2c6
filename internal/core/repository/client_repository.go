package repository

import (
	"context"

	"github.com/martijn/vaultkeep/internal/core/domain"
)

// ClientRepository stores API clients. Update and Delete return
// domain.ErrNotFound when no client has the given id.
type ClientRepository interface {
	Create(ctx context.Context, client *domain.Client) error
	FindByID(ctx context.Context, id string) (*domain.Client, error)
	// List orders clients by label.
	List(ctx context.Context) ([]*domain.Client, error)
	Update(ctx context.Context, client *domain.Client) error
	Delete(ctx context.Context, id string) error
}
