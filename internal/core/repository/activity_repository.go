package repository

import (
	"context"

	"github.com/martijn/vaultkeep/internal/api/util"
	"github.com/martijn/vaultkeep/internal/core/domain"
)

// ActivityFilter embeds ListFilter for generic query/order/pagination
type ActivityFilter struct {
	util.ListFilter
}

type ActivityRepository interface {
	Create(ctx context.Context, event *domain.ActivityEvent) error
	List(ctx context.Context, filter ActivityFilter) ([]*domain.ActivityEvent, error)
	Count(ctx context.Context, filter ActivityFilter) (int, error)
}
