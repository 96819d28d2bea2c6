package sqlite

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

type activityRepository struct {
	db *DB
}

func NewActivityRepository(db *DB) repository.ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Create(ctx context.Context, event *domain.ActivityEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO activity (event_type, metadata, created_at) VALUES (?, ?, ?)`
	result, err := r.db.ExecContext(ctx, query,
		event.EventType,
		string(metadataJSON),
		event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	event.ID = id

	return nil
}

func (r *activityRepository) List(ctx context.Context, filter repository.ActivityFilter) ([]*domain.ActivityEvent, error) {
	query, args := listQuery(`SELECT id, event_type, metadata, created_at FROM activity WHERE 1=1`,
		filter.ListFilter, "created_at DESC, id DESC")

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var events []*domain.ActivityEvent
	for rows.Next() {
		var event domain.ActivityEvent
		var metadataJSON string
		if err := rows.Scan(&event.ID, &event.EventType, &metadataJSON, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		event.CreatedAt = event.CreatedAt.UTC()
		if err := json.Unmarshal([]byte(metadataJSON), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity: %w", err)
	}

	return events, nil
}

func (r *activityRepository) Count(ctx context.Context, filter repository.ActivityFilter) (int, error) {
	query, args := whereClause(`SELECT COUNT(*) FROM activity WHERE 1=1`, filter.Filters)

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}
	return count, nil
}
