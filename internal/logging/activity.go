package logging

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

// ZerologActivity writes audit events to the log.
type ZerologActivity struct {
	logger zerolog.Logger
}

var _ port.ActivityLog = (*ZerologActivity)(nil)

func NewZerologActivity(logger zerolog.Logger) *ZerologActivity {
	return &ZerologActivity{logger: logger.With().Str("component", "activity").Logger()}
}

func (a *ZerologActivity) Record(_ context.Context, eventType string, metadata map[string]any) {
	a.logger.Info().Str("event", eventType).Fields(metadata).Msg("activity")
}

// StoredActivity persists audit events through the activity repository.
// Persistence failures are logged and swallowed.
type StoredActivity struct {
	repo   repository.ActivityRepository
	now    func() time.Time
	logger zerolog.Logger
}

var _ port.ActivityLog = (*StoredActivity)(nil)

func NewStoredActivity(repo repository.ActivityRepository, now func() time.Time, logger zerolog.Logger) *StoredActivity {
	if now == nil {
		now = time.Now
	}
	return &StoredActivity{
		repo:   repo,
		now:    now,
		logger: logger.With().Str("component", "activity-store").Logger(),
	}
}

func (a *StoredActivity) Record(ctx context.Context, eventType string, metadata map[string]any) {
	event := &domain.ActivityEvent{
		EventType: eventType,
		Metadata:  metadata,
		CreatedAt: a.now().UTC(),
	}
	// Audit writes outlive the request that triggered them
	if err := a.repo.Create(context.WithoutCancel(ctx), event); err != nil {
		a.logger.Error().Err(err).Str("event", eventType).Msg("failed to persist activity")
	}
}

// Fanout forwards each event to every sink in order.
type Fanout []port.ActivityLog

func (f Fanout) Record(ctx context.Context, eventType string, metadata map[string]any) {
	for _, sink := range f {
		sink.Record(ctx, eventType, metadata)
	}
}
