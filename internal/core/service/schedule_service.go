package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

// DefaultScheduleWindow is how long after the configured time of day a tick
// may still start the scheduled backup.
const DefaultScheduleWindow = time.Hour

// Scheduler starts scheduled backups from clock ticks. Ticks are handled one
// at a time.
type Scheduler struct {
	engine *Engine
	clock  port.Clock
	window time.Duration
	logger zerolog.Logger

	mu sync.Mutex
}

func NewScheduler(engine *Engine, clock port.Clock, window time.Duration, logger zerolog.Logger) *Scheduler {
	if window <= 0 {
		window = DefaultScheduleWindow
	}
	return &Scheduler{
		engine: engine,
		clock:  clock,
		window: window,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run handles ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("window", s.window).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-s.clock.Ticks():
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scheduler tick failed")
			}
		}
	}
}

// Tick starts a scheduled backup when one is due and returns it. It returns
// nil when automatic backups are off, the interval has not elapsed, the
// current time is outside the time-of-day window, or another backup is
// already in progress.
func (s *Scheduler) Tick(ctx context.Context) (*domain.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.engine.GetBackupConfig(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.AutoBackupEnabled {
		return nil, nil
	}

	now := s.clock.Now().UTC()
	hour, minute, err := domain.ParseTimeOfDay(cfg.ScheduleTimeOfDay)
	if err != nil {
		return nil, err
	}
	slot, ok := windowStart(now, hour, minute, s.window)
	if !ok {
		return nil, nil
	}

	last, err := s.lastRun(ctx)
	if err != nil {
		return nil, err
	}
	// Anything started after the window one interval back belongs to the
	// current period, however late in its own window it began.
	periodStart := slot.Add(-cfg.ScheduleType.Interval()).Add(s.window)
	if last != nil && !last.StartedAt.Before(periodStart) {
		return nil, nil
	}

	backup, err := s.engine.CreateBackup(ctx, domain.BackupKindScheduled, "", CreateOptions{})
	if errors.Is(err, domain.ErrConflict) {
		s.logger.Info().Err(err).Msg("scheduled backup skipped")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start scheduled backup: %w", err)
	}

	s.logger.Info().
		Str("backup_id", backup.ID).
		Str("schedule", string(cfg.ScheduleType)).
		Str("time_of_day", cfg.ScheduleTimeOfDay).
		Msg("scheduled backup started")
	return backup, nil
}

// lastRun returns the newest finished scheduled or manual backup.
func (s *Scheduler) lastRun(ctx context.Context) (*domain.BackupRecord, error) {
	backups, err := s.engine.registry.Find(ctx, repository.BackupFilter{
		Statuses: []domain.BackupStatus{domain.BackupStatusCompleted, domain.BackupStatusFailed},
		Kinds:    []domain.BackupKind{domain.BackupKindScheduled, domain.BackupKindManual},
		Limit:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find last scheduled backup: %w", err)
	}
	if len(backups) == 0 {
		return nil, nil
	}
	return backups[0], nil
}

// windowStart returns the slot whose window [slot, slot+window) holds now,
// trying today's slot and then yesterday's for windows that cross midnight.
func windowStart(now time.Time, hour, minute int, window time.Duration) (time.Time, bool) {
	slot := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	for _, start := range []time.Time{slot, slot.AddDate(0, 0, -1)} {
		if !now.Before(start) && now.Before(start.Add(window)) {
			return start, true
		}
	}
	return time.Time{}, false
}
