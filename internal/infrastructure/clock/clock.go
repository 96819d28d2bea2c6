// Package clock supplies time and scheduler ticks.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/martijn/vaultkeep/internal/core/port"
)

// CronClock emits a tick on every firing of a cron schedule. Ticks that arrive
// while the previous one is still unconsumed are dropped.
type CronClock struct {
	runner *cron.Cron
	ticks  chan time.Time
	logger zerolog.Logger
	once   sync.Once
}

var _ port.Clock = (*CronClock)(nil)

// NewCronClock accepts a standard five-field expression or a descriptor such
// as "@every 1m".
func NewCronClock(spec string, logger zerolog.Logger) (*CronClock, error) {
	c := &CronClock{
		runner: cron.New(cron.WithLocation(time.UTC)),
		ticks:  make(chan time.Time, 1),
		logger: logger.With().Str("component", "clock").Logger(),
	}
	if _, err := c.runner.AddJob(spec, c); err != nil {
		return nil, fmt.Errorf("invalid tick schedule %q: %w", spec, err)
	}
	return c, nil
}

// NewIntervalClock ticks every interval.
func NewIntervalClock(interval time.Duration, logger zerolog.Logger) (*CronClock, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("tick interval must be at least 1s, got %s", interval)
	}
	return NewCronClock("@every "+interval.String(), logger)
}

// Run implements cron.Job.
func (c *CronClock) Run() {
	now := time.Now().UTC()
	select {
	case c.ticks <- now:
	default:
		c.logger.Debug().Time("tick", now).Msg("previous tick still pending, dropping")
	}
}

func (c *CronClock) Now() time.Time {
	return time.Now().UTC()
}

func (c *CronClock) Ticks() <-chan time.Time {
	return c.ticks
}

func (c *CronClock) Start() {
	c.runner.Start()
}

// Stop halts the schedule and waits for a running job to return.
func (c *CronClock) Stop() {
	c.once.Do(func() {
		<-c.runner.Stop().Done()
	})
}

// Manual is a clock whose time and ticks are driven by the caller.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	step  time.Duration
	ticks chan time.Time
}

var _ port.Clock = (*Manual)(nil)

func NewManual(now time.Time) *Manual {
	return &Manual{now: now.UTC(), ticks: make(chan time.Time)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now
	m.now = m.now.Add(m.step)
	return now
}

// Creep makes every Now call move the clock forward by step, the way a real
// clock moves between two reads.
func (m *Manual) Creep(step time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.step = step
}

func (m *Manual) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now.UTC()
}

func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

func (m *Manual) Ticks() <-chan time.Time {
	return m.ticks
}

// Tick delivers the current time to the tick consumer and blocks until it is received.
func (m *Manual) Tick() {
	m.ticks <- m.Now()
}
