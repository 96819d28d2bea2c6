package service

import (
	"sync"

	"github.com/martijn/vaultkeep/internal/core/domain"
)

// ProgressReporter fans progress events out to subscribers. Each subscriber
// has its own queue drained by one goroutine, so a slow subscriber never
// blocks the pipeline and always sees events in publish order.
type ProgressReporter struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
	last   map[string]int // stream -> highest overallProgress published
}

type subscriber struct {
	fn      func(domain.ProgressEvent)
	mu      sync.Mutex
	queue   []domain.ProgressEvent
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{
		subs: map[int]*subscriber{},
		last: map[string]int{},
	}
}

// Subscribe registers fn and returns a function that removes it. Events still
// queued for fn when it unsubscribes are dropped.
func (p *ProgressReporter) Subscribe(fn func(domain.ProgressEvent)) (unsubscribe func()) {
	s := &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = s
	p.mu.Unlock()

	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			s.stop()
		})
	}
}

// Publish delivers ev to every current subscriber. Within one stream,
// overallProgress is clamped so it never goes backwards.
func (p *ProgressReporter) Publish(stream string, ev domain.ProgressEvent) {
	p.mu.Lock()
	if last, ok := p.last[stream]; ok && ev.OverallProgress < last {
		ev.OverallProgress = last
	}
	if ev.OverallProgress > 100 {
		ev.OverallProgress = 100
	}
	p.last[stream] = ev.OverallProgress

	// Enqueue under p.mu so concurrent publishers agree on one order
	for _, s := range p.subs {
		s.enqueue(ev)
	}
	p.mu.Unlock()
}

// Close forgets a finished stream.
func (p *ProgressReporter) Close(stream string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.last, stream)
}

// Subscribers returns the number of registered subscribers.
func (p *ProgressReporter) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (s *subscriber) enqueue(ev domain.ProgressEvent) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.queue = nil
		close(s.done)
	}
	s.mu.Unlock()
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if s.stopped || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.fn(ev)
		}
	}
}
