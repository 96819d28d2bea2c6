// Package memory provides in-process stores for tests and single-node demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
)

// RecordStore is a map of collections guarded by a mutex. Failures can be
// injected per collection.
type RecordStore struct {
	mu          sync.RWMutex
	collections map[string][]domain.Record
	readErrs    map[string]error
	replaceErrs map[string]error
	unavailable error
	readGate    chan struct{}
	writes      int
}

var (
	_ port.RecordStore = (*RecordStore)(nil)
	_ port.Pinger      = (*RecordStore)(nil)
)

func NewRecordStore() *RecordStore {
	return &RecordStore{
		collections: map[string][]domain.Record{},
		readErrs:    map[string]error{},
		replaceErrs: map[string]error{},
	}
}

// Seed sets a collection's contents without counting as a write.
func (s *RecordStore) Seed(collection string, records []domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = cloneRecords(records)
}

// FailRead makes ReadAll of the collection return err. A nil err clears it.
func (s *RecordStore) FailRead(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.readErrs, collection)
		return
	}
	s.readErrs[collection] = err
}

// FailReplace makes ReplaceAll of the collection return err. A nil err clears it.
func (s *RecordStore) FailReplace(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.replaceErrs, collection)
		return
	}
	s.replaceErrs[collection] = err
}

// SetUnavailable makes Ping and every operation fail as if the store were unreachable.
func (s *RecordStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unavailable {
		s.unavailable = fmt.Errorf("%w: memory record store offline", domain.ErrAdapterUnavailable)
		return
	}
	s.unavailable = nil
}

// GateReads blocks every ReadAll until the returned release func is called.
func (s *RecordStore) GateReads() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.readGate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.readGate == gate {
				s.readGate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Writes returns how many ReplaceAll calls succeeded.
func (s *RecordStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Collections returns the sorted names of every non-empty collection.
func (s *RecordStore) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *RecordStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unavailable
}

func (s *RecordStore) ReadAll(ctx context.Context, collection string) ([]domain.Record, error) {
	s.mu.RLock()
	gate := s.readGate
	s.mu.RUnlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	if err := s.readErrs[collection]; err != nil {
		return nil, err
	}
	return cloneRecords(s.collections[collection]), nil
}

func (s *RecordStore) ReplaceAll(ctx context.Context, collection string, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	if err := s.replaceErrs[collection]; err != nil {
		return err
	}
	s.collections[collection] = cloneRecords(records)
	s.writes++
	return nil
}

func cloneRecords(records []domain.Record) []domain.Record {
	out := make([]domain.Record, len(records))
	for i, r := range records {
		c := make(domain.Record, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out
}
