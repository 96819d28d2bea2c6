package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
)

type BlobStore struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	putErr error
}

var _ port.BlobStore = (*BlobStore)(nil)

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: map[string][]byte{}}
}

// FailPuts makes every Put return err until cleared with nil.
func (s *BlobStore) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// Paths lists stored blob paths.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.blobs))
	for p := range s.blobs {
		paths = append(paths, p)
	}
	return paths
}

// FlipBit corrupts one bit of a stored blob in place.
func (s *BlobStore) FlipBit(path string, offset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[path]
	if !ok {
		return fmt.Errorf("%w: blob %s", domain.ErrNotFound, path)
	}
	if offset < 0 || offset >= len(data) {
		return fmt.Errorf("%w: offset %d outside blob of %d bytes", domain.ErrValidation, offset, len(data))
	}
	data[offset] ^= 0x01
	return nil
}

func (s *BlobStore) Put(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.blobs[path] = append([]byte(nil), data...)
	return nil
}

func (s *BlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", domain.ErrNotFound, path)
	}
	return append([]byte(nil), data...), nil
}

func (s *BlobStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[path]; !ok {
		return fmt.Errorf("%w: blob %s", domain.ErrNotFound, path)
	}
	delete(s.blobs, path)
	return nil
}
