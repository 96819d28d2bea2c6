// Package port declares the collaborators the backup engine consumes but does
// not own: the live record store, the artifact blob store, the caller's
// identity, time, and the audit sink.
package port

import (
	"context"
	"time"

	"github.com/martijn/vaultkeep/internal/core/domain"
)

// RecordStore reads and replaces named collections of the live data store.
// Implementations return errors wrapping domain.ErrAdapterUnavailable when the
// store itself cannot be reached, as opposed to a single collection failing.
type RecordStore interface {
	ReadAll(ctx context.Context, collection string) ([]domain.Record, error)
	ReplaceAll(ctx context.Context, collection string, records []domain.Record) error
}

// Pinger is implemented by stores that can report reachability up front.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BlobStore persists opaque artifacts by path. Get and Delete return errors
// wrapping domain.ErrNotFound for unknown paths.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// AuthContext resolves the acting principal of a request.
type AuthContext interface {
	CurrentActorID(ctx context.Context) (string, bool)
	HasCapability(ctx context.Context, actorID string, capability domain.Capability) bool
}

// Clock supplies time and the periodic ticks that drive the scheduler.
type Clock interface {
	Now() time.Time
	Ticks() <-chan time.Time
}

// ActivityLog is a fire-and-forget audit sink.
type ActivityLog interface {
	Record(ctx context.Context, eventType string, metadata map[string]any)
}
