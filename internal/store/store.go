// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/nanostyle/internal/domain"
)

// ErrNotFound is returned by Get when no session has the requested id.
var ErrNotFound = fmt.Errorf("session %w", errdefs.ErrNotFound)

// Store persists session records keyed by session id.
// Implementations must be safe for concurrent use and must never hand out
// records that share memory with their internal state.
type Store interface {
	// Create inserts a new session.
	Create(ctx context.Context, session *domain.Session) error

	// Get retrieves a session by id, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*domain.Session, error)

	// Upsert creates or replaces a session record. Last write wins.
	Upsert(ctx context.Context, session *domain.Session) error

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// DeleteIdle removes sessions last updated before cutoff and returns how
	// many were removed.
	DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
