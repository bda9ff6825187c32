package interfaces

import (
	"context"
	"errors"
	"time"

	"fablecast/server/internal/models"
)

// ErrNotFound is returned by repositories for missing or expired rows.
var ErrNotFound = errors.New("not found")

// SessionRepository persists sessions with a TTL. Implementations treat
// rows past their deadline as absent even before any sweep runs.
type SessionRepository interface {
	// Put stores the session and (re)arms its expiry deadline.
	Put(ctx context.Context, s *models.Session, ttl time.Duration) error

	// Get returns the session, or ErrNotFound when missing or expired.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Delete removes the session. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns ids of live sessions, optionally filtered by player.
	List(ctx context.Context, playerID string) ([]string, error)

	// DeleteExpired removes rows past their deadline, returning the count.
	DeleteExpired(ctx context.Context) (int, error)
}
