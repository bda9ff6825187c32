package interfaces

import (
	"context"

	"fablecast/server/internal/models"
)

// EventIndex stores session events for similarity recall.
type EventIndex interface {
	// Index stores one event.
	Index(ctx context.Context, ev *models.Event) error

	// Search returns events related to the query text, most similar first.
	Search(ctx context.Context, sessionID, query string, limit int) ([]*models.Event, error)

	// DeleteSession removes every event recorded for a session.
	DeleteSession(ctx context.Context, sessionID string) error
}
