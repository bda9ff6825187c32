package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/models"
)

// Export serializes the whole session as JSON, suitable for archival or
// migration to another instance.
func (s *Store) Export(ctx context.Context, id string) ([]byte, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to export session %s: %w", id, err)
	}
	return data, nil
}

// Import restores an exported session, refusing ids that already exist.
// The expiry window restarts at import time; everything else carries
// over unchanged.
func (s *Store) Import(ctx context.Context, data []byte) (*models.Session, error) {
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session export: %w", err)
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("session export is missing an id")
	}

	_, err := s.repo.Get(ctx, sess.ID)
	if err == nil {
		return nil, fmt.Errorf("session %s already exists", sess.ID)
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to check session %s: %w", sess.ID, err)
	}

	sess.UpdatedAt = s.now()
	if err := s.repo.Put(ctx, &sess, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return sess.Clone(), nil
}
