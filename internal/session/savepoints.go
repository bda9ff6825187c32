package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"fablecast/server/internal/models"
)

// savePointSnapshot is the restorable portion of a session.
type savePointSnapshot struct {
	State    models.SessionState        `json:"state"`
	Context  models.SessionContext      `json:"context"`
	Personas map[string]*models.Persona `json:"personas,omitempty"`
}

// CreateSavePoint snapshots the session's full restorable state. When
// maxSlots is positive and the slot cap is reached, the oldest save
// point is dropped to make room.
func (s *Store) CreateSavePoint(ctx context.Context, id, description string, maxSlots int) (*models.SavePoint, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(savePointSnapshot{
		State:    sess.State,
		Context:  sess.Context,
		Personas: sess.Personas,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot session %s: %w", id, err)
	}

	sp := models.SavePoint{
		ID:          uuid.NewString(),
		NodeID:      sess.State.CurrentNode,
		Description: description,
		CreatedAt:   s.now(),
		Snapshot:    raw,
	}
	sess.Metadata.SavePoints = append(sess.Metadata.SavePoints, sp)
	if maxSlots > 0 && len(sess.Metadata.SavePoints) > maxSlots {
		sess.Metadata.SavePoints = sess.Metadata.SavePoints[len(sess.Metadata.SavePoints)-maxSlots:]
	}

	sess.UpdatedAt = s.now()
	if err := s.repo.Put(ctx, sess, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return &sp, nil
}

// LoadSavePoint restores state, context and personas from a save point.
// Metadata stays current rather than rewinding, so playtime, achievements
// and the save points themselves survive a restore.
func (s *Store) LoadSavePoint(ctx context.Context, id, savePointID string) (*models.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var found *models.SavePoint
	for i := range sess.Metadata.SavePoints {
		if sess.Metadata.SavePoints[i].ID == savePointID {
			found = &sess.Metadata.SavePoints[i]
			break
		}
	}
	if found == nil {
		return nil, ErrSavePointNotFound
	}

	var snap savePointSnapshot
	if err := json.Unmarshal(found.Snapshot, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode save point %s: %w", savePointID, err)
	}

	now := s.now()
	sess.State = snap.State
	sess.Context = snap.Context
	sess.Personas = snap.Personas
	sess.State.LastActionAt = now
	sess.UpdatedAt = now

	if err := s.repo.Put(ctx, sess, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return sess, nil
}
