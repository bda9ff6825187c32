package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/models"
)

// Sentinel errors for routine absence.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrChoiceNotAvailable = errors.New("choice not available")
	ErrSavePointNotFound  = errors.New("save point not found")
)

const (
	// DefaultTTL is the idle window after which sessions expire.
	DefaultTTL = 7 * 24 * time.Hour

	// playtimeIdleCap bounds how much of an idle gap counts as play.
	playtimeIdleCap = 5 * time.Minute

	maxToneTransitions = 50
	maxRecentEvents    = 20
)

// Store manages session lifecycle and state transitions on top of a
// pluggable repository. Callers serialize operations per session; the
// store holds no cross-call locks of its own.
type Store struct {
	repo interfaces.SessionRepository
	ttl  time.Duration

	now  func() time.Time
	warn func(format string, args ...interface{})
}

// NewStore creates a session store. A ttl of zero falls back to DefaultTTL.
func NewStore(repo interfaces.SessionRepository, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		repo: repo,
		ttl:  ttl,
		now:  time.Now,
		warn: func(format string, args ...interface{}) {
			log.Printf("[SessionStore] "+format, args...)
		},
	}
}

// TTL returns the configured idle expiry window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// CreateParams carries what a new session starts with. The caller
// resolves the story and hands over its start node and persona copies.
type CreateParams struct {
	StoryID   string
	PlayerID  string
	Channel   string
	StartNode string
	Personas  map[string]*models.Persona
	Variables map[string]models.Value
	Pacing    string
}

// Create allocates a fresh session positioned at the start node.
func (s *Store) Create(ctx context.Context, p CreateParams) (*models.Session, error) {
	if p.StoryID == "" || p.StartNode == "" {
		return nil, fmt.Errorf("create session: story id and start node are required")
	}

	var id string
	for attempt := 0; attempt < 3 && id == ""; attempt++ {
		candidate := uuid.NewString()
		_, err := s.repo.Get(ctx, candidate)
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			id = candidate
		case err != nil:
			return nil, fmt.Errorf("failed to check session id: %w", err)
		}
	}
	if id == "" {
		return nil, fmt.Errorf("create session: could not allocate an unused id")
	}

	now := s.now()
	pacing := p.Pacing
	if pacing == "" {
		pacing = models.PacingModerate
	}
	variables := models.CloneValues(p.Variables)
	if variables == nil {
		variables = make(map[string]models.Value)
	}

	sess := &models.Session{
		ID:       id,
		PlayerID: p.PlayerID,
		StoryID:  p.StoryID,
		Channel:  p.Channel,
		State: models.SessionState{
			CurrentNode:  p.StartNode,
			Path:         []string{p.StartNode},
			Variables:    variables,
			Tone:         models.EmotionalTone{Primary: "neutral", Intensity: 0.5},
			Pacing:       pacing,
			Tension:      0,
			LastActionAt: now,
		},
		Context: models.SessionContext{
			Characters: make(map[string]*models.CharacterState),
			Preferences: models.Preferences{
				Maturity: "standard",
				Violence: "mild",
				Romance:  "standard",
				Pacing:   pacing,
			},
			Flags: make(map[string]models.Value),
		},
		Personas: clonePersonas(p.Personas),
		Metadata: models.SessionMetadata{
			Flags: make(map[string]bool),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Put(ctx, sess, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return sess.Clone(), nil
}

// Get returns the session, expiring it lazily when its idle window has
// passed. Expired sessions are deleted on read.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.repo.Get(ctx, id)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if s.expired(sess) {
		if derr := s.repo.Delete(ctx, id); derr != nil {
			s.warn("failed to delete expired session %s: %v", id, derr)
		}
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// StateUpdate is a partial write to session state. Nil fields are left
// alone; a non-nil PendingChoices replaces the offered set wholesale.
type StateUpdate struct {
	CurrentNode    *string
	PendingChoices []models.Choice
	Variables      map[string]models.Value
	Tone           *models.ToneChange
	Pacing         *string
	Tension        *int
}

// UpdateState merges a partial update. A current-node change appends to
// the path; the last-action and updated stamps always refresh.
func (s *Store) UpdateState(ctx context.Context, id string, update StateUpdate) (*models.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if update.CurrentNode != nil && *update.CurrentNode != sess.State.CurrentNode {
		sess.State.CurrentNode = *update.CurrentNode
		sess.State.Path = append(sess.State.Path, *update.CurrentNode)
	}
	if update.PendingChoices != nil {
		if len(update.PendingChoices) == 0 {
			sess.State.PendingChoices = nil
		} else {
			sess.State.PendingChoices = update.PendingChoices
		}
	}
	if len(update.Variables) > 0 {
		if sess.State.Variables == nil {
			sess.State.Variables = make(map[string]models.Value, len(update.Variables))
		}
		for k, v := range update.Variables {
			sess.State.Variables[k] = v.Clone()
		}
	}
	if update.Tone != nil {
		applyToneChange(&sess.State, *update.Tone, now)
	}
	if update.Pacing != nil {
		sess.State.Pacing = *update.Pacing
	}
	if update.Tension != nil {
		sess.State.Tension = models.ClampTension(*update.Tension)
	}

	s.touch(sess, now)
	if err := s.repo.Put(ctx, sess, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return sess, nil
}

// MakeChoice validates the choice against what was actually offered and,
// on a match, applies its consequences and advances the narrative. An
// un-offered choice id returns ErrChoiceNotAvailable and mutates nothing.
func (s *Store) MakeChoice(ctx context.Context, id, choiceID string) (*models.Session, *models.Choice, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var chosen *models.Choice
	for i := range sess.State.PendingChoices {
		if sess.State.PendingChoices[i].ID == choiceID {
			c := sess.State.PendingChoices[i].Clone()
			chosen = &c
			break
		}
	}
	if chosen == nil {
		return nil, nil, ErrChoiceNotAvailable
	}

	now := s.now()
	for _, cons := range chosen.Consequences {
		s.applyConsequence(sess, cons)
	}
	if chosen.EmotionalImpact != nil {
		applyToneChange(&sess.State, *chosen.EmotionalImpact, now)
	}
	sess.State.CurrentNode = chosen.Target
	sess.State.Path = append(sess.State.Path, chosen.Target)
	sess.State.PendingChoices = nil

	s.touch(sess, now)
	if err := s.repo.Put(ctx, sess, s.ttl); err != nil {
		return nil, nil, fmt.Errorf("failed to store session: %w", err)
	}
	return sess, chosen, nil
}

// UnlockAchievement records an achievement once. Re-unlocking the same
// name is a no-op that still refreshes activity.
func (s *Store) UnlockAchievement(ctx context.Context, id, name string) (*models.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	sess.Metadata.Achievements = appendUnique(sess.Metadata.Achievements, name)
	s.touch(sess, s.now())
	if err := s.repo.Put(ctx, sess, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return sess, nil
}

// Delete removes the session outright.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// List returns live session ids, optionally filtered by player.
func (s *Store) List(ctx context.Context, playerID string) ([]string, error) {
	ids, err := s.repo.List(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}

func (s *Store) expired(sess *models.Session) bool {
	if s.ttl <= 0 {
		return false
	}
	return !s.now().Before(sess.UpdatedAt.Add(s.ttl))
}

// touch accrues playtime and refreshes the activity stamps.
func (s *Store) touch(sess *models.Session, now time.Time) {
	gap := now.Sub(sess.State.LastActionAt)
	if gap > playtimeIdleCap {
		gap = playtimeIdleCap
	}
	if gap > 0 {
		sess.Metadata.Playtime += gap
	}
	sess.State.LastActionAt = now
	sess.UpdatedAt = now
}

// applyToneChange overwrites the tone wholesale and logs the transition.
func applyToneChange(st *models.SessionState, change models.ToneChange, now time.Time) {
	st.Tone.Transitions = append(st.Tone.Transitions, models.ToneTransition{
		From:      st.Tone.Primary,
		To:        change.Primary,
		Intensity: change.Intensity,
		At:        now,
	})
	if len(st.Tone.Transitions) > maxToneTransitions {
		st.Tone.Transitions = st.Tone.Transitions[len(st.Tone.Transitions)-maxToneTransitions:]
	}
	st.Tone.Primary = change.Primary
	st.Tone.Intensity = clamp01(change.Intensity)
}

func clonePersonas(in map[string]*models.Persona) map[string]*models.Persona {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]*models.Persona, len(in))
	for id, p := range in {
		out[id] = p.Clone()
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
