package models

import (
	"encoding/json"
	"time"
)

// Pacing labels for narrative delivery speed.
const (
	PacingSlow     = "slow"
	PacingModerate = "moderate"
	PacingFast     = "fast"
)

// Session is one live playthrough of a story bound to a delivery channel.
type Session struct {
	ID        string              `json:"id"`
	PlayerID  string              `json:"player_id"`
	StoryID   string              `json:"story_id"`
	Channel   string              `json:"channel"`
	State     SessionState        `json:"state"`
	Context   SessionContext      `json:"context"`
	Personas  map[string]*Persona `json:"personas,omitempty"`
	Metadata  SessionMetadata     `json:"metadata"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// SessionState tracks narrative position, offered choices and mood.
type SessionState struct {
	CurrentNode    string           `json:"current_node"`
	Path           []string         `json:"path"`
	PendingChoices []Choice         `json:"pending_choices,omitempty"`
	Variables      map[string]Value `json:"variables"`
	Tone           EmotionalTone    `json:"tone"`
	Pacing         string           `json:"pacing"`
	Tension        int              `json:"tension"`
	LastActionAt   time.Time        `json:"last_action_at"`
}

// EmotionalTone is the session's current mood plus its transition history.
type EmotionalTone struct {
	Primary     string           `json:"primary"`
	Intensity   float64          `json:"intensity"`
	Transitions []ToneTransition `json:"transitions,omitempty"`
}

// ToneTransition records one mood change.
type ToneTransition struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Intensity float64   `json:"intensity"`
	At        time.Time `json:"at"`
}

// ToneChange is the wholesale tone overwrite a choice can carry.
type ToneChange struct {
	Primary   string  `json:"primary"`
	Intensity float64 `json:"intensity"`
}

// SessionContext is the story-world snapshot generation conditions on.
type SessionContext struct {
	World            WorldState                 `json:"world"`
	Characters       map[string]*CharacterState `json:"characters"`
	PlotProgress     int                        `json:"plot_progress"`
	ActiveThreads    []string                   `json:"active_threads,omitempty"`
	CompletedThreads []string                   `json:"completed_threads,omitempty"`
	Preferences      Preferences                `json:"preferences"`
	Flags            map[string]Value           `json:"flags"`
}

// WorldState describes where and when the scene is playing.
type WorldState struct {
	Location         string   `json:"location"`
	TimeOfDay        string   `json:"time_of_day"`
	ActiveCharacters []string `json:"active_characters,omitempty"`
	RecentEvents     []string `json:"recent_events,omitempty"`
}

// CharacterState is the player's standing with one persona.
type CharacterState struct {
	Affinity  float64          `json:"affinity"`
	Trust     float64          `json:"trust"`
	Knowledge map[string]Value `json:"knowledge,omitempty"`
}

// Preferences are the player's content settings.
type Preferences struct {
	Maturity string `json:"maturity"`
	Violence string `json:"violence"`
	Romance  string `json:"romance"`
	Pacing   string `json:"pacing"`
}

// SessionMetadata carries bookkeeping that survives save-point restores.
type SessionMetadata struct {
	Playtime     time.Duration   `json:"playtime"`
	SavePoints   []SavePoint     `json:"save_points,omitempty"`
	Achievements []string        `json:"achievements,omitempty"`
	Flags        map[string]bool `json:"flags"`
}

// SavePoint is a display header plus a full restorable snapshot of
// State, Context and Personas at the moment it was taken.
type SavePoint struct {
	ID          string          `json:"id"`
	NodeID      string          `json:"node_id"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	Snapshot    json.RawMessage `json:"snapshot"`
}

// ClampTension bounds a tension value to its 0-100 scale.
func ClampTension(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.State = s.State.Clone()
	out.Context = s.Context.Clone()
	if s.Personas != nil {
		out.Personas = make(map[string]*Persona, len(s.Personas))
		for id, p := range s.Personas {
			out.Personas[id] = p.Clone()
		}
	}
	out.Metadata = s.Metadata.Clone()
	return &out
}

// Clone returns a deep copy of the state.
func (st SessionState) Clone() SessionState {
	out := st
	out.Path = append([]string(nil), st.Path...)
	if st.PendingChoices != nil {
		out.PendingChoices = make([]Choice, len(st.PendingChoices))
		for i, c := range st.PendingChoices {
			out.PendingChoices[i] = c.Clone()
		}
	}
	out.Variables = CloneValues(st.Variables)
	out.Tone.Transitions = append([]ToneTransition(nil), st.Tone.Transitions...)
	return out
}

// Clone returns a deep copy of the context.
func (c SessionContext) Clone() SessionContext {
	out := c
	out.World.ActiveCharacters = append([]string(nil), c.World.ActiveCharacters...)
	out.World.RecentEvents = append([]string(nil), c.World.RecentEvents...)
	if c.Characters != nil {
		out.Characters = make(map[string]*CharacterState, len(c.Characters))
		for id, ch := range c.Characters {
			cp := *ch
			cp.Knowledge = CloneValues(ch.Knowledge)
			out.Characters[id] = &cp
		}
	}
	out.ActiveThreads = append([]string(nil), c.ActiveThreads...)
	out.CompletedThreads = append([]string(nil), c.CompletedThreads...)
	out.Flags = CloneValues(c.Flags)
	return out
}

// Clone returns a deep copy of the metadata.
func (m SessionMetadata) Clone() SessionMetadata {
	out := m
	if m.SavePoints != nil {
		out.SavePoints = make([]SavePoint, len(m.SavePoints))
		for i, sp := range m.SavePoints {
			cp := sp
			cp.Snapshot = append(json.RawMessage(nil), sp.Snapshot...)
			out.SavePoints[i] = cp
		}
	}
	out.Achievements = append([]string(nil), m.Achievements...)
	if m.Flags != nil {
		out.Flags = make(map[string]bool, len(m.Flags))
		for k, v := range m.Flags {
			out.Flags[k] = v
		}
	}
	return out
}
