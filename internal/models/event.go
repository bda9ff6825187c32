package models

import "time"

// Event kinds recorded against a session.
const (
	EventChoice     = "choice"
	EventDialogue   = "dialogue"
	EventWorld      = "world"
	EventSessionEnd = "session_end"
)

// Event is one recallable moment from a session: an accepted choice,
// a generated line, a world change. Events feed the recall index.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StoryID   string    `json:"story_id"`
	NodeID    string    `json:"node_id,omitempty"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Speaker   string    `json:"speaker,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
