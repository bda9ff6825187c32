package engine

import (
	"context"
	"fmt"

	"fablecast/server/internal/models"
	"fablecast/server/internal/session"
)

// Event types TriggerEvent understands.
const (
	EventIncreaseTension   = "increase_tension"
	EventDecreaseTension   = "decrease_tension"
	EventSetEmotion        = "set_emotion"
	EventSetVariable       = "set_variable"
	EventUnlockAchievement = "unlock_achievement"
)

// tensionStep is how far one tension event moves the dial.
const tensionStep = 10

// TriggerEvent applies a world event to a session. Tension moves in
// fixed steps and clamps to [0,100]; emotion and variable writes
// overwrite. Unknown event types error without touching the session.
func (e *Engine) TriggerEvent(ctx context.Context, sessionID, eventType string, params map[string]models.Value) (*models.Session, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch eventType {
	case EventIncreaseTension:
		tension := models.ClampTension(sess.State.Tension + tensionStep)
		sess, err = e.store.UpdateState(ctx, sessionID, session.StateUpdate{Tension: &tension})

	case EventDecreaseTension:
		tension := models.ClampTension(sess.State.Tension - tensionStep)
		sess, err = e.store.UpdateState(ctx, sessionID, session.StateUpdate{Tension: &tension})

	case EventSetEmotion:
		emotion, ok := params["emotion"]
		if !ok || emotion.AsString() == "" {
			return nil, fmt.Errorf("set_emotion event needs an emotion param")
		}
		intensity := sess.State.Tone.Intensity
		if v, ok := params["intensity"]; ok {
			intensity = v.Num
		}
		change := models.ToneChange{Primary: emotion.AsString(), Intensity: intensity}
		sess, err = e.store.UpdateState(ctx, sessionID, session.StateUpdate{Tone: &change})

	case EventSetVariable:
		key, ok := params["key"]
		if !ok || key.AsString() == "" {
			return nil, fmt.Errorf("set_variable event needs a key param")
		}
		value, ok := params["value"]
		if !ok {
			value = models.NullValue()
		}
		sess, err = e.store.UpdateState(ctx, sessionID, session.StateUpdate{
			Variables: map[string]models.Value{key.AsString(): value},
		})

	case EventUnlockAchievement:
		name, ok := params["name"]
		if !ok || name.AsString() == "" {
			return nil, fmt.Errorf("unlock_achievement event needs a name param")
		}
		sess, err = e.store.UnlockAchievement(ctx, sessionID, name.AsString())

	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if err != nil {
		return nil, err
	}
	e.analytics.EventTriggered()
	return sess, nil
}
