package session

import (
	"strings"

	"fablecast/server/internal/models"
)

// EvaluateConditions reports whether every condition passes against the
// session. An empty list passes. Unknown operators pass with a warning
// so stories written against newer operator sets keep playing.
func (s *Store) EvaluateConditions(sess *models.Session, conds []models.Condition) bool {
	for _, cond := range conds {
		if !s.evaluateCondition(sess, cond) {
			return false
		}
	}
	return true
}

func (s *Store) evaluateCondition(sess *models.Session, cond models.Condition) bool {
	current, found := resolveVariable(sess, cond.Variable)
	switch cond.Operator {
	case models.OpEquals:
		return current.Equal(cond.Value)
	case models.OpNotEquals:
		return !current.Equal(cond.Value)
	case models.OpGreater:
		c, ok := current.Compare(cond.Value)
		return ok && c > 0
	case models.OpLess:
		c, ok := current.Compare(cond.Value)
		return ok && c < 0
	case models.OpGreaterOrEqual:
		c, ok := current.Compare(cond.Value)
		return ok && c >= 0
	case models.OpLessOrEqual:
		c, ok := current.Compare(cond.Value)
		return ok && c <= 0
	case models.OpContains:
		return current.Contains(cond.Value)
	case models.OpExists:
		return found && current.Kind != models.KindNull
	default:
		s.warn("unknown condition operator %q on %q treated as pass", cond.Operator, cond.Variable)
		return true
	}
}

// resolveVariable looks a condition variable up: session variables first,
// then the well-known state and context fields, then context flags.
func resolveVariable(sess *models.Session, name string) (models.Value, bool) {
	if v, ok := sess.State.Variables[name]; ok {
		return v, true
	}
	switch name {
	case "tension":
		return models.NumberValue(float64(sess.State.Tension)), true
	case "plot_progress":
		return models.NumberValue(float64(sess.Context.PlotProgress)), true
	case "location":
		return models.StringValue(sess.Context.World.Location), true
	case "time_of_day":
		return models.StringValue(sess.Context.World.TimeOfDay), true
	case "pacing":
		return models.StringValue(sess.State.Pacing), true
	case "tone":
		return models.StringValue(sess.State.Tone.Primary), true
	case "current_node":
		return models.StringValue(sess.State.CurrentNode), true
	}
	if rest, ok := strings.CutPrefix(name, "flags."); ok {
		v, present := sess.Context.Flags[rest]
		return v, present
	}
	if rest, ok := strings.CutPrefix(name, "affinity."); ok {
		if ch := sess.Context.Characters[rest]; ch != nil {
			return models.NumberValue(ch.Affinity), true
		}
		return models.NullValue(), false
	}
	if rest, ok := strings.CutPrefix(name, "trust."); ok {
		if ch := sess.Context.Characters[rest]; ch != nil {
			return models.NumberValue(ch.Trust), true
		}
		return models.NullValue(), false
	}
	if v, ok := sess.Context.Flags[name]; ok {
		return v, true
	}
	return models.NullValue(), false
}
