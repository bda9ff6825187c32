package session

import (
	"strings"

	"fablecast/server/internal/models"
)

// applyConsequence executes one state write from an accepted choice.
// Unknown types are ignored with a warning.
func (s *Store) applyConsequence(sess *models.Session, cons models.Consequence) {
	switch cons.Type {
	case models.ConsequenceSetVariable:
		if sess.State.Variables == nil {
			sess.State.Variables = make(map[string]models.Value)
		}
		sess.State.Variables[cons.Key] = cons.Value.Clone()
	case models.ConsequenceSetState:
		s.applyStatePath(sess, cons.Key, cons.Value)
	case models.ConsequenceAddThread:
		sess.Context.ActiveThreads = appendUnique(sess.Context.ActiveThreads, cons.Key)
	case models.ConsequenceAddEvent:
		text := cons.Key
		if text == "" {
			text = cons.Value.AsString()
		}
		sess.Context.World.RecentEvents = appendBounded(sess.Context.World.RecentEvents, text, maxRecentEvents)
	case models.ConsequenceVoiceChange:
		s.applyVoiceChange(sess, cons)
	default:
		s.warn("unknown consequence type %q ignored", cons.Type)
	}
}

// applyStatePath writes a typed context field for known paths and falls
// back to the context flag map for everything else. Paths are at most
// two dot-separated segments.
func (s *Store) applyStatePath(sess *models.Session, path string, v models.Value) {
	head, tail, nested := strings.Cut(path, ".")
	switch head {
	case "location":
		sess.Context.World.Location = v.AsString()
		return
	case "time_of_day":
		sess.Context.World.TimeOfDay = v.AsString()
		return
	case "plot_progress":
		sess.Context.PlotProgress = models.ClampTension(int(v.Num))
		return
	case "world":
		if nested {
			switch tail {
			case "location":
				sess.Context.World.Location = v.AsString()
				return
			case "time_of_day":
				sess.Context.World.TimeOfDay = v.AsString()
				return
			}
		}
	case "preferences":
		if nested {
			switch tail {
			case "maturity":
				sess.Context.Preferences.Maturity = v.AsString()
				return
			case "violence":
				sess.Context.Preferences.Violence = v.AsString()
				return
			case "romance":
				sess.Context.Preferences.Romance = v.AsString()
				return
			case "pacing":
				sess.Context.Preferences.Pacing = v.AsString()
				return
			}
		}
	case "affinity", "trust":
		if nested {
			ch := sess.Context.Characters[tail]
			if ch == nil {
				if sess.Context.Characters == nil {
					sess.Context.Characters = make(map[string]*models.CharacterState)
				}
				ch = &models.CharacterState{}
				sess.Context.Characters[tail] = ch
			}
			if head == "affinity" {
				ch.Affinity = v.Num
			} else {
				ch.Trust = v.Num
			}
			return
		}
	}
	s.setContextFlag(sess, path, v)
}

func (s *Store) setContextFlag(sess *models.Session, key string, v models.Value) {
	if sess.Context.Flags == nil {
		sess.Context.Flags = make(map[string]models.Value)
	}
	sess.Context.Flags[key] = v.Clone()
}

// applyVoiceChange adjusts a session persona's voice knobs from a map
// value. Texture knobs clamp to [0,1], pitch and rate to [0.5,2].
func (s *Store) applyVoiceChange(sess *models.Session, cons models.Consequence) {
	p, ok := sess.Personas[cons.Target]
	if !ok {
		s.warn("voice_change for unknown persona %q ignored", cons.Target)
		return
	}
	if cons.Value.Kind != models.KindMap {
		s.warn("voice_change for %q needs a map value, got %s", cons.Target, cons.Value.Kind)
		return
	}
	for knob, v := range cons.Value.Map {
		switch knob {
		case "provider":
			p.Voice.Provider = v.AsString()
		case "model":
			p.Voice.Model = v.AsString()
		case "pitch":
			p.Voice.Pitch = clampRange(v.Num, 0.5, 2)
		case "rate":
			p.Voice.Rate = clampRange(v.Num, 0.5, 2)
		case "warmth":
			p.Voice.Warmth = clamp01(v.Num)
		case "assertiveness":
			p.Voice.Assertiveness = clamp01(v.Num)
		case "breathiness":
			p.Voice.Breathiness = clamp01(v.Num)
		default:
			s.warn("unknown voice knob %q for persona %q ignored", knob, cons.Target)
		}
	}
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func appendBounded(list []string, item string, max int) []string {
	list = append(list, item)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
