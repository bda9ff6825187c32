package models

// Persona is a voiced character. Stories carry template personas; each
// session works on its own copies so mid-story changes stay local.
type Persona struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Role           string            `json:"role" yaml:"role"`
	Voice          VoiceProfile      `json:"voice" yaml:"voice"`
	Personality    Personality       `json:"personality" yaml:"personality"`
	Backstory      string            `json:"backstory,omitempty" yaml:"backstory"`
	SpeechPatterns []SpeechPattern   `json:"speech_patterns,omitempty" yaml:"speech_patterns"`
	EmotionalRange []string          `json:"emotional_range,omitempty" yaml:"emotional_range"`
	Relationships  map[string]string `json:"relationships,omitempty" yaml:"relationships"`
	Uncensored     bool              `json:"uncensored" yaml:"uncensored"`
}

// VoiceProfile holds the synthesis knobs for a persona. Pitch and Rate
// are multipliers around 1.0; the texture knobs sit in [0,1].
type VoiceProfile struct {
	Provider      string  `json:"provider" yaml:"provider"`
	Model         string  `json:"model" yaml:"model"`
	Pitch         float64 `json:"pitch" yaml:"pitch"`
	Rate          float64 `json:"rate" yaml:"rate"`
	Warmth        float64 `json:"warmth" yaml:"warmth"`
	Assertiveness float64 `json:"assertiveness" yaml:"assertiveness"`
	Breathiness   float64 `json:"breathiness" yaml:"breathiness"`
}

// Personality is a Big Five profile plus free-form custom traits,
// every axis in [0,1].
type Personality struct {
	Openness          float64            `json:"openness" yaml:"openness"`
	Conscientiousness float64            `json:"conscientiousness" yaml:"conscientiousness"`
	Extraversion      float64            `json:"extraversion" yaml:"extraversion"`
	Agreeableness     float64            `json:"agreeableness" yaml:"agreeableness"`
	Neuroticism       float64            `json:"neuroticism" yaml:"neuroticism"`
	Custom            map[string]float64 `json:"custom,omitempty" yaml:"custom"`
}

// Trait returns a custom trait value, zero when unset.
func (p Personality) Trait(name string) float64 {
	return p.Custom[name]
}

// SpeechPattern rewrites dialogue that contains one of its triggers.
// Probability is the chance the rewrite fires on a match, in [0,1].
type SpeechPattern struct {
	Triggers    []string `json:"triggers" yaml:"triggers"`
	Replacement string   `json:"replacement" yaml:"replacement"`
	Probability float64  `json:"probability" yaml:"probability"`
}

// Clone returns a deep copy of the persona, voice profile included.
// Copies diverge from the original after cloning.
func (p *Persona) Clone() *Persona {
	if p == nil {
		return nil
	}
	out := *p
	if p.SpeechPatterns != nil {
		out.SpeechPatterns = make([]SpeechPattern, len(p.SpeechPatterns))
		for i, sp := range p.SpeechPatterns {
			sp.Triggers = append([]string(nil), sp.Triggers...)
			out.SpeechPatterns[i] = sp
		}
	}
	out.EmotionalRange = append([]string(nil), p.EmotionalRange...)
	if p.Relationships != nil {
		out.Relationships = make(map[string]string, len(p.Relationships))
		for k, v := range p.Relationships {
			out.Relationships[k] = v
		}
	}
	if p.Personality.Custom != nil {
		out.Personality.Custom = make(map[string]float64, len(p.Personality.Custom))
		for k, v := range p.Personality.Custom {
			out.Personality.Custom[k] = v
		}
	}
	return &out
}
