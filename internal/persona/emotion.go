package persona

import (
	"sync"
	"time"

	"fablecast/server/internal/models"
)

// maxEmotionHistory bounds the per-persona shift log.
const maxEmotionHistory = 20

// VoiceModifier shifts voice knobs for one emotion at full intensity.
type VoiceModifier struct {
	PitchShift  float64
	RateShift   float64
	WarmthShift float64
	AssertShift float64
	BreathShift float64
}

// emotionTable maps emotion labels to voice modifiers. Unlisted labels
// modulate as neutral.
var emotionTable = map[string]VoiceModifier{
	"neutral": {},
	"joy":     {PitchShift: 0.10, RateShift: 0.05, WarmthShift: 0.20},
	"sadness": {PitchShift: -0.10, RateShift: -0.15, WarmthShift: -0.10, BreathShift: 0.20},
	"anger":   {PitchShift: 0.05, RateShift: 0.10, WarmthShift: -0.30, AssertShift: 0.30},
	"fear":    {PitchShift: 0.15, RateShift: 0.20, AssertShift: -0.20, BreathShift: 0.30},
	"tense":   {RateShift: 0.10, AssertShift: 0.10, BreathShift: 0.10},
	"hopeful": {PitchShift: 0.05, WarmthShift: 0.15},
	"somber":  {PitchShift: -0.15, RateShift: -0.20, WarmthShift: -0.05},
	"playful": {PitchShift: 0.15, RateShift: 0.10, WarmthShift: 0.20},
	"wonder":  {PitchShift: 0.08, RateShift: -0.05, WarmthShift: 0.10, BreathShift: 0.15},
}

// EmotionShift is one recorded emotion application.
type EmotionShift struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Intensity float64   `json:"intensity"`
	At        time.Time `json:"at"`
}

// EmotionModulator adjusts a persona's voice toward a requested emotion
// and keeps a bounded history of the shifts it applied.
type EmotionModulator struct {
	personaID string

	mu      sync.Mutex
	current string
	history []EmotionShift
	now     func() time.Time
}

// NewEmotionModulator binds a modulator to a persona id, starting from
// neutral.
func NewEmotionModulator(personaID string) *EmotionModulator {
	return &EmotionModulator{
		personaID: personaID,
		current:   "neutral",
		now:       time.Now,
	}
}

// Apply returns the voice shifted toward the emotion, scaled by
// intensity in [0,1]. Unknown emotions modulate as neutral. Pitch and
// rate clamp to [0.5,2], texture knobs to [0,1]. Each call records a
// shift; the history keeps the most recent twenty.
func (em *EmotionModulator) Apply(voice models.VoiceProfile, emotion string, intensity float64) models.VoiceProfile {
	mod, ok := emotionTable[emotion]
	if !ok {
		emotion = "neutral"
		mod = emotionTable["neutral"]
	}
	intensity = clamp01(intensity)

	out := voice
	out.Pitch = clampVoiceRange(voice.Pitch + mod.PitchShift*intensity)
	out.Rate = clampVoiceRange(voice.Rate + mod.RateShift*intensity)
	out.Warmth = clamp01(voice.Warmth + mod.WarmthShift*intensity)
	out.Assertiveness = clamp01(voice.Assertiveness + mod.AssertShift*intensity)
	out.Breathiness = clamp01(voice.Breathiness + mod.BreathShift*intensity)

	em.mu.Lock()
	em.history = append(em.history, EmotionShift{
		From:      em.current,
		To:        emotion,
		Intensity: intensity,
		At:        em.now(),
	})
	if len(em.history) > maxEmotionHistory {
		em.history = em.history[len(em.history)-maxEmotionHistory:]
	}
	em.current = emotion
	em.mu.Unlock()

	return out
}

// Current returns the last applied emotion.
func (em *EmotionModulator) Current() string {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.current
}

// History returns a copy of the recorded shifts, oldest first.
func (em *EmotionModulator) History() []EmotionShift {
	em.mu.Lock()
	defer em.mu.Unlock()
	return append([]EmotionShift(nil), em.history...)
}

func clampVoiceRange(v float64) float64 {
	if v < 0.5 {
		return 0.5
	}
	if v > 2 {
		return 2
	}
	return v
}
