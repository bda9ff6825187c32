package persona

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"fablecast/server/internal/models"
)

// ErrPersonaNotFound is returned for unknown persona ids.
var ErrPersonaNotFound = errors.New("persona not found")

// voicePresets keys role labels to starting voice profiles.
var voicePresets = map[string]models.VoiceProfile{
	"narrator":   {Provider: "sovits", Model: "narrator-v2", Pitch: 1.0, Rate: 0.95, Warmth: 0.6, Assertiveness: 0.55, Breathiness: 0.3},
	"companion":  {Provider: "sovits", Model: "companion-v1", Pitch: 1.05, Rate: 1.0, Warmth: 0.8, Assertiveness: 0.45, Breathiness: 0.35},
	"antagonist": {Provider: "sovits", Model: "antagonist-v1", Pitch: 0.9, Rate: 0.9, Warmth: 0.2, Assertiveness: 0.85, Breathiness: 0.25},
	"guide":      {Provider: "sovits", Model: "guide-v1", Pitch: 1.0, Rate: 0.9, Warmth: 0.7, Assertiveness: 0.6, Breathiness: 0.3},
	"merchant":   {Provider: "sovits", Model: "merchant-v1", Pitch: 1.1, Rate: 1.1, Warmth: 0.65, Assertiveness: 0.7, Breathiness: 0.2},
}

// defaultVoice is the preset for roles without one of their own.
var defaultVoice = models.VoiceProfile{Provider: "sovits", Model: "ensemble-v1", Pitch: 1.0, Rate: 1.0, Warmth: 0.5, Assertiveness: 0.5, Breathiness: 0.3}

// Manager owns persona definitions and renders persona-voiced dialogue.
// Randomness is injected so pattern rolls replay under a fixed seed.
type Manager struct {
	mu         sync.RWMutex
	personas   map[string]*models.Persona
	modulators map[string]*EmotionModulator

	rngMu sync.Mutex
	rng   *rand.Rand

	onUpdate func(personaID string)
}

// DialogueResult is persona-voiced text plus the voice to speak it with.
type DialogueResult struct {
	Text      string
	Voice     models.VoiceProfile
	Emotion   string
	Intensity float64
}

// NewManager creates a persona manager using the given random source.
func NewManager(rng *rand.Rand) *Manager {
	return &Manager{
		personas:   make(map[string]*models.Persona),
		modulators: make(map[string]*EmotionModulator),
		rng:        rng,
	}
}

// SetUpdateHook registers a callback fired after a persona changes.
// The render cache hooks in here to drop stale entries.
func (m *Manager) SetUpdateHook(fn func(personaID string)) {
	m.mu.Lock()
	m.onUpdate = fn
	m.mu.Unlock()
}

// CreatePersona builds a persona from a template, filling gaps with
// neutral defaults: 0.5 on unset personality axes, a neutral emotional
// range and a role-keyed voice preset. A nil template starts from the
// defaults alone.
func (m *Manager) CreatePersona(id string, template *models.Persona) (*models.Persona, error) {
	if id == "" {
		return nil, fmt.Errorf("create persona: id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.personas[id]; exists {
		return nil, fmt.Errorf("persona %s already exists", id)
	}

	p := template.Clone()
	if p == nil {
		p = &models.Persona{}
	}
	p.ID = id
	if p.Name == "" {
		p.Name = id
	}
	applyPersonaDefaults(p)

	m.personas[id] = p
	return p.Clone(), nil
}

// AddPersona upserts a persona definition, defaults applied.
func (m *Manager) AddPersona(p *models.Persona) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("add persona: definition with an id is required")
	}
	stored := p.Clone()
	applyPersonaDefaults(stored)

	m.mu.Lock()
	m.personas[stored.ID] = stored
	hook := m.onUpdate
	m.mu.Unlock()

	if hook != nil {
		hook(stored.ID)
	}
	return nil
}

// GetPersona returns a copy of the persona.
func (m *Manager) GetPersona(id string) (*models.Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.personas[id]
	if !ok {
		return nil, ErrPersonaNotFound
	}
	return p.Clone(), nil
}

// ListPersonas returns copies of every persona, ordered by id.
func (m *Manager) ListPersonas() []*models.Persona {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.personas))
	for id := range m.personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*models.Persona, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.personas[id].Clone())
	}
	return out
}

// RemovePersona deletes a persona and its modulator.
func (m *Manager) RemovePersona(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.personas[id]; !ok {
		return ErrPersonaNotFound
	}
	delete(m.personas, id)
	delete(m.modulators, id)
	return nil
}

// UpdateVoice replaces the persona's voice profile and fires the
// update hook.
func (m *Manager) UpdateVoice(id string, voice models.VoiceProfile) error {
	m.mu.Lock()
	p, ok := m.personas[id]
	if !ok {
		m.mu.Unlock()
		return ErrPersonaNotFound
	}
	p.Voice = voice
	hook := m.onUpdate
	m.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return nil
}

// SetRelationship records the relation on both personas.
func (m *Manager) SetRelationship(aID, bID, relation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.personas[aID]
	if !ok {
		return fmt.Errorf("set relationship: %w: %s", ErrPersonaNotFound, aID)
	}
	b, ok := m.personas[bID]
	if !ok {
		return fmt.Errorf("set relationship: %w: %s", ErrPersonaNotFound, bID)
	}
	if a.Relationships == nil {
		a.Relationships = make(map[string]string)
	}
	if b.Relationships == nil {
		b.Relationships = make(map[string]string)
	}
	a.Relationships[bID] = relation
	b.Relationships[aID] = relation
	return nil
}

// ClonePersona deep-copies an existing persona under a new id. The copy
// owns its voice profile and diverges from the source from here on.
func (m *Manager) ClonePersona(srcID, newID string) (*models.Persona, error) {
	if newID == "" {
		return nil, fmt.Errorf("clone persona: new id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.personas[srcID]
	if !ok {
		return nil, ErrPersonaNotFound
	}
	if _, exists := m.personas[newID]; exists {
		return nil, fmt.Errorf("persona %s already exists", newID)
	}
	cp := src.Clone()
	cp.ID = newID
	m.personas[newID] = cp
	return cp.Clone(), nil
}

// GenerateDialogue renders text in the persona's voice: the emotion
// modulator shapes the voice profile, then speech patterns and
// personality transforms shape the words, in that order.
func (m *Manager) GenerateDialogue(personaID, text, emotion string, intensity float64) (*DialogueResult, error) {
	m.mu.RLock()
	stored, ok := m.personas[personaID]
	var p *models.Persona
	if ok {
		p = stored.Clone()
	}
	m.mu.RUnlock()
	if !ok {
		return nil, ErrPersonaNotFound
	}

	emotion = permittedEmotion(p, emotion)
	intensity = clamp01(intensity)
	voice := m.modulatorFor(personaID).Apply(p.Voice, emotion, intensity)

	out := m.applyPatterns(p.SpeechPatterns, text)
	out = applyPersonalityTransforms(p.Personality, out)

	return &DialogueResult{
		Text:      out,
		Voice:     voice,
		Emotion:   emotion,
		Intensity: intensity,
	}, nil
}

// ModulateVoice shapes an arbitrary voice instance toward an emotion
// using the persona's modulator. Sessions use this for their local
// persona copies.
func (m *Manager) ModulateVoice(personaID string, voice models.VoiceProfile, emotion string, intensity float64) models.VoiceProfile {
	m.mu.RLock()
	if p, ok := m.personas[personaID]; ok {
		emotion = permittedEmotion(p, emotion)
	}
	m.mu.RUnlock()
	return m.modulatorFor(personaID).Apply(voice, emotion, clamp01(intensity))
}

// EmotionHistory exposes the persona's recorded shifts, newest last.
func (m *Manager) EmotionHistory(personaID string) []EmotionShift {
	return m.modulatorFor(personaID).History()
}

// modulatorFor lazily binds a modulator to the persona id.
func (m *Manager) modulatorFor(personaID string) *EmotionModulator {
	m.mu.Lock()
	defer m.mu.Unlock()

	mod, ok := m.modulators[personaID]
	if !ok {
		mod = NewEmotionModulator(personaID)
		m.modulators[personaID] = mod
	}
	return mod
}

func (m *Manager) applyPatterns(patterns []models.SpeechPattern, text string) string {
	if len(patterns) == 0 {
		return text
	}
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return applySpeechPatterns(m.rng, patterns, text)
}

// permittedEmotion narrows a request to what the persona can express.
func permittedEmotion(p *models.Persona, emotion string) string {
	if emotion == "" {
		return "neutral"
	}
	if len(p.EmotionalRange) == 0 {
		return emotion
	}
	for _, allowed := range p.EmotionalRange {
		if allowed == emotion {
			return emotion
		}
	}
	return "neutral"
}

// applyPersonaDefaults fills unset fields in place. A zero personality
// axis means unset and becomes 0.5.
func applyPersonaDefaults(p *models.Persona) {
	if p.Role == "" {
		p.Role = "narrator"
	}
	if p.Voice.Provider == "" && p.Voice.Model == "" {
		preset, ok := voicePresets[p.Role]
		if !ok {
			preset = defaultVoice
		}
		p.Voice = preset
	}
	if p.Voice.Pitch == 0 {
		p.Voice.Pitch = 1.0
	}
	if p.Voice.Rate == 0 {
		p.Voice.Rate = 1.0
	}
	if p.Personality.Openness == 0 {
		p.Personality.Openness = 0.5
	}
	if p.Personality.Conscientiousness == 0 {
		p.Personality.Conscientiousness = 0.5
	}
	if p.Personality.Extraversion == 0 {
		p.Personality.Extraversion = 0.5
	}
	if p.Personality.Agreeableness == 0 {
		p.Personality.Agreeableness = 0.5
	}
	if p.Personality.Neuroticism == 0 {
		p.Personality.Neuroticism = 0.5
	}
	if len(p.EmotionalRange) == 0 {
		p.EmotionalRange = []string{"neutral"}
	}
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
