package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"fablecast/server/internal/analytics"
	"fablecast/server/internal/channels"
	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/models"
	"fablecast/server/internal/persona"
	"fablecast/server/internal/registry"
	"fablecast/server/internal/session"
	"fablecast/server/internal/story"
)

// Response types handed back to callers.
const (
	ResponseNode              = "node"
	ResponseGenerated         = "generated"
	ResponseEnding            = "ending"
	ResponseChoiceUnavailable = "choice_unavailable"
)

const defaultGenerateTimeout = 15 * time.Second

// speakIntensity is the default emotional intensity for node dialogue
// when the story gives none.
const speakIntensity = 0.7

// RoutingOptions is the orchestrator's model-selection posture.
type RoutingOptions struct {
	Priority         string
	PreferUncensored bool
}

// Config wires an Engine. Store, Stories, Personas, Models, Channels
// and Generator are required; the rest are optional.
type Config struct {
	Store     *session.Store
	Stories   *story.Catalog
	Personas  *persona.Manager
	Models    *registry.Router
	Channels  *channels.Router
	Generator ResponseGenerator

	Recall    interfaces.EventIndex
	Analytics *analytics.Collector

	Routing         RoutingOptions
	GenerateTimeout time.Duration
	RenderTTL       time.Duration
	RenderCacheSize int

	// ArchiveDir, when set, receives a JSON export of every session
	// on teardown.
	ArchiveDir string
}

// Engine composes the session store, story catalog, persona manager,
// model router and channel router into the narrative orchestrator.
// All mutations for one session run under that session's mutex.
type Engine struct {
	store     *session.Store
	stories   *story.Catalog
	personas  *persona.Manager
	models    *registry.Router
	channels  *channels.Router
	cache     *RenderCache
	generator ResponseGenerator
	recall    interfaces.EventIndex
	analytics *analytics.Collector

	routing    RoutingOptions
	genTimeout time.Duration
	archiveDir string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// Response is one engine answer to player input.
type Response struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id"`
	NodeID    string               `json:"node_id,omitempty"`
	Speaker   string               `json:"speaker,omitempty"`
	Emotion   string               `json:"emotion,omitempty"`
	Text      string               `json:"text"`
	Choices   []models.Choice      `json:"choices,omitempty"`
	Final     bool                 `json:"final,omitempty"`
	Delivery  *interfaces.Delivery `json:"delivery,omitempty"`
}

// NewEngine builds the orchestrator and hooks persona updates into
// render-cache invalidation.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Stories == nil || cfg.Personas == nil ||
		cfg.Models == nil || cfg.Channels == nil || cfg.Generator == nil {
		return nil, fmt.Errorf("engine config is missing a required component")
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}

	e := &Engine{
		store:      cfg.Store,
		stories:    cfg.Stories,
		personas:   cfg.Personas,
		models:     cfg.Models,
		channels:   cfg.Channels,
		cache:      NewRenderCache(cfg.RenderTTL, cfg.RenderCacheSize),
		generator:  cfg.Generator,
		recall:     cfg.Recall,
		analytics:  cfg.Analytics,
		routing:    cfg.Routing,
		genTimeout: cfg.GenerateTimeout,
		archiveDir: cfg.ArchiveDir,
		locks:      make(map[string]*sync.Mutex),
		now:        time.Now,
	}

	cfg.Personas.SetUpdateHook(func(personaID string) {
		if n := e.cache.InvalidateSpeaker(personaID); n > 0 {
			log.Printf("[Engine] Persona %s changed, dropped %d cached renders", personaID, n)
		}
	})
	return e, nil
}

// StartRequest opens a new session.
type StartRequest struct {
	StoryID   string
	PlayerID  string
	Channel   string
	Variables map[string]models.Value
	Pacing    string
}

// StartResult is a freshly opened session plus its rendered opening.
type StartResult struct {
	Session  *models.Session      `json:"session"`
	Content  *RenderedNode        `json:"content"`
	Choices  []models.Choice      `json:"choices"`
	Delivery *interfaces.Delivery `json:"delivery,omitempty"`
}

// StartSession resolves the story, overlays story personas onto the
// global definitions, creates the session, binds its channel and
// renders the opening node.
func (e *Engine) StartSession(ctx context.Context, req StartRequest) (*StartResult, error) {
	st, err := e.stories.Get(req.StoryID)
	if err != nil {
		return nil, err
	}

	sess, err := e.store.Create(ctx, session.CreateParams{
		StoryID:   st.ID,
		PlayerID:  req.PlayerID,
		Channel:   req.Channel,
		StartNode: st.StartNode,
		Personas:  e.sessionPersonas(st),
		Variables: req.Variables,
		Pacing:    req.Pacing,
	})
	if err != nil {
		return nil, err
	}

	if err := e.channels.StartSession(ctx, sess.ID, req.Channel); err != nil {
		if derr := e.store.Delete(ctx, sess.ID); derr != nil {
			log.Printf("[Engine] Failed to clean up session %s: %v", sess.ID, derr)
		}
		return nil, err
	}

	content, err := e.RenderNode(st.ID, st.StartNode)
	if err != nil {
		return nil, err
	}

	startNode := st.Nodes[st.StartNode]
	visible := e.visibleChoices(sess, st, startNode)
	sess, err = e.store.UpdateState(ctx, sess.ID, session.StateUpdate{PendingChoices: ensureChoices(visible)})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Type:      ResponseNode,
		SessionID: sess.ID,
		NodeID:    content.NodeID,
		Speaker:   content.Speaker,
		Emotion:   content.Emotion,
		Text:      content.Text,
		Choices:   visible,
		Final:     startNode.IsTerminal(),
	}
	delivery := e.deliver(ctx, sess, resp, e.deliveryVoice(sess, content))

	e.analytics.SessionStarted(st.ID)
	log.Printf("[Engine] Session %s started on story %s for player %s", sess.ID, st.ID, req.PlayerID)

	return &StartResult{Session: sess, Content: content, Choices: visible, Delivery: delivery}, nil
}

// ProcessInput advances a session on one player input. Choice input
// resolves against the offered set; text and voice input go through
// the generation path. Calls for the same session never interleave.
func (e *Engine) ProcessInput(ctx context.Context, input interfaces.PlayerInput) (*Response, error) {
	if input.SessionID == "" {
		return nil, fmt.Errorf("input has no session id")
	}
	lock := e.sessionLock(input.SessionID)
	lock.Lock()
	defer lock.Unlock()

	e.analytics.InputReceived()

	switch input.Kind {
	case interfaces.InputChoice:
		return e.processChoice(ctx, input)
	case interfaces.InputText, interfaces.InputVoice:
		return e.processFreeText(ctx, input)
	default:
		return nil, fmt.Errorf("unknown input kind %q", input.Kind)
	}
}

func (e *Engine) processChoice(ctx context.Context, input interfaces.PlayerInput) (*Response, error) {
	sess, chosen, err := e.store.MakeChoice(ctx, input.SessionID, input.ChoiceID)
	if errors.Is(err, session.ErrChoiceNotAvailable) {
		// Stale choice list on the client; answer with the current
		// offers so it can re-sync instead of erroring out.
		current, gerr := e.store.Get(ctx, input.SessionID)
		if gerr != nil {
			return nil, gerr
		}
		return &Response{
			Type:      ResponseChoiceUnavailable,
			SessionID: current.ID,
			NodeID:    current.State.CurrentNode,
			Text:      "That choice is no longer available.",
			Choices:   current.State.PendingChoices,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	st, err := e.stories.Get(sess.StoryID)
	if err != nil {
		return nil, err
	}
	node, err := e.stories.Node(sess.StoryID, sess.State.CurrentNode)
	if err != nil {
		return nil, err
	}

	content, err := e.RenderNode(sess.StoryID, node.ID)
	if err != nil {
		return nil, err
	}

	visible := e.visibleChoices(sess, st, node)
	sess, err = e.store.UpdateState(ctx, sess.ID, session.StateUpdate{PendingChoices: ensureChoices(visible)})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Type:      ResponseNode,
		SessionID: sess.ID,
		NodeID:    node.ID,
		Speaker:   content.Speaker,
		Emotion:   content.Emotion,
		Text:      content.Text,
		Choices:   visible,
		Final:     node.IsTerminal(),
	}
	if node.IsTerminal() {
		resp.Type = ResponseEnding
		e.analytics.SessionCompleted()
	}
	resp.Delivery = e.deliver(ctx, sess, resp, e.deliveryVoice(sess, content))

	e.analytics.ChoiceMade(chosen.ID)
	e.recordEvent(sess, node.ID, models.EventChoice, chosen.Text, content.Speaker)
	return resp, nil
}

func (e *Engine) processFreeText(ctx context.Context, input interfaces.PlayerInput) (*Response, error) {
	sess, err := e.store.Get(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	node, err := e.stories.Node(sess.StoryID, sess.State.CurrentNode)
	if err != nil {
		return nil, err
	}

	text, generated := e.generateResponse(ctx, sess, node, input.Text)

	// Free text advances no node, but it is activity: refresh the
	// session stamps and accrue playtime.
	sess, err = e.store.UpdateState(ctx, sess.ID, session.StateUpdate{})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Type:      ResponseGenerated,
		SessionID: sess.ID,
		NodeID:    node.ID,
		Text:      text,
		Choices:   sess.State.PendingChoices,
	}
	if !generated {
		resp.Type = ResponseNode
		resp.Speaker = node.Speaker
		resp.Emotion = node.Emotion
	}
	resp.Delivery = e.deliver(ctx, sess, resp, nil)

	e.recordEvent(sess, node.ID, models.EventDialogue, input.Text, "")
	return resp, nil
}

// generateResponse runs the pluggable generation strategy under the
// engine's timeout. Any failure, including having no healthy model at
// all, degrades to the node's static content.
func (e *Engine) generateResponse(ctx context.Context, sess *models.Session, node *models.StoryNode, input string) (string, bool) {
	opts := registry.SelectOptions{
		Priority:         e.routing.Priority,
		PreferUncensored: e.routing.PreferUncensored || sess.Context.Preferences.Maturity == "explicit",
	}
	desc, err := e.models.SelectModel(registry.TaskDialogue, opts)
	if err != nil {
		log.Printf("[Engine] No model available for session %s: %v", sess.ID, err)
		e.analytics.GenerationFailed()
		return node.Content, false
	}

	genCtx, cancel := context.WithTimeout(ctx, e.genTimeout)
	defer cancel()

	start := e.now()
	text, err := e.generator.Respond(genCtx, &ResponseRequest{
		Session:  sess,
		Node:     node,
		Input:    input,
		Model:    desc.ID,
		Memories: e.recallMemories(ctx, sess.ID, input),
	})
	if err != nil {
		e.models.ReportFailure(desc.ID)
		e.analytics.GenerationFailed()
		log.Printf("[Engine] Generation failed on %s for session %s: %v", desc.ID, sess.ID, err)
		return node.Content, false
	}

	e.models.ReportSuccess(desc.ID, e.now().Sub(start))
	e.analytics.GenerationSucceeded()
	return text, true
}

// RenderNode returns persona-voiced node content, cached per story and
// node. Cached entries outlive neither the render TTL nor a change to
// the persona that voiced them.
func (e *Engine) RenderNode(storyID, nodeID string) (*RenderedNode, error) {
	if content, ok := e.cache.Get(storyID, nodeID); ok {
		return content, nil
	}

	node, err := e.stories.Node(storyID, nodeID)
	if err != nil {
		return nil, err
	}

	content := &RenderedNode{
		StoryID:    storyID,
		NodeID:     nodeID,
		Text:       node.Content,
		Speaker:    node.Speaker,
		Emotion:    node.Emotion,
		RenderedAt: e.now(),
	}
	if node.Speaker != "" {
		result, derr := e.personas.GenerateDialogue(node.Speaker, node.Content, node.Emotion, speakIntensity)
		if derr != nil {
			log.Printf("[Engine] Speaker %s unavailable for %s/%s, serving raw content: %v", node.Speaker, storyID, nodeID, derr)
		} else {
			content.Text = result.Text
			content.Emotion = result.Emotion
			voice := result.Voice
			content.Voice = &voice
		}
	}

	e.cache.Put(content)
	return content, nil
}

// CacheStats exposes render cache counters.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.Stats()
}

// SaveGame snapshots the session. The story's save-slot cap applies;
// zero means unlimited.
func (e *Engine) SaveGame(ctx context.Context, sessionID, description string) (*models.SavePoint, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	maxSlots := 0
	if st, serr := e.stories.Get(sess.StoryID); serr == nil {
		maxSlots = st.Metadata.SaveSlots
	}

	sp, err := e.store.CreateSavePoint(ctx, sessionID, description, maxSlots)
	if err != nil {
		return nil, err
	}
	e.analytics.SaveCreated()
	return sp, nil
}

// LoadGame restores a save point and re-renders the node it points at.
func (e *Engine) LoadGame(ctx context.Context, sessionID, savePointID string) (*models.Session, *RenderedNode, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.store.LoadSavePoint(ctx, sessionID, savePointID)
	if err != nil {
		return nil, nil, err
	}
	content, err := e.RenderNode(sess.StoryID, sess.State.CurrentNode)
	if err != nil {
		return sess, nil, err
	}
	e.analytics.SaveLoaded()
	return sess, content, nil
}

// GetSession returns the live session, lazy expiry applied.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return e.store.Get(ctx, sessionID)
}

// ListSessions returns live session ids, optionally filtered by player.
func (e *Engine) ListSessions(ctx context.Context, playerID string) ([]string, error) {
	return e.store.List(ctx, playerID)
}

// SwitchChannel moves a session's delivery to another channel. The old
// binding is torn down before the new one takes effect.
func (e *Engine) SwitchChannel(ctx context.Context, sessionID, channel string) error {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.store.Get(ctx, sessionID); err != nil {
		return err
	}
	return e.channels.SwitchChannel(ctx, sessionID, channel)
}

// ExportSession returns the session's JSON snapshot.
func (e *Engine) ExportSession(ctx context.Context, sessionID string) ([]byte, error) {
	return e.store.Export(ctx, sessionID)
}

// ImportSession restores an exported session and re-binds its channel.
func (e *Engine) ImportSession(ctx context.Context, data []byte) (*models.Session, error) {
	sess, err := e.store.Import(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := e.channels.StartSession(ctx, sess.ID, sess.Channel); err != nil {
		log.Printf("[Engine] Imported session %s has no channel binding: %v", sess.ID, err)
	}
	return sess, nil
}

// EndSession archives (when configured), unbinds the channel, clears
// recall state and deletes the session.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if e.archiveDir != "" {
		if data, err := e.store.Export(ctx, sessionID); err == nil {
			e.archiveSession(sessionID, data)
		} else if !errors.Is(err, session.ErrSessionNotFound) {
			log.Printf("[Engine] Failed to export session %s for archive: %v", sessionID, err)
		}
	}

	if err := e.channels.EndSession(ctx, sessionID); err != nil {
		log.Printf("[Engine] Failed to release channel for session %s: %v", sessionID, err)
	}
	if e.recall != nil {
		if err := e.recall.DeleteSession(ctx, sessionID); err != nil {
			log.Printf("[Engine] Failed to clear recall state for session %s: %v", sessionID, err)
		}
	}
	if err := e.store.Delete(ctx, sessionID); err != nil {
		return err
	}

	e.analytics.SessionEnded()
	e.releaseLock(sessionID)
	log.Printf("[Engine] Session %s ended", sessionID)
	return nil
}

func (e *Engine) archiveSession(sessionID string, data []byte) {
	if err := os.MkdirAll(e.archiveDir, 0755); err != nil {
		log.Printf("[Engine] Failed to create archive directory: %v", err)
		return
	}
	path := filepath.Join(e.archiveDir, sessionID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Printf("[Engine] Failed to archive session %s: %v", sessionID, err)
	}
}

// visibleChoices filters a node's choices through the session's state.
// A choice is offered only when its own conditions and its target
// node's conditions all hold.
func (e *Engine) visibleChoices(sess *models.Session, st *models.Story, node *models.StoryNode) []models.Choice {
	if node == nil || len(node.Choices) == 0 {
		return nil
	}
	visible := make([]models.Choice, 0, len(node.Choices))
	for _, choice := range node.Choices {
		if !e.store.EvaluateConditions(sess, choice.Conditions) {
			continue
		}
		if target, ok := st.Nodes[choice.Target]; ok && !e.store.EvaluateConditions(sess, target.Conditions) {
			continue
		}
		visible = append(visible, choice.Clone())
	}
	if len(visible) == 0 {
		return nil
	}
	return visible
}

// sessionPersonas builds the session-local persona set: the global
// definition is the base and the story's definition overrides the
// fields it sets. Story personas unseen by the manager are registered
// globally so node rendering can voice them.
func (e *Engine) sessionPersonas(st *models.Story) map[string]*models.Persona {
	if len(st.Personas) == 0 {
		return nil
	}
	out := make(map[string]*models.Persona, len(st.Personas))
	for id, override := range st.Personas {
		base, err := e.personas.GetPersona(id)
		if err != nil {
			if aerr := e.personas.AddPersona(override); aerr != nil {
				log.Printf("[Engine] Failed to register story persona %s: %v", id, aerr)
				continue
			}
			base, _ = e.personas.GetPersona(id)
		}
		out[id] = overlayPersona(base, override)
	}
	return out
}

// overlayPersona applies the override's set fields on top of the base.
func overlayPersona(base, override *models.Persona) *models.Persona {
	if base == nil {
		return override.Clone()
	}
	merged := base.Clone()
	if override == nil {
		return merged
	}
	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Role != "" {
		merged.Role = override.Role
	}
	if override.Backstory != "" {
		merged.Backstory = override.Backstory
	}
	if override.Voice.Provider != "" || override.Voice.Model != "" {
		merged.Voice = override.Voice
	}
	if len(override.SpeechPatterns) > 0 {
		merged.SpeechPatterns = append([]models.SpeechPattern(nil), override.SpeechPatterns...)
	}
	if len(override.EmotionalRange) > 0 {
		merged.EmotionalRange = append([]string(nil), override.EmotionalRange...)
	}
	if p := override.Personality; p.Openness != 0 || p.Conscientiousness != 0 ||
		p.Extraversion != 0 || p.Agreeableness != 0 || p.Neuroticism != 0 || len(p.Custom) > 0 {
		merged.Personality = p
	}
	for k, v := range override.Relationships {
		if merged.Relationships == nil {
			merged.Relationships = make(map[string]string)
		}
		merged.Relationships[k] = v
	}
	if override.Uncensored {
		merged.Uncensored = true
	}
	return merged
}

// deliveryVoice resolves the voice a message should be spoken with:
// the session-local persona copy wins so voice-change consequences are
// audible, modulated toward the session's current tone.
func (e *Engine) deliveryVoice(sess *models.Session, content *RenderedNode) *models.VoiceProfile {
	if content == nil || content.Speaker == "" {
		return nil
	}
	if local, ok := sess.Personas[content.Speaker]; ok && local != nil {
		voice := e.personas.ModulateVoice(content.Speaker, local.Voice, content.Emotion, sess.State.Tone.Intensity)
		return &voice
	}
	return content.Voice
}

// deliver routes the response through the channel layer. Delivery
// failure never fails the narrative response; it is logged and counted.
func (e *Engine) deliver(ctx context.Context, sess *models.Session, resp *Response, voice *models.VoiceProfile) *interfaces.Delivery {
	msg := &interfaces.Message{
		SessionID: sess.ID,
		NodeID:    resp.NodeID,
		Speaker:   resp.Speaker,
		Emotion:   resp.Emotion,
		Text:      resp.Text,
		Choices:   resp.Choices,
		Voice:     voice,
		Final:     resp.Final,
	}
	delivery, err := e.channels.RouteMessage(ctx, msg, "")
	if err != nil {
		e.analytics.DeliveryFailed()
		log.Printf("[Engine] Delivery failed for session %s: %v", sess.ID, err)
	}
	return delivery
}

// recallMemories pulls past moments related to the input. Recall is
// best-effort: a slow or failing index degrades to an un-enriched
// prompt, never a failed request.
func (e *Engine) recallMemories(ctx context.Context, sessionID, input string) []string {
	if e.recall == nil || input == "" {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	events, err := e.recall.Search(rctx, sessionID, input, 3)
	if err != nil {
		log.Printf("[Engine] Recall lookup failed for session %s: %v", sessionID, err)
		return nil
	}
	memories := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.Content != "" {
			memories = append(memories, ev.Content)
		}
	}
	return memories
}

// recordEvent indexes a session moment for recall without blocking the
// request path.
func (e *Engine) recordEvent(sess *models.Session, nodeID, kind, content, speaker string) {
	if e.recall == nil || content == "" {
		return
	}
	event := &models.Event{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		StoryID:   sess.StoryID,
		NodeID:    nodeID,
		Kind:      kind,
		Content:   content,
		Speaker:   speaker,
		CreatedAt: e.now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.recall.Index(ctx, event); err != nil {
			log.Printf("[Engine] Failed to index event for session %s: %v", event.SessionID, err)
		}
	}()
}

func (e *Engine) sessionLock(id string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

func (e *Engine) releaseLock(id string) {
	e.locksMu.Lock()
	delete(e.locks, id)
	e.locksMu.Unlock()
}

// ensureChoices turns an empty visible set into an explicit clear, so
// stale offers never linger on terminal or gated-out nodes.
func ensureChoices(choices []models.Choice) []models.Choice {
	if choices == nil {
		return []models.Choice{}
	}
	return choices
}
