package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fablecast/server/internal/analytics"
	"fablecast/server/internal/channels"
	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/models"
	"fablecast/server/internal/persona"
	"fablecast/server/internal/registry"
	"fablecast/server/internal/session"
	"fablecast/server/internal/storage"
	"fablecast/server/internal/story"
)

type fakeGen struct {
	mu      sync.Mutex
	text    string
	err     error
	lastReq *ResponseRequest
}

func (g *fakeGen) Respond(ctx context.Context, req *ResponseRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastReq = req
	if g.err != nil {
		return "", g.err
	}
	return g.text, nil
}

func (g *fakeGen) setErr(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

func (g *fakeGen) lastModel() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastReq == nil {
		return ""
	}
	return g.lastReq.Model
}

type fakeChannel struct {
	mu       sync.Mutex
	name     string
	sent     []*interfaces.Message
	started  []string
	ended    []string
	startErr error
	inputs   chan interfaces.PlayerInput
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, inputs: make(chan interfaces.PlayerInput, 4)}
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, msg *interfaces.Message) (*interfaces.Delivery, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return &interfaces.Delivery{Channel: f.name, Success: true, Parts: []string{interfaces.ModalityText}}, nil
}

func (f *fakeChannel) Receive(ctx context.Context) (<-chan interfaces.PlayerInput, error) {
	return f.inputs, nil
}

func (f *fakeChannel) StartSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, sessionID)
	return nil
}

func (f *fakeChannel) EndSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	f.ended = append(f.ended, sessionID)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Capabilities() interfaces.Capabilities {
	return interfaces.Capabilities{Name: f.name, Modalities: []string{interfaces.ModalityText}, SupportsChoices: true}
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChannel) lastSent() *interfaces.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

type fakeIndex struct {
	mu      sync.Mutex
	indexed []*models.Event
	deleted []string
}

func (f *fakeIndex) Index(ctx context.Context, ev *models.Event) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, sessionID, query string, limit int) ([]*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Event, 0)
	for _, ev := range f.indexed {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeIndex) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, sessionID)
	f.mu.Unlock()
	return nil
}

func (f *fakeIndex) lastEvent() *models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.indexed) == 0 {
		return nil
	}
	return f.indexed[len(f.indexed)-1]
}

type testEnv struct {
	engine   *Engine
	store    *session.Store
	registry *registry.Registry
	personas *persona.Manager
	channels *channels.Router
	adapter  *fakeChannel
	gen      *fakeGen
	index    *fakeIndex
	stats    *analytics.Collector
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()

	repo := storage.NewMemoryRepository()
	store := session.NewStore(repo, 30*time.Minute)

	catalog := story.NewCatalog()
	require.NoError(t, catalog.Add(story.SampleStory()))

	personas := persona.NewManager(rand.New(rand.NewSource(7)))

	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(&models.ModelDescriptor{
		ID:           "luna-large",
		Provider:     "luna",
		Capabilities: []string{models.CapText, models.CapCreative},
		Quality:      9,
		Speed:        6,
		Tier:         0,
		CostPerToken: 0.00002,
	}))
	require.NoError(t, reg.Register(&models.ModelDescriptor{
		ID:           "luna-mini",
		Provider:     "luna",
		Capabilities: []string{models.CapText},
		Quality:      5,
		Speed:        9,
		Tier:         0,
		CostPerToken: 0.000004,
	}))

	chRouter := channels.NewRouter(channels.ChannelText)
	adapter := newFakeChannel(channels.ChannelText)
	chRouter.RegisterAdapter(adapter)

	gen := &fakeGen{text: "The keeper considers you for a long moment."}
	idx := &fakeIndex{}
	stats := analytics.NewCollector()

	cfg := Config{
		Store:     store,
		Stories:   catalog,
		Personas:  personas,
		Models:    registry.NewRouter(reg),
		Channels:  chRouter,
		Generator: gen,
		Recall:    idx,
		Analytics: stats,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	eng, err := NewEngine(cfg)
	require.NoError(t, err)

	return &testEnv{
		engine:   eng,
		store:    store,
		registry: reg,
		personas: personas,
		channels: chRouter,
		adapter:  adapter,
		gen:      gen,
		index:    idx,
		stats:    stats,
	}
}

func (env *testEnv) start(t *testing.T) *StartResult {
	t.Helper()
	res, err := env.engine.StartSession(context.Background(), StartRequest{
		StoryID:  "the-last-lighthouse",
		PlayerID: "player-1",
		Channel:  channels.ChannelText,
	})
	require.NoError(t, err)
	return res
}

func (env *testEnv) choose(t *testing.T, sessionID, choiceID string) *Response {
	t.Helper()
	resp, err := env.engine.ProcessInput(context.Background(), interfaces.PlayerInput{
		SessionID: sessionID,
		Kind:      interfaces.InputChoice,
		ChoiceID:  choiceID,
	})
	require.NoError(t, err)
	return resp
}

func choiceIDs(choices []models.Choice) []string {
	ids := make([]string, 0, len(choices))
	for _, c := range choices {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestStartSessionRendersOpening(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	assert.Equal(t, "arrival", res.Session.State.CurrentNode)
	assert.Equal(t, []string{"arrival"}, res.Session.State.Path)
	assert.Equal(t, []string{"knock", "beach"}, choiceIDs(res.Choices))
	assert.Equal(t, []string{"knock", "beach"}, choiceIDs(res.Session.State.PendingChoices))

	// The opening scene has no speaker, so it delivers unvoiced and uncut.
	assert.Equal(t, "arrival", res.Content.NodeID)
	assert.Contains(t, res.Content.Text, "lighthouse stands dark")
	assert.Empty(t, res.Content.Speaker)
	assert.Nil(t, res.Content.Voice)

	require.NotNil(t, res.Delivery)
	assert.True(t, res.Delivery.Success)

	bound, ok := env.channels.Binding(res.Session.ID)
	require.True(t, ok)
	assert.Equal(t, channels.ChannelText, bound)

	require.Equal(t, 1, env.adapter.sentCount())
	msg := env.adapter.lastSent()
	assert.Len(t, msg.Choices, 2)
	assert.Nil(t, msg.Voice)
	assert.False(t, msg.Final)

	snap := env.stats.Snapshot()
	assert.Equal(t, int64(1), snap.SessionsStarted)
	assert.Equal(t, int64(1), snap.SessionsByStory["the-last-lighthouse"])

	// The keeper rides along as a session-local copy with defaults filled.
	keeper := res.Session.Personas["keeper"]
	require.NotNil(t, keeper)
	assert.Equal(t, "Edrin the Keeper", keeper.Name)
	assert.Equal(t, "guide-v1", keeper.Voice.Model)
}

func TestStartSessionUnknownStory(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.StartSession(context.Background(), StartRequest{StoryID: "no-such-story"})
	assert.ErrorIs(t, err, story.ErrStoryNotFound)
}

func TestStartSessionChannelFailureCleansUp(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.startErr = errors.New("socket refused")

	_, err := env.engine.StartSession(context.Background(), StartRequest{
		StoryID:  "the-last-lighthouse",
		PlayerID: "player-1",
		Channel:  channels.ChannelText,
	})
	require.Error(t, err)

	ids, lerr := env.store.List(context.Background(), "player-1")
	require.NoError(t, lerr)
	assert.Empty(t, ids, "a session that never bound a channel must not linger")
}

func TestChoiceAdvancesStory(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	resp := env.choose(t, res.Session.ID, "knock")

	assert.Equal(t, ResponseNode, resp.Type)
	assert.Equal(t, "door", resp.NodeID)
	assert.Equal(t, "keeper", resp.Speaker)
	assert.Equal(t, "somber", resp.Emotion)
	assert.Equal(t, "You are the first set of boots on that stair in nine years. Say what you came to say.", resp.Text)
	assert.Equal(t, []string{"ask-light", "retreat"}, choiceIDs(resp.Choices))
	assert.False(t, resp.Final)

	sess, err := env.store.Get(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"arrival", "door"}, sess.State.Path)
	assert.Equal(t, []string{"ask-light", "retreat"}, choiceIDs(sess.State.PendingChoices))

	// Spoken dialogue carries the speaker's modulated voice.
	msg := env.adapter.lastSent()
	require.NotNil(t, msg.Voice)
	assert.Equal(t, "sovits", msg.Voice.Provider)
	assert.Equal(t, "guide-v1", msg.Voice.Model)

	snap := env.stats.Snapshot()
	assert.Equal(t, int64(1), snap.ChoicesMade)
	assert.Equal(t, int64(1), snap.InputsReceived)
}

func TestChoiceConsequencesApply(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	env.choose(t, res.Session.ID, "knock")
	resp := env.choose(t, res.Session.ID, "ask-light")
	assert.Equal(t, "lamp_room", resp.NodeID)

	sess, err := env.store.Get(context.Background(), res.Session.ID)
	require.NoError(t, err)
	metKeeper, ok := sess.State.Variables["met_keeper"]
	require.True(t, ok)
	assert.True(t, metKeeper.Bool)
	assert.Contains(t, sess.Context.ActiveThreads, "earn the keeper's trust")
}

func TestGatedChoiceStaysHidden(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	// Without met_keeper the climb up the tower is not offered.
	resp := env.choose(t, res.Session.ID, "beach")
	assert.Equal(t, "beach", resp.NodeID)
	assert.Equal(t, []string{"tide"}, choiceIDs(resp.Choices))

	sess, err := env.store.Get(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "tense", sess.State.Tone.Primary)
	assert.InDelta(t, 0.6, sess.State.Tone.Intensity, 1e-9)

	// Picking the hidden choice anyway is refused without moving the story.
	refusal := env.choose(t, res.Session.ID, "climb")
	assert.Equal(t, ResponseChoiceUnavailable, refusal.Type)
	assert.Equal(t, "beach", refusal.NodeID)
	assert.Equal(t, []string{"tide"}, choiceIDs(refusal.Choices))

	sess, err = env.store.Get(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "beach", sess.State.CurrentNode)
}

func TestGatedChoiceOpensWhenConditionHolds(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.engine.StartSession(context.Background(), StartRequest{
		StoryID:   "the-last-lighthouse",
		PlayerID:  "player-1",
		Channel:   channels.ChannelText,
		Variables: map[string]models.Value{"met_keeper": models.BoolValue(true)},
	})
	require.NoError(t, err)

	resp := env.choose(t, res.Session.ID, "beach")
	assert.Equal(t, []string{"climb", "tide"}, choiceIDs(resp.Choices))
}

func TestStaleChoiceReturnsCurrentOffers(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	env.choose(t, res.Session.ID, "knock")

	// The client re-sends an offer from the previous node.
	resp := env.choose(t, res.Session.ID, "knock")
	assert.Equal(t, ResponseChoiceUnavailable, resp.Type)
	assert.Equal(t, "door", resp.NodeID)
	assert.Equal(t, "That choice is no longer available.", resp.Text)
	assert.Equal(t, []string{"ask-light", "retreat"}, choiceIDs(resp.Choices))
}

func TestTerminalNodeEndsStory(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	env.choose(t, res.Session.ID, "knock")
	env.choose(t, res.Session.ID, "ask-light")
	resp := env.choose(t, res.Session.ID, "light")

	assert.Equal(t, ResponseEnding, resp.Type)
	assert.Equal(t, "ending_beacon", resp.NodeID)
	assert.True(t, resp.Final)
	assert.Empty(t, resp.Choices)

	msg := env.adapter.lastSent()
	assert.True(t, msg.Final)
	assert.Equal(t, "hopeful", msg.Emotion)

	sess, err := env.store.Get(context.Background(), res.Session.ID)
	require.NoError(t, err)
	assert.Empty(t, sess.State.PendingChoices)
	assert.Equal(t, "hopeful", sess.State.Tone.Primary)
	assert.Equal(t, 85, sess.Context.PlotProgress)
	assert.True(t, sess.State.Variables["lantern_lit"].Bool)

	// The strike-the-lamp consequence re-voices the keeper for this
	// session only.
	keeper := sess.Personas["keeper"]
	require.NotNil(t, keeper)
	assert.InDelta(t, 0.9, keeper.Voice.Warmth, 1e-9)
	assert.InDelta(t, 1.05, keeper.Voice.Rate, 1e-9)

	global, err := env.personas.GetPersona("keeper")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, global.Voice.Warmth, 1e-9, "the global definition keeps its preset voice")

	snap := env.stats.Snapshot()
	assert.Equal(t, int64(1), snap.SessionsCompleted)
}

func TestFreeTextGeneratesResponse(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	resp, err := env.engine.ProcessInput(context.Background(), interfaces.PlayerInput{
		SessionID: res.Session.ID,
		Kind:      interfaces.InputText,
		Text:      "What sleeps out there in the water?",
	})
	require.NoError(t, err)

	assert.Equal(t, ResponseGenerated, resp.Type)
	assert.Equal(t, "The keeper considers you for a long moment.", resp.Text)
	assert.Equal(t, "arrival", resp.NodeID)
	assert.Equal(t, []string{"knock", "beach"}, choiceIDs(resp.Choices), "free text leaves the offers standing")

	// Dialogue routes to the strongest creative model.
	assert.Equal(t, "luna-large", env.gen.lastModel())
	assert.Equal(t, int64(1), env.registry.Usage("luna-large"))

	snap := env.stats.Snapshot()
	assert.Equal(t, int64(1), snap.GenerationOK)
}

func TestFreeTextFallsBackToNodeContent(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)
	env.gen.setErr(errors.New("model overloaded"))

	resp, err := env.engine.ProcessInput(context.Background(), interfaces.PlayerInput{
		SessionID: res.Session.ID,
		Kind:      interfaces.InputText,
		Text:      "Hello?",
	})
	require.NoError(t, err)

	// Generation failure degrades to the node's static content instead
	// of surfacing an error to the player.
	assert.Equal(t, ResponseNode, resp.Type)
	assert.Contains(t, resp.Text, "lighthouse stands dark")

	health, herr := env.registry.Health("luna-large")
	require.NoError(t, herr)
	assert.False(t, health.Healthy)

	snap := env.stats.Snapshot()
	assert.Equal(t, int64(1), snap.GenerationFailed)

	// The next input fails over to the remaining healthy model.
	env.gen.setErr(nil)
	resp, err = env.engine.ProcessInput(context.Background(), interfaces.PlayerInput{
		SessionID: res.Session.ID,
		Kind:      interfaces.InputText,
		Text:      "Anyone home?",
	})
	require.NoError(t, err)
	assert.Equal(t, ResponseGenerated, resp.Type)
	assert.Equal(t, "luna-mini", env.gen.lastModel())
}

func TestProcessInputUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	_, err := env.engine.ProcessInput(context.Background(), interfaces.PlayerInput{
		SessionID: res.Session.ID,
		Kind:      "gesture",
	})
	assert.ErrorContains(t, err, "unknown input kind")
}

func TestProcessInputRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.ProcessInput(context.Background(), interfaces.PlayerInput{Kind: interfaces.InputText})
	assert.ErrorContains(t, err, "no session id")
}

func TestRenderNodeCachesPersonaVoicedContent(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.personas.AddPersona(story.SampleStory().Personas["keeper"]))

	first, err := env.engine.RenderNode("the-last-lighthouse", "door")
	require.NoError(t, err)
	require.NotNil(t, first.Voice)
	assert.Equal(t, "guide-v1", first.Voice.Model)
	assert.Equal(t, "somber", first.Emotion)

	again, err := env.engine.RenderNode("the-last-lighthouse", "door")
	require.NoError(t, err)
	assert.Equal(t, first.Text, again.Text)

	stats := env.engine.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	// Re-voicing the speaker drops their cached renders, so the next
	// read re-renders with the new voice.
	require.NoError(t, env.personas.UpdateVoice("keeper", models.VoiceProfile{
		Provider: "sovits", Model: "keeper-v2", Pitch: 0.9, Rate: 0.85,
		Warmth: 0.4, Assertiveness: 0.7, Breathiness: 0.2,
	}))
	refreshed, err := env.engine.RenderNode("the-last-lighthouse", "door")
	require.NoError(t, err)
	require.NotNil(t, refreshed.Voice)
	assert.Equal(t, "keeper-v2", refreshed.Voice.Model)
	assert.Equal(t, int64(2), env.engine.CacheStats().Misses)
}

func TestRenderNodeUnknownSpeakerServesRawContent(t *testing.T) {
	env := newTestEnv(t)

	content, err := env.engine.RenderNode("the-last-lighthouse", "door")
	require.NoError(t, err)
	assert.Equal(t, "keeper", content.Speaker)
	assert.Nil(t, content.Voice)
	assert.Contains(t, content.Text, "first set of boots")
}

func TestTensionEventsClampAtBounds(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)
	ctx := context.Background()

	var sess *models.Session
	var err error
	for i := 0; i < 12; i++ {
		sess, err = env.engine.TriggerEvent(ctx, res.Session.ID, EventIncreaseTension, nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, sess.State.Tension, 100)
	}
	assert.Equal(t, 100, sess.State.Tension)

	for i := 0; i < 15; i++ {
		sess, err = env.engine.TriggerEvent(ctx, res.Session.ID, EventDecreaseTension, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sess.State.Tension, 0)
	}
	assert.Equal(t, 0, sess.State.Tension)

	snap := env.stats.Snapshot()
	assert.Equal(t, int64(27), snap.EventsTriggered)
}

func TestSetEmotionEvent(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	sess, err := env.engine.TriggerEvent(context.Background(), res.Session.ID, EventSetEmotion, map[string]models.Value{
		"emotion":   models.StringValue("wonder"),
		"intensity": models.NumberValue(0.4),
	})
	require.NoError(t, err)

	assert.Equal(t, "wonder", sess.State.Tone.Primary)
	assert.InDelta(t, 0.4, sess.State.Tone.Intensity, 1e-9)
	require.NotEmpty(t, sess.State.Tone.Transitions)
	last := sess.State.Tone.Transitions[len(sess.State.Tone.Transitions)-1]
	assert.Equal(t, "neutral", last.From)
	assert.Equal(t, "wonder", last.To)
}

func TestSetVariableEventDefaultsToNull(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	sess, err := env.engine.TriggerEvent(context.Background(), res.Session.ID, EventSetVariable, map[string]models.Value{
		"key": models.StringValue("omen"),
	})
	require.NoError(t, err)

	v, ok := sess.State.Variables["omen"]
	require.True(t, ok)
	assert.Equal(t, models.KindNull, v.Kind)
}

func TestUnlockAchievementEventIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)
	params := map[string]models.Value{"name": models.StringValue("first-light")}

	sess, err := env.engine.TriggerEvent(context.Background(), res.Session.ID, EventUnlockAchievement, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"first-light"}, sess.Metadata.Achievements)

	sess, err = env.engine.TriggerEvent(context.Background(), res.Session.ID, EventUnlockAchievement, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"first-light"}, sess.Metadata.Achievements)
}

func TestTriggerEventRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)
	ctx := context.Background()

	_, err := env.engine.TriggerEvent(ctx, res.Session.ID, "flood_the_cellar", nil)
	assert.ErrorContains(t, err, "unknown event type")

	_, err = env.engine.TriggerEvent(ctx, res.Session.ID, EventSetEmotion, nil)
	assert.ErrorContains(t, err, "needs an emotion param")

	_, err = env.engine.TriggerEvent(ctx, res.Session.ID, EventSetVariable, nil)
	assert.ErrorContains(t, err, "needs a key param")

	_, err = env.engine.TriggerEvent(ctx, res.Session.ID, EventUnlockAchievement, nil)
	assert.ErrorContains(t, err, "needs a name param")

	sess, gerr := env.store.Get(ctx, res.Session.ID)
	require.NoError(t, gerr)
	assert.Equal(t, 0, sess.State.Tension)
	assert.Equal(t, int64(0), env.stats.Snapshot().EventsTriggered)
}

func TestSaveAndLoadGame(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)
	ctx := context.Background()

	env.choose(t, res.Session.ID, "knock")

	sp, err := env.engine.SaveGame(ctx, res.Session.ID, "at the keeper's door")
	require.NoError(t, err)
	assert.Equal(t, "door", sp.NodeID)
	assert.Equal(t, "at the keeper's door", sp.Description)

	// Play past the save, then rewind.
	env.choose(t, res.Session.ID, "ask-light")

	sess, content, err := env.engine.LoadGame(ctx, res.Session.ID, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, "door", sess.State.CurrentNode)
	assert.Equal(t, "door", content.NodeID)
	assert.Equal(t, []string{"ask-light", "retreat"}, choiceIDs(sess.State.PendingChoices))

	_, ok := sess.State.Variables["met_keeper"]
	assert.False(t, ok, "variables written after the save rewind with it")

	snap := env.stats.Snapshot()
	assert.Equal(t, int64(1), snap.SavesCreated)
	assert.Equal(t, int64(1), snap.SavesLoaded)
}

func TestSaveGameHonorsStorySlotCap(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		sp, err := env.engine.SaveGame(ctx, res.Session.ID, "checkpoint")
		require.NoError(t, err)
		ids = append(ids, sp.ID)
	}

	sess, err := env.store.Get(ctx, res.Session.ID)
	require.NoError(t, err)
	require.Len(t, sess.Metadata.SavePoints, 3)

	kept := make([]string, 0, 3)
	for _, sp := range sess.Metadata.SavePoints {
		kept = append(kept, sp.ID)
	}
	assert.Equal(t, ids[1:], kept, "the oldest save drops when the slots fill")
}

func TestEndSessionArchivesAndUnbinds(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, func(cfg *Config) { cfg.ArchiveDir = dir })
	res := env.start(t)
	ctx := context.Background()

	require.NoError(t, env.engine.EndSession(ctx, res.Session.ID))

	data, err := os.ReadFile(filepath.Join(dir, res.Session.ID+".json"))
	require.NoError(t, err)
	var archived models.Session
	require.NoError(t, json.Unmarshal(data, &archived))
	assert.Equal(t, res.Session.ID, archived.ID)
	assert.Equal(t, "the-last-lighthouse", archived.StoryID)

	_, ok := env.channels.Binding(res.Session.ID)
	assert.False(t, ok)
	env.adapter.mu.Lock()
	ended := append([]string(nil), env.adapter.ended...)
	env.adapter.mu.Unlock()
	assert.Contains(t, ended, res.Session.ID)

	env.index.mu.Lock()
	deleted := append([]string(nil), env.index.deleted...)
	env.index.mu.Unlock()
	assert.Contains(t, deleted, res.Session.ID)

	_, err = env.store.Get(ctx, res.Session.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	assert.Equal(t, int64(1), env.stats.Snapshot().SessionsEnded)
}

func TestExportImportRebindsChannel(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)
	ctx := context.Background()

	env.choose(t, res.Session.ID, "knock")
	data, err := env.engine.ExportSession(ctx, res.Session.ID)
	require.NoError(t, err)

	require.NoError(t, env.engine.EndSession(ctx, res.Session.ID))
	_, ok := env.channels.Binding(res.Session.ID)
	require.False(t, ok)

	sess, err := env.engine.ImportSession(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, sess.ID)
	assert.Equal(t, "door", sess.State.CurrentNode)

	bound, ok := env.channels.Binding(sess.ID)
	require.True(t, ok)
	assert.Equal(t, channels.ChannelText, bound)
}

func TestChoiceIsIndexedForRecall(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	env.choose(t, res.Session.ID, "knock")

	require.Eventually(t, func() bool {
		return env.index.lastEvent() != nil
	}, time.Second, 10*time.Millisecond)

	ev := env.index.lastEvent()
	assert.Equal(t, models.EventChoice, ev.Kind)
	assert.Equal(t, "Knock and step inside", ev.Content)
	assert.Equal(t, res.Session.ID, ev.SessionID)
	assert.Equal(t, "door", ev.NodeID)
	assert.Equal(t, "keeper", ev.Speaker)
}

func TestNewEngineRequiresComponents(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.ErrorContains(t, err, "missing a required component")
}
