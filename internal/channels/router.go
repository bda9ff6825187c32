package channels

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"fablecast/server/internal/interfaces"
)

// Channel names the router and adapters agree on.
const (
	ChannelText   = "text"
	ChannelVoice  = "voice"
	ChannelVisual = "visual"
	ChannelHybrid = "hybrid"
)

// ErrNoAdapter is returned when a message resolves to a channel with no
// registered adapter.
var ErrNoAdapter = errors.New("no adapter for channel")

// Router dispatches engine messages to channel adapters. Session-channel
// bindings live here, not on the session, so a session is never active
// on two adapters at once.
type Router struct {
	mu             sync.RWMutex
	adapters       map[string]interfaces.ChannelAdapter
	bindings       map[string]string
	defaultChannel string
}

// NewRouter creates a router that falls back to defaultChannel when a
// message names no channel and its session has no binding.
func NewRouter(defaultChannel string) *Router {
	if defaultChannel == "" {
		defaultChannel = ChannelText
	}
	return &Router{
		adapters:       make(map[string]interfaces.ChannelAdapter),
		bindings:       make(map[string]string),
		defaultChannel: defaultChannel,
	}
}

// RegisterAdapter makes an adapter routable under its own name.
func (r *Router) RegisterAdapter(a interfaces.ChannelAdapter) {
	r.mu.Lock()
	r.adapters[a.Name()] = a
	r.mu.Unlock()
	log.Printf("[ChannelRouter] Registered adapter: %s", a.Name())
}

// Adapter looks up a registered adapter by name.
func (r *Router) Adapter(name string) (interfaces.ChannelAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// DefaultChannel returns the configured fallback channel.
func (r *Router) DefaultChannel() string {
	return r.defaultChannel
}

// Binding returns the channel a session is bound to, if any.
func (r *Router) Binding(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.bindings[sessionID]
	return ch, ok
}

// StartSession prepares the adapter for a session and binds the session
// to that channel. An empty channel binds to the default.
func (r *Router) StartSession(ctx context.Context, sessionID, channel string) error {
	if channel == "" {
		channel = r.defaultChannel
	}
	adapter, ok := r.Adapter(channel)
	if !ok {
		return fmt.Errorf("start session %s: %w: %s", sessionID, ErrNoAdapter, channel)
	}
	if err := adapter.StartSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to start session on %s: %w", channel, err)
	}

	r.mu.Lock()
	r.bindings[sessionID] = channel
	r.mu.Unlock()
	return nil
}

// EndSession clears the session's binding and releases adapter state.
// A session with no binding is a no-op.
func (r *Router) EndSession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	channel, ok := r.bindings[sessionID]
	delete(r.bindings, sessionID)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	adapter, found := r.Adapter(channel)
	if !found {
		return nil
	}
	if err := adapter.EndSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to end session on %s: %w", channel, err)
	}
	return nil
}

// SwitchChannel moves a session to a new channel. The old binding is
// torn down before the new one is established.
func (r *Router) SwitchChannel(ctx context.Context, sessionID, newChannel string) error {
	if _, ok := r.Adapter(newChannel); !ok {
		return fmt.Errorf("switch session %s: %w: %s", sessionID, ErrNoAdapter, newChannel)
	}

	if err := r.EndSession(ctx, sessionID); err != nil {
		log.Printf("[ChannelRouter] Teardown before switch failed for %s: %v", sessionID, err)
	}
	return r.StartSession(ctx, sessionID, newChannel)
}

// RouteMessage resolves the target channel (explicit preference, then the
// session's binding, then the default) and dispatches. A resolved channel
// with no adapter yields a failed delivery and ErrNoAdapter, never a
// panic.
func (r *Router) RouteMessage(ctx context.Context, msg *interfaces.Message, preferred string) (*interfaces.Delivery, error) {
	channel := r.resolve(msg.SessionID, preferred)

	adapter, ok := r.Adapter(channel)
	if !ok {
		return &interfaces.Delivery{Channel: channel, Success: false},
			fmt.Errorf("route message for session %s: %w: %s", msg.SessionID, ErrNoAdapter, channel)
	}

	delivery, err := adapter.Send(ctx, msg)
	if delivery == nil {
		delivery = &interfaces.Delivery{Channel: channel, Success: err == nil}
	}
	return delivery, err
}

func (r *Router) resolve(sessionID, preferred string) string {
	if preferred != "" {
		return preferred
	}
	if bound, ok := r.Binding(sessionID); ok {
		return bound
	}
	return r.defaultChannel
}
