package channels

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"fablecast/server/internal/interfaces"
)

// HybridAdapter fans one logical message out to every child adapter in
// parallel. All sends run to completion; a failing child never aborts
// its siblings. Partial failure surfaces as one aggregated error plus a
// delivery naming the failed channels.
type HybridAdapter struct {
	children []interfaces.ChannelAdapter
}

type sendOutcome struct {
	name     string
	delivery *interfaces.Delivery
	err      error
}

// NewHybridAdapter composes child adapters, typically text, voice and
// visual.
func NewHybridAdapter(children ...interfaces.ChannelAdapter) *HybridAdapter {
	return &HybridAdapter{children: children}
}

// Name implements interfaces.ChannelAdapter.
func (h *HybridAdapter) Name() string { return ChannelHybrid }

// Send dispatches to every child in parallel and waits for all of them.
func (h *HybridAdapter) Send(ctx context.Context, msg *interfaces.Message) (*interfaces.Delivery, error) {
	if len(h.children) == 0 {
		return &interfaces.Delivery{Channel: ChannelHybrid, Success: false},
			fmt.Errorf("hybrid adapter has no children")
	}

	outcomes := make([]sendOutcome, len(h.children))
	var g errgroup.Group
	for i, child := range h.children {
		i, child := i, child
		g.Go(func() error {
			delivery, err := child.Send(ctx, msg)
			outcomes[i] = sendOutcome{name: child.Name(), delivery: delivery, err: err}
			return err
		})
	}
	firstErr := g.Wait()

	agg := &interfaces.Delivery{Channel: ChannelHybrid, Success: firstErr == nil}
	var failures []string
	for _, out := range outcomes {
		if out.err != nil {
			agg.Failed = append(agg.Failed, out.name)
			failures = append(failures, fmt.Sprintf("%s: %v", out.name, out.err))
			continue
		}
		if out.delivery != nil {
			agg.Parts = append(agg.Parts, out.delivery.Parts...)
			if out.delivery.AudioURL != "" {
				agg.AudioURL = out.delivery.AudioURL
			}
			if out.delivery.AssetURL != "" {
				agg.AssetURL = out.delivery.AssetURL
			}
		} else {
			agg.Parts = append(agg.Parts, out.name)
		}
	}

	if len(failures) > 0 {
		return agg, fmt.Errorf("some channels failed: %s", strings.Join(failures, "; "))
	}
	return agg, nil
}

// Receive merges every child's input stream into one channel. The
// merge goroutines exit when ctx is done.
func (h *HybridAdapter) Receive(ctx context.Context) (<-chan interfaces.PlayerInput, error) {
	merged := make(chan interfaces.PlayerInput, 256)
	for _, child := range h.children {
		stream, err := child.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s input stream: %w", child.Name(), err)
		}
		go func(in <-chan interfaces.PlayerInput) {
			for {
				select {
				case <-ctx.Done():
					return
				case input, ok := <-in:
					if !ok {
						return
					}
					select {
					case merged <- input:
					case <-ctx.Done():
						return
					}
				}
			}
		}(stream)
	}
	return merged, nil
}

// StartSession starts the session on every child. All children are
// attempted; the first error is returned.
func (h *HybridAdapter) StartSession(ctx context.Context, sessionID string) error {
	var firstErr error
	for _, child := range h.children {
		if err := child.StartSession(ctx, sessionID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to start session on %s: %w", child.Name(), err)
		}
	}
	return firstErr
}

// EndSession ends the session on every child. All children are
// attempted; the first error is returned.
func (h *HybridAdapter) EndSession(ctx context.Context, sessionID string) error {
	var firstErr error
	for _, child := range h.children {
		if err := child.EndSession(ctx, sessionID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to end session on %s: %w", child.Name(), err)
		}
	}
	return firstErr
}

// Capabilities reports the union of the children's capabilities.
func (h *HybridAdapter) Capabilities() interfaces.Capabilities {
	caps := interfaces.Capabilities{Name: ChannelHybrid}
	seen := make(map[string]bool)
	for _, child := range h.children {
		cc := child.Capabilities()
		for _, m := range cc.Modalities {
			if !seen[m] {
				seen[m] = true
				caps.Modalities = append(caps.Modalities, m)
			}
		}
		if cc.SupportsChoices {
			caps.SupportsChoices = true
		}
		if cc.MaxTextLength > 0 && (caps.MaxTextLength == 0 || cc.MaxTextLength < caps.MaxTextLength) {
			caps.MaxTextLength = cc.MaxTextLength
		}
	}
	return caps
}
