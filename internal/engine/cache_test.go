package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cacheClock struct{ t time.Time }

func (c *cacheClock) Now() time.Time          { return c.t }
func (c *cacheClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(ttl time.Duration, size int) (*RenderCache, *cacheClock) {
	clock := &cacheClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	c := NewRenderCache(ttl, size)
	c.now = clock.Now
	return c, clock
}

func TestRenderCacheServesWithinTTL(t *testing.T) {
	c, clock := newTestCache(5*time.Minute, 8)

	c.Put(&RenderedNode{StoryID: "s", NodeID: "n1", Text: "first render", RenderedAt: clock.Now()})

	// Inside the window the same content comes back even though time
	// has moved on.
	clock.Advance(4*time.Minute + 59*time.Second)
	got, ok := c.Get("s", "n1")
	require.True(t, ok)
	assert.Equal(t, "first render", got.Text)

	// Past the window the entry is gone.
	clock.Advance(2 * time.Second)
	_, ok = c.Get("s", "n1")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestRenderCacheInvalidateSpeaker(t *testing.T) {
	c, _ := newTestCache(5*time.Minute, 8)

	c.Put(&RenderedNode{StoryID: "s", NodeID: "n1", Speaker: "keeper", Text: "a"})
	c.Put(&RenderedNode{StoryID: "s", NodeID: "n2", Speaker: "keeper", Text: "b"})
	c.Put(&RenderedNode{StoryID: "s", NodeID: "n3", Speaker: "mira", Text: "c"})
	c.Put(&RenderedNode{StoryID: "s", NodeID: "n4", Text: "narration"})

	dropped := c.InvalidateSpeaker("keeper")
	assert.Equal(t, 2, dropped)

	_, ok := c.Get("s", "n1")
	assert.False(t, ok)
	_, ok = c.Get("s", "n3")
	assert.True(t, ok, "other speakers keep their renders")
	_, ok = c.Get("s", "n4")
	assert.True(t, ok, "unvoiced renders keep their entries")
}

func TestRenderCacheInvalidateNode(t *testing.T) {
	c, _ := newTestCache(5*time.Minute, 8)
	c.Put(&RenderedNode{StoryID: "s", NodeID: "n1", Text: "a"})

	c.InvalidateNode("s", "n1")
	_, ok := c.Get("s", "n1")
	assert.False(t, ok)
}

func TestRenderCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, clock := newTestCache(time.Hour, 2)

	c.Put(&RenderedNode{StoryID: "s", NodeID: "n1", Text: "a"})
	clock.Advance(time.Second)
	c.Put(&RenderedNode{StoryID: "s", NodeID: "n2", Text: "b"})
	clock.Advance(time.Second)

	// Touch n1 so n2 becomes the eviction candidate.
	_, ok := c.Get("s", "n1")
	require.True(t, ok)
	clock.Advance(time.Second)

	c.Put(&RenderedNode{StoryID: "s", NodeID: "n3", Text: "c"})

	_, ok = c.Get("s", "n1")
	assert.True(t, ok)
	_, ok = c.Get("s", "n2")
	assert.False(t, ok, "least recently used entry is evicted")
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestRenderCacheClearKeepsCounters(t *testing.T) {
	c, _ := newTestCache(time.Hour, 8)
	c.Put(&RenderedNode{StoryID: "s", NodeID: "n1", Text: "a"})
	_, _ = c.Get("s", "n1")

	c.Clear()
	stats := c.Stats()
	assert.Equal(t, 0, stats.TotalEntries)
	assert.Equal(t, int64(1), stats.Hits)
}
