package engine

import (
	"sync"
	"time"

	"fablecast/server/internal/models"
)

const (
	// DefaultRenderTTL bounds how long rendered node content stays
	// servable, independent of any session TTL.
	DefaultRenderTTL = 5 * time.Minute

	defaultRenderCacheSize = 1024
)

// RenderedNode is persona-voiced node content ready for delivery.
type RenderedNode struct {
	StoryID    string               `json:"story_id"`
	NodeID     string               `json:"node_id"`
	Text       string               `json:"text"`
	Speaker    string               `json:"speaker,omitempty"`
	Emotion    string               `json:"emotion,omitempty"`
	Voice      *models.VoiceProfile `json:"voice,omitempty"`
	RenderedAt time.Time            `json:"rendered_at"`
}

type renderEntry struct {
	content      *RenderedNode
	speaker      string
	createdAt    time.Time
	lastAccessed time.Time
}

// CacheStats reports render cache performance.
type CacheStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	TotalEntries int     `json:"total_entries"`
	Evictions    int64   `json:"evictions"`
}

// RenderCache memoizes rendered node content keyed by story and node.
// Entries expire after a fixed TTL and are dropped eagerly when the
// persona that voiced them changes.
type RenderCache struct {
	mu         sync.Mutex
	entries    map[string]*renderEntry
	ttl        time.Duration
	maxEntries int
	stats      CacheStats
	now        func() time.Time
}

// NewRenderCache creates a render cache. Non-positive ttl or size fall
// back to the defaults.
func NewRenderCache(ttl time.Duration, maxEntries int) *RenderCache {
	if ttl <= 0 {
		ttl = DefaultRenderTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultRenderCacheSize
	}
	return &RenderCache{
		entries:    make(map[string]*renderEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func renderKey(storyID, nodeID string) string {
	return storyID + ":" + nodeID
}

// Get returns cached content if present and fresh.
func (c *RenderCache) Get(storyID, nodeID string) (*RenderedNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := renderKey(storyID, nodeID)
	entry, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		c.updateHitRate()
		return nil, false
	}

	now := c.now()
	if now.Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.stats.Misses++
		c.updateHitRate()
		return nil, false
	}

	entry.lastAccessed = now
	c.stats.Hits++
	c.updateHitRate()
	return entry.content, true
}

// Put stores rendered content, evicting the least recently used entry
// when the cache is full.
func (c *RenderCache) Put(content *RenderedNode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[renderKey(content.StoryID, content.NodeID)] = &renderEntry{
		content:      content,
		speaker:      content.Speaker,
		createdAt:    now,
		lastAccessed: now,
	}

	for len(c.entries) > c.maxEntries {
		c.evictOldest()
	}
}

// InvalidateSpeaker drops every entry voiced by the given persona and
// returns how many were dropped.
func (c *RenderCache) InvalidateSpeaker(personaID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, entry := range c.entries {
		if entry.speaker == personaID {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

// InvalidateNode drops one node's cached render.
func (c *RenderCache) InvalidateNode(storyID, nodeID string) {
	c.mu.Lock()
	delete(c.entries, renderKey(storyID, nodeID))
	c.mu.Unlock()
}

// Clear empties the cache, keeping hit counters.
func (c *RenderCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*renderEntry)
	c.mu.Unlock()
}

// Stats returns a copy of the cache counters.
func (c *RenderCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.TotalEntries = len(c.entries)
	return stats
}

func (c *RenderCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range c.entries {
		if oldestTime.IsZero() || entry.lastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccessed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}

func (c *RenderCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}
