package story

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"fablecast/server/internal/models"
)

// Catalog lookup errors.
var (
	ErrStoryNotFound = errors.New("story not found")
	ErrNodeNotFound  = errors.New("node not found")
)

// Catalog holds loaded story definitions. Stories are treated as
// immutable once added; callers must not mutate what Get returns.
type Catalog struct {
	mu      sync.RWMutex
	stories map[string]*models.Story
}

// Summary is a catalog listing row.
type Summary struct {
	ID       string               `json:"id"`
	Title    string               `json:"title"`
	Metadata models.StoryMetadata `json:"metadata"`
}

// NewCatalog creates an empty story catalog.
func NewCatalog() *Catalog {
	return &Catalog{stories: make(map[string]*models.Story)}
}

// Add validates a story and registers it. A story with an id already in
// the catalog is replaced.
func (c *Catalog) Add(s *models.Story) error {
	if err := Validate(s); err != nil {
		return err
	}
	c.mu.Lock()
	c.stories[s.ID] = s
	c.mu.Unlock()
	return nil
}

// Get returns a story by id.
func (c *Catalog) Get(id string) (*models.Story, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stories[id]
	if !ok {
		return nil, fmt.Errorf("story %s: %w", id, ErrStoryNotFound)
	}
	return s, nil
}

// Node returns one node of a story.
func (c *Catalog) Node(storyID, nodeID string) (*models.StoryNode, error) {
	s, err := c.Get(storyID)
	if err != nil {
		return nil, err
	}
	node, ok := s.Nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("story %s node %s: %w", storyID, nodeID, ErrNodeNotFound)
	}
	return node, nil
}

// List returns catalog summaries ordered by id.
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Summary, 0, len(c.stories))
	for _, s := range c.stories {
		out = append(out, Summary{ID: s.ID, Title: s.Title, Metadata: s.Metadata})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports how many stories are loaded.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stories)
}

// LoadDir loads every *.json story file in dir. Files that fail to
// parse or validate are skipped with a log line so one bad story does
// not block the rest of the catalog.
func (c *Catalog) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read story directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("[StoryCatalog] Failed to read %s: %v", path, err)
			continue
		}
		var s models.Story
		if err := json.Unmarshal(data, &s); err != nil {
			log.Printf("[StoryCatalog] Failed to parse %s: %v", path, err)
			continue
		}
		if err := c.Add(&s); err != nil {
			log.Printf("[StoryCatalog] Rejected %s: %v", path, err)
			continue
		}
		loaded++
	}
	log.Printf("[StoryCatalog] Loaded %d stories from %s", loaded, dir)
	return loaded, nil
}

// Validate checks a story's structural integrity: ids present, the
// start node resolvable, and every choice target pointing at a real
// node. Unknown node types pass with a log line; gameplay treats them
// as scenes.
func Validate(s *models.Story) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("story id is required")
	}
	if len(s.Nodes) == 0 {
		return fmt.Errorf("story %s has no nodes", s.ID)
	}
	if s.StartNode == "" {
		return fmt.Errorf("story %s has no start node", s.ID)
	}
	if _, ok := s.Nodes[s.StartNode]; !ok {
		return fmt.Errorf("story %s start node %s does not exist", s.ID, s.StartNode)
	}

	known := map[string]bool{
		models.NodeScene:    true,
		models.NodeDialogue: true,
		models.NodeChoice:   true,
		models.NodeEvent:    true,
		models.NodeBranch:   true,
	}
	for nodeID, node := range s.Nodes {
		if node == nil {
			return fmt.Errorf("story %s node %s is empty", s.ID, nodeID)
		}
		if node.ID == "" {
			node.ID = nodeID
		}
		if node.Type != "" && !known[node.Type] {
			log.Printf("[StoryCatalog] Story %s node %s has unknown type %q, treating as scene", s.ID, nodeID, node.Type)
		}
		for _, choice := range node.Choices {
			if choice.Target == "" {
				return fmt.Errorf("story %s node %s choice %s has no target", s.ID, nodeID, choice.ID)
			}
			if _, ok := s.Nodes[choice.Target]; !ok {
				return fmt.Errorf("story %s node %s choice %s targets missing node %s", s.ID, nodeID, choice.ID, choice.Target)
			}
		}
		if node.Speaker != "" {
			if _, ok := s.Personas[node.Speaker]; !ok {
				log.Printf("[StoryCatalog] Story %s node %s speaker %q has no story persona, global personas apply", s.ID, nodeID, node.Speaker)
			}
		}
	}
	return nil
}
