package story

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fablecast/server/internal/models"
)

func TestSampleStoryValidates(t *testing.T) {
	s := SampleStory()
	require.NoError(t, Validate(s))

	// Every declared ending is reachable and terminal.
	assert.True(t, s.Nodes["ending_beacon"].IsTerminal())
	assert.True(t, s.Nodes["ending_tide"].IsTerminal())
	assert.True(t, s.Nodes["ending_dark"].IsTerminal())
	assert.False(t, s.Nodes["arrival"].IsTerminal())
}

func TestCatalogAddGetNode(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Add(SampleStory()))

	s, err := c.Get("the-last-lighthouse")
	require.NoError(t, err)
	assert.Equal(t, "arrival", s.StartNode)

	node, err := c.Node("the-last-lighthouse", "door")
	require.NoError(t, err)
	assert.Equal(t, "keeper", node.Speaker)

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, ErrStoryNotFound)

	_, err = c.Node("the-last-lighthouse", "nope")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestValidateRejectsBrokenStories(t *testing.T) {
	err := Validate(&models.Story{ID: "x", StartNode: "missing", Nodes: map[string]*models.StoryNode{
		"a": {ID: "a", Content: "..."},
	}})
	assert.ErrorContains(t, err, "start node")

	err = Validate(&models.Story{ID: "x", StartNode: "a", Nodes: map[string]*models.StoryNode{
		"a": {ID: "a", Choices: []models.Choice{{ID: "c", Text: "go", Target: "ghost"}}},
	}})
	assert.ErrorContains(t, err, "targets missing node")

	err = Validate(&models.Story{ID: "", Nodes: map[string]*models.StoryNode{"a": {}}})
	assert.ErrorContains(t, err, "id is required")
}

func TestValidateFillsNodeIDs(t *testing.T) {
	s := &models.Story{
		ID:        "x",
		StartNode: "a",
		Nodes:     map[string]*models.StoryNode{"a": {Content: "..."}},
	}
	require.NoError(t, Validate(s))
	assert.Equal(t, "a", s.Nodes["a"].ID)
}

func TestLoadDirSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()

	good, err := json.Marshal(SampleStory())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.json"), good, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644))

	c := NewCatalog()
	loaded, err := c.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 1, c.Len())
}

func TestListOrdered(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Add(&models.Story{ID: "zeta", Title: "Z", StartNode: "a", Nodes: map[string]*models.StoryNode{"a": {Content: "."}}}))
	require.NoError(t, c.Add(&models.Story{ID: "alpha", Title: "A", StartNode: "a", Nodes: map[string]*models.StoryNode{"a": {Content: "."}}}))

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "zeta", list[1].ID)
}
