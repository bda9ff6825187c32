package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/models"
)

func testSession(id, player string) *models.Session {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Session{
		ID:       id,
		PlayerID: player,
		StoryID:  "midnight-caravan",
		Channel:  "text",
		State: models.SessionState{
			CurrentNode:  "intro",
			Path:         []string{"intro"},
			Variables:    map[string]models.Value{"gold": models.NumberValue(3)},
			LastActionAt: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryRepositoryCopiesOnReadAndWrite(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	sess := testSession("s1", "p1")
	require.NoError(t, repo.Put(ctx, sess, 0))

	sess.State.CurrentNode = "mutated-after-put"
	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "intro", got.State.CurrentNode, "writes after Put must not reach the stored copy")

	got.State.Variables["gold"] = models.NumberValue(999)
	again, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, again.State.Variables["gold"].Equal(models.NumberValue(3)), "reads hand out copies")
}

func TestMemoryRepositoryExpiry(t *testing.T) {
	repo := NewMemoryRepository()
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testSession("s1", "p1"), time.Hour))

	clock = clock.Add(59 * time.Minute)
	_, err := repo.Get(ctx, "s1")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	_, err = repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "deadline passed")
	assert.Equal(t, 0, repo.Len(), "expired entry removed on read")
}

func TestMemoryRepositoryDeleteExpired(t *testing.T) {
	repo := NewMemoryRepository()
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testSession("s1", "p1"), time.Hour))
	require.NoError(t, repo.Put(ctx, testSession("s2", "p1"), 3*time.Hour))
	require.NoError(t, repo.Put(ctx, testSession("s3", "p2"), 0))

	clock = clock.Add(2 * time.Hour)
	removed, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ids, err := repo.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s3"}, ids, "unexpired and no-ttl entries survive")
}

func TestMemoryRepositoryListFiltersByPlayer(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testSession("s2", "p1"), 0))
	require.NoError(t, repo.Put(ctx, testSession("s1", "p1"), 0))
	require.NoError(t, repo.Put(ctx, testSession("s3", "p2"), 0))

	ids, err := repo.List(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids, "sorted and filtered")
}

func TestMemoryRepositoryDeleteMissing(t *testing.T) {
	repo := NewMemoryRepository()
	assert.NoError(t, repo.Delete(context.Background(), "never-existed"))
}
