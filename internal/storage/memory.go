package storage

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/models"
)

// memoryEntry pairs a stored session with its expiry deadline.
type memoryEntry struct {
	session   *models.Session
	expiresAt time.Time
}

// MemoryRepository is the reference in-process session repository.
// Entries expire lazily on read; DeleteExpired removes the rest in bulk.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry

	now func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Put stores a deep copy of the session and (re)arms its deadline.
// A non-positive ttl stores the session without one.
func (r *MemoryRepository) Put(ctx context.Context, s *models.Session, ttl time.Duration) error {
	entry := &memoryEntry{session: s.Clone()}
	if ttl > 0 {
		entry.expiresAt = r.now().Add(ttl)
	}
	r.mu.Lock()
	r.entries[s.ID] = entry
	r.mu.Unlock()
	return nil
}

// Get returns a deep copy, or interfaces.ErrNotFound when the id is
// missing or past its deadline. Expired entries are removed on read.
func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if r.expiredEntry(entry) {
		r.mu.Lock()
		if current, still := r.entries[id]; still && r.expiredEntry(current) {
			delete(r.entries, id)
		}
		r.mu.Unlock()
		return nil, interfaces.ErrNotFound
	}
	return entry.session.Clone(), nil
}

// Delete removes the session. Deleting a missing id is not an error.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
	return nil
}

// List returns live session ids in stable order, optionally filtered
// by player.
func (r *MemoryRepository) List(ctx context.Context, playerID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id, entry := range r.entries {
		if r.expiredEntry(entry) {
			continue
		}
		if playerID != "" && entry.session.PlayerID != playerID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteExpired removes entries past their deadline, returning the count.
func (r *MemoryRepository) DeleteExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, entry := range r.entries {
		if r.expiredEntry(entry) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many live entries the repository holds.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entry := range r.entries {
		if !r.expiredEntry(entry) {
			n++
		}
	}
	return n
}

func (r *MemoryRepository) expiredEntry(entry *memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !r.now().Before(entry.expiresAt)
}

// RunSweeper deletes expired sessions on a fixed interval until the
// context is cancelled. The embedding application starts it explicitly;
// correctness never depends on it because reads expire lazily.
func RunSweeper(ctx context.Context, repo interfaces.SessionRepository, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteExpired(ctx)
			if err != nil {
				log.Printf("[Storage] sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[Storage] swept %d expired sessions", n)
			}
		}
	}
}
