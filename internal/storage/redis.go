package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"fablecast/server/internal/config"
	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/models"
)

const sessionKeyPrefix = "fablecast:session:"

// RedisRepository is a durable SessionRepository on Redis. Expiry is
// delegated to Redis key TTLs, so lazy reads and the sweep both come
// for free.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository connects to Redis and verifies it answers.
func NewRedisRepository(cfg config.RedisConfig) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRepository{client: client}, nil
}

// Put implements interfaces.SessionRepository.
func (r *RedisRepository) Put(ctx context.Context, s *models.Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", s.ID, err)
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+s.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session %s: %w", s.ID, err)
	}
	return nil
}

// Get implements interfaces.SessionRepository. Redis drops expired keys
// itself, so a hit is always live.
func (r *RedisRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &s, nil
}

// Delete implements interfaces.SessionRepository.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// List implements interfaces.SessionRepository. The player filter loads
// each candidate row; session counts are small enough that a secondary
// index is not worth its invalidation traffic.
func (r *RedisRepository) List(ctx context.Context, playerID string) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan sessions: %w", err)
		}
		for _, key := range keys {
			id := key[len(sessionKeyPrefix):]
			if playerID != "" {
				s, err := r.Get(ctx, id)
				if errors.Is(err, interfaces.ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, err
				}
				if s.PlayerID != playerID {
					continue
				}
			}
			ids = append(ids, id)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

// DeleteExpired implements interfaces.SessionRepository. Redis evicts
// expired keys on its own, so there is never anything to sweep.
func (r *RedisRepository) DeleteExpired(ctx context.Context) (int, error) {
	return 0, nil
}

// Close releases the connection pool.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
