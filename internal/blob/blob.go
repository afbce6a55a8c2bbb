// Package blob stores artifact payloads in Redis under their storage
// reference key. Payloads are small JSON chart specifications; the store
// keeps them with a bounded TTL so history stays readable without unbounded
// growth.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Samrat2803/cognitive-core/config"
)

// ErrNotFound is returned when a storage reference resolves to nothing.
var ErrNotFound = errors.New("blob not found")

// DefaultTTL bounds how long artifact payloads are retained.
const DefaultTTL = 30 * 24 * time.Hour

// Store is the Redis-backed object store.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client, ttl: DefaultTTL}, nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, ttl: DefaultTTL}
}

// Save writes the payload under key with the retention TTL.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save blob %s: %w", key, err)
	}
	return nil
}

// Fetch reads the payload stored under key.
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", key, err)
	}
	return data, nil
}

// Close releases the client.
func (s *Store) Close() error { return s.client.Close() }
