package cachenc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"phiguard/pkg/sentinel"
)

const cacheKeyPrefix = "phic:"

// Store persists cache-encrypted blobs in Redis under the same key that
// binds their ciphertext, giving callers a complete encrypt-then-store and
// load-then-decrypt path.
type Store struct {
	client    *redis.Client
	encryptor *Encryptor
}

// NewStore builds a Redis-backed encrypted cache.
func NewStore(client *redis.Client, encryptor *Encryptor) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if encryptor == nil {
		return nil, errors.New("cache encryptor is required")
	}
	return &Store{client: client, encryptor: encryptor}, nil
}

// Put encrypts data bound to cacheKey and stores it with a TTL.
func (s *Store) Put(ctx context.Context, cacheKey string, data any, ttl time.Duration) error {
	blob, err := s.encryptor.EncryptForCache(data, cacheKey)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, cacheKeyPrefix+cacheKey, blob, ttl).Err(); err != nil {
		return fmt.Errorf("store cache blob: %w", err)
	}
	return nil
}

// Get loads and decrypts the blob stored under cacheKey into v. Returns
// sentinel.ErrNotFound when the key is absent or expired.
func (s *Store) Get(ctx context.Context, cacheKey string, v any) error {
	blob, err := s.client.Get(ctx, cacheKeyPrefix+cacheKey).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("cache key %q: %w", cacheKey, sentinel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load cache blob: %w", err)
	}
	return s.encryptor.DecryptFromCache(blob, cacheKey, v)
}

// Delete removes the blob stored under cacheKey.
func (s *Store) Delete(ctx context.Context, cacheKey string) error {
	if err := s.client.Del(ctx, cacheKeyPrefix+cacheKey).Err(); err != nil {
		return fmt.Errorf("delete cache blob: %w", err)
	}
	return nil
}
