package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store remembers keys whose work has already committed. It never claims a
// key up front, so a crash before Remember leaves the key free for a retry.
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl, prefix: "idem:"}
}

// Seen reports whether key was remembered.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remember records key as done for the store's TTL.
func (s *Store) Remember(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, s.prefix+key, "1", s.ttl).Err()
}
