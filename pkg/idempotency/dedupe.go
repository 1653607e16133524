// Package idempotency records which Kafka deliveries a consumer has already
// handled, so a redelivered message is acknowledged without side effects.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "idem"

// Store keeps one Redis key per handled delivery. Claims expire after ttl,
// which must outlive the broker's redelivery window.
type Store struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

type Option func(*Store)

// WithPrefix namespaces keys, e.g. per consumer group.
func WithPrefix(prefix string) Option { return func(s *Store) { s.prefix = prefix } }

func NewStore(rdb redis.Cmdable, ttl time.Duration, opts ...Option) *Store {
	s := &Store{rdb: rdb, ttl: ttl, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key identifies one delivery by its position in the log.
func (s *Store) Key(topic string, partition int, offset int64) string {
	return key(s.prefix, topic, partition, offset)
}

func key(prefix, topic string, partition int, offset int64) string {
	return fmt.Sprintf("%s:%s:%d:%d", prefix, topic, partition, offset)
}

// Seen claims key and reports whether an earlier delivery already held it.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	claimed, err := s.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return !claimed, nil
}

// Release drops a claim so the next delivery of the message is handled again.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
