package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	s := NewStore(nil, time.Hour)
	assert.Equal(t, "idem:shipment.dispatched:3:42", s.Key("shipment.dispatched", 3, 42))
	assert.NotEqual(t, s.Key("a", 0, 1), s.Key("a", 1, 0))
	assert.Equal(t, "fulfillment:a:0:1", NewStore(nil, time.Hour, WithPrefix("fulfillment")).Key("a", 0, 1))
}

func TestSeenWrapsRedisErrors(t *testing.T) {
	// Nothing listens on this port, so every command fails fast.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	s := NewStore(rdb, time.Minute)

	_, err := s.Seen(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim k")
	assert.Error(t, s.Release(context.Background(), "k"))
	assert.Error(t, s.Ping(context.Background()))
}
