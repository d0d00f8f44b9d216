package fx

import (
	"context"
	"os"
	"testing"

	"github.com/jmcleod/bankgate/internal/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set BANKGATE_TEST_REDIS_ADDR to run against a live Redis.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("BANKGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BANKGATE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	store := NewRedisStore(client, "bankgate-test:"+uuid.New()+":")
	pair := Pair{"USD", EUR}

	_, ok, err := store.Get(context.Background(), pair, "2024-03-10")
	require.NoError(t, err)
	assert.False(t, ok)

	r := Rate{Pair: pair, AsOf: "2024-03-08", Value: decimal.RequireFromString("0.9137")}
	require.NoError(t, store.Put(context.Background(), "2024-03-10", r))

	got, ok, err := store.Get(context.Background(), pair, "2024-03-10")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-03-08", got.AsOf)
	assert.True(t, got.Value.Equal(r.Value))

	ttl, err := client.TTL(context.Background(), store.key(pair, "2024-03-10")).Result()
	require.NoError(t, err)
	assert.Less(t, ttl.Seconds(), 0.0, "rates are stored without expiry")
}
