package redis

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HasheemYodhin/ys/internal/storage"
)

// Нужен живой Redis: TEST_REDIS_URL=redis://localhost:6379/15
func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	cli := redis.NewClient(opts)
	require.NoError(t, cli.Ping(context.Background()).Err())
	t.Cleanup(func() { cli.Close() })
	return NewFromClient(cli)
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	user := "test-user-roundtrip"
	t.Cleanup(func() { c.cli.Del(context.Background(), keyPrefix+user) })

	s := storage.Subscription{Endpoint: "https://push/1", Keys: storage.Keys{P256dh: "p", Auth: "a"}}
	require.NoError(t, c.Add(ctx, user, s))
	require.NoError(t, c.Add(ctx, user, s))

	got, err := c.List(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []storage.Subscription{s}, got)

	ttl, err := c.cli.TTL(ctx, keyPrefix+user).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl.Hours(), 24.0)

	require.NoError(t, c.Remove(ctx, user, s.Endpoint))
	n, err := c.cli.Exists(ctx, keyPrefix+user).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClient_SkipsBrokenEntries(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	user := "test-user-broken"
	t.Cleanup(func() { c.cli.Del(context.Background(), keyPrefix+user) })

	require.NoError(t, c.cli.RPush(ctx, keyPrefix+user, "not json").Err())
	require.NoError(t, c.Add(ctx, user, storage.Subscription{Endpoint: "https://push/2", Keys: storage.Keys{P256dh: "p", Auth: "a"}}))

	got, err := c.List(ctx, user)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://push/2", got[0].Endpoint)
}
