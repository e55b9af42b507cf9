package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/clinical-risk-backend/internal/cache"
)

// openTestCache connects to REDIS_URL. Skips when the variable is unset so
// the suite passes without a Redis instance.
func openTestCache(t *testing.T) *cache.Redis {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping cache integration tests")
	}
	c, err := cache.Open(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedis_MissIsNotAnError(t *testing.T) {
	c := openTestCache(t)

	v, ok, err := c.Get(context.Background(), "test:missing:"+uuid.NewString())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestRedis_SetThenGet(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	key := "test:roundtrip:" + uuid.NewString()

	require.NoError(t, c.Set(ctx, key, []byte(`{"riskScore":42}`), time.Minute))

	v, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"riskScore":42}`, string(v))
}

func TestRedis_Expires(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	key := "test:ttl:" + uuid.NewString()

	require.NoError(t, c.Set(ctx, key, []byte("x"), 50*time.Millisecond))
	assert.Eventually(t, func() bool {
		_, ok, err := c.Get(ctx, key)
		return err == nil && !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestOpen_BadURL(t *testing.T) {
	_, err := cache.Open(context.Background(), "not-a-redis-url")
	assert.Error(t, err)
}

func TestRedis_PingReachable(t *testing.T) {
	c := openTestCache(t)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestRedis_PingUnreachableFails(t *testing.T) {
	// Nothing listens on port 1, so the dial is refused straight away.
	c := cache.New(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	}))
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Ping(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache: ping")
}
