package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rohankatakam/osspulse/internal/config"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/logging"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceKey(t *testing.T) {
	assert.Equal(t, "slice:apache:tech_net:kafka:12", SliceKey("apache", "tech_net", "kafka", 12))
}

// exercise runs the same contract against any Cache.
func exercise(t *testing.T, c Cache) {
	ctx := context.Background()
	slice := &models.MonthSlice{ProjectID: "kafka", ProjectName: "Kafka", Month: 3, Data: []byte(`[["a","b",1]]`)}

	var got models.MonthSlice
	hit, err := c.Get(ctx, SliceKey("apache", "tech_net", "kafka", 3), &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, SliceKey("apache", "tech_net", "kafka", 3), slice))
	require.NoError(t, c.Set(ctx, SliceKey("eclipse", "social_net", "kafka", 4), slice))
	require.NoError(t, c.Set(ctx, SliceKey("apache", "tech_net", "notkafka", 3), slice))

	hit, err = c.Get(ctx, SliceKey("apache", "tech_net", "kafka", 3), &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Kafka", got.ProjectName)
	assert.JSONEq(t, `[["a","b",1]]`, string(got.Data))

	n, err := c.DeletePattern(ctx, ProjectPattern("kafka"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	hit, err = c.Get(ctx, SliceKey("apache", "tech_net", "notkafka", 3), &got)
	require.NoError(t, err)
	assert.True(t, hit)

	n, err = c.DeletePattern(ctx, AllSlices)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemory(time.Minute, logging.Discard())
	defer c.Close()
	exercise(t, c)
}

func TestOpenWithoutRedisIsMemory(t *testing.T) {
	c, err := Open(context.Background(), config.CacheConfig{}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)
}

func TestNewRedisRequiresAddr(t *testing.T) {
	_, err := NewRedis(context.Background(), config.CacheConfig{}, logging.Discard())
	assert.Equal(t, errors.ErrorTypeConfig, errors.GetType(err))
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c, err := NewRedis(context.Background(), config.CacheConfig{RedisAddr: addr, RedisDB: 15, TTL: time.Minute}, logging.Discard())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.DeletePattern(context.Background(), AllSlices)
	require.NoError(t, err)
	exercise(t, c)
}
