package database

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/adops-go/internal/config"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	port, err := strconv.Atoi(srv.Port())
	require.NoError(t, err)

	client, err := NewRedisConnection(config.RedisConfig{Host: srv.Host(), Port: port})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client, srv
}

func TestRedisSetGetDelete(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "crossplatform:latest:persona-1", `{"persona_id":"persona-1"}`, time.Minute))

	got, err := client.Get(ctx, "crossplatform:latest:persona-1")
	require.NoError(t, err)
	assert.Equal(t, `{"persona_id":"persona-1"}`, got)

	require.NoError(t, client.Delete(ctx, "crossplatform:latest:persona-1"))
	_, err = client.Get(ctx, "crossplatform:latest:persona-1")
	assert.Error(t, err)
}

func TestRedisGetMissingKey(t *testing.T) {
	client, _ := newTestRedis(t)

	_, err := client.Get(context.Background(), "nope")
	assert.Error(t, err)
}

func TestRedisExpiration(t *testing.T) {
	client, srv := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "ttl-key", "v", time.Minute))
	srv.FastForward(2 * time.Minute)

	_, err := client.Get(ctx, "ttl-key")
	assert.Error(t, err)
}

func TestRedisHealthCheck(t *testing.T) {
	client, srv := newTestRedis(t)

	assert.NoError(t, client.HealthCheck(context.Background()))

	srv.Close()
	assert.Error(t, client.HealthCheck(context.Background()))
}
