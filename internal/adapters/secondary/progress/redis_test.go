package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataset-export-service/internal/core/domain"
)

func newRedisTracker(t *testing.T, ttl time.Duration) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTracker(client, ttl), mr
}

func TestRedisTracker_SetGet(t *testing.T) {
	tr, mr := newRedisTracker(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, tr.Set(ctx, "task-1", 100, "archive complete"))

	p, err := tr.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Progress{Percentage: 100, Status: "archive complete", IsComplete: true}, *p)

	raw, err := mr.Get("export:progress:task-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"percentage":100,"status":"archive complete","isComplete":true}`, raw)
	assert.Equal(t, time.Hour, mr.TTL("export:progress:task-1"))
}

func TestRedisTracker_Expires(t *testing.T) {
	tr, mr := newRedisTracker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, tr.Set(ctx, "task", 10, "x"))
	mr.FastForward(2 * time.Minute)

	_, err := tr.Get(ctx, "task")
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)
}

func TestRedisTracker_Errors(t *testing.T) {
	tr, mr := newRedisTracker(t, time.Minute)
	ctx := context.Background()

	_, err := tr.Get(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidProgressKey)

	require.NoError(t, mr.Set("export:progress:bad", "not json"))
	_, err = tr.Get(ctx, "bad")
	assert.ErrorContains(t, err, "decode progress")

	mr.Close()
	assert.Error(t, tr.Set(ctx, "task", 1, "x"))
}
