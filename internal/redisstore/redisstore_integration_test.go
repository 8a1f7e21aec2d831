//go:build integration

package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/paiban/planrules/pkg/fatigue"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestFatigueStore(t *testing.T) {
	rdb := setupRedis(t)
	store := New(rdb, "test:fatigue:")
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	st, err := store.Get(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, st.Score)

	st, err = store.Add(ctx, "u1", 30, now)
	require.NoError(t, err)
	assert.Equal(t, 30.0, st.Score)
	assert.True(t, now.Equal(st.LastUpdated))

	st, err = store.Add(ctx, "u1", -45, now)
	require.NoError(t, err)
	assert.Zero(t, st.Score, "恢复不能使疲劳分为负")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Add(ctx, "u2", 2.5, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err = store.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 125.0, st.Score)

	many, err := store.GetMany(ctx, []string{"u1", "u2", "nobody"})
	require.NoError(t, err)
	assert.Equal(t, 125.0, many["u2"].Score)
	assert.Contains(t, many, "u1")
	assert.NotContains(t, many, "nobody")
}

func TestFatigueStore_WithScorer(t *testing.T) {
	store := New(setupRedis(t), "test:scorer:")
	scorer := fatigue.NewScorer(fatigue.DefaultConfig(), store)
	ctx := context.Background()

	score, err := scorer.UpdateFatigue(ctx, "u1", "garde", false)
	require.NoError(t, err)
	assert.Equal(t, 30.0, score)

	score, err = scorer.UpdateFatigue(ctx, "u1", "weekend", true)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)

	snap := scorer.Snapshot(ctx, []string{"u1", "u9"})
	assert.Equal(t, map[string]float64{"u1": 0, "u9": 0}, snap)
}
