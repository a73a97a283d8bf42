package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayGuard_FirstSeen(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	guard := NewReplayGuard(client)
	ctx := context.Background()

	first, err := guard.FirstSeen(ctx, "identity", "evt_1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, first, "new event should be first seen")

	again, err := guard.FirstSeen(ctx, "identity", "evt_1", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, again, "replayed event should not be first seen")
}

func TestReplayGuard_ScopesAreIndependent(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	guard := NewReplayGuard(client)
	ctx := context.Background()

	ok, err := guard.FirstSeen(ctx, "identity", "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.FirstSeen(ctx, "payments", "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplayGuard_Expiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	guard := NewReplayGuard(client)
	ctx := context.Background()

	_, err := guard.FirstSeen(ctx, "identity", "evt_2", time.Minute)
	require.NoError(t, err)

	s.FastForward(2 * time.Minute)

	ok, err := guard.FirstSeen(ctx, "identity", "evt_2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired marker should allow the id again")
}

func TestReplayGuard_Forget(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	guard := NewReplayGuard(client)
	ctx := context.Background()

	first, err := guard.FirstSeen(ctx, "identity", "evt_9", time.Hour)
	require.NoError(t, err)
	require.True(t, first)

	require.NoError(t, guard.Forget(ctx, "identity", "evt_9"))
	assert.False(t, s.Exists("ledger:seen:identity:evt_9"))

	again, err := guard.FirstSeen(ctx, "identity", "evt_9", time.Hour)
	require.NoError(t, err)
	assert.True(t, again, "forgotten event is new again")
}
