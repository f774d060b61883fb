package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisSessions(t *testing.T, ttl time.Duration) (*RedisSessions, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisSessions(rdb, ttl), mr
}

func TestRedisSessionsSaveAndExpire(t *testing.T) {
	store, mr := newRedisSessions(t, time.Hour)
	ctx := context.Background()
	info := SessionInfo{GameID: 3, UserID: 10, Username: "alice", ConnectedAt: time.Now().UTC().Truncate(time.Second)}

	require.NoError(t, store.Save(ctx, "s1", info))
	assert.Equal(t, time.Hour, mr.TTL(sessionKey("s1")))
	assert.Equal(t, time.Hour, mr.TTL(gameKey(3)))

	got, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, info.UserID, got.UserID)
	assert.True(t, info.ConnectedAt.Equal(got.ConnectedAt))

	mr.FastForward(time.Hour + time.Second)
	_, ok, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSessionsOnline(t *testing.T) {
	store, mr := newRedisSessions(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "a1", SessionInfo{GameID: 1, UserID: 10}))
	require.NoError(t, store.Save(ctx, "a2", SessionInfo{GameID: 1, UserID: 10}))
	require.NoError(t, store.Save(ctx, "b1", SessionInfo{GameID: 1, UserID: 20}))
	require.NoError(t, store.Save(ctx, "c1", SessionInfo{GameID: 2, UserID: 30}))

	users, err := store.Online(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{10, 20}, users)

	require.NoError(t, store.Delete(ctx, "b1"))
	users, err = store.Online(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{10}, users)

	// A record that expired without a Delete is pruned from the game set.
	mr.Del(sessionKey("a1"))
	mr.Del(sessionKey("a2"))
	users, err = store.Online(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, users)
	members, _ := mr.Members(gameKey(1))
	assert.Empty(t, members)

	users, err = store.Online(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestMemorySessionsOnline(t *testing.T) {
	store := NewMemorySessions()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "a", SessionInfo{GameID: 1, UserID: 20}))
	require.NoError(t, store.Save(ctx, "b", SessionInfo{GameID: 1, UserID: 10}))
	require.NoError(t, store.Save(ctx, "c", SessionInfo{GameID: 1, UserID: 20}))
	require.NoError(t, store.Save(ctx, "d", SessionInfo{GameID: 2, UserID: 30}))

	users, err := store.Online(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{10, 20}, users)

	require.NoError(t, store.Delete(ctx, "b"))
	_, ok, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}
