package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, "sess:")
	ctx := context.Background()

	got, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	s := &Session{ID: "s1", User: &User{ID: "u1", Alias: "hero1"}, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Save(ctx, s))
	assert.True(t, mr.Exists("sess:s1"))
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL("sess:s1").Seconds(), 5)

	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.User)
	assert.Equal(t, "hero1", got.User.Alias)

	mr.FastForward(2 * time.Hour)
	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Save(ctx, s))
	require.NoError(t, store.Delete(ctx, "s1"))
	assert.False(t, mr.Exists("sess:s1"))
}

func TestRedisStoreCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, mr.Set("sess:bad", "{not json"))

	_, err := NewRedisStore(client, "sess:").Get(context.Background(), "bad")
	require.Error(t, err)
}
