package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis starts an in-process redis server with a registry on top.
func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisRegistry) {
	t.Helper()
	server := miniredis.RunT(t)
	reg, err := NewRedisRegistry(RedisConfig{
		Client:      goredis.NewClient(&goredis.Options{Addr: server.Addr()}),
		CloseClient: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return server, reg
}

func redisRegistry(t *testing.T) *RedisRegistry {
	_, reg := newTestRedis(t)
	return reg
}

func TestRedisRegistryNeedsClient(t *testing.T) {
	_, err := NewRedisRegistry(RedisConfig{})
	assert.Error(t, err)
}

func TestRedisRegistryKeys(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:0"})
	defer client.Close()

	reg, err := NewRedisRegistry(RedisConfig{Client: client})
	require.NoError(t, err)
	assert.Equal(t, "atd:stores", reg.namesKey())
	assert.Equal(t, "atd:store:atd-static-v2", reg.storeKey("atd-static-v2"))

	reg, err = NewRedisRegistry(RedisConfig{Client: client, Prefix: "test:"})
	require.NoError(t, err)
	assert.Equal(t, "test:store:x", reg.storeKey("x"))
}

func TestRedisRegistryLayout(t *testing.T) {
	ctx := context.Background()
	server, reg := newTestRedis(t)

	require.NoError(t, reg.PutAll(ctx, "static", []Entry{
		{Key: "GET:http://app/a", Bytes: []byte("a")},
		{Key: "GET:http://app/b", Bytes: []byte("b")},
	}))
	members, err := server.Members("atd:stores")
	require.NoError(t, err)
	assert.Equal(t, []string{"static"}, members)
	fields, err := server.HKeys("atd:store:static")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"GET:http://app/a", "GET:http://app/b"}, fields)

	deleted, err := reg.Delete(ctx, "static")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, server.Exists("atd:store:static"))
	assert.False(t, server.Exists("atd:stores"))
}

func TestRedisRegistryDropsUnreadableEntry(t *testing.T) {
	ctx := context.Background()
	server, reg := newTestRedis(t)

	require.NoError(t, reg.Put(ctx, "static", Entry{Key: "GET:http://app/ok", Bytes: []byte("ok")}))
	server.HSet("atd:store:static", "GET:http://app/bad", "\xc1")

	_, ok, err := reg.Match(ctx, "static", "GET:http://app/bad")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", server.HGet("atd:store:static", "GET:http://app/bad"))

	entry, ok, err := reg.Match(ctx, "static", "GET:http://app/ok")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ok", string(entry.Bytes))
}

func TestRedisRegistryMatchError(t *testing.T) {
	server, reg := newTestRedis(t)

	server.SetError("ERR server unavailable")
	_, _, err := reg.Match(context.Background(), "static", "GET:http://app/")
	assert.Error(t, err)
}
