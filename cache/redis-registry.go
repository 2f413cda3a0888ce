package cache

import (
	"context"
	"sort"
	"time"

	"github.com/jmgilman/go/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisRegistry is a Registry kept in Redis.
// Store names live in a set, each store is a hash of key -> msgpack envelope.
type RedisRegistry struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

var _ Registry = (*RedisRegistry)(nil)

type RedisConfig struct {
	Client goredis.UniversalClient
	// Prefix for all keys written by the registry, defaults to "atd:".
	Prefix string
	// Set true only if the registry exclusively owns the client.
	CloseClient bool
}

// redisEnvelope is the msgpack encoded value of a hash field.
type redisEnvelope struct {
	StoredAt int64  `msgpack:"t"`
	Bytes    []byte `msgpack:"b"`
}

func NewRedisRegistry(cfg RedisConfig) (*RedisRegistry, error) {
	if cfg.Client == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "redis registry: nil client")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "atd:"
	}
	return &RedisRegistry{rdb: cfg.Client, prefix: cfg.Prefix, closeClient: cfg.CloseClient}, nil
}

func (r *RedisRegistry) namesKey() string {
	return r.prefix + "stores"
}

func (r *RedisRegistry) storeKey(store string) string {
	return r.prefix + "store:" + store
}

func (r *RedisRegistry) Open(ctx context.Context, store string) error {
	return wrapRedis(r.rdb.SAdd(ctx, r.namesKey(), store).Err())
}

func (r *RedisRegistry) Names(ctx context.Context) ([]string, error) {
	names, err := r.rdb.SMembers(ctx, r.namesKey()).Result()
	if err != nil {
		return nil, wrapRedis(err)
	}
	sort.Strings(names)
	return names, nil
}

func (r *RedisRegistry) Match(ctx context.Context, store, key string) (Entry, bool, error) {
	b, err := r.rdb.HGet(ctx, r.storeKey(store), key).Bytes()
	if err == goredis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, wrapRedis(err)
	}
	var env redisEnvelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		// self-heal: drop entries we cannot read
		if err := r.rdb.HDel(ctx, r.storeKey(store), key).Err(); err != nil {
			return Entry{}, false, wrapRedis(err)
		}
		return Entry{}, false, nil
	}
	return Entry{Key: key, StoredAt: time.Unix(env.StoredAt, 0), Bytes: env.Bytes}, true, nil
}

func (r *RedisRegistry) Put(ctx context.Context, store string, entry Entry) error {
	return r.PutAll(ctx, store, []Entry{entry})
}

func (r *RedisRegistry) PutAll(ctx context.Context, store string, entries []Entry) error {
	values := make([]interface{}, 0, len(entries)*2)
	for _, e := range entries {
		b, err := msgpack.Marshal(redisEnvelope{StoredAt: e.StoredAt.Unix(), Bytes: e.Bytes})
		if err != nil {
			return errors.Wrap(err, errors.CodeDatabase, "could not encode entry")
		}
		values = append(values, e.Key, b)
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SAdd(ctx, r.namesKey(), store)
		if len(values) > 0 {
			pipe.HSet(ctx, r.storeKey(store), values...)
		}
		return nil
	})
	return wrapRedis(err)
}

func (r *RedisRegistry) Keys(ctx context.Context, store string, cb func(string)) error {
	keys, err := r.rdb.HKeys(ctx, r.storeKey(store)).Result()
	if err != nil {
		return wrapRedis(err)
	}
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (r *RedisRegistry) Len(ctx context.Context, store string) (int, error) {
	n, err := r.rdb.HLen(ctx, r.storeKey(store)).Result()
	return int(n), wrapRedis(err)
}

func (r *RedisRegistry) Delete(ctx context.Context, store string) (bool, error) {
	var removed *goredis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		removed = pipe.SRem(ctx, r.namesKey(), store)
		pipe.Del(ctx, r.storeKey(store))
		return nil
	})
	if err != nil {
		return false, wrapRedis(err)
	}
	return removed.Val() > 0, nil
}

// Close releases the underlying redis client only when this registry owns it.
func (r *RedisRegistry) Close() error {
	if r.closeClient {
		if err := r.rdb.Close(); err != nil && err != goredis.ErrClosed {
			return err
		}
	}
	return nil
}

func wrapRedis(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.CodeDatabase, "redis registry")
}
