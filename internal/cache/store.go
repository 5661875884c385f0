package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces cache keys in a shared Redis, the same way lease keys
// are namespaced by their callers.
const KeyPrefix = "fleetsync:"

// Store is a byte cache. A ttl <= 0 keeps the value until it is deleted.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Backend pairs a Store with a Locker over the same connection.
type Backend struct {
	Store  Store
	Locker Locker
	// Redis is nil for the in-process backend.
	Redis *redis.Client
}

func NewMemoryBackend() *Backend {
	return &Backend{Store: NewMemoryStore(), Locker: NewMemoryLocker()}
}

// NewRedisBackend connects and pings once; the client is closed again when
// the ping fails.
func NewRedisBackend(ctx context.Context, opt *redis.Options) (*Backend, error) {
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opt.Addr, err)
	}
	return &Backend{
		Store:  NewRedisStore(client, KeyPrefix),
		Locker: NewRedisLocker(client, ""),
		Redis:  client,
	}, nil
}

func (b *Backend) Close() error {
	if b == nil || b.Redis == nil {
		return nil
	}
	return b.Redis.Close()
}
