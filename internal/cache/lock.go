package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another holder owns the lease.
var ErrLocked = errors.New("cache: lease held by another owner")

// Locker hands out short leases keyed by name. Release is idempotent and only
// removes a lease still owned by the caller.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	Client *redis.Client
	Prefix string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{Client: client, Prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	name := l.Prefix + key
	ok, err := l.Client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.Client, []string{name}, token).Err()
		})
	}, nil
}

type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memLease
}

type memLease struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: map[string]memLease{}}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token := uuid.NewString()
	now := time.Now()

	l.mu.Lock()
	if cur, ok := l.leases[key]; ok && (cur.expires.IsZero() || now.Before(cur.expires)) {
		l.mu.Unlock()
		return nil, ErrLocked
	}
	lease := memLease{token: token}
	if ttl > 0 {
		lease.expires = now.Add(ttl)
	}
	l.leases[key] = lease
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if cur, ok := l.leases[key]; ok && cur.token == token {
				delete(l.leases, key)
			}
			l.mu.Unlock()
		})
	}, nil
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*MemoryLocker)(nil)
)
