package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return clock }

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "forever", []byte("f"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	b, ok, _ := s.Get(ctx, "k")
	if !ok || string(b) != "v" {
		t.Fatalf("got=%q ok=%v", b, ok)
	}
	b[0] = 'x'
	if again, _, _ := s.Get(ctx, "k"); string(again) != "v" {
		t.Fatalf("stored value aliased caller slice: %q", again)
	}

	clock = clock.Add(time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected expiry at ttl")
	}
	if _, ok, _ := s.Get(ctx, "forever"); !ok {
		t.Fatalf("zero ttl should not expire")
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Set(ctx, "k", []byte("v"), 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("set err=%v", err)
	}
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Fatalf("get err=%v", err)
	}
	if _, err := NewMemoryLocker().Acquire(ctx, "k", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("acquire err=%v", err)
	}
}

func TestRedisStore_KeysAreNamespaced(t *testing.T) {
	s := NewRedisStore(nil, KeyPrefix)
	if got := s.key("greenmile:token:ops"); got != "fleetsync:greenmile:token:ops" {
		t.Fatalf("key=%q", got)
	}
}

func TestNewRedisBackend_UnreachableFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := NewRedisBackend(ctx, &redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	if err == nil || b != nil {
		t.Fatalf("backend=%v err=%v", b, err)
	}
	if err := NewMemoryBackend().Close(); err != nil {
		t.Fatalf("memory close: %v", err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	type token struct {
		Value string `json:"value"`
	}
	if err := SetJSON(ctx, s, "tok", token{Value: "abc"}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got token
	ok, err := GetJSON(ctx, s, "tok", &got)
	if err != nil || !ok || got.Value != "abc" {
		t.Fatalf("got=%+v ok=%v err=%v", got, ok, err)
	}
	_ = s.Set(ctx, "bad", []byte("{"), 0)
	if ok, err := GetJSON(ctx, s, "bad", &got); ok || err != nil {
		t.Fatalf("corrupt value should be a miss: ok=%v err=%v", ok, err)
	}
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	release, err := l.Acquire(ctx, "ENTREGAS", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "ENTREGAS", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("second acquire err=%v want ErrLocked", err)
	}
	other, err := l.Acquire(ctx, "MOTORISTAS", time.Minute)
	if err != nil {
		t.Fatalf("independent key: %v", err)
	}
	other()

	release()
	release()
	again, err := l.Acquire(ctx, "ENTREGAS", time.Minute)
	if err != nil {
		t.Fatalf("after release: %v", err)
	}
	again()
}

func TestMemoryLocker_ExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	stale, err := l.Acquire(ctx, "k", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	fresh, err := l.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	// the stale holder must not drop the new lease
	stale()
	if _, err := l.Acquire(ctx, "k", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("stale release removed fresh lease: err=%v", err)
	}
	fresh()
}
