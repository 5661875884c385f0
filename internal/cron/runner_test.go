package cronrunner

import (
	"context"
	"testing"
	"time"
)

func TestAdd_RejectsBadSpec(t *testing.T) {
	r := New(nil, context.Background())
	if _, err := r.Add("bad", "every minute please", func(context.Context) {}); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := r.Add("ok", "@every 1m", func(context.Context) {}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := r.Add("five-field", "*/5 * * * *", func(context.Context) {}); err != nil {
		t.Fatalf("five-field spec err=%v", err)
	}
}

func TestRunner_RunsJobWithBaseContext(t *testing.T) {
	type key struct{}
	base := context.WithValue(context.Background(), key{}, "fleet")
	r := New(nil, base)
	got := make(chan any, 1)
	if _, err := r.Add("probe", "@every 1s", func(ctx context.Context) {
		select {
		case got <- ctx.Value(key{}):
		default:
		}
	}); err != nil {
		t.Fatalf("err=%v", err)
	}
	r.Start()
	defer r.Stop()

	select {
	case v := <-got:
		if v != "fleet" {
			t.Fatalf("ctx value=%v", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not run")
	}
}
