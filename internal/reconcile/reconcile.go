package reconcile

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"fleetsync/internal/record"
)

const (
	ReasonFullScan = "full_scan"
	ReasonSampled  = "sampled"
	ReasonShrink   = "shrink"
	ReasonStale    = "stale"
)

// ErrIncompleteFetch marks an authoritative fetch that stopped early.
var ErrIncompleteFetch = errors.New("authoritative fetch incomplete")

// Authoritative is the upstream view of a collection taken by a full,
// date-unbounded fetch.
type Authoritative struct {
	// IDs that pass the collection filter upstream.
	IDs map[string]struct{}
	// Ignored holds IDs still upstream but excluded by status.
	Ignored map[string]struct{}
	// Raw is the number of items the fetch returned before filtering.
	Raw int
}

type Fetcher func(ctx context.Context) (Authoritative, error)

// Sampler returns a value in [0, 1).
type Sampler func() float64

func NewSeededSampler(seed int64) Sampler {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return rng.Float64()
	}
}

type Policy struct {
	// Probability of reconciling an incremental collection on a given cycle.
	Probability float64
	// ForceShrinkRatio forces a reconcile when merged is this much smaller
	// than existing.
	ForceShrinkRatio float64
	// MaxInterval forces a reconcile when the last one is older. Zero disables.
	MaxInterval time.Duration
}

type Input struct {
	FullScan         bool
	Existing         int
	Merged           []record.Record
	LastReconciledAt time.Time
	Now              time.Time
	// Prefetched, when set, is used instead of calling the fetcher.
	Prefetched *Authoritative
}

type Outcome struct {
	Records        []record.Record `json:"-"`
	Removed        int             `json:"removed"`
	RemovedIgnored int             `json:"removed_ignored"`
	Executed       bool            `json:"executed"`
	Trustworthy    bool            `json:"trustworthy"`
	Reason         string          `json:"reason,omitempty"`
	Authoritative  int             `json:"authoritative"`
}

type Engine struct {
	Policy Policy
	Sample Sampler
	Logger *zap.Logger
}

// Decide reports whether this cycle should reconcile and why.
func (e *Engine) Decide(in Input) (bool, string) {
	if in.FullScan {
		return true, ReasonFullScan
	}
	if in.Existing > 0 && e.Policy.ForceShrinkRatio > 0 {
		shrink := float64(in.Existing-len(in.Merged)) / float64(in.Existing)
		if shrink > e.Policy.ForceShrinkRatio {
			return true, ReasonShrink
		}
	}
	if e.Policy.MaxInterval > 0 && !in.Now.IsZero() {
		if in.LastReconciledAt.IsZero() || in.Now.Sub(in.LastReconciledAt) >= e.Policy.MaxInterval {
			return true, ReasonStale
		}
	}
	if e.Policy.Probability > 0 && e.sample() < e.Policy.Probability {
		return true, ReasonSampled
	}
	return false, ""
}

// Reconcile drops merged records whose IDs the upstream no longer lists.
// It never adds records. A failed fetch leaves the merged set untouched
// with Executed=false.
func (e *Engine) Reconcile(ctx context.Context, in Input, fetch Fetcher) Outcome {
	skipped := Outcome{Records: in.Merged}
	run, reason := e.Decide(in)
	if !run {
		return skipped
	}
	skipped.Reason = reason

	var auth Authoritative
	if in.Prefetched != nil {
		auth = *in.Prefetched
	} else {
		if fetch == nil {
			e.logger().Warn("reconcile skipped: no authoritative source", zap.String("reason", reason))
			return skipped
		}
		var err error
		auth, err = fetch(ctx)
		if err != nil {
			e.logger().Warn("reconcile skipped: authoritative fetch failed",
				zap.String("reason", reason),
				zap.Error(err),
			)
			return skipped
		}
	}

	out := Outcome{
		Executed:      true,
		Trustworthy:   auth.Raw > 0,
		Reason:        reason,
		Authoritative: len(auth.IDs),
		Records:       make([]record.Record, 0, len(in.Merged)),
	}
	for _, r := range in.Merged {
		if _, ok := auth.IDs[r.ID]; ok {
			out.Records = append(out.Records, r)
			continue
		}
		out.Removed++
		if _, ok := auth.Ignored[r.ID]; ok {
			out.RemovedIgnored++
		}
	}
	return out
}

func (e *Engine) sample() float64 {
	if e.Sample == nil {
		return rand.Float64()
	}
	return e.Sample()
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
