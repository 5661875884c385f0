package safety

import (
	"errors"
	"fmt"
)

const (
	DefaultMinOriginal = 10
	DefaultMaxShrink   = 0.20
)

var (
	ErrUnsafeShrink   = errors.New("unsafe shrink")
	ErrEmptyOverwrite = errors.New("refusing to overwrite non-empty dataset with empty result")
)

// ReconcileInfo is what the gate needs to know about this cycle's reconcile.
type ReconcileInfo struct {
	Executed    bool
	Trustworthy bool
}

func (r ReconcileInfo) verified() bool { return r.Executed && r.Trustworthy }

type Decision struct {
	Original    int     `json:"original"`
	Final       int     `json:"final"`
	ShrinkRatio float64 `json:"shrink_ratio"`
	// Warning marks a large shrink let through because a trustworthy
	// reconcile explains it.
	Warning bool `json:"warning"`
}

// Gate blocks writes that would drop a large share of a dataset without
// a trustworthy reconcile behind them.
type Gate struct {
	MinOriginal int
	MaxShrink   float64
}

func NewGate(minOriginal int, maxShrink float64) Gate {
	if minOriginal < 0 {
		minOriginal = DefaultMinOriginal
	}
	if maxShrink <= 0 {
		maxShrink = DefaultMaxShrink
	}
	return Gate{MinOriginal: minOriginal, MaxShrink: maxShrink}
}

func ShrinkRatio(original, final int) float64 {
	if original <= 0 {
		return 0
	}
	return float64(original-final) / float64(original)
}

// Authorize returns an error wrapping ErrUnsafeShrink or ErrEmptyOverwrite
// when the write must not happen.
func (g Gate) Authorize(original, final int, rec ReconcileInfo) (Decision, error) {
	maxShrink := g.MaxShrink
	if maxShrink <= 0 {
		maxShrink = DefaultMaxShrink
	}
	d := Decision{Original: original, Final: final, ShrinkRatio: ShrinkRatio(original, final)}

	if final == 0 && original > 0 && !rec.Trustworthy {
		return d, fmt.Errorf("%w: original=%d", ErrEmptyOverwrite, original)
	}
	if original > g.MinOriginal && d.ShrinkRatio > maxShrink {
		if !rec.verified() {
			return d, fmt.Errorf("%w: %d -> %d (%.1f%% > %.1f%%) without verified reconcile",
				ErrUnsafeShrink, original, final, d.ShrinkRatio*100, maxShrink*100)
		}
		d.Warning = true
	}
	return d, nil
}
