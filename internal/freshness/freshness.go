package freshness

import (
	"context"
	"fmt"
	"time"

	"tradebalance/internal/cache"
)

const (
	DefaultMinSize int64 = 1024
	DefaultMaxAge        = 7 * 24 * time.Hour
)

type Reason string

const (
	ReasonMissing    Reason = "missing"
	ReasonUndersized Reason = "undersized"
	ReasonStale      Reason = "stale"
	ReasonFresh      Reason = "fresh"
)

type Decision struct {
	Key    cache.Key
	Fresh  bool
	Reason Reason
	Size   int64
	Age    time.Duration
}

// Evaluator decides whether a cached artifact can be reused. It never talks
// to the network; regeneration is delegated to the caller.
type Evaluator struct {
	Store   cache.Store
	MinSize int64
	MaxAge  time.Duration
	Now     func() time.Time
}

func New(store cache.Store, minSize int64, maxAge time.Duration) *Evaluator {
	if minSize < 0 {
		minSize = DefaultMinSize
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Evaluator{Store: store, MinSize: minSize, MaxAge: maxAge, Now: time.Now}
}

// Check applies, in order: missing, undersized, stale. An artifact that
// cannot be stat'ed for any reason counts as missing.
func (e *Evaluator) Check(ctx context.Context, key cache.Key) Decision {
	d := Decision{Key: key}
	info, err := e.Store.Stat(ctx, key)
	if err != nil {
		d.Reason = ReasonMissing
		return d
	}
	d.Size = info.Size
	d.Age = e.now().Sub(info.ModTime)

	switch {
	case info.Size < e.MinSize:
		d.Reason = ReasonUndersized
	case d.Age > e.maxAge():
		d.Reason = ReasonStale
	default:
		d.Reason = ReasonFresh
		d.Fresh = true
	}
	return d
}

func (e *Evaluator) IsFresh(ctx context.Context, key cache.Key) bool {
	return e.Check(ctx, key).Fresh
}

// NeedsRefresh runs regenerate when the artifact is not fresh and reports
// whether it did.
func (e *Evaluator) NeedsRefresh(ctx context.Context, key cache.Key, regenerate func(context.Context) error) (bool, error) {
	d := e.Check(ctx, key)
	if d.Fresh {
		return false, nil
	}
	if err := regenerate(ctx); err != nil {
		return true, fmt.Errorf("freshness: regenerate %s (%s): %w", key, d.Reason, err)
	}
	return true, nil
}

func (e *Evaluator) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Evaluator) maxAge() time.Duration {
	if e.MaxAge <= 0 {
		return DefaultMaxAge
	}
	return e.MaxAge
}
