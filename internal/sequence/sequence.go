// Package sequence guards overlapping asynchronous runs of the same logical
// operation. Each key owns a monotonically increasing generation counter;
// starting a new run cancels the previous in-flight run, and only the result
// of the latest generation is ever applied.
package sequence

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned when a run's result was discarded because a newer
// run started under the same key. It is expected, not a failure.
var ErrSuperseded = errors.New("sequence: run superseded by a newer request")

type slot struct {
	gen    uint64
	cancel context.CancelFunc
}

// Sequencer tracks in-flight runs per key. The zero value is not usable; use New.
type Sequencer struct {
	mu  sync.Mutex
	ops map[string]*slot
}

// New creates an empty Sequencer.
func New() *Sequencer {
	return &Sequencer{ops: make(map[string]*slot)}
}

// Begin starts a new generation under key, canceling the previous in-flight
// run's context. The returned commit func reports whether this run is still
// the latest; callers apply results only when it returns true.
func (s *Sequencer) Begin(parent context.Context, key string) (context.Context, func() bool) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	sl, ok := s.ops[key]
	if ok {
		sl.cancel()
		sl.gen++
		sl.cancel = cancel
	} else {
		sl = &slot{gen: 1, cancel: cancel}
		s.ops[key] = sl
	}
	gen := sl.gen
	s.mu.Unlock()

	commit := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		cur, ok := s.ops[key]
		return ok && cur.gen == gen
	}
	return ctx, commit
}

// Abort cancels the in-flight run under key, if any, without starting a new
// one. A later commit from the aborted run returns false.
func (s *Sequencer) Abort(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.ops[key]; ok {
		sl.cancel()
		sl.gen++
	}
}

// Do runs fn under key with supersede protection; it is the standalone
// one-shot form of the Begin/commit protocol for callers that do not need to
// thread commit through multiple state writes. A stale result, or a
// cancellation caused by a newer run (rather than by the caller's own
// context), is reported as ErrSuperseded. All other errors propagate.
func Do[T any](ctx context.Context, s *Sequencer, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	runCtx, commit := s.Begin(ctx, key)
	out, err := fn(runCtx)

	if !commit() {
		return zero, ErrSuperseded
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return zero, ErrSuperseded
		}
		return zero, err
	}
	return out, nil
}
