package service

import (
	"log/slog"
	"sync"
	"time"
)

// Navigator performs the navigation side effect. Fire-and-forget; nothing is
// consumed from it.
type Navigator func(path string)

// RedirectScheduler arms a cancellable countdown that navigates once when it
// reaches zero. Cancellation at any point guarantees the navigation never
// fires afterwards, so a user who already navigated manually is never yanked
// to a second destination by a stale timer.
type RedirectScheduler struct {
	start  int
	tick   time.Duration
	logger *slog.Logger
}

// NewRedirectScheduler creates a scheduler counting down from start with the
// given tick granularity. Defaults: start 5, tick one second.
func NewRedirectScheduler(start int, tick time.Duration, logger *slog.Logger) *RedirectScheduler {
	if start <= 0 {
		start = 5
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &RedirectScheduler{start: start, tick: tick, logger: logger}
}

// Arm starts the countdown. onTick receives each remaining value, starting
// with the full count and ending at zero; at zero, resolver computes the
// destination and navigate is called exactly once. The returned cancel is
// idempotent and safe to call from any goroutine.
func (r *RedirectScheduler) Arm(resolver func() string, onTick func(remaining int), navigate Navigator) (cancel func()) {
	var mu sync.Mutex
	canceled := false
	done := make(chan struct{})

	if onTick != nil {
		onTick(r.start)
	}

	go func() {
		ticker := time.NewTicker(r.tick)
		defer ticker.Stop()

		remaining := r.start
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			remaining--

			mu.Lock()
			if canceled {
				mu.Unlock()
				return
			}
			if remaining > 0 {
				mu.Unlock()
				if onTick != nil {
					onTick(remaining)
				}
				continue
			}

			// Still holding the lock: cancel() cannot slip in between the
			// check and the navigation.
			target := resolver()
			navigate(target)
			mu.Unlock()

			if onTick != nil {
				onTick(0)
			}
			r.logger.Debug("redirect fired", slog.String("target", target))
			return
		}
	}()

	return func() {
		mu.Lock()
		if !canceled {
			canceled = true
			close(done)
			redirectCancellations.Inc()
		}
		mu.Unlock()
	}
}
