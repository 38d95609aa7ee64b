package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type expiredSessionPurger interface {
	PurgeExpired() error
}

// sweepSessions drops expired visitor sessions on a fixed interval until the
// context is cancelled. The returned stop function blocks until the worker
// has exited and is safe to call more than once.
func sweepSessions(ctx context.Context, logger *slog.Logger, sessions expiredSessionPurger, interval time.Duration) func() {
	return sweepSessionsOn(ctx, logger, sessions, interval, nil)
}

// sweepSessionsOn is the injectable variant: when ticks is non-nil it drives
// the sweep instead of a real ticker.
func sweepSessionsOn(ctx context.Context, logger *slog.Logger, sessions expiredSessionPurger, interval time.Duration, ticks <-chan time.Time) func() {
	if sessions == nil || (interval <= 0 && ticks == nil) {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if ticks == nil {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			ticks = ticker.C
		}
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticks:
				if err := sessions.PurgeExpired(); err != nil && logger != nil {
					logger.Warn("session sweep failed", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
