package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingPurger struct {
	calls atomic.Int64
	swept chan struct{}
}

func (p *countingPurger) PurgeExpired() error {
	p.calls.Add(1)
	select {
	case p.swept <- struct{}{}:
	default:
	}
	return nil
}

func TestSweepSessionsRunsOnTicks(t *testing.T) {
	purger := &countingPurger{swept: make(chan struct{}, 1)}
	ticks := make(chan time.Time)

	stop := sweepSessionsOn(context.Background(), nil, purger, time.Minute, ticks)
	defer stop()

	ticks <- time.Now()
	select {
	case <-purger.swept:
	case <-time.After(time.Second):
		t.Fatalf("sweep did not run after a tick")
	}
	if purger.calls.Load() != 1 {
		t.Fatalf("expected one sweep, got %d", purger.calls.Load())
	}
}

func TestSweepSessionsStopIsIdempotent(t *testing.T) {
	purger := &countingPurger{swept: make(chan struct{}, 1)}
	ticks := make(chan time.Time)

	stop := sweepSessionsOn(context.Background(), nil, purger, time.Minute, ticks)
	stop()
	stop()

	select {
	case ticks <- time.Now():
		t.Fatalf("worker still consuming ticks after stop")
	default:
	}
}

func TestSweepSessionsNoopWithoutManager(t *testing.T) {
	stop := sweepSessions(context.Background(), nil, nil, time.Minute)
	stop()
}
