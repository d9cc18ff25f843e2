// Package timer implements the exam countdown clock.
//
// Remaining time is always recomputed from an absolute deadline rather than
// decremented, so the clock stays correct across missed or delayed ticks
// (e.g., a throttled background process).
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Timer fires a tick callback each second with the remaining time and an
// expiry callback exactly once when the deadline passes, after which it
// stops itself.
type Timer struct {
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.Mutex
	deadline time.Time
	cancel   context.CancelFunc
	expired  bool
}

// New creates a Timer ticking once per second.
func New(log zerolog.Logger) *Timer {
	return &Timer{
		interval: time.Second,
		now:      time.Now,
		log:      log.With().Str("component", "timer").Logger(),
	}
}

// Start computes deadline = now + duration and begins ticking. onTick is
// invoked immediately and then once per interval with the remaining time
// (never negative). onExpire is invoked at most once, when remaining ≤ 0;
// the timer stops itself afterwards.
//
// Start may only be called once per Timer.
func (t *Timer) Start(ctx context.Context, duration time.Duration, onTick func(remaining time.Duration), onExpire func()) {
	ctx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.deadline = t.now().Add(duration)
	t.cancel = cancel
	t.mu.Unlock()

	t.log.Info().Dur("duration", duration).Msg("Countdown started")

	go t.run(ctx, onTick, onExpire)
}

func (t *Timer) run(ctx context.Context, onTick func(time.Duration), onExpire func()) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if t.fire(onTick, onExpire) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// fire evaluates the clock once. Returns true when the timer has expired
// (or had already expired) and the loop should end.
func (t *Timer) fire(onTick func(time.Duration), onExpire func()) bool {
	t.mu.Lock()
	if t.expired {
		t.mu.Unlock()
		return true
	}
	remaining := t.deadline.Sub(t.now())
	if remaining <= 0 {
		t.expired = true
		t.mu.Unlock()
		onTick(0)
		t.log.Info().Msg("Countdown expired")
		onExpire()
		return true
	}
	t.mu.Unlock()
	onTick(remaining)
	return false
}

// Remaining returns the time left on the clock, clamped at zero.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r := t.deadline.Sub(t.now()); r > 0 {
		return r
	}
	return 0
}

// Stop halts the tick loop without firing expiry. Safe to call multiple
// times and before Start.
func (t *Timer) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.expired = true
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
