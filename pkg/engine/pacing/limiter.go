package pacing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces file processing at least FileDelay apart. When a maximum
// above the base delay is set, Feedback adapts the delay AIMD-style: a
// throttled response doubles it, a healthy one walks it back toward the base.
type Limiter struct {
	mu    sync.Mutex
	clock Clock
	lim   *rate.Limiter

	base, max, cur time.Duration
	step           time.Duration
}

// NewLimiter builds a limiter whose first Wait already pays a full delay.
func NewLimiter(clock Clock, delay, max time.Duration) *Limiter {
	if clock == nil {
		clock = Real()
	}
	if max < delay {
		max = delay
	}
	l := &Limiter{
		clock: clock,
		lim:   rate.NewLimiter(rate.Every(delay), 1),
		base:  delay,
		max:   max,
		cur:   delay,
		step:  delay / 4,
	}
	if l.step <= 0 {
		l.step = time.Millisecond
	}
	// Drain the initial burst so every file is paced, including the first.
	l.lim.AllowN(clock.Now(), 1)
	return l
}

// Reset empties the bucket so the next Wait pays a full delay again. Call it
// when a repository starts: the pause between repositories refills the bucket.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lim = rate.NewLimiter(rate.Every(l.cur), 1)
	l.lim.AllowN(l.clock.Now(), 1)
}

// Wait blocks until the next file may start.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	lim := l.lim
	l.mu.Unlock()

	now := l.clock.Now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("pacing: reservation refused")
	}
	d := r.DelayFrom(now)
	if d <= 0 {
		return nil
	}
	if err := l.clock.Sleep(ctx, d); err != nil {
		r.CancelAt(l.clock.Now())
		return err
	}
	return nil
}

// Delay returns the current spacing.
func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

// Feedback adjusts the spacing after a collaborator call.
func (l *Limiter) Feedback(throttled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max <= l.base {
		return
	}

	next := l.cur
	if throttled {
		next = l.cur * 2
		if next < l.step {
			next = l.step
		}
		if next > l.max {
			next = l.max
		}
	} else {
		next = l.cur - l.step
		if next < l.base {
			next = l.base
		}
	}
	if next == l.cur {
		return
	}
	l.cur = next
	l.lim.SetLimitAt(l.clock.Now(), rate.Every(next))
}
