// Package latch provides a one-shot signal that can be fired exactly once
// and waited on from any number of goroutines.
package latch

import (
	"context"
	"sync"
	"time"
)

// A Latch starts unset and can be fired once, after which it stays
// permanently set. Firing it again is a no-op. The zero value is not
// usable, create latches with New.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

func New() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Fire sets the latch, releasing everyone waiting on it. It reports
// whether this call was the one that set it.
func (l *Latch) Fire() bool {
	fired := false

	l.once.Do(func() {
		close(l.ch)
		fired = true
	})

	return fired
}

// IsFired reports whether the latch is set. It never blocks.
func (l *Latch) IsFired() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the latch is set.
func (l *Latch) Done() <-chan struct{} {
	return l.ch
}

// Wait blocks until the latch is set or ctx is done. In the latter case
// the context error is returned.
func (l *Latch) Wait(ctx context.Context) error {
	// prefer the latch if both are ready
	if l.IsFired() {
		return nil
	}

	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitFor blocks until the latch is set or the timeout elapses, and
// reports whether the latch is set. A timeout <= 0 does not wait.
func (l *Latch) WaitFor(timeout time.Duration) bool {
	if timeout <= 0 {
		return l.IsFired()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.ch:
		return true
	case <-timer.C:
		return l.IsFired()
	}
}
