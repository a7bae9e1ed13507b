// Package pool provides pooled timers for the reconnect and shutdown waits
// of the gateway.
package pool

import (
	"context"
	"sync"
	"time"
)

var timers sync.Pool

// GetTimer returns a started timer firing after d. Return it with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	t, ok := timers.Get().(*time.Timer)
	if !ok {
		return time.NewTimer(d)
	}

	if t.Reset(d) {
		select {
		case <-t.C:
		default:
		}
	}

	return t
}

// PutTimer stops t and returns it to the pool. t must not be used afterwards.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}

	timers.Put(t)
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when the wait was cut short.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := GetTimer(d)
	defer PutTimer(t)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff is an exponential delay sequence.
//
// The zero value is not usable; set Initial and Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  int // defaults to 2

	next time.Duration
}

// Next returns the next delay and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.next == 0 {
		b.next = b.Initial
	}

	d := b.next

	factor := b.Factor
	if factor < 2 {
		factor = 2
	}

	b.next = min(b.next*time.Duration(factor), b.Max)

	return d
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() {
	b.next = 0
}
