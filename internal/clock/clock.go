// Package clock abstracts the bounded waits taken by the samplers and the
// duty-cycle loop so they can be driven deterministically in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source used by long-running loops
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the wall clock
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recorder returns from Sleep immediately, advancing its own time and
// remembering every requested duration.
type Recorder struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewRecorder starts the recorded clock at start
func NewRecorder(start time.Time) *Recorder {
	return &Recorder{now: start}
}

func (r *Recorder) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now
}

func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	if d > 0 {
		r.now = r.now.Add(d)
	}
	return nil
}

// Sleeps returns a copy of the recorded durations
func (r *Recorder) Sleeps() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.sleeps))
	copy(out, r.sleeps)
	return out
}

// Total sums the recorded durations
func (r *Recorder) Total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total time.Duration
	for _, d := range r.sleeps {
		total += d
	}
	return total
}

// Reset forgets the recorded durations
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = nil
}
