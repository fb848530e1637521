package thingmsg

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CompletionMode selects what a Coordinator counts.
type CompletionMode int

const (
	// CountInvocations counts every handler invocation that returned nil.
	// A message matched by three registrations counts three times.
	CountInvocations CompletionMode = iota

	// CountMessages counts every message for which at least one handler
	// returned nil, once, however many registrations it matched.
	CountMessages
)

func (m CompletionMode) String() string {
	if m == CountMessages {
		return "messages"
	}
	return "invocations"
}

// ParseCompletionMode parses "invocations" or "messages".
func ParseCompletionMode(s string) (CompletionMode, error) {
	switch s {
	case "", "invocations":
		return CountInvocations, nil
	case "messages":
		return CountMessages, nil
	default:
		return CountInvocations, fmt.Errorf("unknown completion mode %q", s)
	}
}

// Outcome is the result of Coordinator.Await. A timeout is a normal outcome,
// not an error.
type Outcome struct {
	// Count is the number of deliveries recorded when Await returned.
	Count int

	// Threshold is the count Await was waiting for.
	Threshold int

	// TimedOut is true when the deadline passed before Count reached Threshold.
	TimedOut bool
}

// Delivered reports whether the threshold was reached.
func (o Outcome) Delivered() bool { return !o.TimedOut }

func (o Outcome) String() string {
	if o.TimedOut {
		return fmt.Sprintf("timed out (%d/%d)", o.Count, o.Threshold)
	}
	return fmt.Sprintf("delivered (%d/%d)", o.Count, o.Threshold)
}

// Coordinator counts successful deliveries so a caller can block until an
// expected number has happened, within a deadline.
//
// Attach it to a router with WithCompletion:
//
//	done := thingmsg.NewCoordinator(thingmsg.CountInvocations)
//	r := thingmsg.New(thingmsg.WithCompletion(done))
//	// ... register, send ...
//	out := done.Await(ctx, 3, 10*time.Second)
//	if out.TimedOut {
//	    log.Printf("only %d of 3 messages arrived", out.Count)
//	}
type Coordinator struct {
	mode CompletionMode

	mu      sync.Mutex
	count   int
	changed chan struct{} // closed and replaced on every Record
}

// NewCoordinator returns a coordinator counting in the given mode.
func NewCoordinator(mode CompletionMode) *Coordinator {
	return &Coordinator{mode: mode, changed: make(chan struct{})}
}

// Mode returns what the coordinator counts.
func (c *Coordinator) Mode() CompletionMode { return c.mode }

// Record adds n deliveries. Non-positive n is ignored.
func (c *Coordinator) Record(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.count += n
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// Count returns the deliveries recorded so far.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Reset sets the count back to zero.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.count = 0
	c.mu.Unlock()
}

// Await blocks until at least threshold deliveries have been recorded, the
// timeout elapses, or ctx is done, whichever comes first. It never blocks
// longer than timeout; a timeout of zero or less only checks the current count.
func (c *Coordinator) Await(ctx context.Context, threshold int, timeout time.Duration) Outcome {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		c.mu.Lock()
		count, changed := c.count, c.changed
		c.mu.Unlock()

		if count >= threshold {
			return Outcome{Count: count, Threshold: threshold}
		}
		if expired == nil {
			return Outcome{Count: count, Threshold: threshold, TimedOut: true}
		}

		select {
		case <-changed:
		case <-expired:
			return Outcome{Count: c.Count(), Threshold: threshold, TimedOut: true}
		case <-ctx.Done():
			return Outcome{Count: c.Count(), Threshold: threshold, TimedOut: true}
		}
	}
}

func (c *Coordinator) invocationDone() {
	if c != nil && c.mode == CountInvocations {
		c.Record(1)
	}
}

func (c *Coordinator) messageDone(delivered int) {
	if c != nil && c.mode == CountMessages && delivered > 0 {
		c.Record(1)
	}
}
