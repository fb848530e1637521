package thingmsg

import (
	"context"
	"sync"
	"time"
)

// Receipt describes a message the transport accepted.
type Receipt struct {
	MessageID     string
	CorrelationID string
	Subject       string
	Address       Address
	SubmittedAt   time.Time
}

// Submission is the pending result of Builder.Send. It completes exactly
// once, when the transport acknowledges or rejects the message. It says
// nothing about whether any recipient handled it.
//
// Callers that only fire and forget may ignore it.
type Submission struct {
	ch      chan struct{} // closed when resolved
	receipt Receipt
	err     error

	once sync.Once
	mu   sync.Mutex
}

func newSubmission() *Submission {
	return &Submission{ch: make(chan struct{})}
}

// failedSubmission returns a submission already resolved with err.
func failedSubmission(err error) *Submission {
	s := newSubmission()
	s.resolve(Receipt{}, err)
	return s
}

// resolve completes the submission. Later calls are ignored.
func (s *Submission) resolve(r Receipt, err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.receipt, s.err = r, err
		s.mu.Unlock()
		close(s.ch)
	})
}

func (s *Submission) load() (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipt, s.err
}

// Done returns a channel closed when the submission is resolved.
func (s *Submission) Done() <-chan struct{} {
	return s.ch
}

// Wait blocks until the submission resolves or ctx is done. ctx should carry
// a deadline: a transport that never returns leaves Wait blocked on a
// context without one. Await is the bounded form.
func (s *Submission) Wait(ctx context.Context) (Receipt, error) {
	select {
	case <-s.ch:
		return s.load()
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	}
}

// Await waits at most timeout for the submission and returns ErrSendTimeout
// when it does not resolve in time.
func (s *Submission) Await(timeout time.Duration) (Receipt, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ch:
		return s.load()
	case <-timer.C:
		return Receipt{}, ErrSendTimeout
	}
}

// Result returns the outcome without blocking. done is false while the
// submission is pending.
func (s *Submission) Result() (r Receipt, done bool, err error) {
	select {
	case <-s.ch:
		r, err = s.load()
		return r, true, err
	default:
		return Receipt{}, false, nil
	}
}

// OnDone runs cb in a new goroutine once the submission resolves.
func (s *Submission) OnDone(cb func(Receipt, error)) {
	go func() {
		<-s.ch
		cb(s.load())
	}()
}
