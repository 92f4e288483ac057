package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription is the cancel handle of an open change feed.
type Subscription struct {
	id    string
	query Query

	// mu serializes handler calls so Cancel can wait out a call in flight.
	mu        sync.Mutex
	cancelled atomic.Bool
	once      sync.Once
	cancel    context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

// NewSubscription creates a handle for q and the context its worker should
// run under. The context is cancelled by Cancel. Sources call Finish when
// their worker exits.
func NewSubscription(parent context.Context, q Query) (*Subscription, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s := &Subscription{
		id:     uuid.Must(uuid.NewV7()).String(),
		query:  q,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	return s, ctx
}

// ID returns a unique id for logs.
func (s *Subscription) ID() string { return s.id }

// Query returns the scope this subscription watches.
func (s *Subscription) Query() Query { return s.query }

// Cancel stops the subscription. It is idempotent; after it returns no
// handler call is running or will start. Cancel must not be called from
// inside a handler callback of the same subscription.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		s.cancel()
		// wait for a callback in flight
		s.mu.Lock()
		defer s.mu.Unlock()
	})
}

// Cancelled reports whether Cancel has been called.
func (s *Subscription) Cancelled() bool {
	return s.cancelled.Load()
}

// Deliver runs fn unless the subscription is cancelled, and reports whether
// it ran. Sources wrap every handler call in Deliver.
func (s *Subscription) Deliver(fn func()) bool {
	if s.cancelled.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled.Load() {
		return false
	}
	fn()
	return true
}

// Finish marks the worker as exited. Safe to call more than once.
func (s *Subscription) Finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed once the source's worker has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
