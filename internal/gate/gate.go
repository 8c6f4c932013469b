// Package gate serialises ingestion batches. Two sessions against the same
// portal account invalidate each other, so at most one batch may run at a time.
package gate

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrBusy is returned when another batch holds the gate
	ErrBusy = errors.New("a batch is already running")
	// ErrUnavailable wraps failures to reach a shared gate's backend
	ErrUnavailable = errors.New("batch gate unavailable")
)

// Gate is a non-blocking single-flight lock
type Gate interface {
	// TryAcquire returns a release func when the gate was free, or ErrBusy
	TryAcquire(ctx context.Context) (release func(), err error)
}

// Local is an in-process gate
type Local struct {
	mu sync.Mutex
}

// NewLocal creates an in-process gate
func NewLocal() *Local {
	return &Local{}
}

// TryAcquire takes the gate without waiting
func (g *Local) TryAcquire(context.Context) (func(), error) {
	if !g.mu.TryLock() {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() { once.Do(g.mu.Unlock) }, nil
}
