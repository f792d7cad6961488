package session

import (
	"context"
	"errors"
	"sync"

	"github.com/wiremaps/snmpbridge/internal/varbind"
)

// ErrNotResolved is returned by Result before the completion resolves.
var ErrNotResolved = errors.New("session: completion not resolved")

// Completion is the eventual outcome of one request. It resolves exactly
// once, on the reactor goroutine; resolving it a second time panics.
type Completion struct {
	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	values    *varbind.Values
	err       error
	callbacks []func(*varbind.Values, error)
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) resolve(values *varbind.Values, err error) {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		panic("session: completion resolved twice")
	}
	c.resolved = true
	c.values, c.err = values, err
	callbacks := c.callbacks
	c.callbacks = nil
	close(c.done)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(values, err)
	}
}

// Done is closed once the completion resolves.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Resolved reports whether the completion has resolved.
func (c *Completion) Resolved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved
}

// Result returns the outcome, or ErrNotResolved if there is none yet.
func (c *Completion) Result() (*varbind.Values, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resolved {
		return nil, ErrNotResolved
	}
	return c.values, c.err
}

// Wait blocks until the completion resolves or ctx ends. Never call it on
// the reactor goroutine: resolution happens there.
func (c *Completion) Wait(ctx context.Context) (*varbind.Values, error) {
	select {
	case <-c.done:
		return c.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnComplete registers fn to run with the outcome. fn runs on the
// resolving goroutine, or immediately if the completion already resolved.
func (c *Completion) OnComplete(fn func(*varbind.Values, error)) {
	c.mu.Lock()
	if !c.resolved {
		c.callbacks = append(c.callbacks, fn)
		c.mu.Unlock()
		return
	}
	values, err := c.values, c.err
	c.mu.Unlock()
	fn(values, err)
}
