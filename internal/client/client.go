// Package client wires the reactor loop, the SNMP engine and the bridge
// into one process-wide runtime and offers a blocking, goroutine-safe API
// over it. Every engine and session call is marshalled onto the loop
// goroutine.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wiremaps/snmpbridge/internal/bridge"
	"github.com/wiremaps/snmpbridge/internal/engine"
	"github.com/wiremaps/snmpbridge/internal/logging"
	"github.com/wiremaps/snmpbridge/internal/metrics"
	"github.com/wiremaps/snmpbridge/internal/protocol"
	"github.com/wiremaps/snmpbridge/internal/reactor"
	"github.com/wiremaps/snmpbridge/internal/session"
	"github.com/wiremaps/snmpbridge/internal/varbind"
)

// ErrNotRunning is returned when the client's loop is not running.
var ErrNotRunning = errors.New("client: not running")

// Client owns the loop, engine and bridge.
type Client struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	loop   *reactor.Loop
	engine *engine.Engine
	bridge *bridge.Bridge

	mu      sync.Mutex
	running bool
	stopped chan struct{}
}

// New creates a client. Call Run to start processing. m may be nil.
func New(cfg engine.Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	loop, err := reactor.NewLoop(logger)
	if err != nil {
		return nil, fmt.Errorf("create reactor: %w", err)
	}
	eng := engine.New(cfg, logger)

	return &Client{
		logger:  logging.Component(logger, "client"),
		metrics: m,
		loop:    loop,
		engine:  eng,
		bridge:  bridge.New(loop, eng, logger, m),
		stopped: make(chan struct{}),
	}, nil
}

// Run drives the loop until ctx is cancelled, then closes every
// connection and releases the loop.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("client: already running")
	}
	c.running = true
	c.mu.Unlock()
	defer close(c.stopped)

	c.logger.Info("client started", "engine", c.engine.Name())
	err := c.loop.Run(ctx)

	if serr := c.engine.Shutdown(); serr != nil {
		c.logger.Warn("engine shutdown failed", logging.KeyError, serr)
	}
	c.bridge.Shutdown()
	if cerr := c.loop.Close(); cerr != nil {
		c.logger.Warn("reactor close failed", logging.KeyError, cerr)
	}
	c.logger.Info("client stopped")
	return err
}

// Running reports whether Run is driving the loop.
func (c *Client) Running() bool {
	c.mu.Lock()
	started := c.running
	c.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-c.stopped:
		return false
	default:
		return true
	}
}

// Stopped is closed once Run has returned.
func (c *Client) Stopped() <-chan struct{} {
	return c.stopped
}

// Do runs fn on the loop goroutine and waits for it to return.
func (c *Client) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	err := c.loop.Submit(func() {
		defer close(done)
		fn()
	})
	if err != nil {
		return ErrNotRunning
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrNotRunning
	}
}

// Reactor returns the loop. Use it only from the loop goroutine.
func (c *Client) Reactor() reactor.Reactor {
	return c.loop
}

// Registered returns the number of sockets registered with the loop.
func (c *Client) Registered(ctx context.Context) (int, error) {
	var n int
	err := c.Do(ctx, func() { n = c.bridge.Registered() })
	return n, err
}

// Open opens a session to peer. If ctx ends before the loop gets to it, no
// session is left behind.
func (c *Client) Open(ctx context.Context, peer protocol.Peer) (*Target, error) {
	var (
		s       *session.Session
		openErr error
	)
	err := c.Do(ctx, func() {
		if ctx.Err() != nil {
			return
		}
		s, openErr = session.Open(c.engine, c.bridge, session.Config{
			Peer:    peer,
			Logger:  c.logger,
			Metrics: c.metrics,
		})
	})
	if err != nil {
		// The open may still be running; the loop runs this after it.
		_ = c.loop.Submit(func() {
			if s != nil {
				s.Close()
			}
		})
		return nil, err
	}
	if openErr != nil {
		return nil, openErr
	}
	if s == nil {
		return nil, ctx.Err()
	}
	return &Target{client: c, session: s, peer: peer}, nil
}

// Target is a session usable from any goroutine.
type Target struct {
	client  *Client
	session *session.Session
	peer    protocol.Peer
}

// Peer returns the peer the target was opened with.
func (t *Target) Peer() protocol.Peer {
	return t.peer
}

// Session returns the underlying session. Use it only from the loop
// goroutine.
func (t *Target) Session() *session.Session {
	return t.session
}

// Get performs an SNMP GET and waits for the result.
func (t *Target) Get(ctx context.Context, oids ...string) (*varbind.Values, error) {
	return t.await(ctx, func() (*session.Completion, error) { return t.session.Get(oids...) })
}

// GetNext performs an SNMP GETNEXT and waits for the result.
func (t *Target) GetNext(ctx context.Context, oids ...string) (*varbind.Values, error) {
	return t.await(ctx, func() (*session.Completion, error) { return t.session.GetNext(oids...) })
}

// GetBulk performs an SNMP GETBULK and waits for the result.
func (t *Target) GetBulk(ctx context.Context, params session.BulkParams, oids ...string) (*varbind.Values, error) {
	return t.await(ctx, func() (*session.Completion, error) { return t.session.GetBulk(params, oids...) })
}

func (t *Target) await(ctx context.Context, issue func() (*session.Completion, error)) (*varbind.Values, error) {
	var (
		comp     *session.Completion
		issueErr error
	)
	err := t.client.Do(ctx, func() {
		if ctx.Err() != nil {
			return
		}
		comp, issueErr = issue()
	})
	if err != nil {
		return nil, err
	}
	if issueErr != nil {
		return nil, issueErr
	}
	if comp == nil {
		return nil, ctx.Err()
	}

	select {
	case <-comp.Done():
		return comp.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.client.stopped:
		return nil, ErrNotRunning
	}
}

// Close closes the session. Requests still in flight never complete;
// callers blocked on them return when their context ends.
func (t *Target) Close(ctx context.Context) error {
	var closeErr error
	if err := t.client.Do(ctx, func() { closeErr = t.session.Close() }); err != nil {
		return err
	}
	return closeErr
}

// String describes the target.
func (t *Target) String() string {
	return fmt.Sprintf("Target(host=%s, version=%d)", t.peer.Host, int(t.peer.Version))
}
