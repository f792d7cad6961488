// Package poller periodically collects a fixed set of OIDs from many
// equipment targets over one shared client. Requests are spread out with a
// token bucket so a large target list does not burst onto the network.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wiremaps/snmpbridge/internal/client"
	"github.com/wiremaps/snmpbridge/internal/logging"
	"github.com/wiremaps/snmpbridge/internal/metrics"
	"github.com/wiremaps/snmpbridge/internal/protocol"
	"github.com/wiremaps/snmpbridge/internal/session"
	"github.com/wiremaps/snmpbridge/internal/varbind"
)

// DefaultInterval is the delay between poll cycles.
const DefaultInterval = 60 * time.Second

// Target is one equipment to poll.
type Target struct {
	Name string
	Peer protocol.Peer
	Op   protocol.Op
	OIDs []string
	Bulk session.BulkParams
}

func (t Target) key() string {
	return fmt.Sprintf("%s|%s|%d|%s", t.Peer.Host, t.Peer.Community, int(t.Peer.Version), t.Name)
}

// Result is the outcome of polling one target in one cycle.
type Result struct {
	Target   string
	Values   *varbind.Values
	Err      error
	Duration time.Duration
}

// Handler receives each result. It runs on the poller's goroutine.
type Handler func(Result)

// Config holds poller settings.
type Config struct {
	// Interval is the delay between cycles.
	Interval time.Duration

	// Rate caps requests per second. Zero means unlimited.
	Rate float64

	// Burst is the number of requests that may go out back to back.
	Burst int
}

// Poller polls targets through a running client.
type Poller struct {
	client  *client.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	handler Handler

	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	targets  []Target
	sessions map[string]*client.Target
	stats    Stats
}

// Stats summarizes finished cycles.
type Stats struct {
	Cycles       int
	LastPoll     time.Time
	LastFailures int
}

// New creates a poller. handler and m may be nil.
func New(c *client.Client, cfg Config, targets []Target, handler Handler, logger *slog.Logger, m *metrics.Metrics) *Poller {
	if logger == nil {
		logger = logging.NopLogger()
	}
	p := &Poller{
		client:   c,
		logger:   logging.Component(logger, "poller"),
		metrics:  m,
		handler:  handler,
		sessions: make(map[string]*client.Target),
	}
	p.configure(cfg)
	p.targets = append([]Target(nil), targets...)
	return p
}

func (p *Poller) configure(cfg Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	p.cfg = cfg
	p.limiter = rate.NewLimiter(limit, cfg.Burst)
}

// Targets returns the current target list.
func (p *Poller) Targets() []Target {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Target(nil), p.targets...)
}

// Update replaces the settings and target list. Sessions of targets that
// are gone or whose peer changed are closed.
func (p *Poller) Update(ctx context.Context, cfg Config, targets []Target) {
	keep := make(map[string]bool, len(targets))
	for _, t := range targets {
		keep[t.key()] = true
	}

	p.mu.Lock()
	p.configure(cfg)
	p.targets = append([]Target(nil), targets...)
	var stale []*client.Target
	for k, s := range p.sessions {
		if !keep[k] {
			stale = append(stale, s)
			delete(p.sessions, k)
		}
	}
	p.mu.Unlock()

	for _, s := range stale {
		if err := s.Close(ctx); err != nil {
			p.logger.Warn("close stale session failed", logging.KeyPeer, s.Peer().Host, logging.KeyError, err)
		}
	}
	p.logger.Info("poller updated", logging.KeyCount, len(targets), "interval", p.interval())
}

// Run polls immediately and then on every interval until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	defer p.closeAll()

	interval := p.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cycleCtx, cancel := context.WithTimeout(ctx, interval)
		p.PollOnce(cycleCtx)
		cancel()

		if next := p.interval(); next != interval {
			interval = next
			ticker.Reset(interval)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Stats returns cycle statistics.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Poller) interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Interval
}

// PollOnce polls every target once and returns the results in target
// order. Targets still outstanding when ctx ends report ctx's error.
func (p *Poller) PollOnce(ctx context.Context) []Result {
	start := time.Now()

	p.mu.Lock()
	targets := append([]Target(nil), p.targets...)
	limiter := p.limiter
	p.mu.Unlock()

	results := make([]Result, len(targets))
	waiting := make([]bool, len(targets))
	done := make(chan indexed, len(targets))
	outstanding := 0

	for i, t := range targets {
		results[i] = Result{Target: t.Name}
		s, err := p.session(ctx, t)
		if err != nil {
			results[i].Err = err
			continue
		}
		if err := p.schedule(ctx, i, t, s, limiter, done); err != nil {
			results[i].Err = err
			continue
		}
		waiting[i] = true
		outstanding++
	}

	for outstanding > 0 {
		select {
		case r := <-done:
			results[r.index] = r.result
			waiting[r.index] = false
			outstanding--
		case <-ctx.Done():
			for i := range results {
				if waiting[i] {
					results[i].Err = ctx.Err()
				}
			}
			outstanding = 0
		}
	}

	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
		}
		p.report(r)
	}

	p.mu.Lock()
	p.stats.Cycles++
	p.stats.LastPoll = start
	p.stats.LastFailures = failures
	p.mu.Unlock()
	p.metrics.RecordPollCycle(time.Since(start).Seconds())
	p.logger.Debug("poll cycle finished", logging.KeyCount, len(results), logging.KeyDuration, time.Since(start))
	return results
}

type indexed struct {
	index  int
	result Result
}

// schedule reserves a rate slot for t and issues its request from a loop
// timer once the slot comes due.
func (p *Poller) schedule(ctx context.Context, i int, t Target, s *client.Target, limiter *rate.Limiter, done chan<- indexed) error {
	return p.client.Do(ctx, func() {
		delay := limiter.Reserve().Delay()
		p.client.Reactor().CallLater(delay, func() {
			sent := time.Now()
			finish := func(values *varbind.Values, err error) {
				done <- indexed{index: i, result: Result{
					Target:   t.Name,
					Values:   values,
					Err:      err,
					Duration: time.Since(sent),
				}}
			}

			comp, err := issue(s.Session(), t)
			if err != nil {
				finish(nil, err)
				return
			}
			comp.OnComplete(finish)
		})
	})
}

func issue(s *session.Session, t Target) (*session.Completion, error) {
	switch t.Op {
	case protocol.OpGet:
		return s.Get(t.OIDs...)
	case protocol.OpGetNext:
		return s.GetNext(t.OIDs...)
	case protocol.OpGetBulk:
		return s.GetBulk(t.Bulk, t.OIDs...)
	}
	return nil, fmt.Errorf("%w: operation %d", session.ErrInvalidArgument, int(t.Op))
}

// session returns the open session for t, opening it on first use.
func (p *Poller) session(ctx context.Context, t Target) (*client.Target, error) {
	k := t.key()

	p.mu.Lock()
	s, ok := p.sessions[k]
	p.mu.Unlock()
	if ok {
		return s, nil
	}

	s, err := p.client.Open(ctx, t.Peer)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t.Peer.Host, err)
	}

	p.mu.Lock()
	p.sessions[k] = s
	p.mu.Unlock()
	return s, nil
}

func (p *Poller) report(r Result) {
	if r.Err != nil {
		p.metrics.RecordPollError(r.Target)
		level := slog.LevelWarn
		if errors.Is(r.Err, client.ErrNotRunning) || errors.Is(r.Err, context.Canceled) {
			level = slog.LevelDebug
		}
		p.logger.Log(context.Background(), level, "poll failed",
			logging.KeyTarget, r.Target,
			logging.KeyError, r.Err)
	} else {
		p.logger.Debug("poll succeeded",
			logging.KeyTarget, r.Target,
			logging.KeyCount, r.Values.Len(),
			logging.KeyDuration, r.Duration)
	}
	if p.handler != nil {
		p.handler(r)
	}
}

func (p *Poller) closeAll() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*client.Target)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, s := range sessions {
		// A stopped client already closed every socket.
		if err := s.Close(ctx); err != nil && !errors.Is(err, client.ErrNotRunning) {
			p.logger.Warn("close session failed", logging.KeyPeer, s.Peer().Host, logging.KeyError, err)
		}
	}
}
