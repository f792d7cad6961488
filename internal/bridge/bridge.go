// Package bridge keeps a reactor's registrations in step with the SNMP
// engine's own socket and timeout bookkeeping.
//
// After every operation that changes engine state, Sync recomputes the
// full picture from the engine: the descriptors it wants polled and the
// delay to its next timeout. Registrations and the single timer are then
// reconciled against that picture. Because each pass starts from scratch,
// calling Sync from inside a callback that Sync itself arranged is safe.
package bridge

import (
	"log/slog"
	"time"

	"github.com/wiremaps/snmpbridge/internal/engine"
	"github.com/wiremaps/snmpbridge/internal/logging"
	"github.com/wiremaps/snmpbridge/internal/metrics"
	"github.com/wiremaps/snmpbridge/internal/reactor"
)

// Engine is the part of the SNMP engine the bridge drives.
type Engine interface {
	SelectInfo() engine.Selection
	Read(fd int)
	Timeout()
}

// Bridge is the process-wide registration set. It must only be used from
// the reactor goroutine.
type Bridge struct {
	reactor reactor.Reactor
	engine  Engine
	logger  *slog.Logger
	metrics *metrics.Metrics

	readers map[int]*reader
	timer   reactor.Timer
}

// New creates a bridge between r and e. m may be nil.
func New(r reactor.Reactor, e Engine, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	return &Bridge{
		reactor: r,
		engine:  e,
		logger:  logging.Component(logger, "bridge"),
		metrics: m,
		readers: make(map[int]*reader),
	}
}

// Sync reconciles reactor registrations and the timeout timer with the
// engine's current wishes.
func (b *Bridge) Sync() {
	sel := b.engine.SelectInfo()

	want := make(map[int]bool, len(sel.FDs))
	for _, fd := range sel.FDs {
		if fd >= sel.MaxFD {
			continue
		}
		want[fd] = true
	}

	for fd := range want {
		if _, ok := b.readers[fd]; ok {
			continue
		}
		rd := &reader{fd: fd, bridge: b}
		if err := b.reactor.AddReader(rd); err != nil {
			b.logger.Warn("reader registration failed",
				logging.KeyFD, fd,
				logging.KeyError, err)
			continue
		}
		b.readers[fd] = rd
		b.logger.Debug("reader added", logging.KeyFD, fd)
	}

	for fd, rd := range b.readers {
		if want[fd] {
			continue
		}
		delete(b.readers, fd)
		b.reactor.RemoveReader(rd)
		b.logger.Debug("reader removed", logging.KeyFD, fd)
	}

	if b.timer != nil {
		b.timer.Cancel()
		b.timer = nil
	}
	if sel.Pending {
		b.schedule(sel.Timeout)
	}

	b.metrics.RecordSync(len(b.readers))
}

func (b *Bridge) schedule(d time.Duration) {
	var t reactor.Timer
	t = b.reactor.CallLater(d, func() {
		if b.timer == t {
			b.timer = nil
		}
		b.engine.Timeout()
		b.Sync()
	})
	b.timer = t
	b.metrics.RecordTimerScheduled()
	b.logger.Debug("timeout scheduled", logging.KeyDelay, d)
}

// Defer runs fn on the reactor after the current callback returns.
func (b *Bridge) Defer(fn func()) {
	b.reactor.CallLater(0, fn)
}

// Registered returns the number of descriptors currently registered.
func (b *Bridge) Registered() int {
	return len(b.readers)
}

// TimerPending reports whether an engine timeout is scheduled.
func (b *Bridge) TimerPending() bool {
	return b.timer != nil
}

// Shutdown removes every registration and cancels the timer.
func (b *Bridge) Shutdown() {
	for fd, rd := range b.readers {
		delete(b.readers, fd)
		b.reactor.RemoveReader(rd)
	}
	if b.timer != nil {
		b.timer.Cancel()
		b.timer = nil
	}
	b.metrics.RecordSync(0)
}

// reader feeds readiness on one engine socket back into the engine.
type reader struct {
	fd     int
	bridge *Bridge
}

func (r *reader) Fd() int { return r.fd }

func (r *reader) DoRead() {
	r.bridge.engine.Read(r.fd)
	r.bridge.Sync()
}

func (r *reader) ConnectionLost(err error) {
	b := r.bridge
	if cur, ok := b.readers[r.fd]; ok && cur == r {
		delete(b.readers, r.fd)
	}
	b.logger.Debug("reader connection lost",
		logging.KeyFD, r.fd,
		logging.KeyError, err)
}
