// Package session implements SNMP sessions on top of the engine and the
// reactor bridge. A session issues GET, GETNEXT and GETBULK requests and
// hands back a Completion for each; the engine's dispatch callback later
// resolves it from the response or the timeout.
//
// A Session is not safe for concurrent use. All calls, and all completion
// resolutions, happen on the reactor goroutine.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wiremaps/snmpbridge/internal/engine"
	"github.com/wiremaps/snmpbridge/internal/logging"
	"github.com/wiremaps/snmpbridge/internal/metrics"
	"github.com/wiremaps/snmpbridge/internal/oid"
	"github.com/wiremaps/snmpbridge/internal/protocol"
	"github.com/wiremaps/snmpbridge/internal/varbind"
)

// Engine is the part of the SNMP engine a session uses.
type Engine interface {
	Open(peer protocol.Peer, cb protocol.Callback) (engine.Handle, error)
	Send(h engine.Handle, pdu *protocol.PDU) (uint32, error)
	Close(h engine.Handle) error
}

// Bridge is the reactor bridge a session keeps informed.
type Bridge interface {
	Sync()
	Defer(fn func())
}

// Config describes a session to open.
type Config struct {
	Peer    protocol.Peer
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// BulkParams are the GETBULK repetition settings.
type BulkParams struct {
	MaxRepetitions int
	NonRepeaters   int
}

// DefaultBulkParams returns max-repetitions 10 and non-repeaters 0.
func DefaultBulkParams() BulkParams {
	return BulkParams{MaxRepetitions: 10, NonRepeaters: 0}
}

// ErrInvalidArgument marks a request rejected before any I/O for a reason
// other than OID syntax.
var ErrInvalidArgument = errors.New("session: invalid argument")

// pendingRequest is an outstanding request awaiting dispatch.
type pendingRequest struct {
	completion *Completion
	op         protocol.Op
	sent       time.Time
}

// Session is one open engine connection plus its outstanding requests.
type Session struct {
	engine  Engine
	bridge  Bridge
	logger  *slog.Logger
	metrics *metrics.Metrics

	peer    protocol.Peer
	handle  engine.Handle
	pending map[uint32]*pendingRequest
	closed  bool
}

// Open opens a session to cfg.Peer. A version other than 1 or 2 is
// rejected up front; an engine refusal yields a ConnectError.
func Open(eng Engine, br Bridge, cfg Config) (*Session, error) {
	if _, err := protocol.ParseVersion(int(cfg.Peer.Version)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	s := &Session{
		engine:  eng,
		bridge:  br,
		metrics: cfg.Metrics,
		peer:    cfg.Peer,
		pending: make(map[uint32]*pendingRequest),
	}
	s.logger = logging.Component(cfg.Logger, "session").With(logging.KeyPeer, cfg.Peer.Host)

	h, err := eng.Open(cfg.Peer, s.dispatch)
	if err != nil {
		var perr *protocol.Error
		if !errors.As(err, &perr) {
			err = &protocol.Error{Kind: protocol.KindConnect, Message: err.Error(), Err: err}
		}
		return nil, err
	}
	s.handle = h

	br.Sync()
	s.metrics.RecordSessionOpen()
	s.logger.Debug("session opened", "version", cfg.Peer.Version.String())
	return s, nil
}

// Get issues an SNMP GET for oids.
func (s *Session) Get(oids ...string) (*Completion, error) {
	return s.request(protocol.OpGet, oids, BulkParams{})
}

// GetNext issues an SNMP GETNEXT for oids. Result names are the
// successors of the requested ones.
func (s *Session) GetNext(oids ...string) (*Completion, error) {
	return s.request(protocol.OpGetNext, oids, BulkParams{})
}

// GetBulk issues an SNMP GETBULK for oids.
func (s *Session) GetBulk(params BulkParams, oids ...string) (*Completion, error) {
	if params.MaxRepetitions < 0 {
		return nil, fmt.Errorf("%w: max-repetitions %d", ErrInvalidArgument, params.MaxRepetitions)
	}
	if params.NonRepeaters < 0 || params.NonRepeaters > 255 {
		return nil, fmt.Errorf("%w: non-repeaters %d", ErrInvalidArgument, params.NonRepeaters)
	}
	return s.request(protocol.OpGetBulk, oids, params)
}

// request validates oids, sends the PDU and records it as pending. OID
// and state problems are returned directly; everything after the engine
// takes over arrives through the Completion.
func (s *Session) request(op protocol.Op, oids []string, params BulkParams) (*Completion, error) {
	if s.closed {
		return nil, &protocol.Error{Kind: protocol.KindSessionClosed, Message: s.peer.Host}
	}
	if len(oids) == 0 {
		return nil, &protocol.Error{Kind: protocol.KindMalformedOID, Message: "no OID given"}
	}

	parsed := make([]oid.OID, len(oids))
	for i, text := range oids {
		o, err := oid.Parse(text)
		if err != nil {
			return nil, &protocol.Error{Kind: protocol.KindMalformedOID, Message: err.Error(), Err: err}
		}
		parsed[i] = o
	}

	pdu := protocol.NewRequest(op, parsed)
	pdu.Version = s.peer.Version
	pdu.Community = s.peer.Community
	if op == protocol.OpGetBulk {
		pdu.MaxRepetitions = params.MaxRepetitions
		pdu.NonRepeaters = params.NonRepeaters
	}

	c := newCompletion()
	id, err := s.engine.Send(s.handle, pdu)
	if err != nil {
		s.logger.Debug("send failed", logging.KeyOp, op.String(), logging.KeyError, err)
		s.metrics.RecordSendFailure(protocol.KindSendFailed.String())
		failure := &protocol.Error{Kind: protocol.KindSendFailed, Message: err.Error(), Err: err}
		s.bridge.Defer(func() { c.resolve(nil, failure) })
		s.bridge.Sync()
		return c, nil
	}

	s.pending[id] = &pendingRequest{completion: c, op: op, sent: time.Now()}
	s.metrics.RecordRequestSent(op.String())
	s.logger.Debug("request pending",
		logging.KeyRequestID, id,
		logging.KeyOp, op.String(),
		logging.KeyOIDs, oids)

	s.bridge.Sync()
	return c, nil
}

// dispatch is the engine callback for this session.
func (s *Session) dispatch(op protocol.CallbackOp, requestID uint32, resp *protocol.PDU) {
	p, ok := s.pending[requestID]
	if !ok {
		s.logger.Debug("dispatch for unknown request ignored",
			logging.KeyRequestID, requestID,
			"reason", op.String())
		return
	}
	delete(s.pending, requestID)

	values, err := outcome(op, resp)

	label := metrics.OutcomeSuccess
	if err != nil {
		label = protocol.KindOf(err).String()
	}
	s.metrics.RecordResponse(label, time.Since(p.sent).Seconds())
	s.logger.Debug("request resolved",
		logging.KeyRequestID, requestID,
		logging.KeyOp, p.op.String(),
		"outcome", label)

	s.bridge.Defer(func() { p.completion.resolve(values, err) })
}

// outcome turns an engine callback into a result.
func outcome(op protocol.CallbackOp, resp *protocol.PDU) (*varbind.Values, error) {
	switch {
	case op == protocol.OpTimedOut:
		return nil, &protocol.Error{Kind: protocol.KindTimeout, Message: "Timeout"}
	case op != protocol.OpReceived || resp == nil:
		return nil, &protocol.Error{Kind: protocol.KindUnknown, Message: fmt.Sprintf("unexpected dispatch %v", op)}
	case resp.ErrorStatus != 0:
		return nil, protocol.StatusError(resp.ErrorStatus, resp.ErrorIndex)
	}
	return varbind.DecodeAll(resp.VarBinds)
}

// Close closes the engine connection and resynchronizes the bridge so its
// socket is deregistered. Requests still pending are abandoned: their
// completions never resolve. Closing twice does nothing.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.engine.Close(s.handle)
	s.bridge.Sync()

	abandoned := len(s.pending)
	s.pending = make(map[uint32]*pendingRequest)
	s.metrics.RecordAbandoned(abandoned)
	s.metrics.RecordSessionClose()
	s.logger.Debug("session closed", logging.KeyCount, abandoned)

	if err != nil {
		return fmt.Errorf("close session %s: %w", s.peer.Host, err)
	}
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	return s.closed
}

// Pending returns the number of outstanding requests.
func (s *Session) Pending() int {
	return len(s.pending)
}

// Peer returns the peer host as given to Open.
func (s *Session) Peer() string {
	return s.peer.Host
}

// Community returns the community used for new requests.
func (s *Session) Community() string {
	return s.peer.Community
}

// SetCommunity changes the community used for new requests.
func (s *Session) SetCommunity(community string) {
	s.peer.Community = community
}

// Version returns the protocol version used for new requests.
func (s *Session) Version() protocol.Version {
	return s.peer.Version
}

// SetVersion changes the protocol version used for new requests. Only 1
// and 2 are accepted.
func (s *Session) SetVersion(n int) error {
	v, err := protocol.ParseVersion(n)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	s.peer.Version = v
	return nil
}

// String describes the session with the community masked.
func (s *Session) String() string {
	community := ""
	if s.peer.Community != "" {
		community = "***"
	}
	return fmt.Sprintf("Session(host=%s, community=%s, version=%d)",
		s.peer.Host, community, int(s.peer.Version))
}
