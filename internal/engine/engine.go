// Package engine is the SNMP v1/v2c protocol engine the bridge drives. It
// owns one connected UDP socket per peer, assigns request-ids, encodes and
// decodes packets with gosnmp and retransmits until the retry budget runs
// out.
//
// An Engine is not safe for concurrent use. All calls are made from the
// reactor goroutine.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/wiremaps/snmpbridge/internal/logging"
	"github.com/wiremaps/snmpbridge/internal/protocol"
)

// Default engine settings.
const (
	DefaultName        = "snmp"
	DefaultTimeout     = time.Second
	DefaultRetries     = 5
	DefaultMaxDatagram = 65535
	DefaultPort        = 161
)

// Config holds process-wide engine settings.
type Config struct {
	// Name identifies the engine in logs.
	Name string

	// Timeout is the wait for a response before each retransmission.
	Timeout time.Duration

	// Retries is the number of retransmissions after the first send.
	Retries int

	// MaxDatagram is the receive buffer size.
	MaxDatagram int
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		Name:        DefaultName,
		Timeout:     DefaultTimeout,
		Retries:     DefaultRetries,
		MaxDatagram: DefaultMaxDatagram,
	}
}

// Handle is the opaque per-peer state returned by Open.
type Handle interface {
	Fd() int
	String() string
}

// Errors returned by Send.
var (
	ErrBadHandle       = errors.New("engine: handle not opened by this engine")
	ErrConnClosed      = errors.New("engine: connection closed")
	ErrBulkUnsupported = errors.New("engine: GETBULK is not available in SNMPv1")
)

// Selection is the engine's polling wish list.
type Selection struct {
	// FDs lists the descriptors to watch for readability, ascending.
	FDs []int
	// MaxFD is one past the highest descriptor in FDs.
	MaxFD int
	// Timeout is the delay until the next retransmission or expiry.
	// Only meaningful when Pending is set.
	Timeout time.Duration
	// Pending reports whether any request is outstanding.
	Pending bool
}

// Engine multiplexes requests over per-peer sockets.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	codec  *gosnmp.GoSNMP
	ids    *idPool
	now    func() time.Time

	conns    map[int]*Conn
	requests map[uint32]*request
	buf      []byte
}

type request struct {
	id       uint32
	op       protocol.Op
	conn     *Conn
	packet   []byte
	deadline time.Time
	retries  int
}

// New creates an engine. Zero fields of cfg take their defaults.
func New(cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.MaxDatagram <= 0 {
		cfg.MaxDatagram = def.MaxDatagram
	}

	return &Engine{
		cfg:    cfg,
		logger: logging.Component(logger, "engine").With("engine", cfg.Name),
		// The zero Logger keeps gosnmp's own tracing off.
		codec:    &gosnmp.GoSNMP{},
		ids:      requestIDs,
		now:      time.Now,
		conns:    make(map[int]*Conn),
		requests: make(map[uint32]*request),
		buf:      make([]byte, cfg.MaxDatagram),
	}
}

// Name returns the engine's identifying name.
func (e *Engine) Name() string {
	return e.cfg.Name
}

// Config returns the effective settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// Outstanding returns the number of requests awaiting a response.
func (e *Engine) Outstanding() int {
	return len(e.requests)
}

// Open creates a connection to peer. cb receives every response and
// timeout for requests sent on it. Errors are of kind ConnectError.
func (e *Engine) Open(peer protocol.Peer, cb protocol.Callback) (Handle, error) {
	if _, err := protocol.ParseVersion(int(peer.Version)); err != nil {
		return nil, &protocol.Error{Kind: protocol.KindConnect, Message: err.Error(), Err: err}
	}

	addr, err := resolve(peer.Host)
	if err != nil {
		return nil, &protocol.Error{Kind: protocol.KindConnect, Message: err.Error(), Err: err}
	}

	fd, err := dial(addr)
	if err != nil {
		return nil, &protocol.Error{Kind: protocol.KindConnect, Message: err.Error(), Err: err}
	}

	c := &Conn{fd: fd, peer: peer, addr: addr, cb: cb}
	e.conns[fd] = c

	e.logger.Debug("connection opened",
		logging.KeyPeer, addr.String(),
		logging.KeyFD, fd)
	return c, nil
}

// Close closes h. Its outstanding requests are dropped without a callback.
func (e *Engine) Close(h Handle) error {
	c, ok := h.(*Conn)
	if !ok || c == nil || c.closed {
		return nil
	}
	c.closed = true

	dropped := 0
	for id, req := range e.requests {
		if req.conn == c {
			e.forget(id)
			dropped++
		}
	}
	delete(e.conns, c.fd)

	e.logger.Debug("connection closed",
		logging.KeyPeer, c.addr.String(),
		logging.KeyFD, c.fd,
		logging.KeyCount, dropped)

	if err := closeFD(c.fd); err != nil {
		return fmt.Errorf("close %s: %w", c.addr, err)
	}
	return nil
}

// Send encodes pdu with a fresh request-id and transmits it on h. The
// request is outstanding only if Send succeeds.
//
// The PDU's Version and Community are used when Version is set; a zero
// Version falls back to the peer given to Open.
func (e *Engine) Send(h Handle, pdu *protocol.PDU) (uint32, error) {
	c, ok := h.(*Conn)
	if !ok || c == nil {
		return 0, ErrBadHandle
	}
	if c.closed {
		return 0, ErrConnClosed
	}

	peer := c.peer
	if pdu.Version != 0 {
		peer.Version = pdu.Version
		peer.Community = pdu.Community
	}
	if pdu.Op == protocol.OpGetBulk && peer.Version == protocol.V1 {
		return 0, ErrBulkUnsupported
	}

	id := e.ids.claim()
	packet, err := encodeRequest(peer, id, pdu)
	if err != nil {
		e.ids.release(id)
		return 0, fmt.Errorf("encode request: %w", err)
	}

	if err := write(c.fd, packet); err != nil {
		e.ids.release(id)
		return 0, fmt.Errorf("send to %s: %w", c.addr, err)
	}

	e.requests[id] = &request{
		id:       id,
		op:       pdu.Op,
		conn:     c,
		packet:   packet,
		deadline: e.now().Add(e.cfg.Timeout),
		retries:  e.cfg.Retries,
	}

	e.logger.Debug("request sent",
		logging.KeyRequestID, id,
		logging.KeyOp, pdu.Op.String(),
		logging.KeyPeer, c.addr.String(),
		logging.KeyCount, len(pdu.VarBinds))
	return id, nil
}

// forget removes an outstanding request and frees its id.
func (e *Engine) forget(id uint32) {
	delete(e.requests, id)
	e.ids.release(id)
}

// SelectInfo reports which descriptors to watch and when Timeout must run
// next.
func (e *Engine) SelectInfo() Selection {
	var sel Selection
	for fd := range e.conns {
		sel.FDs = append(sel.FDs, fd)
		if fd+1 > sel.MaxFD {
			sel.MaxFD = fd + 1
		}
	}
	sort.Ints(sel.FDs)

	var earliest time.Time
	for _, req := range e.requests {
		if !sel.Pending || req.deadline.Before(earliest) {
			earliest = req.deadline
			sel.Pending = true
		}
	}
	if sel.Pending {
		sel.Timeout = earliest.Sub(e.now())
		if sel.Timeout < 0 {
			sel.Timeout = 0
		}
	}
	return sel
}

// Read drains the socket fd and delivers each matching response to its
// connection's callback.
func (e *Engine) Read(fd int) {
	c, ok := e.conns[fd]
	if !ok {
		return
	}

	for !c.closed {
		n, err := read(fd, e.buf)
		if err != nil {
			if !isWouldBlock(err) {
				e.logger.Debug("read failed",
					logging.KeyPeer, c.addr.String(),
					logging.KeyError, err)
			}
			return
		}
		e.handleDatagram(c, e.buf[:n])
	}
}

func (e *Engine) handleDatagram(c *Conn, data []byte) {
	pkt, err := e.codec.SnmpDecodePacket(data)
	raw, rawErr := scanMessage(data)
	if rawErr != nil {
		raw = nil
	}
	if err != nil {
		if pkt == nil || !salvageable(pkt, raw) {
			e.logger.Warn("undecodable datagram dropped",
				logging.KeyPeer, c.addr.String(),
				logging.KeyError, err)
			return
		}
		// gosnmp gives up on the first value it cannot decode, possibly
		// before it has filled in the header.
		pkt.Version = gosnmp.SnmpVersion(raw.version)
		pkt.Community = raw.community
		pkt.PDUType = gosnmp.PDUType(raw.pduTag)
		pkt.RequestID = raw.requestID
		pkt.Error = gosnmp.SNMPError(raw.errorStatus)
		pkt.ErrorIndex = uint8(raw.errorIndex)
	}
	if pkt.PDUType != gosnmp.GetResponse {
		e.logger.Debug("unexpected PDU type dropped",
			logging.KeyPeer, c.addr.String(),
			"pdu_type", fmt.Sprintf("0x%02x", byte(pkt.PDUType)))
		return
	}

	req, ok := e.requests[pkt.RequestID]
	if !ok || req.conn != c {
		e.logger.Debug("response for unknown request dropped",
			logging.KeyRequestID, pkt.RequestID,
			logging.KeyPeer, c.addr.String())
		return
	}
	e.forget(pkt.RequestID)

	resp := decodeResponse(pkt, raw, err, req.op)
	c.cb(protocol.OpReceived, req.id, resp)
}

// Timeout retransmits every expired request that has retries left and
// reports the rest to their callbacks as timed out.
func (e *Engine) Timeout() {
	now := e.now()

	var expired []*request
	for id, req := range e.requests {
		if req.deadline.After(now) {
			continue
		}
		if req.retries > 0 {
			req.retries--
			req.deadline = now.Add(e.cfg.Timeout)
			if err := write(req.conn.fd, req.packet); err != nil {
				e.logger.Debug("retransmit failed",
					logging.KeyRequestID, id,
					logging.KeyError, err)
			}
			e.logger.Debug("request retransmitted",
				logging.KeyRequestID, id,
				logging.KeyAttempt, e.cfg.Retries-req.retries+1)
			continue
		}
		e.forget(id)
		expired = append(expired, req)
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].id < expired[j].id })
	for _, req := range expired {
		e.logger.Debug("request timed out",
			logging.KeyRequestID, req.id,
			logging.KeyPeer, req.conn.addr.String())
		req.conn.cb(protocol.OpTimedOut, req.id, nil)
	}
}

// Shutdown closes every connection.
func (e *Engine) Shutdown() error {
	var errs []error
	for _, c := range e.conns {
		if err := e.Close(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
