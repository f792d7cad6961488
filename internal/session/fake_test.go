package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wiremaps/snmpbridge/internal/engine"
	"github.com/wiremaps/snmpbridge/internal/oid"
	"github.com/wiremaps/snmpbridge/internal/protocol"
)

// fakeHandle is the per-peer state of fakeEngine.
type fakeHandle struct {
	fd     int
	cb     protocol.Callback
	closed bool
}

func (h *fakeHandle) Fd() int        { return h.fd }
func (h *fakeHandle) String() string { return fmt.Sprintf("fake/fd%d", h.fd) }

type sentRequest struct {
	id     uint32
	handle *fakeHandle
	pdu    *protocol.PDU
}

// fakeEngine records requests and lets tests inject responses and
// timeouts. It satisfies both the session and bridge engine contracts.
type fakeEngine struct {
	nextFD  int
	nextID  uint32
	handles map[int]*fakeHandle
	sent    []sentRequest
	pending map[uint32]sentRequest

	openErr error
	sendErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		nextFD:  10,
		nextID:  1000,
		handles: make(map[int]*fakeHandle),
		pending: make(map[uint32]sentRequest),
	}
}

func (f *fakeEngine) Open(peer protocol.Peer, cb protocol.Callback) (engine.Handle, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	h := &fakeHandle{fd: f.nextFD, cb: cb}
	f.nextFD++
	f.handles[h.fd] = h
	return h, nil
}

func (f *fakeEngine) Send(h engine.Handle, pdu *protocol.PDU) (uint32, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	fh := h.(*fakeHandle)
	if fh.closed {
		return 0, engine.ErrConnClosed
	}
	f.nextID++
	req := sentRequest{id: f.nextID, handle: fh, pdu: pdu}
	f.sent = append(f.sent, req)
	f.pending[req.id] = req
	return req.id, nil
}

func (f *fakeEngine) Close(h engine.Handle) error {
	fh := h.(*fakeHandle)
	fh.closed = true
	delete(f.handles, fh.fd)
	for id, req := range f.pending {
		if req.handle == fh {
			delete(f.pending, id)
		}
	}
	return nil
}

func (f *fakeEngine) SelectInfo() engine.Selection {
	var sel engine.Selection
	for fd := range f.handles {
		sel.FDs = append(sel.FDs, fd)
		if fd+1 > sel.MaxFD {
			sel.MaxFD = fd + 1
		}
	}
	sort.Ints(sel.FDs)
	if len(f.pending) > 0 {
		sel.Pending = true
		sel.Timeout = time.Second
	}
	return sel
}

func (f *fakeEngine) Read(fd int) {}

// Timeout expires every pending request.
func (f *fakeEngine) Timeout() {
	ids := make([]uint32, 0, len(f.pending))
	for id := range f.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		req := f.pending[id]
		delete(f.pending, id)
		req.handle.cb(protocol.OpTimedOut, id, nil)
	}
}

// respond delivers resp for the request with the given id.
func (f *fakeEngine) respond(id uint32, resp *protocol.PDU) error {
	req, ok := f.pending[id]
	if !ok {
		return errors.New("no such request")
	}
	delete(f.pending, id)
	resp.RequestID = id
	req.handle.cb(protocol.OpReceived, id, resp)
	return nil
}

// last returns the most recent request.
func (f *fakeEngine) last() sentRequest {
	return f.sent[len(f.sent)-1]
}

func octets(name, value string) protocol.VarBind {
	return protocol.VarBind{Name: oid.MustParse(name), Type: protocol.TagOctetString, Bytes: []byte(value)}
}
