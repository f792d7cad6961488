package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wiremaps/snmpbridge/internal/bridge"
	"github.com/wiremaps/snmpbridge/internal/logging"
	"github.com/wiremaps/snmpbridge/internal/metrics"
	"github.com/wiremaps/snmpbridge/internal/oid"
	"github.com/wiremaps/snmpbridge/internal/protocol"
	"github.com/wiremaps/snmpbridge/internal/reactor/reactortest"
	"github.com/wiremaps/snmpbridge/internal/varbind"
)

type harness struct {
	engine  *fakeEngine
	reactor *reactortest.Reactor
	bridge  *bridge.Bridge
	metrics *metrics.Metrics
	session *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		engine:  newFakeEngine(),
		reactor: reactortest.New(),
		metrics: metrics.NewMetricsWithRegistry(prometheus.NewRegistry()),
	}
	h.bridge = bridge.New(h.reactor, h.engine, logging.NopLogger(), h.metrics)

	s, err := Open(h.engine, h.bridge, Config{
		Peer:    protocol.Peer{Host: "192.0.2.10", Community: "public", Version: protocol.V2c},
		Logger:  logging.NopLogger(),
		Metrics: h.metrics,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	h.session = s
	return h
}

func mustResult(t *testing.T, c *Completion) (*varbind.Values, error) {
	t.Helper()
	select {
	case <-c.Done():
	default:
		t.Fatal("completion not resolved")
	}
	return c.Result()
}

func TestOpen_RegistersSocket(t *testing.T) {
	h := newHarness(t)

	if got := h.reactor.Registered(); len(got) != 1 || got[0] != 10 {
		t.Errorf("Registered() = %v, want [10]", got)
	}
	if got := testutil.ToFloat64(h.metrics.SessionsOpen); got != 1 {
		t.Errorf("SessionsOpen = %v, want 1", got)
	}
}

func TestOpen_Rejects(t *testing.T) {
	r := reactortest.New()

	t.Run("engine refusal", func(t *testing.T) {
		e := newFakeEngine()
		e.openErr = errors.New("socket: too many open files")
		_, err := Open(e, bridge.New(r, e, nil, nil), Config{
			Peer: protocol.Peer{Host: "192.0.2.1", Version: protocol.V2c},
		})
		if !errors.Is(err, protocol.ErrConnect) {
			t.Fatalf("Open() error = %v, want ConnectError", err)
		}
		if !errors.Is(err, e.openErr) {
			t.Error("engine diagnostic not carried")
		}
	})

	t.Run("bad version", func(t *testing.T) {
		e := newFakeEngine()
		_, err := Open(e, bridge.New(r, e, nil, nil), Config{
			Peer: protocol.Peer{Host: "192.0.2.1", Version: 3},
		})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Open() error = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestGet_Success(t *testing.T) {
	h := newHarness(t)

	c, err := h.session.Get(".1.3.6.1.2.1.1.1.0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if c.Resolved() {
		t.Fatal("completion resolved before any response")
	}

	req := h.engine.last()
	if req.pdu.Op != protocol.OpGet || len(req.pdu.VarBinds) != 1 {
		t.Fatalf("sent PDU = %+v", req.pdu)
	}
	if vb := req.pdu.VarBinds[0]; vb.Type != protocol.TagNull || oid.Format(vb.Name) != ".1.3.6.1.2.1.1.1.0" {
		t.Errorf("placeholder = %+v", vb)
	}
	if req.pdu.Community != "public" || req.pdu.Version != protocol.V2c {
		t.Errorf("PDU community %q version %v", req.pdu.Community, req.pdu.Version)
	}
	if h.session.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", h.session.Pending())
	}

	if err := h.engine.respond(req.id, &protocol.PDU{
		VarBinds: []protocol.VarBind{octets(".1.3.6.1.2.1.1.1.0", "example")},
	}); err != nil {
		t.Fatal(err)
	}

	if c.Resolved() {
		t.Fatal("completion resolved inline with the engine callback")
	}
	if h.session.Pending() != 0 {
		t.Errorf("Pending() = %d after dispatch, want 0", h.session.Pending())
	}
	h.reactor.RunPending()

	vals, err := mustResult(t, c)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	got := vals.Map()
	if len(got) != 1 || string(got[".1.3.6.1.2.1.1.1.0"].([]byte)) != "example" {
		t.Errorf("Result() = %v, want {.1.3.6.1.2.1.1.1.0: example}", vals)
	}
	if n := testutil.ToFloat64(h.metrics.Responses.WithLabelValues(metrics.OutcomeSuccess)); n != 1 {
		t.Errorf("Responses[success] = %v, want 1", n)
	}
}

func TestGet_Timeout(t *testing.T) {
	h := newHarness(t)

	c, err := h.session.Get(".1.3.6.1.2.1.1.1.0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(h.reactor.Active()) != 1 {
		t.Fatalf("%d timers scheduled, want 1", len(h.reactor.Active()))
	}

	// Fire the synchronized timeout, then the deferred resolution.
	h.reactor.FireNext()
	h.reactor.RunPending()

	_, err = mustResult(t, c)
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Errorf("Result() error = %v, want Timeout", err)
	}
	if len(h.reactor.Active()) != 0 {
		t.Error("timer left scheduled with nothing pending")
	}
}

func TestGet_ErrorStatus(t *testing.T) {
	h := newHarness(t)

	c, _ := h.session.Get(".1.3.6.1.2.1.1.99.0")
	h.engine.respond(h.engine.last().id, &protocol.PDU{
		ErrorStatus: 2,
		ErrorIndex:  1,
		VarBinds:    []protocol.VarBind{{Name: oid.MustParse(".1.3.6.1.2.1.1.99.0"), Type: protocol.TagNull}},
	})
	h.reactor.RunPending()

	_, err := mustResult(t, c)
	if !errors.Is(err, protocol.ErrNoSuchName) {
		t.Fatalf("Result() error = %v, want NoSuchName", err)
	}
	var perr *protocol.Error
	if errors.As(err, &perr) && (perr.Status != 2 || perr.Message == "") {
		t.Errorf("error = %+v, want status 2 with description", perr)
	}
}

func TestGet_UnknownErrorStatus(t *testing.T) {
	h := newHarness(t)

	c, _ := h.session.Get(".1.3")
	h.engine.respond(h.engine.last().id, &protocol.PDU{ErrorStatus: 77})
	h.reactor.RunPending()

	_, err := mustResult(t, c)
	var perr *protocol.Error
	if !errors.As(err, &perr) || perr.Kind != protocol.KindUnknownErrorStatus || perr.Status != 77 {
		t.Errorf("Result() error = %v, want UnknownErrorStatus 77", err)
	}
}

func TestGet_DecodeFailureDiscardsValues(t *testing.T) {
	h := newHarness(t)

	c, _ := h.session.Get(".1.3.6.1.2.1.1.1.0", ".1.3.6.1.2.1.4.20.1.1.0")
	h.engine.respond(h.engine.last().id, &protocol.PDU{VarBinds: []protocol.VarBind{
		octets(".1.3.6.1.2.1.1.1.0", "example"),
		{Name: oid.MustParse(".1.3.6.1.2.1.4.20.1.1.0"), Type: protocol.TagIPAddress, Bytes: []byte{10, 0}},
	}})
	h.reactor.RunPending()

	vals, err := mustResult(t, c)
	if !errors.Is(err, protocol.ErrMalformedValue) {
		t.Errorf("Result() error = %v, want MalformedValue", err)
	}
	if vals != nil {
		t.Errorf("partial values delivered: %v", vals)
	}
}

func TestDispatch_SecondDeliveryIgnored(t *testing.T) {
	h := newHarness(t)

	c, _ := h.session.Get(".1.3.6.1.2.1.1.1.0")
	req := h.engine.last()
	resp := &protocol.PDU{VarBinds: []protocol.VarBind{octets(".1.3.6.1.2.1.1.1.0", "example")}}

	h.engine.respond(req.id, resp)
	// A duplicate or late delivery for the same id.
	req.handle.cb(protocol.OpReceived, req.id, resp)
	req.handle.cb(protocol.OpTimedOut, req.id, nil)

	if n := h.reactor.RunPending(); n != 1 {
		t.Errorf("RunPending() = %d resolutions, want 1", n)
	}
	if _, err := mustResult(t, c); err != nil {
		t.Errorf("Result() error = %v", err)
	}
}

func TestDispatch_UnknownRequestIgnored(t *testing.T) {
	h := newHarness(t)
	h.session.dispatch(protocol.OpReceived, 424242, &protocol.PDU{})
	if n := h.reactor.RunPending(); n != 0 {
		t.Errorf("RunPending() = %d, want 0", n)
	}
}

func TestRequest_MalformedOID(t *testing.T) {
	h := newHarness(t)

	tests := [][]string{
		{},
		{".1.3.a"},
		{".1.3.6.1.2.1.1.1.0", "1..3"},
		{""},
	}
	for _, oids := range tests {
		if _, err := h.session.Get(oids...); !errors.Is(err, protocol.ErrMalformedOID) {
			t.Errorf("Get(%q) error = %v, want MalformedOid", oids, err)
		}
	}
	if len(h.engine.sent) != 0 {
		t.Errorf("%d requests sent for malformed input", len(h.engine.sent))
	}
}

func TestRequest_SendFailureResolvesAsync(t *testing.T) {
	h := newHarness(t)
	h.engine.sendErr = errors.New("sendto: no buffer space available")

	c, err := h.session.Get(".1.3.6.1.2.1.1.1.0")
	if err != nil {
		t.Fatalf("Get() error = %v, want nil (failure must be asynchronous)", err)
	}
	if c.Resolved() {
		t.Fatal("completion resolved synchronously")
	}
	if h.session.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", h.session.Pending())
	}

	h.reactor.RunPending()
	_, err = mustResult(t, c)
	if !errors.Is(err, protocol.ErrSendFailed) {
		t.Errorf("Result() error = %v, want SendFailed", err)
	}
	if !errors.Is(err, h.engine.sendErr) {
		t.Error("engine diagnostic not carried")
	}
}

func TestGetNext(t *testing.T) {
	h := newHarness(t)

	c, _ := h.session.GetNext(".1.3.6.1.2.1.1.1.0")
	if op := h.engine.last().pdu.Op; op != protocol.OpGetNext {
		t.Fatalf("sent op = %v, want getnext", op)
	}
	h.engine.respond(h.engine.last().id, &protocol.PDU{VarBinds: []protocol.VarBind{
		{Name: oid.MustParse(".1.3.6.1.2.1.1.2.0"), Type: protocol.TagObjectIdentifier, OID: oid.MustParse(".1.3.6.1.4.1.8072.3.2.10")},
	}})
	h.reactor.RunPending()

	vals, err := mustResult(t, c)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if v, ok := vals.Get(".1.3.6.1.2.1.1.2.0"); !ok || v != ".1.3.6.1.4.1.8072.3.2.10" {
		t.Errorf("Result() = %v", vals)
	}
}

func TestGetBulk(t *testing.T) {
	h := newHarness(t)

	c, err := h.session.GetBulk(DefaultBulkParams(), ".1.3.6.1.2.1.2.2.1.2")
	if err != nil {
		t.Fatalf("GetBulk() error = %v", err)
	}
	pdu := h.engine.last().pdu
	if pdu.Op != protocol.OpGetBulk || pdu.MaxRepetitions != 10 || pdu.NonRepeaters != 0 {
		t.Fatalf("sent PDU = %+v", pdu)
	}

	h.engine.respond(h.engine.last().id, &protocol.PDU{VarBinds: []protocol.VarBind{
		octets(".1.3.6.1.2.1.2.2.1.2.1", "lo"),
		octets(".1.3.6.1.2.1.2.2.1.2.2", "eth0"),
		{Name: oid.MustParse(".1.3.6.1.2.1.2.2.1.2.2"), Type: protocol.TagEndOfMibView},
	}})
	h.reactor.RunPending()

	vals, err := mustResult(t, c)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if vals.Len() != 2 {
		t.Errorf("Len() = %d, want 2", vals.Len())
	}
}

func TestGetBulk_EndOfMibFirst(t *testing.T) {
	h := newHarness(t)

	c, _ := h.session.GetBulk(BulkParams{MaxRepetitions: 5}, ".1.3.6.1.9")
	h.engine.respond(h.engine.last().id, &protocol.PDU{VarBinds: []protocol.VarBind{
		{Name: oid.MustParse(".1.3.6.1.9"), Type: protocol.TagEndOfMibView},
	}})
	h.reactor.RunPending()

	if _, err := mustResult(t, c); !errors.Is(err, protocol.ErrEndOfMibView) {
		t.Errorf("Result() error = %v, want EndOfMibView", err)
	}
}

func TestGetBulk_InvalidParams(t *testing.T) {
	h := newHarness(t)

	for _, p := range []BulkParams{{MaxRepetitions: -1}, {MaxRepetitions: 10, NonRepeaters: 256}} {
		if _, err := h.session.GetBulk(p, ".1.3"); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("GetBulk(%+v) error = %v, want ErrInvalidArgument", p, err)
		}
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t)

	c, _ := h.session.Get(".1.3.6.1.2.1.1.1.0")
	if err := h.session.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := h.session.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if h.reactor.Removes[10] != 1 {
		t.Errorf("Removes[10] = %d, want exactly 1", h.reactor.Removes[10])
	}
	if len(h.reactor.Registered()) != 0 {
		t.Errorf("Registered() = %v after close", h.reactor.Registered())
	}
	if len(h.reactor.Active()) != 0 {
		t.Error("timer left scheduled after close")
	}

	h.reactor.Advance(time.Minute)
	if c.Resolved() {
		t.Error("abandoned request resolved after close")
	}

	if _, err := h.session.Get(".1.3"); !errors.Is(err, protocol.ErrSessionClosed) {
		t.Errorf("Get() after close error = %v, want SessionClosed", err)
	}
	if got := testutil.ToFloat64(h.metrics.SessionsOpen); got != 0 {
		t.Errorf("SessionsOpen = %v, want 0", got)
	}
	if got := testutil.ToFloat64(h.metrics.RequestsPending); got != 0 {
		t.Errorf("RequestsPending = %v, want 0", got)
	}
}

func TestSessionsShareBridge(t *testing.T) {
	h := newHarness(t)

	other, err := Open(h.engine, h.bridge, Config{
		Peer: protocol.Peer{Host: "192.0.2.11", Community: "public", Version: protocol.V1},
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := h.reactor.Registered(); len(got) != 2 {
		t.Fatalf("Registered() = %v, want two sockets", got)
	}

	slow, _ := h.session.Get(".1.3.6.1.2.1.1.1.0")
	slowID := h.engine.last().id
	fast, _ := other.GetNext(".1.3.6.1.2.1.1")
	fastID := h.engine.last().id

	h.engine.respond(fastID, &protocol.PDU{VarBinds: []protocol.VarBind{octets(".1.3.6.1.2.1.1.1.0", "b")}})
	h.reactor.RunPending()
	if !fast.Resolved() || slow.Resolved() {
		t.Fatal("completions did not resolve in delivery order")
	}

	h.engine.respond(slowID, &protocol.PDU{VarBinds: []protocol.VarBind{octets(".1.3.6.1.2.1.1.1.0", "a")}})
	h.reactor.RunPending()
	if !slow.Resolved() {
		t.Error("slow completion not resolved")
	}

	other.Close()
	if got := h.reactor.Registered(); len(got) != 1 || got[0] != 10 {
		t.Errorf("Registered() = %v, want [10]", got)
	}
}

func TestAccessors(t *testing.T) {
	h := newHarness(t)
	s := h.session

	if s.Peer() != "192.0.2.10" || s.Community() != "public" || s.Version() != protocol.V2c {
		t.Errorf("accessors = %s %s %v", s.Peer(), s.Community(), s.Version())
	}

	s.SetCommunity("private")
	if err := s.SetVersion(1); err != nil {
		t.Fatalf("SetVersion(1) error = %v", err)
	}
	if err := s.SetVersion(3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetVersion(3) error = %v, want ErrInvalidArgument", err)
	}

	s.Get(".1.3")
	pdu := h.engine.last().pdu
	if pdu.Community != "private" || pdu.Version != protocol.V1 {
		t.Errorf("PDU community %q version %v", pdu.Community, pdu.Version)
	}

	if got, want := s.String(), "Session(host=192.0.2.10, community=***, version=1)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCompletion(t *testing.T) {
	c := newCompletion()

	if _, err := c.Result(); !errors.Is(err, ErrNotResolved) {
		t.Errorf("Result() before resolve error = %v", err)
	}

	var early error
	c.OnComplete(func(_ *varbind.Values, err error) { early = err })

	failure := &protocol.Error{Kind: protocol.KindTimeout}
	c.resolve(nil, failure)

	if early != failure {
		t.Errorf("OnComplete got %v", early)
	}
	var late error
	c.OnComplete(func(_ *varbind.Values, err error) { late = err })
	if late != failure {
		t.Errorf("late OnComplete got %v", late)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Wait(ctx); err != failure {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestCompletion_ResolveTwicePanics(t *testing.T) {
	c := newCompletion()
	c.resolve(nil, nil)

	defer func() {
		if recover() == nil {
			t.Error("second resolve did not panic")
		}
	}()
	c.resolve(nil, nil)
}

func TestCompletion_WaitContext(t *testing.T) {
	c := newCompletion()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}
