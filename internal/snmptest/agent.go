// Package snmptest runs an in-process SNMP agent on a loopback UDP port
// for tests.
package snmptest

import (
	"bytes"
	"errors"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gosnmp/gosnmp"
)

// Handler answers a decoded request. Returning nil drops the request.
type Handler func(req *gosnmp.SnmpPacket) *gosnmp.SnmpPacket

// Agent is a UDP SNMP responder.
type Agent struct {
	conn    *net.UDPConn
	codec   *gosnmp.GoSNMP
	handler atomic.Value // Handler
	rewrite atomic.Value // func([]byte) []byte

	received atomic.Int64
	wg       sync.WaitGroup
}

// Start listens on 127.0.0.1 at a random port and serves h until the test
// ends.
func Start(t testing.TB, h Handler) *Agent {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("snmptest: listen: %v", err)
	}

	a := &Agent{conn: conn, codec: &gosnmp.GoSNMP{}}
	a.SetHandler(h)

	a.wg.Add(1)
	go a.serve()

	t.Cleanup(a.Close)
	return a
}

// Addr returns the agent's host:port.
func (a *Agent) Addr() string {
	return a.conn.LocalAddr().String()
}

// Received returns the number of requests decoded so far, including
// dropped ones.
func (a *Agent) Received() int {
	return int(a.received.Load())
}

// SetHandler replaces the request handler.
func (a *Agent) SetHandler(h Handler) {
	a.handler.Store(h)
}

// SetRewrite installs fn to edit every encoded response before it is sent,
// for producing datagrams gosnmp would never marshal.
func (a *Agent) SetRewrite(fn func([]byte) []byte) {
	a.rewrite.Store(fn)
}

// Retag returns a rewrite that replaces the tag of the first OCTET STRING
// whose content is exactly content. content must be shorter than 128 bytes.
func Retag(content []byte, tag byte) func([]byte) []byte {
	pattern := append([]byte{0x04, byte(len(content))}, content...)
	return func(out []byte) []byte {
		if i := bytes.Index(out, pattern); i >= 0 {
			out[i] = tag
		}
		return out
	}
}

// Close stops the agent.
func (a *Agent) Close() {
	a.conn.Close()
	a.wg.Wait()
}

func (a *Agent) serve() {
	defer a.wg.Done()

	buf := make([]byte, 65535)
	for {
		n, from, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		req, err := a.codec.SnmpDecodePacket(buf[:n])
		if err != nil {
			continue
		}
		a.received.Add(1)

		h, _ := a.handler.Load().(Handler)
		if h == nil {
			continue
		}
		resp := h(req)
		if resp == nil {
			continue
		}
		out, err := resp.MarshalMsg()
		if err != nil {
			continue
		}
		if fn, _ := a.rewrite.Load().(func([]byte) []byte); fn != nil {
			out = fn(out)
		}
		a.conn.WriteToUDP(out, from)
	}
}

// Response returns a GetResponse skeleton mirroring req.
func Response(req *gosnmp.SnmpPacket, vars ...gosnmp.SnmpPDU) *gosnmp.SnmpPacket {
	return &gosnmp.SnmpPacket{
		Version:   req.Version,
		Community: req.Community,
		PDUType:   gosnmp.GetResponse,
		RequestID: req.RequestID,
		Variables: vars,
	}
}

// Drop ignores every request.
func Drop(*gosnmp.SnmpPacket) *gosnmp.SnmpPacket { return nil }

// MIB is a static set of bindings keyed by dotted OID with a leading dot.
type MIB map[string]gosnmp.SnmpPDU

// OctetString returns a binding carrying s.
func OctetString(name, s string) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Name: name, Type: gosnmp.OctetString, Value: []byte(s)}
}

// Integer returns a binding carrying n.
func Integer(name string, n int) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Name: name, Type: gosnmp.Integer, Value: n}
}

// Add stores bindings in the MIB.
func (m MIB) Add(vars ...gosnmp.SnmpPDU) MIB {
	for _, v := range vars {
		m[v.Name] = v
	}
	return m
}

// Handler answers GET, GETNEXT and GETBULK from the MIB, ordering names
// numerically. Missing GET instances yield noSuchInstance and walking off
// the end yields endOfMibView. Requests with another community are
// dropped unless community is empty.
func (m MIB) Handler(community string) Handler {
	return func(req *gosnmp.SnmpPacket) *gosnmp.SnmpPacket {
		if community != "" && req.Community != community {
			return nil
		}
		switch req.PDUType {
		case gosnmp.GetRequest:
			return Response(req, m.get(req.Variables)...)
		case gosnmp.GetNextRequest:
			return Response(req, m.next(req.Variables)...)
		case gosnmp.GetBulkRequest:
			return Response(req, m.bulk(req)...)
		}
		return nil
	}
}

func (m MIB) get(vars []gosnmp.SnmpPDU) []gosnmp.SnmpPDU {
	out := make([]gosnmp.SnmpPDU, 0, len(vars))
	for _, v := range vars {
		if b, ok := m[v.Name]; ok {
			out = append(out, b)
			continue
		}
		out = append(out, gosnmp.SnmpPDU{Name: v.Name, Type: gosnmp.NoSuchInstance})
	}
	return out
}

func (m MIB) sorted() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return lessOID(names[i], names[j]) })
	return names
}

func (m MIB) successor(names []string, name string) (gosnmp.SnmpPDU, bool) {
	for _, n := range names {
		if lessOID(name, n) {
			return m[n], true
		}
	}
	return gosnmp.SnmpPDU{}, false
}

func (m MIB) next(vars []gosnmp.SnmpPDU) []gosnmp.SnmpPDU {
	names := m.sorted()
	out := make([]gosnmp.SnmpPDU, 0, len(vars))
	for _, v := range vars {
		if b, ok := m.successor(names, v.Name); ok {
			out = append(out, b)
			continue
		}
		out = append(out, gosnmp.SnmpPDU{Name: v.Name, Type: gosnmp.EndOfMibView})
	}
	return out
}

func (m MIB) bulk(req *gosnmp.SnmpPacket) []gosnmp.SnmpPDU {
	names := m.sorted()
	nonRep := int(req.NonRepeaters)
	if nonRep > len(req.Variables) {
		nonRep = len(req.Variables)
	}

	out := m.next(req.Variables[:nonRep])
	cursors := make([]string, 0, len(req.Variables)-nonRep)
	for _, v := range req.Variables[nonRep:] {
		cursors = append(cursors, v.Name)
	}
	for r := 0; r < int(req.MaxRepetitions); r++ {
		for i, c := range cursors {
			b, ok := m.successor(names, c)
			if !ok {
				out = append(out, gosnmp.SnmpPDU{Name: c, Type: gosnmp.EndOfMibView})
				continue
			}
			out = append(out, b)
			cursors[i] = b.Name
		}
	}
	return out
}

// lessOID orders dotted OIDs numerically component by component.
func lessOID(a, b string) bool {
	as := strings.Split(strings.TrimPrefix(a, "."), ".")
	bs := strings.Split(strings.TrimPrefix(b, "."), ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		if len(as[i]) != len(bs[i]) {
			return len(as[i]) < len(bs[i])
		}
		return as[i] < bs[i]
	}
	return len(as) < len(bs)
}
