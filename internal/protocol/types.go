// Package protocol defines the SNMP request/response model shared by the
// engine, the session layer and the value decoder.
package protocol

import (
	"fmt"

	"github.com/wiremaps/snmpbridge/internal/oid"
)

// Version is the SNMP protocol version of a session. Only community-based
// versions are supported.
type Version int

// Supported versions, numbered the way operators write them.
const (
	V1  Version = 1
	V2c Version = 2
)

// ParseVersion validates a numeric version as written in configuration.
func ParseVersion(n int) (Version, error) {
	switch Version(n) {
	case V1, V2c:
		return Version(n), nil
	default:
		return 0, fmt.Errorf("invalid SNMP version: %d (must be 1 or 2)", n)
	}
}

// String returns the conventional version name.
func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2c:
		return "v2c"
	default:
		return fmt.Sprintf("v?(%d)", int(v))
	}
}

// Op is the kind of request carried by a PDU.
type Op uint8

// Request operations
const (
	OpGet Op = iota + 1
	OpGetNext
	OpGetBulk
)

// String returns a lowercase operation name suitable for metric labels.
func (o Op) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpGetNext:
		return "getnext"
	case OpGetBulk:
		return "getbulk"
	default:
		return "unknown"
	}
}

// ParseOp maps an operation name to an Op.
func ParseOp(s string) (Op, error) {
	switch s {
	case "get":
		return OpGet, nil
	case "getnext":
		return OpGetNext, nil
	case "getbulk":
		return OpGetBulk, nil
	default:
		return 0, fmt.Errorf("unknown operation: %q (must be get, getnext or getbulk)", s)
	}
}

// Tag is the wire type tag of a variable binding value.
type Tag uint8

// Value type tags. The application tags follow RFC 2578; the opaque
// special types follow the Net-SNMP encoding inside Opaque.
const (
	TagInteger          Tag = 0x02
	TagBitString        Tag = 0x03
	TagOctetString      Tag = 0x04
	TagNull             Tag = 0x05
	TagObjectIdentifier Tag = 0x06
	TagIPAddress        Tag = 0x40
	TagCounter32        Tag = 0x41
	TagGauge32          Tag = 0x42
	TagTimeTicks        Tag = 0x43
	TagOpaque           Tag = 0x44
	TagCounter64        Tag = 0x46
	TagUInteger32       Tag = 0x47

	TagOpaqueCounter64 Tag = 0x76
	TagOpaqueDouble    Tag = 0x79
	TagOpaqueFloat     Tag = 0x78
	TagOpaqueI64       Tag = 0x7a
	TagOpaqueU64       Tag = 0x7b

	TagNoSuchObject   Tag = 0x80
	TagNoSuchInstance Tag = 0x81
	TagEndOfMibView   Tag = 0x82
)

// TagName returns a human-readable name for a value tag.
func TagName(t Tag) string {
	switch t {
	case TagInteger:
		return "INTEGER"
	case TagBitString:
		return "BIT STRING"
	case TagOctetString:
		return "OCTET STRING"
	case TagNull:
		return "NULL"
	case TagObjectIdentifier:
		return "OBJECT IDENTIFIER"
	case TagIPAddress:
		return "IpAddress"
	case TagCounter32:
		return "Counter32"
	case TagGauge32:
		return "Gauge32"
	case TagTimeTicks:
		return "TimeTicks"
	case TagOpaque:
		return "Opaque"
	case TagCounter64:
		return "Counter64"
	case TagUInteger32:
		return "UInteger32"
	case TagOpaqueCounter64:
		return "OpaqueCounter64"
	case TagOpaqueDouble:
		return "OpaqueDouble"
	case TagOpaqueFloat:
		return "OpaqueFloat"
	case TagOpaqueI64:
		return "OpaqueI64"
	case TagOpaqueU64:
		return "OpaqueU64"
	case TagNoSuchObject:
		return "noSuchObject"
	case TagNoSuchInstance:
		return "noSuchInstance"
	case TagEndOfMibView:
		return "endOfMibView"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// VarBind is a variable binding as delivered by the engine, before
// decoding. Only the fields relevant to Type are populated.
type VarBind struct {
	Name oid.OID
	Type Tag

	Int   int64   // INTEGER, OpaqueI64
	Uint  uint32  // Counter32, Gauge32, TimeTicks, UInteger32
	High  uint32  // Counter64 and opaque 64-bit types, upper half
	Low   uint32  // Counter64 and opaque 64-bit types, lower half
	Bytes []byte  // OCTET STRING, BIT STRING, IpAddress
	OID   oid.OID // OBJECT IDENTIFIER
	Float float64 // OpaqueFloat, OpaqueDouble

	// Malformed is the reason the engine could not decode the binding.
	// Decoders must reject a binding that has one.
	Malformed string
}

// PDU is a request or response protocol data unit.
type PDU struct {
	Op        Op
	Version   Version
	Community string
	RequestID uint32

	// Response fields
	ErrorStatus int
	ErrorIndex  int

	// GETBULK fields
	NonRepeaters   int
	MaxRepetitions int

	VarBinds []VarBind
}

// NewRequest builds a request PDU with a null placeholder for every OID.
func NewRequest(op Op, oids []oid.OID) *PDU {
	p := &PDU{Op: op, VarBinds: make([]VarBind, len(oids))}
	for i, o := range oids {
		p.VarBinds[i] = VarBind{Name: o, Type: TagNull}
	}
	return p
}

// Peer identifies the remote agent of a session.
type Peer struct {
	Host      string // host, host:port or [v6]:port
	Community string
	Version   Version
}

// CallbackOp tells a dispatch callback why it was invoked.
type CallbackOp uint8

// Callback reasons
const (
	OpReceived CallbackOp = iota + 1
	OpTimedOut
)

// String returns a short name for the callback reason.
func (c CallbackOp) String() string {
	switch c {
	case OpReceived:
		return "received"
	case OpTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Callback is invoked by the engine when a response arrives for, or the
// retransmission budget is exhausted on, an outstanding request. resp is nil
// for timeouts.
type Callback func(op CallbackOp, requestID uint32, resp *PDU)
