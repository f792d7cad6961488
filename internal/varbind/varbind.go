// Package varbind decodes variable bindings into application values.
package varbind

import (
	"fmt"
	"net/netip"

	"github.com/wiremaps/snmpbridge/internal/oid"
	"github.com/wiremaps/snmpbridge/internal/protocol"
)

// Decode converts a single variable binding to a Go value.
//
//	INTEGER, OpaqueI64                        -> int64
//	Counter32, Gauge32, TimeTicks, UInteger32 -> uint32
//	OCTET STRING, BIT STRING                  -> []byte
//	OBJECT IDENTIFIER                         -> string (dotted)
//	IpAddress                                 -> string (dotted quad, or IPv6 text for 16 bytes)
//	Counter64, OpaqueCounter64, OpaqueU64     -> uint64
//	OpaqueFloat, OpaqueDouble                 -> float64
//
// The exceptional markers decode to errors of kind NoSuchObject,
// NoSuchInstance and EndOfMibView. Anything else is UnknownType. A binding
// the engine flagged as malformed is MalformedValue whatever its type.
func Decode(vb protocol.VarBind) (any, error) {
	if vb.Malformed != "" {
		return nil, &protocol.Error{
			Kind:    protocol.KindMalformedValue,
			Message: fmt.Sprintf("%s: %s", oid.Format(vb.Name), vb.Malformed),
		}
	}

	switch vb.Type {
	case protocol.TagNoSuchObject:
		return nil, &protocol.Error{Kind: protocol.KindNoSuchObject, Message: oid.Format(vb.Name)}
	case protocol.TagNoSuchInstance:
		return nil, &protocol.Error{Kind: protocol.KindNoSuchInstance, Message: oid.Format(vb.Name)}
	case protocol.TagEndOfMibView:
		return nil, &protocol.Error{Kind: protocol.KindEndOfMibView, Message: oid.Format(vb.Name)}

	case protocol.TagInteger, protocol.TagOpaqueI64:
		return vb.Int, nil
	case protocol.TagCounter32, protocol.TagGauge32, protocol.TagTimeTicks, protocol.TagUInteger32:
		return vb.Uint, nil
	case protocol.TagOctetString, protocol.TagBitString:
		return vb.Bytes, nil
	case protocol.TagObjectIdentifier:
		return oid.Format(vb.OID), nil
	case protocol.TagIPAddress:
		if len(vb.Bytes) < 4 {
			return nil, &protocol.Error{
				Kind:    protocol.KindMalformedValue,
				Message: fmt.Sprintf("%s: IpAddress has %d bytes", oid.Format(vb.Name), len(vb.Bytes)),
			}
		}
		if len(vb.Bytes) == 16 {
			return netip.AddrFrom16([16]byte(vb.Bytes)).String(), nil
		}
		return netip.AddrFrom4([4]byte(vb.Bytes[:4])).String(), nil
	case protocol.TagCounter64, protocol.TagOpaqueCounter64, protocol.TagOpaqueU64:
		return uint64(vb.High)<<32 | uint64(vb.Low), nil
	case protocol.TagOpaqueFloat, protocol.TagOpaqueDouble:
		return vb.Float, nil
	}

	return nil, &protocol.Error{
		Kind:    protocol.KindUnknownType,
		Tag:     vb.Type,
		Message: fmt.Sprintf("%s: unknown type tag 0x%02x", oid.Format(vb.Name), uint8(vb.Type)),
	}
}

// DecodeAll decodes every binding of a response in order. The first failure
// fails the whole response and no partial result is returned.
//
// An endOfMibView marker ends the response once at least one value has been
// collected; the remaining bindings are ignored. If it appears before any
// value the response fails with EndOfMibView.
func DecodeAll(vbs []protocol.VarBind) (*Values, error) {
	out := NewValues(len(vbs))
	for _, vb := range vbs {
		if vb.Type == protocol.TagEndOfMibView {
			if out.Len() == 0 {
				_, err := Decode(vb)
				return nil, err
			}
			continue
		}
		v, err := Decode(vb)
		if err != nil {
			return nil, err
		}
		out.Set(oid.Format(vb.Name), v)
	}
	return out, nil
}
