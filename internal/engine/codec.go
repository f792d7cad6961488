package engine

import (
	"fmt"
	"net/netip"

	"github.com/gosnmp/gosnmp"

	"github.com/wiremaps/snmpbridge/internal/oid"
	"github.com/wiremaps/snmpbridge/internal/protocol"
)

var pduTypes = map[protocol.Op]gosnmp.PDUType{
	protocol.OpGet:     gosnmp.GetRequest,
	protocol.OpGetNext: gosnmp.GetNextRequest,
	protocol.OpGetBulk: gosnmp.GetBulkRequest,
}

// encodeRequest builds the wire form of a request.
func encodeRequest(peer protocol.Peer, id uint32, pdu *protocol.PDU) ([]byte, error) {
	pduType, ok := pduTypes[pdu.Op]
	if !ok {
		return nil, fmt.Errorf("unsupported operation %v", pdu.Op)
	}

	pkt := &gosnmp.SnmpPacket{
		Version:   wireVersion(peer.Version),
		Community: peer.Community,
		PDUType:   pduType,
		RequestID: id,
		Variables: make([]gosnmp.SnmpPDU, len(pdu.VarBinds)),
	}
	if pdu.Op == protocol.OpGetBulk {
		if pdu.NonRepeaters < 0 || pdu.NonRepeaters > 255 {
			return nil, fmt.Errorf("non-repeaters %d out of range", pdu.NonRepeaters)
		}
		if pdu.MaxRepetitions < 0 {
			return nil, fmt.Errorf("max-repetitions %d out of range", pdu.MaxRepetitions)
		}
		pkt.NonRepeaters = uint8(pdu.NonRepeaters)
		pkt.MaxRepetitions = uint32(pdu.MaxRepetitions)
	}
	for i, vb := range pdu.VarBinds {
		pkt.Variables[i] = gosnmp.SnmpPDU{
			Name: oid.Format(vb.Name),
			Type: gosnmp.Null,
		}
	}

	return pkt.MarshalMsg()
}

func wireVersion(v protocol.Version) gosnmp.SnmpVersion {
	if v == protocol.V1 {
		return gosnmp.Version1
	}
	return gosnmp.Version2c
}

func protocolVersion(v gosnmp.SnmpVersion) protocol.Version {
	if v == gosnmp.Version1 {
		return protocol.V1
	}
	return protocol.V2c
}

// salvageable reports whether a packet gosnmp rejected can still be
// delivered: either the scan found the binding gosnmp stopped at, or the
// agent sent an error-status with an empty binding list.
func salvageable(pkt *gosnmp.SnmpPacket, raw *rawMessage) bool {
	if raw == nil || raw.pduTag != byte(gosnmp.GetResponse) {
		return false
	}
	if raw.version != int(gosnmp.Version1) && raw.version != int(gosnmp.Version2c) {
		return false
	}
	if len(raw.bindings) == 0 {
		return raw.errorStatus != 0
	}
	return len(pkt.Variables) < len(raw.bindings)
}

// decodeResponse converts a decoded GetResponse into the protocol model.
// raw, when present, supplies what gosnmp drops. If gosnmp stopped early
// with failure, the binding it stopped at is carried as malformed.
func decodeResponse(pkt *gosnmp.SnmpPacket, raw *rawMessage, failure error, op protocol.Op) *protocol.PDU {
	resp := &protocol.PDU{
		Op:          op,
		Version:     protocolVersion(pkt.Version),
		Community:   pkt.Community,
		RequestID:   pkt.RequestID,
		ErrorStatus: int(pkt.Error),
		ErrorIndex:  int(pkt.ErrorIndex),
		VarBinds:    make([]protocol.VarBind, 0, len(pkt.Variables)+1),
	}

	var bindings []rawBinding
	if raw != nil && len(raw.bindings) >= len(pkt.Variables) {
		bindings = raw.bindings
	}
	for i, v := range pkt.Variables {
		var rb *rawBinding
		if i < len(bindings) {
			rb = &bindings[i]
		}
		resp.VarBinds = append(resp.VarBinds, convertVariable(v, rb))
	}
	if failure != nil && len(pkt.Variables) < len(bindings) {
		resp.VarBinds = append(resp.VarBinds, bindings[len(pkt.Variables)].malformed(failure))
	}
	return resp
}

// malformed builds a binding the decoder will reject with reason.
func (b rawBinding) malformed(reason error) protocol.VarBind {
	vb := protocol.VarBind{
		Name:      b.name,
		Type:      protocol.Tag(b.tag),
		Bytes:     b.value,
		Malformed: reason.Error(),
	}
	if b.nameErr != nil {
		vb.Malformed = fmt.Sprintf("variable name: %v", b.nameErr)
	}
	return vb
}

// convertVariable maps a gosnmp binding to a VarBind. gosnmp has already
// interpreted the value, so this mostly moves it into the typed fields the
// decoder reads. rb is the same binding as scanned from the wire, or nil.
func convertVariable(v gosnmp.SnmpPDU, rb *rawBinding) protocol.VarBind {
	vb := protocol.VarBind{Type: protocol.Tag(v.Type)}
	if v.Type == gosnmp.UnknownType && rb != nil {
		vb.Type = protocol.Tag(rb.tag)
	}

	name, err := oid.Parse(v.Name)
	if err != nil {
		vb.Malformed = fmt.Sprintf("variable name: %v", err)
		return vb
	}
	vb.Name = name

	switch v.Type {
	case gosnmp.Integer:
		vb.Int = toInt64(v.Value)
	case gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Uinteger32:
		vb.Uint = uint32(toUint64(v.Value))
	case gosnmp.Counter64:
		u := toUint64(v.Value)
		vb.High, vb.Low = uint32(u>>32), uint32(u)
	case gosnmp.OctetString, gosnmp.BitString, gosnmp.Opaque:
		vb.Bytes, _ = v.Value.([]byte)
	case gosnmp.ObjectIdentifier:
		if s, ok := v.Value.(string); ok {
			if vb.OID, err = oid.Parse(s); err != nil {
				vb.Malformed = fmt.Sprintf("OBJECT IDENTIFIER value: %v", err)
			}
		}
	case gosnmp.IPAddress:
		// The wire octets are authoritative; gosnmp only keeps text.
		if rb != nil && rb.tag == byte(gosnmp.IPAddress) {
			vb.Bytes = rb.value
		} else if s, ok := v.Value.(string); ok {
			if ip, err := netip.ParseAddr(s); err == nil {
				vb.Bytes = ip.AsSlice()
			}
		}
	case gosnmp.OpaqueFloat:
		if f, ok := v.Value.(float32); ok {
			vb.Float = float64(f)
		}
	case gosnmp.OpaqueDouble:
		if f, ok := v.Value.(float64); ok {
			vb.Float = f
		}
	}
	return vb
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	}
	return 0
}

func toUint64(v any) uint64 {
	switch x := v.(type) {
	case uint:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	case int:
		return uint64(x)
	case int64:
		return uint64(x)
	}
	return 0
}
