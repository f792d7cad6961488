package engine

import (
	"errors"
	"fmt"

	"github.com/wiremaps/snmpbridge/internal/oid"
)

// BER identifier octets used by the scanner.
const (
	berInteger  = 0x02
	berOctets   = 0x04
	berOID      = 0x06
	berSequence = 0x30
)

// rawMessage is the outline of an SNMP v1/v2c message read straight from
// the BER encoding. gosnmp classifies values before handing them over, so
// this keeps what it discards: the raw tag byte and content octets of every
// binding, including those it refused to decode.
type rawMessage struct {
	version     int
	community   string
	pduTag      byte
	requestID   uint32
	errorStatus int
	errorIndex  int
	bindings    []rawBinding
}

type rawBinding struct {
	name    oid.OID
	nameErr error
	tag     byte
	value   []byte
}

var errTruncated = errors.New("truncated")

// readTLV splits one element off b. Long-form lengths are accepted in any
// width; the indefinite form is not used by SNMP.
func readTLV(b []byte) (tag byte, content, rest []byte, err error) {
	if len(b) < 2 {
		return 0, nil, nil, errTruncated
	}
	tag = b[0]
	if tag&0x1f == 0x1f {
		return 0, nil, nil, fmt.Errorf("multi-byte tag 0x%02x", tag)
	}

	length, off := int(b[1]), 2
	if length&0x80 != 0 {
		n := length & 0x7f
		if n == 0 || n > 4 {
			return 0, nil, nil, fmt.Errorf("unsupported length form 0x%02x", b[1])
		}
		if len(b) < off+n {
			return 0, nil, nil, errTruncated
		}
		length = 0
		for _, c := range b[off : off+n] {
			length = length<<8 | int(c)
		}
		off += n
	}
	if length < 0 || len(b)-off < length {
		return 0, nil, nil, errTruncated
	}
	return tag, b[off : off+length], b[off+length:], nil
}

// expect reads one element and checks its tag.
func expect(b []byte, want byte, what string) ([]byte, []byte, error) {
	tag, content, rest, err := readTLV(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", what, err)
	}
	if tag != want {
		return nil, nil, fmt.Errorf("%s: tag 0x%02x, want 0x%02x", what, tag, want)
	}
	return content, rest, nil
}

func readInt(b []byte, what string) (int64, []byte, error) {
	content, rest, err := expect(b, berInteger, what)
	if err != nil {
		return 0, nil, err
	}
	if len(content) == 0 || len(content) > 8 {
		return 0, nil, fmt.Errorf("%s: %d-byte integer", what, len(content))
	}
	v := int64(int8(content[0]))
	for _, c := range content[1:] {
		v = v<<8 | int64(c)
	}
	return v, rest, nil
}

// scanMessage walks the message envelope and the variable binding list.
func scanMessage(data []byte) (*rawMessage, error) {
	body, _, err := expect(data, berSequence, "message")
	if err != nil {
		return nil, err
	}
	version, body, err := readInt(body, "version")
	if err != nil {
		return nil, err
	}
	community, body, err := expect(body, berOctets, "community")
	if err != nil {
		return nil, err
	}

	pduTag, pdu, _, err := readTLV(body)
	if err != nil {
		return nil, fmt.Errorf("pdu: %w", err)
	}
	if pduTag&0xe0 != 0xa0 {
		return nil, fmt.Errorf("pdu: tag 0x%02x is not a PDU", pduTag)
	}

	m := &rawMessage{version: int(version), community: string(community), pduTag: pduTag}
	var id, status, index int64
	if id, pdu, err = readInt(pdu, "request-id"); err != nil {
		return nil, err
	}
	if status, pdu, err = readInt(pdu, "error-status"); err != nil {
		return nil, err
	}
	if index, pdu, err = readInt(pdu, "error-index"); err != nil {
		return nil, err
	}
	m.requestID = uint32(id)
	m.errorStatus, m.errorIndex = int(status), int(index)

	vbl, _, err := expect(pdu, berSequence, "bindings")
	if err != nil {
		return nil, err
	}
	for len(vbl) > 0 {
		what := fmt.Sprintf("binding %d", len(m.bindings)+1)

		var (
			vb, name, value []byte
			tag             byte
		)
		if vb, vbl, err = expect(vbl, berSequence, what); err != nil {
			return nil, err
		}
		if name, vb, err = expect(vb, berOID, what+" name"); err != nil {
			return nil, err
		}
		if tag, value, _, err = readTLV(vb); err != nil {
			return nil, fmt.Errorf("%s value: %w", what, err)
		}

		b := rawBinding{tag: tag, value: value}
		b.name, b.nameErr = decodeOID(name)
		m.bindings = append(m.bindings, b)
	}
	return m, nil
}

// decodeOID decodes the content octets of an OBJECT IDENTIFIER.
func decodeOID(b []byte) (oid.OID, error) {
	if len(b) == 0 {
		return nil, errors.New("empty OBJECT IDENTIFIER")
	}

	var (
		out  oid.OID
		cur  uint64
		more bool
	)
	for _, c := range b {
		cur = cur<<7 | uint64(c&0x7f)
		if cur > 0xffffffff+80 {
			return nil, errors.New("OBJECT IDENTIFIER component overflows 32 bits")
		}
		if more = c&0x80 != 0; more {
			continue
		}
		switch {
		case out != nil:
			if cur > 0xffffffff {
				return nil, errors.New("OBJECT IDENTIFIER component overflows 32 bits")
			}
			out = append(out, uint32(cur))
		// The first subidentifier packs the first two components.
		case cur < 40:
			out = oid.OID{0, uint32(cur)}
		case cur < 80:
			out = oid.OID{1, uint32(cur - 40)}
		default:
			out = oid.OID{2, uint32(cur - 80)}
		}
		cur = 0
	}
	if more {
		return nil, errors.New("truncated OBJECT IDENTIFIER")
	}
	if len(out) > oid.MaxLen {
		return nil, fmt.Errorf("OBJECT IDENTIFIER has %d components, limit is %d", len(out), oid.MaxLen)
	}
	return out, nil
}
