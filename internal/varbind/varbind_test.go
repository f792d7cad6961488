package varbind

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wiremaps/snmpbridge/internal/oid"
	"github.com/wiremaps/snmpbridge/internal/protocol"
)

var sysDescr = oid.MustParse(".1.3.6.1.2.1.1.1.0")

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		vb   protocol.VarBind
		want any
	}{
		{"integer", protocol.VarBind{Type: protocol.TagInteger, Int: -42}, int64(-42)},
		{"counter32", protocol.VarBind{Type: protocol.TagCounter32, Uint: 4294967295}, uint32(4294967295)},
		{"gauge32", protocol.VarBind{Type: protocol.TagGauge32, Uint: 100}, uint32(100)},
		{"timeticks", protocol.VarBind{Type: protocol.TagTimeTicks, Uint: 360000}, uint32(360000)},
		{"uinteger32", protocol.VarBind{Type: protocol.TagUInteger32, Uint: 7}, uint32(7)},
		{"oid", protocol.VarBind{Type: protocol.TagObjectIdentifier, OID: oid.OID{1, 3, 6, 1, 4, 1, 8072}}, ".1.3.6.1.4.1.8072"},
		{"ip", protocol.VarBind{Type: protocol.TagIPAddress, Bytes: []byte{192, 0, 2, 1}}, "192.0.2.1"},
		{"ip extra bytes", protocol.VarBind{Type: protocol.TagIPAddress, Bytes: []byte{192, 0, 2, 1, 9}}, "192.0.2.1"},
		{"ipv6", protocol.VarBind{Type: protocol.TagIPAddress, Bytes: []byte{0x20, 0x01, 0x0d, 0xb8, 15: 1}}, "2001:db8::1"},
		{"counter64 high", protocol.VarBind{Type: protocol.TagCounter64, High: 1, Low: 0}, uint64(4294967296)},
		{"counter64 low", protocol.VarBind{Type: protocol.TagCounter64, High: 0, Low: 4294967295}, uint64(4294967295)},
		{"opaque u64", protocol.VarBind{Type: protocol.TagOpaqueU64, High: 2, Low: 1}, uint64(2<<32 | 1)},
		{"opaque i64", protocol.VarBind{Type: protocol.TagOpaqueI64, Int: -5}, int64(-5)},
		{"opaque float", protocol.VarBind{Type: protocol.TagOpaqueFloat, Float: 1.5}, 1.5},
		{"opaque double", protocol.VarBind{Type: protocol.TagOpaqueDouble, Float: 2.25}, 2.25},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.vb)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("Decode() = %v (%T), want %v (%T)", got, got, tc.want, tc.want)
			}
		})
	}
}

func TestDecode_Bytes(t *testing.T) {
	for _, tag := range []protocol.Tag{protocol.TagOctetString, protocol.TagBitString} {
		got, err := Decode(protocol.VarBind{Type: tag, Bytes: []byte("example")})
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", protocol.TagName(tag), err)
		}
		b, ok := got.([]byte)
		if !ok || !bytes.Equal(b, []byte("example")) {
			t.Errorf("Decode(%s) = %v, want []byte(\"example\")", protocol.TagName(tag), got)
		}
	}
}

func TestDecode_Failures(t *testing.T) {
	tests := []struct {
		name string
		vb   protocol.VarBind
		want protocol.Kind
	}{
		{"short ip", protocol.VarBind{Type: protocol.TagIPAddress, Bytes: []byte{10, 0, 0}}, protocol.KindMalformedValue},
		{"empty ip", protocol.VarBind{Type: protocol.TagIPAddress}, protocol.KindMalformedValue},
		{"no such object", protocol.VarBind{Type: protocol.TagNoSuchObject}, protocol.KindNoSuchObject},
		{"no such instance", protocol.VarBind{Type: protocol.TagNoSuchInstance}, protocol.KindNoSuchInstance},
		{"end of mib", protocol.VarBind{Type: protocol.TagEndOfMibView}, protocol.KindEndOfMibView},
		{"null", protocol.VarBind{Type: protocol.TagNull}, protocol.KindUnknownType},
		{"opaque raw", protocol.VarBind{Type: protocol.TagOpaque}, protocol.KindUnknownType},
		{"flagged malformed", protocol.VarBind{Type: protocol.TagInteger, Malformed: "truncated"}, protocol.KindMalformedValue},
		{"flagged wins over marker", protocol.VarBind{Type: protocol.TagEndOfMibView, Malformed: "bad name"}, protocol.KindMalformedValue},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.vb.Name = sysDescr
			_, err := Decode(tc.vb)
			if got := protocol.KindOf(err); got != tc.want {
				t.Errorf("KindOf(Decode()) = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDecode_UnknownTypeCarriesTag(t *testing.T) {
	_, err := Decode(protocol.VarBind{Name: sysDescr, Type: protocol.Tag(0x99)})
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		t.Fatalf("error %v is not *protocol.Error", err)
	}
	if perr.Tag != 0x99 {
		t.Errorf("Tag = 0x%02x, want 0x99", uint8(perr.Tag))
	}
}

func TestDecodeAll(t *testing.T) {
	vbs := []protocol.VarBind{
		{Name: sysDescr, Type: protocol.TagOctetString, Bytes: []byte("example")},
		{Name: oid.MustParse(".1.3.6.1.2.1.1.3.0"), Type: protocol.TagTimeTicks, Uint: 12345},
	}

	vals, err := DecodeAll(vbs)
	if err != nil {
		t.Fatalf("DecodeAll() error = %v", err)
	}
	if vals.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", vals.Len())
	}
	v, ok := vals.Get(".1.3.6.1.2.1.1.1.0")
	if !ok || string(v.([]byte)) != "example" {
		t.Errorf("sysDescr = %v, want example", v)
	}
	v, ok = vals.Get(".1.3.6.1.2.1.1.3.0")
	if !ok || v != uint32(12345) {
		t.Errorf("sysUpTime = %v, want 12345", v)
	}
}

func TestDecodeAll_NoPartialResults(t *testing.T) {
	vbs := []protocol.VarBind{
		{Name: sysDescr, Type: protocol.TagOctetString, Bytes: []byte("example")},
		{Name: oid.MustParse(".1.3.6.1.2.1.1.9.0"), Type: protocol.TagNoSuchInstance},
	}

	vals, err := DecodeAll(vbs)
	if !errors.Is(err, protocol.ErrNoSuchInstance) {
		t.Fatalf("DecodeAll() error = %v, want NoSuchInstance", err)
	}
	if vals != nil {
		t.Errorf("DecodeAll() returned partial values %v", vals)
	}
}

func TestDecodeAll_EndOfMibView(t *testing.T) {
	t.Run("first binding fails", func(t *testing.T) {
		vbs := []protocol.VarBind{
			{Name: sysDescr, Type: protocol.TagEndOfMibView},
		}
		_, err := DecodeAll(vbs)
		if !errors.Is(err, protocol.ErrEndOfMibView) {
			t.Errorf("DecodeAll() error = %v, want EndOfMibView", err)
		}
	})

	t.Run("after results terminates branch", func(t *testing.T) {
		vbs := []protocol.VarBind{
			{Name: oid.MustParse(".1.3.6.1.2.1.2.2.1.1.1"), Type: protocol.TagInteger, Int: 1},
			{Name: oid.MustParse(".1.3.6.1.2.1.2.2.1.1.2"), Type: protocol.TagInteger, Int: 2},
			{Name: oid.MustParse(".1.3.6.1.2.1.2.2.1.1.2"), Type: protocol.TagEndOfMibView},
			{Name: oid.MustParse(".1.3.6.1.2.1.2.2.1.1.2"), Type: protocol.TagEndOfMibView},
		}
		vals, err := DecodeAll(vbs)
		if err != nil {
			t.Fatalf("DecodeAll() error = %v", err)
		}
		if vals.Len() != 2 {
			t.Errorf("Len() = %d, want 2", vals.Len())
		}
		if v, _ := vals.Get(".1.3.6.1.2.1.2.2.1.1.2"); v != int64(2) {
			t.Errorf("value = %v, want 2 (end marker must not overwrite)", v)
		}
	})
}

func TestValues_Order(t *testing.T) {
	v := NewValues(0)
	v.Set(".1.3", 1)
	v.Set(".1.2", 2)
	v.Set(".1.3", 3)

	keys := v.Keys()
	if len(keys) != 2 || keys[0] != ".1.3" || keys[1] != ".1.2" {
		t.Errorf("Keys() = %v, want [.1.3 .1.2]", keys)
	}
	if got, _ := v.Get(".1.3"); got != 3 {
		t.Errorf("Get(.1.3) = %v, want 3", got)
	}
	if got := v.String(); got != "{.1.3: 3, .1.2: 2}" {
		t.Errorf("String() = %q", got)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{[]byte("example"), `"example"`},
		{[]byte{0x00, 0x1b, 0xff}, "0x001bff"},
		{"192.0.2.1", "192.0.2.1"},
		{uint64(4294967296), "4294967296"},
	}
	for _, tc := range tests {
		if got := FormatValue(tc.in); got != tc.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
