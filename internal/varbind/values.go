package varbind

import (
	"fmt"
	"strings"
)

// Values is an insertion-ordered mapping from dotted OID name to decoded
// value. Setting an existing name replaces its value in place.
type Values struct {
	keys []string
	m    map[string]any
}

// NewValues returns an empty mapping sized for n entries.
func NewValues(n int) *Values {
	return &Values{
		keys: make([]string, 0, n),
		m:    make(map[string]any, n),
	}
}

// Set stores v under name.
func (v *Values) Set(name string, val any) {
	if _, ok := v.m[name]; !ok {
		v.keys = append(v.keys, name)
	}
	v.m[name] = val
}

// Get returns the value stored under name.
func (v *Values) Get(name string) (any, bool) {
	if v == nil {
		return nil, false
	}
	val, ok := v.m[name]
	return val, ok
}

// Len returns the number of entries.
func (v *Values) Len() int {
	if v == nil {
		return 0
	}
	return len(v.keys)
}

// Keys returns the names in response order.
func (v *Values) Keys() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Range calls fn for each entry in response order until fn returns false.
func (v *Values) Range(fn func(name string, val any) bool) {
	if v == nil {
		return
	}
	for _, k := range v.keys {
		if !fn(k, v.m[k]) {
			return
		}
	}
}

// Map returns an unordered copy.
func (v *Values) Map() map[string]any {
	out := make(map[string]any, v.Len())
	v.Range(func(name string, val any) bool {
		out[name] = val
		return true
	})
	return out
}

func (v *Values) String() string {
	var b strings.Builder
	b.WriteByte('{')
	v.Range(func(name string, val any) bool {
		if b.Len() > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", name, FormatValue(val))
		return true
	})
	b.WriteByte('}')
	return b.String()
}

// FormatValue renders a decoded value for display. Byte strings are shown
// as text when printable, otherwise as hex.
func FormatValue(val any) string {
	switch x := val.(type) {
	case []byte:
		if isPrintable(x) {
			return fmt.Sprintf("%q", x)
		}
		return fmt.Sprintf("0x%x", x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' || c > 0x7e {
			return false
		}
	}
	return true
}
