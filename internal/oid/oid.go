// Package oid converts SNMP object identifiers between their dotted-numeric
// text form and the sub-identifier sequence carried on the wire.
package oid

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxLen is the maximum number of sub-identifiers in an OID, matching the
// wire limit of the SNMP engine.
const MaxLen = 128

// OID is a sequence of numeric sub-identifiers.
type OID []uint32

// SyntaxError reports a text OID that could not be parsed.
type SyntaxError struct {
	Text   string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("malformed OID %q: %s", e.Text, e.Reason)
}

// Parse converts dotted text such as ".1.3.6.1.2.1.1.1.0" into an OID.
// A single leading dot is optional. Every component must be a non-negative
// decimal integer that fits in 32 bits.
func Parse(text string) (OID, error) {
	s := strings.TrimPrefix(text, ".")
	if s == "" {
		return nil, &SyntaxError{Text: text, Reason: "no components"}
	}

	parts := strings.Split(s, ".")
	if len(parts) > MaxLen {
		return nil, &SyntaxError{
			Text:   text,
			Reason: fmt.Sprintf("%d components exceeds maximum of %d", len(parts), MaxLen),
		}
	}

	out := make(OID, len(parts))
	for i, p := range parts {
		if p == "" {
			return nil, &SyntaxError{Text: text, Reason: fmt.Sprintf("component %d is empty", i)}
		}
		// ParseUint accepts a leading '+', which is never valid here.
		if p[0] < '0' || p[0] > '9' {
			return nil, &SyntaxError{Text: text, Reason: fmt.Sprintf("component %d (%q) is not a number", i, p)}
		}
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, &SyntaxError{Text: text, Reason: fmt.Sprintf("component %d (%q) is not a valid sub-identifier", i, p)}
		}
		out[i] = uint32(v)
	}
	return out, nil
}

// MustParse is like Parse but panics on error. Intended for constants.
func MustParse(text string) OID {
	o, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return o
}

// Format renders an OID as "." followed by its components joined by ".".
func Format(o OID) string {
	var b strings.Builder
	b.Grow(len(o) * 4)
	if len(o) == 0 {
		return "."
	}
	for _, c := range o {
		b.WriteByte('.')
		b.WriteString(strconv.FormatUint(uint64(c), 10))
	}
	return b.String()
}

// String implements fmt.Stringer.
func (o OID) String() string {
	return Format(o)
}

// Equal reports whether two OIDs have identical components.
func (o OID) Equal(other OID) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a leading subsequence of o.
func (o OID) HasPrefix(prefix OID) bool {
	if len(prefix) > len(o) {
		return false
	}
	return o[:len(prefix)].Equal(prefix)
}
