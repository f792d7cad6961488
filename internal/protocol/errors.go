package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a request failure.
type Kind int

// Failure kinds
const (
	KindUnknown Kind = iota
	KindMalformedOID
	KindConnect
	KindSessionClosed
	KindTimeout
	KindSendFailed

	// Protocol error-status kinds (RFC 1157 / RFC 3416)
	KindTooBig
	KindNoSuchName
	KindBadValue
	KindReadOnly
	KindGenErr
	KindNoAccess
	KindWrongType
	KindWrongLength
	KindWrongEncoding
	KindWrongValue
	KindNoCreation
	KindInconsistentValue
	KindResourceUnavailable
	KindCommitFailed
	KindUndoFailed
	KindAuthorizationError
	KindNotWritable
	KindInconsistentName
	KindUnknownErrorStatus

	// Exceptional values and decode failures
	KindNoSuchObject
	KindNoSuchInstance
	KindEndOfMibView
	KindMalformedValue
	KindUnknownType
)

var kindNames = map[Kind]string{
	KindUnknown:             "Unknown",
	KindMalformedOID:        "MalformedOid",
	KindConnect:             "ConnectError",
	KindSessionClosed:       "SessionClosed",
	KindTimeout:             "Timeout",
	KindSendFailed:          "SendFailed",
	KindTooBig:              "TooBig",
	KindNoSuchName:          "NoSuchName",
	KindBadValue:            "BadValue",
	KindReadOnly:            "ReadOnly",
	KindGenErr:              "GenErr",
	KindNoAccess:            "NoAccess",
	KindWrongType:           "WrongType",
	KindWrongLength:         "WrongLength",
	KindWrongEncoding:       "WrongEncoding",
	KindWrongValue:          "WrongValue",
	KindNoCreation:          "NoCreation",
	KindInconsistentValue:   "InconsistentValue",
	KindResourceUnavailable: "ResourceUnavailable",
	KindCommitFailed:        "CommitFailed",
	KindUndoFailed:          "UndoFailed",
	KindAuthorizationError:  "AuthorizationError",
	KindNotWritable:         "NotWritable",
	KindInconsistentName:    "InconsistentName",
	KindUnknownErrorStatus:  "UnknownErrorStatus",
	KindNoSuchObject:        "NoSuchObject",
	KindNoSuchInstance:      "NoSuchInstance",
	KindEndOfMibView:        "EndOfMibView",
	KindMalformedValue:      "MalformedValue",
	KindUnknownType:         "UnknownType",
}

// String returns the symbolic failure name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// errorStatusEntry maps a protocol error-status code to its failure kind.
type errorStatusEntry struct {
	kind Kind
	text string
}

// errorTable is indexed by error-status code. Index 0 (noError) is unused.
var errorTable = [...]errorStatusEntry{
	1:  {KindTooBig, "(tooBig) Response message would have been too large."},
	2:  {KindNoSuchName, "(noSuchName) There is no such variable name in this MIB."},
	3:  {KindBadValue, "(badValue) The value given has the wrong type or length."},
	4:  {KindReadOnly, "(readOnly) The two parties used do not have access to use the specified SNMP PDU."},
	5:  {KindGenErr, "(genError) A general failure occured"},
	6:  {KindNoAccess, "noAccess"},
	7:  {KindWrongType, "wrongType (The set datatype does not match the data type the agent expects)"},
	8:  {KindWrongLength, "wrongLength (The set value has an illegal length from what the agent expects)"},
	9:  {KindWrongEncoding, "wrongEncoding"},
	10: {KindWrongValue, "wrongValue (The set value is illegal or unsupported in some way)"},
	11: {KindNoCreation, "noCreation (That table does not support row creation or that object can not ever be created)"},
	12: {KindInconsistentValue, "inconsistentValue (The set value is illegal or unsupported in some way)"},
	13: {KindResourceUnavailable, "resourceUnavailable (This is likely a out-of-memory failure within the agent)"},
	14: {KindCommitFailed, "commitFailed"},
	15: {KindUndoFailed, "undoFailed"},
	16: {KindAuthorizationError, "authorizationError (access denied to that object)"},
	17: {KindNotWritable, "notWritable (That object does not support modification)"},
	18: {KindInconsistentName, "inconsistentName (That object can not currently be created)"},
}

// LookupErrorStatus returns the failure kind and description for a non-zero
// error-status code. ok is false when the code has no table entry.
func LookupErrorStatus(status int) (kind Kind, text string, ok bool) {
	if status <= 0 || status >= len(errorTable) {
		return KindUnknownErrorStatus, "", false
	}
	e := errorTable[status]
	return e.kind, e.text, true
}

// Error is a request failure. Kind selects the taxonomy entry; the other
// fields carry kind-specific detail.
type Error struct {
	Kind    Kind
	Message string

	Status int // error-status for protocol error kinds
	Index  int // error-index for protocol error kinds
	Tag    Tag // raw tag for KindUnknownType

	Err error // underlying cause, if any
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// StatusError maps a non-zero response error-status through the error
// table. Codes without an entry yield KindUnknownErrorStatus carrying the
// raw code.
func StatusError(status, index int) *Error {
	kind, text, ok := LookupErrorStatus(status)
	if !ok {
		return &Error{
			Kind:    KindUnknownErrorStatus,
			Message: fmt.Sprintf("unknown error %d", status),
			Status:  status,
			Index:   index,
		}
	}
	return &Error{Kind: kind, Message: text, Status: status, Index: index}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return "snmp: " + e.Kind.String()
	}
	return fmt.Sprintf("snmp: %s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the package sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrMalformedOID   = &Error{Kind: KindMalformedOID}
	ErrConnect        = &Error{Kind: KindConnect}
	ErrSessionClosed  = &Error{Kind: KindSessionClosed}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrSendFailed     = &Error{Kind: KindSendFailed}
	ErrNoSuchName     = &Error{Kind: KindNoSuchName}
	ErrNoSuchObject   = &Error{Kind: KindNoSuchObject}
	ErrNoSuchInstance = &Error{Kind: KindNoSuchInstance}
	ErrEndOfMibView   = &Error{Kind: KindEndOfMibView}
	ErrMalformedValue = &Error{Kind: KindMalformedValue}
	ErrUnknownType    = &Error{Kind: KindUnknownType}
)

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsProtocolStatus reports whether k is one of the error-status kinds.
func IsProtocolStatus(k Kind) bool {
	return k >= KindTooBig && k <= KindUnknownErrorStatus
}
