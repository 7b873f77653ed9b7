package dbus

import "fmt"

// Kind identifies the category of a [Error], as enumerated in the DBus core
// error taxonomy: invalid signatures, malformed addresses, failed
// authentication, and so on.
type Kind int

const (
	_ Kind = iota
	// KindInvalidSignature means a signature string failed to parse.
	KindInvalidSignature
	// KindSignatureBodyMismatch means a value did not type-check against a
	// signature.
	KindSignatureBodyMismatch
	// KindInvalidAddress means a DBus server address string was malformed.
	KindInvalidAddress
	// KindAuthFailed means the SASL handshake failed or exhausted all
	// mechanisms.
	KindAuthFailed
	// KindInvalidMessage means a received message violated the wire format
	// or the required-header-fields matrix.
	KindInvalidMessage
	// KindInvalidIntrospection means introspection XML could not be
	// interpreted into a ProxyInterface.
	KindInvalidIntrospection
	// KindInvalidBusName means a bus name failed validation.
	KindInvalidBusName
	// KindInvalidObjectPath means an object path failed validation.
	KindInvalidObjectPath
	// KindInvalidInterfaceName means an interface name failed validation.
	KindInvalidInterfaceName
	// KindInvalidMemberName means a method, signal, or property name failed
	// validation.
	KindInvalidMemberName
	// KindInterfaceNotFound means a proxy or object-tree lookup found no
	// matching interface.
	KindInterfaceNotFound
	// KindSignalDisabled means a signal handle was used after its match
	// rule was removed.
	KindSignalDisabled
	// KindTransport means the underlying transport failed to read or write.
	KindTransport
	// KindDisconnected means the operation was attempted on, or failed
	// because of, a disconnected Conn.
	KindDisconnected
	// KindRemoteDBusError means a remote peer replied with an ERROR
	// message; see [Error.Name] and [Error.Body].
	KindRemoteDBusError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidSignature:
		return "InvalidSignature"
	case KindSignatureBodyMismatch:
		return "SignatureBodyMismatch"
	case KindInvalidAddress:
		return "InvalidAddress"
	case KindAuthFailed:
		return "AuthFailed"
	case KindInvalidMessage:
		return "InvalidMessage"
	case KindInvalidIntrospection:
		return "InvalidIntrospection"
	case KindInvalidBusName:
		return "InvalidBusName"
	case KindInvalidObjectPath:
		return "InvalidObjectPath"
	case KindInvalidInterfaceName:
		return "InvalidInterfaceName"
	case KindInvalidMemberName:
		return "InvalidMemberName"
	case KindInterfaceNotFound:
		return "InterfaceNotFound"
	case KindSignalDisabled:
		return "SignalDisabled"
	case KindTransport:
		return "Transport"
	case KindDisconnected:
		return "Disconnected"
	case KindRemoteDBusError:
		return "RemoteDBusError"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by every failure mode described in
// spec.md §7. Callers that care about a specific failure should switch on
// [Error.Kind] rather than matching error strings.
type Error struct {
	Kind Kind
	// Name is the DBus error name, populated only for KindRemoteDBusError
	// (e.g. "org.freedesktop.DBus.Error.UnknownMethod").
	Name string
	// Body carries the remote ERROR message's body, populated only for
	// KindRemoteDBusError. By convention the first body value, if a string,
	// is a human-readable detail message.
	Body []any
	// Reason is the underlying cause, if any.
	Reason error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRemoteDBusError:
		if len(e.Body) > 0 {
			if s, ok := e.Body[0].(string); ok {
				return fmt.Sprintf("%s: %s", e.Name, s)
			}
		}
		return e.Name
	default:
		if e.Reason != nil {
			return fmt.Sprintf("dbus: %s: %s", e.Kind, e.Reason)
		}
		return fmt.Sprintf("dbus: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Reason }

func newErr(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Reason: fmt.Errorf(format, args...)}
}

// remoteErr constructs a KindRemoteDBusError for a received ERROR message.
func remoteErr(name string, body []any) *Error {
	return &Error{Kind: KindRemoteDBusError, Name: name, Body: body}
}

// Well-known DBus error names emitted by the bus core (spec.md §6).
const (
	ErrUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	ErrUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	ErrInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrPropertyReadOnly = "org.freedesktop.DBus.Error.PropertyReadOnly"
	ErrFailed           = "org.freedesktop.DBus.Error.Failed"
	ErrDisconnected     = "org.freedesktop.DBus.Error.Disconnected"
	ErrNoReply          = "org.freedesktop.DBus.Error.NoReply"
	ErrTimedOut         = "org.freedesktop.DBus.Error.TimedOut"
	ErrAccessDenied     = "org.freedesktop.DBus.Error.AccessDenied"
)

// RemoteError is the error applications raise from a method handler to
// control the ERROR name and body sent back to the caller. Any other error
// returned from a handler is mapped to [ErrFailed] with the error's message
// text, per spec.md §7.
type RemoteError struct {
	Name string
	Body []any
}

func (e *RemoteError) Error() string {
	if len(e.Body) > 0 {
		if s, ok := e.Body[0].(string); ok {
			return fmt.Sprintf("%s: %s", e.Name, s)
		}
	}
	return e.Name
}
