package dbus

import (
	"fmt"
	"os"

	"github.com/quietwire/dbus/fragments"
)

// MessageType identifies the kind of a DBus message (spec.md §4.F).
type MessageType byte

const (
	_ MessageType = iota
	TypeMethodCall
	TypeMethodReturn
	TypeError
	TypeSignal
)

func (t MessageType) String() string {
	switch t {
	case TypeMethodCall:
		return "MethodCall"
	case TypeMethodReturn:
		return "MethodReturn"
	case TypeError:
		return "Error"
	case TypeSignal:
		return "Signal"
	default:
		return fmt.Sprintf("MessageType(%d)", byte(t))
	}
}

// Flags is the DBus message flags byte.
type Flags byte

const (
	// FlagNoReplyExpected means the sender will not wait for, and does not
	// want, a METHOD_RETURN or ERROR reply.
	FlagNoReplyExpected Flags = 1 << iota
	// FlagNoAutoStart means the bus should not launch an owner for the
	// destination name if none is currently running.
	FlagNoAutoStart
	// FlagAllowInteractiveAuthorization means the sender is prepared to
	// wait for an interactive authorization prompt, if one is needed.
	FlagAllowInteractiveAuthorization
)

// Header field codes, as assigned by the DBus wire format.
const (
	fieldPath = iota + 1
	fieldInterface
	fieldMember
	fieldErrorName
	fieldReplySerial
	fieldDestination
	fieldSender
	fieldSignature
	fieldUnixFDs
)

const protocolVersion = 1

// maxMessageLength is the largest total message size (header + body) this
// implementation will send or accept, per spec.md §4.F.
const maxMessageLength = 1 << 27

// A Message is one DBus protocol data unit: a header plus an optional body.
// Message is the representation shared by the marshaller/unmarshaller and
// the bus core; application code normally deals with it only when using the
// low-level [Conn.SendMessage] / [Conn.CallMessage] escape hatch.
type Message struct {
	Type  MessageType
	Flags Flags

	// Serial is this message's own serial number. Assigned by [Conn] for
	// outgoing messages; must be non-zero once sent.
	Serial uint32

	// Path, Interface, Member identify the call or signal. Path and
	// Interface are the source object/interface for a signal.
	Path      ObjectPath
	Interface string
	Member    string

	// ErrorName is the error name, for Type == TypeError.
	ErrorName string

	// ReplySerial is the serial this message replies to, for
	// TypeMethodReturn and TypeError.
	ReplySerial uint32

	Destination string
	Sender      string

	// Signature is the signature of Body. [Message.Encode] does not infer
	// it from Body: a message with a non-empty Body and an empty Signature
	// fails to encode.
	Signature string
	Body      []any

	// UnixFDs holds the file descriptors carried alongside this message.
	// Body values of DBus type 'h' are indices into this slice (see
	// [Message.AttachFile]). Holding the *os.File here, rather than a bare
	// int, keeps the descriptor's finalizer from closing it out from under
	// an in-flight message.
	UnixFDs []*os.File

	// numFDs is the UNIX_FDS header field as read off the wire: the number
	// of descriptors the sender claims follow. [Conn] uses this to know how
	// many files to pull from the transport before UnixFDs is populated.
	numFDs uint32
}

// NumFDs reports the number of file descriptors this message's header
// claims, independent of how many have been attached to UnixFDs so far.
func (m *Message) NumFDs() int { return int(m.numFDs) }

// AttachFile appends f to m.UnixFDs, reusing an existing entry if f is
// already attached, and returns the [UnixFD] index to embed in the message
// body.
func (m *Message) AttachFile(f *os.File) UnixFD {
	for i, existing := range m.UnixFDs {
		if existing == f {
			return UnixFD(i)
		}
	}
	m.UnixFDs = append(m.UnixFDs, f)
	return UnixFD(len(m.UnixFDs) - 1)
}

// File returns the file attached at index fd, or nil if out of range.
func (m *Message) File(fd UnixFD) *os.File {
	if int(fd) < 0 || int(fd) >= len(m.UnixFDs) {
		return nil
	}
	return m.UnixFDs[fd]
}

// WantReply reports whether this message requires a METHOD_RETURN or ERROR
// response.
func (m *Message) WantReply() bool {
	return m.Type == TypeMethodCall && m.Flags&FlagNoReplyExpected == 0
}

// CanInteract reports whether the sender allows an interactive
// authorization prompt while processing this message.
func (m *Message) CanInteract() bool {
	return m.Flags&FlagAllowInteractiveAuthorization != 0
}

// Valid checks m against the required-header-fields matrix for its message
// type (spec.md §4.F), independent of whether it came off the wire or was
// built by hand.
func (m *Message) Valid() error {
	if m.Serial == 0 {
		return newErr(KindInvalidMessage, "message has zero Serial")
	}
	switch m.Type {
	case TypeMethodCall:
		if m.Path == "" {
			return newErr(KindInvalidMessage, "method call missing required Path field")
		}
		if m.Member == "" {
			return newErr(KindInvalidMessage, "method call missing required Member field")
		}
	case TypeMethodReturn:
		if m.ReplySerial == 0 {
			return newErr(KindInvalidMessage, "method return missing required ReplySerial field")
		}
	case TypeError:
		if m.ReplySerial == 0 {
			return newErr(KindInvalidMessage, "error missing required ReplySerial field")
		}
		if m.ErrorName == "" {
			return newErr(KindInvalidMessage, "error missing required ErrorName field")
		}
	case TypeSignal:
		if m.Path == "" {
			return newErr(KindInvalidMessage, "signal missing required Path field")
		}
		if m.Interface == "" {
			return newErr(KindInvalidMessage, "signal missing required Interface field")
		}
		if m.Member == "" {
			return newErr(KindInvalidMessage, "signal missing required Member field")
		}
	default:
		// Unrecognized message types are passed through undecoded bodies;
		// the spec requires tolerating them rather than rejecting the
		// connection.
	}
	return nil
}

// Encode serializes m to the DBus wire format using order. It returns a
// KindInvalidMessage error if m.Body is non-empty and m.Signature is empty.
func (m *Message) Encode(order fragments.ByteOrder) ([]byte, error) {
	if m.Signature == "" && len(m.Body) > 0 {
		return nil, newErr(KindInvalidMessage, "message has a body but no Signature")
	}
	bodyNodes, err := ParseSignature(m.Signature)
	if err != nil {
		return nil, fmt.Errorf("encoding message body signature: %w", err)
	}
	body, err := Marshal(order, bodyNodes, m.Body)
	if err != nil {
		return nil, fmt.Errorf("encoding message body: %w", err)
	}

	e := &fragments.Encoder{Order: order}
	e.ByteOrderFlag()
	e.Uint8(uint8(m.Type))
	e.Uint8(uint8(m.Flags))
	e.Uint8(protocolVersion)
	lengthOffset := len(e.Out)
	e.Uint32(uint32(len(body)))
	e.Uint32(m.Serial)

	if err := e.Array(8, func() error {
		writeField := func(code byte, sig string, val any) error {
			return e.Struct(func() error {
				e.Uint8(code)
				return marshalVariant(e, MustVariant(sig, val))
			})
		}
		if m.Path != "" {
			if err := writeField(fieldPath, "o", m.Path); err != nil {
				return err
			}
		}
		if m.Interface != "" {
			if err := writeField(fieldInterface, "s", m.Interface); err != nil {
				return err
			}
		}
		if m.Member != "" {
			if err := writeField(fieldMember, "s", m.Member); err != nil {
				return err
			}
		}
		if m.ErrorName != "" {
			if err := writeField(fieldErrorName, "s", m.ErrorName); err != nil {
				return err
			}
		}
		if m.ReplySerial != 0 {
			if err := writeField(fieldReplySerial, "u", m.ReplySerial); err != nil {
				return err
			}
		}
		if m.Destination != "" {
			if err := writeField(fieldDestination, "s", m.Destination); err != nil {
				return err
			}
		}
		if m.Sender != "" {
			if err := writeField(fieldSender, "s", m.Sender); err != nil {
				return err
			}
		}
		if m.Signature != "" {
			if err := writeField(fieldSignature, "g", Signature(m.Signature)); err != nil {
				return err
			}
		}
		if len(m.UnixFDs) > 0 {
			if err := writeField(fieldUnixFDs, "u", uint32(len(m.UnixFDs))); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("encoding message header fields: %w", err)
	}
	e.Pad(8)

	e.Order.PutUint32(e.Out[lengthOffset:], uint32(len(body)))
	e.Out = append(e.Out, body...)

	if len(e.Out) > maxMessageLength {
		return nil, newErr(KindInvalidMessage, "encoded message of %d bytes exceeds maximum of %d", len(e.Out), maxMessageLength)
	}
	return e.Out, nil
}

// minMessageHeaderLen is the number of fixed-position bytes at the start of
// every message: order, type, flags, version, body length, serial, and the
// length prefix of the header fields array.
const minMessageHeaderLen = 16

// DecodeMessage attempts to decode one Message from the front of buf. If buf
// does not yet hold a complete message, it returns [fragments.ErrShortBuffer];
// the caller should buffer more bytes and call DecodeMessage again from the
// start of buf (spec.md §4.E/§4.I's "need more bytes, or one complete
// Message" contract). On success it returns the message and the number of
// bytes of buf it consumed.
func DecodeMessage(buf []byte) (*Message, int, error) {
	if len(buf) < minMessageHeaderLen {
		return nil, 0, fragments.ErrShortBuffer
	}
	order, ok := fragments.OrderForFlag(buf[0])
	if !ok {
		return nil, 0, newErr(KindInvalidMessage, "unknown byte order flag %q", buf[0])
	}

	d := &fragments.Decoder{Order: order, In: buf}
	if err := d.ByteOrderFlag(); err != nil {
		return nil, 0, err
	}
	typ, err := d.Uint8()
	if err != nil {
		return nil, 0, err
	}
	flags, err := d.Uint8()
	if err != nil {
		return nil, 0, err
	}
	version, err := d.Uint8()
	if err != nil {
		return nil, 0, err
	}
	if version != protocolVersion {
		return nil, 0, newErr(KindInvalidMessage, "unsupported protocol version %d", version)
	}
	bodyLen, err := d.Uint32()
	if err != nil {
		return nil, 0, err
	}
	serial, err := d.Uint32()
	if err != nil {
		return nil, 0, err
	}

	m := &Message{Type: MessageType(typ), Flags: Flags(flags), Serial: serial}

	_, err = d.Array(8, func(int) error {
		return d.Struct(func() error {
			code, err := d.Uint8()
			if err != nil {
				return err
			}
			v, err := unmarshalVariant(d)
			if err != nil {
				return err
			}
			switch code {
			case fieldPath:
				m.Path = v.value.(ObjectPath)
			case fieldInterface:
				m.Interface = string(v.value.(string))
			case fieldMember:
				m.Member = v.value.(string)
			case fieldErrorName:
				m.ErrorName = v.value.(string)
			case fieldReplySerial:
				m.ReplySerial = v.value.(uint32)
			case fieldDestination:
				m.Destination = v.value.(string)
			case fieldSender:
				m.Sender = v.value.(string)
			case fieldSignature:
				m.Signature = string(v.value.(Signature))
			case fieldUnixFDs:
				m.numFDs = v.value.(uint32)
			default:
				// Unknown header fields are ignored, per spec.md §4.F.
			}
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}
	if err := d.Pad(8); err != nil {
		return nil, 0, err
	}

	total := d.Pos() + int(bodyLen)
	if total > maxMessageLength {
		return nil, 0, newErr(KindInvalidMessage, "message of %d bytes exceeds maximum of %d", total, maxMessageLength)
	}
	if len(buf) < total {
		return nil, 0, fragments.ErrShortBuffer
	}

	bodyNodes, err := ParseSignature(m.Signature)
	if err != nil {
		return nil, 0, fmt.Errorf("decoding message body signature: %w", err)
	}
	body, consumed, err := Unmarshal(order, bodyNodes, buf[d.Pos():total])
	if err != nil {
		return nil, 0, fmt.Errorf("decoding message body: %w", err)
	}
	if d.Pos()+consumed != total {
		return nil, 0, newErr(KindInvalidMessage, "message body length mismatch: header declared %d bytes, decoded %d", bodyLen, consumed)
	}
	m.Body = body

	if err := m.Valid(); err != nil {
		return nil, 0, err
	}
	return m, total, nil
}
