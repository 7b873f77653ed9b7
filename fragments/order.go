// Package fragments provides low-level encoding and decoding helpers used to
// build and parse the DBus wire format.
//
// The encoder and decoder here are deliberately low level: they know how to
// pad, align and byte-swap, but they do not know anything about DBus
// signatures or message structure. That knowledge lives in the marshaller and
// unmarshaller, which drive these helpers according to a parsed
// SignatureNode tree.
package fragments

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// ByteOrder is a byte order that also knows its DBus wire-format flag byte.
type ByteOrder interface {
	byteOrder
	dbusFlag() byte
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type wrapStd struct {
	byteOrder
}

func (w wrapStd) dbusFlag() byte {
	switch w.byteOrder {
	case binary.BigEndian:
		return 'B'
	case binary.LittleEndian:
		return 'l'
	case binary.NativeEndian:
		if cpu.IsBigEndian {
			return 'B'
		}
		return 'l'
	default:
		panic("unknown ByteOrder, how did you manage to make one of those?")
	}
}

// OrderForFlag returns the ByteOrder corresponding to a DBus wire-format
// endianness flag byte ('l' or 'B').
func OrderForFlag(flag byte) (ByteOrder, bool) {
	switch flag {
	case 'l':
		return LittleEndian, true
	case 'B':
		return BigEndian, true
	default:
		return nil, false
	}
}

var (
	BigEndian    = wrapStd{binary.BigEndian}
	LittleEndian = wrapStd{binary.LittleEndian}
	// NativeEndian is the byte order DBus should use for messages this
	// process originates. The wire format otherwise accepts either order on
	// input.
	NativeEndian = wrapStd{binary.NativeEndian}
)
