// Package transport provides the byte-stream transports DBus messages can
// travel over (spec.md §6): Unix domain sockets with SCM_RIGHTS file
// descriptor passing, and plain TCP.
package transport

import (
	"io"
	"os"
)

// Transport is a raw DBus connection: an ordered byte stream, optionally
// carrying file descriptors as out-of-band data alongside the bytes written
// or read at the point they were sent.
type Transport interface {
	io.ReadWriteCloser

	// GetFiles returns n received files that were attached to previously
	// read bytes as ancillary data. It blocks, in effect, only in the sense
	// that the files must already have arrived in-band with bytes already
	// consumed from Read; a Transport that never passes fds returns an
	// error if n > 0.
	GetFiles(n int) ([]*os.File, error)

	// WriteWithFiles is like Write, but additionally sends the given files
	// as ancillary data alongside bs. A Transport that never passes fds
	// returns an error if len(fds) > 0.
	WriteWithFiles(bs []byte, fds []*os.File) (int, error)

	// SupportsFileDescriptors reports whether this transport is capable of
	// carrying file descriptors at all, independent of whether the SASL
	// handshake negotiated NEGOTIATE_UNIX_FD. Only Unix domain sockets
	// return true.
	SupportsFileDescriptors() bool
}
