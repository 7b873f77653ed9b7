package fragments

import (
	"errors"
	"fmt"
)

// ErrShortBuffer is returned by Decoder methods when the input does not yet
// contain enough bytes to satisfy the read. Callers driving a resumable
// unmarshal (see the top-level Unmarshaller) should buffer more bytes and
// retry from the start of the message on this error.
var ErrShortBuffer = errors.New("fragments: short buffer")

// A Decoder reads a DBus wire format message out of an in-memory byte slice.
//
// Decoder operates on a fully-buffered slice rather than an io.Reader so
// that a decode attempt against a short buffer fails cleanly with
// [ErrShortBuffer] instead of blocking: the top-level Unmarshaller uses this
// to implement its resumable-across-partial-reads contract.
type Decoder struct {
	// Order is the byte order to use when reading multi-byte values.
	Order ByteOrder
	// In is the buffered input.
	In []byte

	pos int
}

// Pos returns the number of bytes consumed from In so far.
func (d *Decoder) Pos() int { return d.pos }

// Pad consumes padding bytes as needed to make the next read happen at a
// multiple of align bytes relative to the start of In.
func (d *Decoder) Pad(align int) error {
	extra := d.pos % align
	if extra == 0 {
		return nil
	}
	skip := align - extra
	if d.pos+skip > len(d.In) {
		return ErrShortBuffer
	}
	d.pos += skip
	return nil
}

// Read reads n bytes verbatim, with no padding.
func (d *Decoder) Read(n int) ([]byte, error) {
	if d.pos+n > len(d.In) {
		return nil, ErrShortBuffer
	}
	ret := d.In[d.pos : d.pos+n]
	d.pos += n
	return ret, nil
}

// Bytes reads a DBus byte array: 4-byte length followed by that many bytes.
func (d *Decoder) Bytes() ([]byte, error) {
	ln, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	return d.Read(int(ln))
}

// String reads a DBus STRING or OBJECT_PATH: 4-byte length, bytes, trailing
// NUL (not counted in the length).
func (d *Decoder) String() (string, error) {
	ln, err := d.Uint32()
	if err != nil {
		return "", err
	}
	ret, err := d.Read(int(ln) + 1)
	if err != nil {
		return "", err
	}
	return string(ret[:len(ret)-1]), nil
}

// Signature reads a DBus SIGNATURE: 1-byte length, ASCII bytes, trailing
// NUL.
func (d *Decoder) Signature() (string, error) {
	u8, err := d.Uint8()
	if err != nil {
		return "", err
	}
	bs, err := d.Read(int(u8) + 1)
	if err != nil {
		return "", err
	}
	return string(bs[:len(bs)-1]), nil
}

// Uint8 reads a uint8.
func (d *Decoder) Uint8() (uint8, error) {
	bs, err := d.Read(1)
	if err != nil {
		return 0, err
	}
	return bs[0], nil
}

// Uint16 reads a uint16.
func (d *Decoder) Uint16() (uint16, error) {
	if err := d.Pad(2); err != nil {
		return 0, err
	}
	bs, err := d.Read(2)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint16(bs), nil
}

// Uint32 reads a uint32.
func (d *Decoder) Uint32() (uint32, error) {
	if err := d.Pad(4); err != nil {
		return 0, err
	}
	bs, err := d.Read(4)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint32(bs), nil
}

// Uint64 reads a uint64.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.Pad(8); err != nil {
		return 0, err
	}
	bs, err := d.Read(8)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint64(bs), nil
}

// Array reads an array. readElement is called repeatedly while there is
// array data remaining, passing the index of the element to decode.
// readElement must consume exactly one element's worth of bytes.
//
// elemAlign is the alignment of the array's element type; the decoder
// consumes the corresponding header padding even for an empty array.
func (d *Decoder) Array(elemAlign int, readElement func(i int) error) (int, error) {
	ln, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if err := d.Pad(elemAlign); err != nil {
		return 0, err
	}
	if ln == 0 {
		return 0, nil
	}
	end := d.pos + int(ln)
	if end > len(d.In) {
		return 0, ErrShortBuffer
	}
	idx := 0
	for d.pos < end {
		if err := readElement(idx); err != nil {
			return idx, err
		}
		idx++
	}
	if d.pos != end {
		return idx, fmt.Errorf("fragments: array element decode overran declared array length (at %d, array ends at %d)", d.pos, end)
	}
	return idx, nil
}

// Struct reads a struct. Struct fields must be read within the provided
// fields function.
func (d *Decoder) Struct(fields func() error) error {
	if err := d.Pad(8); err != nil {
		return err
	}
	return fields()
}

// ByteOrderFlag reads a DBus byte order flag byte, and sets [Decoder.Order]
// to match it.
func (d *Decoder) ByteOrderFlag() error {
	v, err := d.Uint8()
	if err != nil {
		return err
	}
	order, ok := OrderForFlag(v)
	if !ok {
		return fmt.Errorf("unknown byte order flag %q", v)
	}
	d.Order = order
	return nil
}
