package dbus

import (
	"math"

	"github.com/quietwire/dbus/fragments"
)

// Unmarshal decodes len(nodes) values from buf, in the given byte order. It
// returns the decoded values and the number of bytes of buf consumed.
//
// If buf does not yet contain a complete encoding of nodes, Unmarshal returns
// [fragments.ErrShortBuffer]; the caller (see [Message] framing in
// message.go) is expected to buffer more bytes and retry the whole call,
// rather than Unmarshal maintaining any resumable state of its own. This is
// the mechanism behind the "need more bytes, or one complete Message" contract
// of spec.md §4.E.
func Unmarshal(order fragments.ByteOrder, nodes []*SignatureNode, buf []byte) ([]any, int, error) {
	d := &fragments.Decoder{Order: order, In: buf}
	values := make([]any, len(nodes))
	for i, n := range nodes {
		v, err := unmarshalValue(d, n)
		if err != nil {
			return nil, 0, err
		}
		values[i] = v
	}
	return values, d.Pos(), nil
}

func unmarshalValue(d *fragments.Decoder, n *SignatureNode) (any, error) {
	switch n.Code {
	case TypeByte:
		return d.Uint8()
	case TypeBool:
		u, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		return u != 0, nil
	case TypeInt16:
		u, err := d.Uint16()
		return int16(u), err
	case TypeUint16:
		return d.Uint16()
	case TypeInt32:
		u, err := d.Uint32()
		return int32(u), err
	case TypeUint32:
		return d.Uint32()
	case TypeInt64:
		u, err := d.Uint64()
		return int64(u), err
	case TypeUint64:
		return d.Uint64()
	case TypeFloat64:
		u, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(u), nil
	case TypeString:
		return d.String()
	case TypeObjectPath:
		s, err := d.String()
		if err != nil {
			return nil, err
		}
		p := ObjectPath(s)
		if !p.Valid() {
			return nil, newErr(KindInvalidObjectPath, "invalid object path %q", s)
		}
		return p, nil
	case TypeSignature:
		s, err := d.Signature()
		return Signature(s), err
	case TypeUnixFD:
		u, err := d.Uint32()
		return UnixFD(u), err
	case TypeVariant:
		return unmarshalVariant(d)
	case TypeArray:
		return unmarshalArray(d, n)
	case TypeStruct:
		return unmarshalStruct(d, n)
	default:
		return nil, newErr(KindSignatureBodyMismatch, "cannot unmarshal type code %q", n.Code)
	}
}

func unmarshalVariant(d *fragments.Decoder) (any, error) {
	sig, err := d.Signature()
	if err != nil {
		return nil, err
	}
	node, err := ParseSingleType(sig)
	if err != nil {
		return nil, err
	}
	if err := d.Pad(node.Alignment()); err != nil {
		return nil, err
	}
	v, err := unmarshalValue(d, node)
	if err != nil {
		return nil, err
	}
	return Variant{sig: sig, node: node, value: v}, nil
}

func unmarshalArray(d *fragments.Decoder, n *SignatureNode) (any, error) {
	elem := n.Children[0]

	if elem.Code == TypeByte {
		bs, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(bs))
		copy(out, bs)
		return out, nil
	}

	if elem.Code == TypeDictEntry {
		m := map[any]any{}
		_, err := d.Array(elem.Alignment(), func(i int) error {
			return d.Struct(func() error {
				k, err := unmarshalValue(d, elem.Children[0])
				if err != nil {
					return err
				}
				v, err := unmarshalValue(d, elem.Children[1])
				if err != nil {
					return err
				}
				m[k] = v
				return nil
			})
		})
		return m, err
	}

	s := []any{}
	_, err := d.Array(elem.Alignment(), func(i int) error {
		v, err := unmarshalValue(d, elem)
		if err != nil {
			return err
		}
		s = append(s, v)
		return nil
	})
	return s, err
}

func unmarshalStruct(d *fragments.Decoder, n *SignatureNode) (any, error) {
	fields := make([]any, len(n.Children))
	err := d.Struct(func() error {
		for i, c := range n.Children {
			v, err := unmarshalValue(d, c)
			if err != nil {
				return err
			}
			fields[i] = v
		}
		return nil
	})
	return fields, err
}
