package dbus

import (
	"fmt"
	"math"
	"sort"

	"github.com/quietwire/dbus/fragments"
)

// Marshal encodes values against the parsed signature nodes, in the given
// byte order, following the per-code rules of spec.md §4.D. len(nodes) must
// equal len(values).
//
// A value of DBus type 'h' (UnixFD) is encoded as-is: the caller is
// responsible for having already turned any real file descriptor into an
// index into the enclosing [Message]'s UnixFDs list (see
// [Message.AttachFile]) before calling Marshal. This keeps the encoder a
// pure function of (signature, values) without a side channel threaded
// through every recursive call, while still satisfying the wire format:
// the index written here is exactly the index read back by [Unmarshal].
func Marshal(order fragments.ByteOrder, nodes []*SignatureNode, values []any) ([]byte, error) {
	if len(nodes) != len(values) {
		return nil, newErr(KindSignatureBodyMismatch, "%d values given for %d-element signature", len(values), len(nodes))
	}
	e := &fragments.Encoder{Order: order}
	for i, n := range nodes {
		if err := marshalValue(e, n, values[i]); err != nil {
			return nil, fmt.Errorf("encoding field %d (%s): %w", i, n.String(), err)
		}
	}
	return e.Out, nil
}

func marshalValue(e *fragments.Encoder, n *SignatureNode, v any) error {
	if err := TypeCheck(n, v); err != nil {
		return err
	}
	switch n.Code {
	case TypeByte:
		e.Uint8(v.(byte))
	case TypeBool:
		b := uint32(0)
		if v.(bool) {
			b = 1
		}
		e.Uint32(b)
	case TypeInt16:
		e.Uint16(uint16(v.(int16)))
	case TypeUint16:
		e.Uint16(v.(uint16))
	case TypeInt32:
		e.Uint32(uint32(v.(int32)))
	case TypeUint32:
		e.Uint32(v.(uint32))
	case TypeInt64:
		e.Uint64(uint64(v.(int64)))
	case TypeUint64:
		e.Uint64(v.(uint64))
	case TypeFloat64:
		e.Uint64(math.Float64bits(v.(float64)))
	case TypeString:
		e.String(v.(string))
	case TypeObjectPath:
		e.String(string(v.(ObjectPath)))
	case TypeSignature:
		e.Signature(string(v.(Signature)))
	case TypeUnixFD:
		e.Uint32(uint32(v.(UnixFD)))
	case TypeVariant:
		return marshalVariant(e, v.(Variant))
	case TypeArray:
		return marshalArray(e, n, v)
	case TypeStruct:
		return marshalStruct(e, n, v)
	default:
		return newErr(KindSignatureBodyMismatch, "cannot marshal type code %q", n.Code)
	}
	return nil
}

func marshalVariant(e *fragments.Encoder, v Variant) error {
	e.Signature(v.sig)
	e.Pad(v.node.Alignment())
	return marshalValue(e, v.node, v.value)
}

func marshalArray(e *fragments.Encoder, n *SignatureNode, v any) error {
	elem := n.Children[0]

	if elem.Code == TypeDictEntry {
		m := v.(map[any]any)
		keys := make([]any, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sortMapKeys(keys)
		return e.Array(elem.Alignment(), func() error {
			for _, k := range keys {
				if err := e.Struct(func() error {
					if err := marshalValue(e, elem.Children[0], k); err != nil {
						return err
					}
					return marshalValue(e, elem.Children[1], m[k])
				}); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if elem.Code == TypeByte {
		e.Bytes(v.([]byte))
		return nil
	}

	s := v.([]any)
	return e.Array(elem.Alignment(), func() error {
		for _, item := range s {
			if err := marshalValue(e, elem, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func marshalStruct(e *fragments.Encoder, n *SignatureNode, v any) error {
	s := v.([]any)
	return e.Struct(func() error {
		for i, c := range n.Children {
			if err := marshalValue(e, c, s[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// sortMapKeys orders dict keys deterministically before encoding, so that
// repeated marshalling of the same map produces byte-identical output. DBus
// itself does not require a particular dict ordering on the wire.
func sortMapKeys(keys []any) {
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
}
