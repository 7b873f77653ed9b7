package dbus

import "fmt"

// Signature is a DBus value of wire type 'g': a signature string carried as
// data (as opposed to the signature describing a message body's own
// shape).
type Signature string

// UnixFD is a DBus value of wire type 'h': a file descriptor passed
// alongside a message. The numeric value is meaningful only to the
// marshaller/unmarshaller, which use it to index into a Message's UnixFDs
// list; application code should treat it as an opaque handle into that
// list.
type UnixFD int

// DictEntry is an ordered (key, value) pair, used when callers need to
// preserve dict ordering or duplicate keys on the wire; most callers should
// use a map[K]any body value instead, which the marshaller also accepts for
// 'a{..}' types.
type DictEntry struct {
	Key   any
	Value any
}

// TypeCheck reports whether value is a valid host representation of the
// DBus type described by node. It is used by [NewVariant] and by the
// marshaller before encoding a message body, so that signature/body
// mismatches are reported before any bytes reach the transport (spec.md §4.I
// call() contract, and the SignatureBodyMismatch scenario in spec.md §8).
func TypeCheck(node *SignatureNode, value any) error {
	switch node.Code {
	case TypeByte:
		return checkType[byte](node, value)
	case TypeBool:
		return checkType[bool](node, value)
	case TypeInt16:
		return checkType[int16](node, value)
	case TypeUint16:
		return checkType[uint16](node, value)
	case TypeInt32:
		return checkType[int32](node, value)
	case TypeUint32:
		return checkType[uint32](node, value)
	case TypeInt64:
		return checkType[int64](node, value)
	case TypeUint64:
		return checkType[uint64](node, value)
	case TypeFloat64:
		return checkType[float64](node, value)
	case TypeString:
		return checkType[string](node, value)
	case TypeObjectPath:
		if p, ok := value.(ObjectPath); ok {
			if !p.Valid() {
				return newErr(KindInvalidObjectPath, "invalid object path %q", string(p))
			}
			return nil
		}
		return mismatch(node, value)
	case TypeSignature:
		return checkType[Signature](node, value)
	case TypeUnixFD:
		return checkType[UnixFD](node, value)
	case TypeVariant:
		_, ok := value.(Variant)
		if !ok {
			return mismatch(node, value)
		}
		return nil
	case TypeArray:
		return typeCheckArray(node, value)
	case TypeStruct:
		return typeCheckStruct(node, value)
	case TypeDictEntry:
		return newErr(KindSignatureBodyMismatch, "dict entry type cannot appear outside an array")
	default:
		return newErr(KindSignatureBodyMismatch, "unknown type code %q", node.Code)
	}
}

func checkType[T comparable](node *SignatureNode, value any) error {
	if _, ok := value.(T); !ok {
		return mismatch(node, value)
	}
	return nil
}

func mismatch(node *SignatureNode, value any) error {
	return &Error{
		Kind:   KindSignatureBodyMismatch,
		Reason: fmt.Errorf("value %#v does not match signature %q", value, node.String()),
	}
}

func typeCheckArray(node *SignatureNode, value any) error {
	elem := node.Children[0]
	if elem.Code == TypeByte {
		if _, ok := value.([]byte); ok {
			return nil
		}
	}
	if elem.Code == TypeDictEntry {
		m, ok := value.(map[any]any)
		if !ok {
			return mismatch(node, value)
		}
		key, val := elem.Children[0], elem.Children[1]
		for k, v := range m {
			if err := TypeCheck(key, k); err != nil {
				return err
			}
			if err := TypeCheck(val, v); err != nil {
				return err
			}
		}
		return nil
	}
	s, ok := value.([]any)
	if !ok {
		return mismatch(node, value)
	}
	for _, v := range s {
		if err := TypeCheck(elem, v); err != nil {
			return err
		}
	}
	return nil
}

func typeCheckStruct(node *SignatureNode, value any) error {
	s, ok := value.([]any)
	if !ok {
		return mismatch(node, value)
	}
	if len(s) != len(node.Children) {
		return &Error{
			Kind:   KindSignatureBodyMismatch,
			Reason: fmt.Errorf("struct %q expects %d fields, got %d", node.String(), len(node.Children), len(s)),
		}
	}
	for i, c := range node.Children {
		if err := TypeCheck(c, s[i]); err != nil {
			return err
		}
	}
	return nil
}
