package dbus

import "fmt"

// Variant is a DBus value of a type only known at runtime: a signature
// string paired with a type-checked value (spec.md §3). Variants are
// immutable once constructed.
type Variant struct {
	sig   string
	node  *SignatureNode
	value any
}

// NewVariant constructs a Variant wrapping value, typed by sig. sig must
// describe a single complete type, and value must type-check against it
// (see [TypeCheck]).
func NewVariant(sig string, value any) (Variant, error) {
	node, err := ParseSingleType(sig)
	if err != nil {
		return Variant{}, err
	}
	if err := TypeCheck(node, value); err != nil {
		return Variant{}, err
	}
	return Variant{sig: sig, node: node, value: value}, nil
}

// MustVariant is like [NewVariant] but panics on error. Intended for
// constructing Variants from constants known to be valid at compile time.
func MustVariant(sig string, value any) Variant {
	v, err := NewVariant(sig, value)
	if err != nil {
		panic(err)
	}
	return v
}

// Signature returns the Variant's inner type signature string.
func (v Variant) Signature() string { return v.sig }

// Node returns the parsed SignatureNode for the Variant's inner type.
func (v Variant) Node() *SignatureNode { return v.node }

// Value returns the Variant's wrapped value.
func (v Variant) Value() any { return v.value }

// Equal reports whether v and o have the same signature and a deeply equal
// value. Two empty (zero) Variants are equal.
func (v Variant) Equal(o Variant) bool {
	if v.sig != o.sig {
		return false
	}
	return deepEqualValue(v.value, o.value)
}

func (v Variant) String() string {
	return fmt.Sprintf("Variant{%s, %v}", v.sig, v.value)
}

// deepEqualValue compares two decoded DBus values for structural equality.
// Values produced by the unmarshaller are always built from a small, known
// set of Go types (bool, the sized ints, float64, string, ObjectPath,
// Signature, []any, map[...]any, []byte, Variant, UnixFD), so a hand-rolled
// comparison avoids pulling in reflect.DeepEqual's broader (and slower)
// generality.
func deepEqualValue(a, b any) bool {
	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualValue(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[any]any:
		bv, ok := b.(map[any]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v1 := range av {
			v2, ok := bv[k]
			if !ok || !deepEqualValue(v1, v2) {
				return false
			}
		}
		return true
	case []byte:
		bv, ok := b.([]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case Variant:
		bv, ok := b.(Variant)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}
