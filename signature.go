package dbus

import (
	"strings"
	"sync"
)

// Type codes, as defined by the DBus specification §Type System.
const (
	TypeByte       = 'y'
	TypeBool       = 'b'
	TypeInt16      = 'n'
	TypeUint16     = 'q'
	TypeInt32      = 'i'
	TypeUint32     = 'u'
	TypeInt64      = 'x'
	TypeUint64     = 't'
	TypeFloat64    = 'd'
	TypeString     = 's'
	TypeObjectPath = 'o'
	TypeSignature  = 'g'
	TypeUnixFD     = 'h'
	TypeArray      = 'a'
	TypeStruct     = '('
	structEnd      = ')'
	TypeVariant    = 'v'
	TypeDictEntry  = '{'
	dictEntryEnd   = '}'
)

const (
	maxSignatureLength = 255
	maxNestingDepth     = 32
)

// A SignatureNode is one node of the type tree produced by parsing a DBus
// signature string (spec.md §4.B). Container nodes own children: an array
// has exactly one (the element type), a struct has one per field, and a
// dict-entry has exactly two (key, then value). Basic types and the variant
// marker have no children.
type SignatureNode struct {
	Code     byte
	Children []*SignatureNode
}

// Alignment returns the DBus alignment, in bytes, required before a value of
// this type.
func (n *SignatureNode) Alignment() int {
	switch n.Code {
	case TypeByte, TypeSignature, TypeVariant:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeBool, TypeInt32, TypeUint32, TypeString, TypeObjectPath, TypeUnixFD, TypeArray:
		return 4
	case TypeInt64, TypeUint64, TypeFloat64, TypeStruct, TypeDictEntry:
		return 8
	default:
		panic("unknown signature code " + string(n.Code))
	}
}

// Fixed reports whether every value of this type has the same marshalled
// size: true for basic types other than string/object-path/signature, and
// for structs (and dict entries) all of whose children are themselves
// fixed. Arrays and variants are never fixed size.
func (n *SignatureNode) Fixed() bool {
	switch n.Code {
	case TypeByte, TypeBool, TypeInt16, TypeUint16, TypeInt32, TypeUint32,
		TypeInt64, TypeUint64, TypeFloat64, TypeUnixFD:
		return true
	case TypeString, TypeObjectPath, TypeSignature, TypeArray, TypeVariant:
		return false
	case TypeStruct, TypeDictEntry:
		for _, c := range n.Children {
			if !c.Fixed() {
				return false
			}
		}
		return true
	default:
		panic("unknown signature code " + string(n.Code))
	}
}

// IsBasic reports whether the type is a DBus basic type: one that may
// appear as a dict-entry key or as the element of a variant's signature
// without further structure.
func (n *SignatureNode) IsBasic() bool {
	switch n.Code {
	case TypeByte, TypeBool, TypeInt16, TypeUint16, TypeInt32, TypeUint32,
		TypeInt64, TypeUint64, TypeFloat64, TypeString, TypeObjectPath,
		TypeSignature, TypeUnixFD:
		return true
	default:
		return false
	}
}

// String returns the canonical signature spelling of this single complete
// type.
func (n *SignatureNode) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *SignatureNode) write(b *strings.Builder) {
	switch n.Code {
	case TypeArray:
		b.WriteByte('a')
		n.Children[0].write(b)
	case TypeStruct:
		b.WriteByte('(')
		for _, c := range n.Children {
			c.write(b)
		}
		b.WriteByte(')')
	case TypeDictEntry:
		b.WriteByte('{')
		n.Children[0].write(b)
		n.Children[1].write(b)
		b.WriteByte('}')
	default:
		b.WriteByte(n.Code)
	}
}

// SignatureString returns the canonical signature spelling of an ordered
// list of complete types, as found in a message body signature.
func SignatureString(nodes []*SignatureNode) string {
	var b strings.Builder
	for _, n := range nodes {
		n.write(&b)
	}
	return b.String()
}

type sigCacheEntry struct {
	nodes []*SignatureNode
	err   error
}

var signatureCache sync.Map // string -> sigCacheEntry

// ParseSignature compiles a DBus signature string into an ordered list of
// SignatureNode trees (spec.md §4.B). An empty string is valid and yields no
// nodes and a nil error. Parsed trees are cached by their source
// string: parsing is deterministic and idempotent, so concurrent callers can
// safely share the cached result.
func ParseSignature(sig string) ([]*SignatureNode, error) {
	if v, ok := signatureCache.Load(sig); ok {
		e := v.(sigCacheEntry)
		return e.nodes, e.err
	}
	nodes, err := parseSignature(sig)
	signatureCache.Store(sig, sigCacheEntry{nodes, err})
	return nodes, err
}

func parseSignature(sig string) ([]*SignatureNode, error) {
	if len(sig) > maxSignatureLength {
		return nil, newErr(KindInvalidSignature, "signature %q exceeds maximum length of %d bytes", sig, maxSignatureLength)
	}
	var (
		nodes []*SignatureNode
		rest  = sig
		err   error
		node  *SignatureNode
	)
	for rest != "" {
		node, rest, err = parseOne(rest, 0, false)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// parseOne consumes one complete type from the front of sig using a
// recursive-descent pass (conceptually the explicit container stack of
// spec.md §4.B: each recursive call corresponds to one open container on
// that stack). inArray is true when the type is an array's element type,
// the only position where a dict entry is accepted.
func parseOne(sig string, depth int, inArray bool) (*SignatureNode, string, error) {
	if sig == "" {
		return nil, "", newErr(KindInvalidSignature, "unexpected end of signature")
	}
	if depth > maxNestingDepth {
		return nil, "", newErr(KindInvalidSignature, "signature nesting exceeds maximum depth of %d", maxNestingDepth)
	}

	code := sig[0]
	switch code {
	case TypeByte, TypeBool, TypeInt16, TypeUint16, TypeInt32, TypeUint32,
		TypeInt64, TypeUint64, TypeFloat64, TypeString, TypeObjectPath,
		TypeSignature, TypeUnixFD, TypeVariant:
		return &SignatureNode{Code: code}, sig[1:], nil

	case TypeArray:
		if len(sig) < 2 {
			return nil, "", newErr(KindInvalidSignature, "array type code with no element type")
		}
		elem, rest, err := parseOne(sig[1:], depth+1, true)
		if err != nil {
			return nil, "", err
		}
		return &SignatureNode{Code: TypeArray, Children: []*SignatureNode{elem}}, rest, nil

	case TypeStruct:
		var (
			children []*SignatureNode
			rest     = sig[1:]
			child    *SignatureNode
			err      error
		)
		for rest != "" && rest[0] != structEnd {
			child, rest, err = parseOne(rest, depth+1, false)
			if err != nil {
				return nil, "", err
			}
			children = append(children, child)
		}
		if rest == "" {
			return nil, "", newErr(KindInvalidSignature, "unterminated struct in signature %q", sig)
		}
		if len(children) == 0 {
			return nil, "", newErr(KindInvalidSignature, "struct must have at least one field")
		}
		return &SignatureNode{Code: TypeStruct, Children: children}, rest[1:], nil

	case TypeDictEntry:
		if !inArray {
			return nil, "", newErr(KindInvalidSignature, "dict entry type found outside array")
		}
		key, rest, err := parseOne(sig[1:], depth+1, false)
		if err != nil {
			return nil, "", err
		}
		if !key.IsBasic() {
			return nil, "", newErr(KindInvalidSignature, "dict entry key type %q must be a basic type", key.String())
		}
		val, rest, err := parseOne(rest, depth+1, false)
		if err != nil {
			return nil, "", err
		}
		if rest == "" || rest[0] != dictEntryEnd {
			return nil, "", newErr(KindInvalidSignature, "unterminated dict entry in signature %q", sig)
		}
		return &SignatureNode{Code: TypeDictEntry, Children: []*SignatureNode{key, val}}, rest[1:], nil

	default:
		return nil, "", newErr(KindInvalidSignature, "unknown type code %q", code)
	}
}

// ParseSingleType parses sig as exactly one complete type, as required for
// the inner type of a [Variant]. It rejects signatures of zero or more than
// one top-level type.
func ParseSingleType(sig string) (*SignatureNode, error) {
	nodes, err := ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	if len(nodes) != 1 {
		return nil, newErr(KindInvalidSignature, "signature %q is not a single complete type", sig)
	}
	return nodes[0], nil
}
