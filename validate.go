package dbus

import "strings"

// This file implements the Validators component (spec.md §2.A): predicates
// for the four DBus name grammars plus the object path grammar. There is no
// reflection or parsing state here, just byte-level grammar checks against
// the DBus specification's ABNF.

// ValidBusName reports whether name is a syntactically valid DBus bus name,
// either unique (":1.42") or well-known ("org.freedesktop.DBus").
func ValidBusName(name string) bool {
	if len(name) == 0 || len(name) > 255 {
		return false
	}
	if name[0] == ':' {
		return validUniqueName(name[1:])
	}
	return validDottedName(name, true)
}

func validUniqueName(rest string) bool {
	if rest == "" {
		return false
	}
	elems := strings.Split(rest, ".")
	if len(elems) < 1 {
		return false
	}
	for _, e := range elems {
		if e == "" {
			return false
		}
		for _, c := range []byte(e) {
			if !isNameChar(c) {
				return false
			}
		}
	}
	return true
}

// validDottedName validates the grammar shared by well-known bus names and
// interface names: elements of [A-Za-z0-9_-] that do not start with a digit,
// at least two of them separated by dots. The bool argument is ignored.
func validDottedName(name string, _ bool) bool {
	if name == "" {
		return false
	}
	elems := strings.Split(name, ".")
	if len(elems) < 2 {
		return false
	}
	for _, e := range elems {
		if !validNameElement(e) {
			return false
		}
	}
	return true
}

func validNameElement(e string) bool {
	if e == "" {
		return false
	}
	for i := 0; i < len(e); i++ {
		c := e[i]
		if i == 0 && c >= '0' && c <= '9' {
			return false
		}
		if !isNameChar(c) {
			return false
		}
	}
	return true
}

func isNameChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		return true
	default:
		return false
	}
}

// ValidInterfaceName reports whether name is a syntactically valid DBus
// interface name, e.g. "org.freedesktop.DBus.Properties".
func ValidInterfaceName(name string) bool {
	if len(name) == 0 || len(name) > 255 {
		return false
	}
	return validDottedName(name, true)
}

// ValidMemberName reports whether name is a syntactically valid DBus member
// (method, signal, or property) name.
func ValidMemberName(name string) bool {
	if len(name) == 0 || len(name) > 255 {
		return false
	}
	return validNameElementMember(name)
}

func validNameElementMember(e string) bool {
	for i := 0; i < len(e); i++ {
		c := e[i]
		if i == 0 && c >= '0' && c <= '9' {
			return false
		}
		if c == '-' {
			// Member names, unlike bus/interface names, do not permit '-'.
			return false
		}
		if !isNameChar(c) {
			return false
		}
	}
	return true
}

// ValidObjectPath reports whether p is a syntactically valid DBus object
// path, e.g. "/org/freedesktop/DBus".
func ValidObjectPath(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if p == "/" {
		return true
	}
	if p[len(p)-1] == '/' {
		return false
	}
	for _, elem := range strings.Split(p[1:], "/") {
		if elem == "" {
			return false
		}
		for i := 0; i < len(elem); i++ {
			c := elem[i]
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
				return false
			}
		}
	}
	return true
}
