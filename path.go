package dbus

import "strings"

// ObjectPath is a DBus object path, e.g. "/org/freedesktop/DBus".
type ObjectPath string

// Valid reports whether p is syntactically valid per the DBus object path
// grammar.
func (p ObjectPath) Valid() bool { return ValidObjectPath(string(p)) }

// String returns p as a string.
func (p ObjectPath) String() string { return string(p) }

// IsChildOf reports whether p is equal to, or nested under, prefix.
//
// Used by [MatchRule] path matching and the ObjectManager handler to decide
// which paths a given prefix covers.
func (p ObjectPath) IsChildOf(prefix ObjectPath) bool {
	ps, pp := string(p), string(prefix)
	if pp == "/" {
		return true
	}
	if ps == pp {
		return true
	}
	return strings.HasPrefix(ps, pp+"/")
}

// Clean normalizes trailing slashes (other than the root path itself).
func (p ObjectPath) Clean() ObjectPath {
	if p == "/" || p == "" {
		return p
	}
	for len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}

// Child appends name as a path element.
func (p ObjectPath) Child(name string) ObjectPath {
	p = p.Clean()
	if p == "/" {
		return ObjectPath("/" + name)
	}
	return p + "/" + ObjectPath(name)
}

// Parent returns the path's immediate parent, and "/" for the root or a
// top-level path.
func (p ObjectPath) Parent() ObjectPath {
	p = p.Clean()
	idx := strings.LastIndex(string(p), "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}
