package dbus

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/creachadair/mds/value"
)

// MatchRule is a filter that selects which signals a [Conn] wants delivered
// to it, as described in spec.md §4.I. Unlike method calls, signals are
// broadcast: the bus only forwards ones a client has asked for via an
// AddMatch call, whose canonical string form is produced by
// [MatchRule.String].
type MatchRule struct {
	sender       value.Maybe[string]
	object       value.Maybe[ObjectPath]
	objectPrefix value.Maybe[ObjectPath]
	iface        value.Maybe[string]
	member       value.Maybe[string]
	argStr       map[int]string
	argPath      map[int]ObjectPath
	arg0NS       value.Maybe[string]
}

// NewMatchRule returns a MatchRule that matches every signal.
func NewMatchRule() *MatchRule {
	return &MatchRule{}
}

// Sender restricts the rule to signals from a single bus name.
func (m *MatchRule) Sender(name string) *MatchRule {
	m.sender = value.Just(name)
	return m
}

// Object restricts the rule to a single sending object path.
func (m *MatchRule) Object(path ObjectPath) *MatchRule {
	m.objectPrefix = value.Absent[ObjectPath]()
	m.object = value.Just(path.Clean())
	return m
}

// ObjectPrefix restricts the rule to objects rooted at the given path
// prefix, e.g. ObjectPrefix("/a/b") also matches "/a/b/c".
func (m *MatchRule) ObjectPrefix(path ObjectPath) *MatchRule {
	m.object = value.Absent[ObjectPath]()
	if path == "/" {
		m.objectPrefix = value.Absent[ObjectPath]()
	} else {
		m.objectPrefix = value.Just(path.Clean())
	}
	return m
}

// Signal restricts the rule to one interface and member name.
func (m *MatchRule) Signal(iface, member string) *MatchRule {
	m.iface = value.Just(iface)
	m.member = value.Just(member)
	return m
}

// ArgStr restricts the rule to signals whose i-th body argument is the
// string val.
func (m *MatchRule) ArgStr(i int, val string) *MatchRule {
	if m.argStr == nil {
		m.argStr = map[int]string{}
	}
	m.argStr[i] = val
	return m
}

// ArgPathPrefix restricts the rule to signals whose i-th body argument is an
// object path under val.
func (m *MatchRule) ArgPathPrefix(i int, val ObjectPath) *MatchRule {
	if m.argPath == nil {
		m.argPath = map[int]ObjectPath{}
	}
	m.argPath[i] = val
	return m
}

// Arg0Namespace restricts the rule to signals whose first body argument is a
// dot-separated name under val, e.g. for NameOwnerChanged-style dispatch.
func (m *MatchRule) Arg0Namespace(val string) *MatchRule {
	m.arg0NS = value.Just(val)
	return m
}

// String returns the canonical match rule string DBus's AddMatch/RemoveMatch
// methods expect.
func (m *MatchRule) String() string {
	parts := []string{"type='signal'"}
	kv := func(k, v string) {
		parts = append(parts, fmt.Sprintf("%s=%s", k, escapeMatchArg(v)))
	}
	if s, ok := m.sender.GetOK(); ok {
		kv("sender", s)
	}
	if o, ok := m.object.GetOK(); ok {
		kv("path", o.String())
	}
	if p, ok := m.objectPrefix.GetOK(); ok {
		parts = append(parts, "path_namespace="+p.String())
	}
	if i, ok := m.iface.GetOK(); ok {
		kv("interface", i)
	}
	if me, ok := m.member.GetOK(); ok {
		kv("member", me)
	}
	for _, i := range slices.Sorted(maps.Keys(m.argStr)) {
		kv(fmt.Sprintf("arg%d", i), m.argStr[i])
	}
	for _, i := range slices.Sorted(maps.Keys(m.argPath)) {
		kv(fmt.Sprintf("arg%dpath", i), m.argPath[i].String())
	}
	if n, ok := m.arg0NS.GetOK(); ok {
		kv("arg0namespace", n)
	}
	return strings.Join(parts, ",")
}

// matches reports whether a received signal message satisfies the rule.
// Conn uses this to re-filter the union stream of signals the bus forwards
// across all of a connection's active rules.
func (m *MatchRule) matches(sig *Message) bool {
	if s, ok := m.sender.GetOK(); ok && sig.Sender != s {
		return false
	}
	if o, ok := m.object.GetOK(); ok && sig.Path != o {
		return false
	}
	if p, ok := m.objectPrefix.GetOK(); ok && !sig.Path.IsChildOf(p) {
		return false
	}
	if i, ok := m.iface.GetOK(); ok && sig.Interface != i {
		return false
	}
	if me, ok := m.member.GetOK(); ok && sig.Member != me {
		return false
	}
	for i, want := range m.argStr {
		got, ok := argString(sig.Body, i)
		if !ok || got != want {
			return false
		}
	}
	for i, want := range m.argPath {
		if got, ok := argString(sig.Body, i); ok {
			if got != want.String() && !ObjectPath(got).IsChildOf(want) {
				return false
			}
			continue
		}
		if got, ok := argPath(sig.Body, i); ok {
			if got != want && !got.IsChildOf(want) {
				return false
			}
			continue
		}
		return false
	}
	if n, ok := m.arg0NS.GetOK(); ok {
		got, ok := argString(sig.Body, 0)
		if !ok || (got != n && !strings.HasPrefix(got, n+".")) {
			return false
		}
	}
	return true
}

func argString(body []any, i int) (string, bool) {
	if i < 0 || i >= len(body) {
		return "", false
	}
	s, ok := body[i].(string)
	return s, ok
}

func argPath(body []any, i int) (ObjectPath, bool) {
	if i < 0 || i >= len(body) {
		return "", false
	}
	p, ok := body[i].(ObjectPath)
	return p, ok
}

func escapeMatchArg(s string) string {
	s = strings.ReplaceAll(s, "'", `'\''`)
	return "'" + s + "'"
}
