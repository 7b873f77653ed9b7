package dbus

import (
	"context"
	"fmt"
)

const busDestination = "org.freedesktop.DBus"
const busPath = ObjectPath("/org/freedesktop/DBus")
const busInterface = "org.freedesktop.DBus"

// NameRequestFlags control [Conn.RequestName]'s behavior when the requested
// name is already owned.
type NameRequestFlags uint32

const (
	FlagAllowReplacement NameRequestFlags = 1 << iota
	FlagReplaceExisting
	FlagDoNotQueue
)

// RequestName asks the bus to assign name to this connection, per spec.md
// §6's RequestName semantics.
func (c *Conn) RequestName(ctx context.Context, name string, flags NameRequestFlags) (isPrimaryOwner bool, err error) {
	var resp uint32
	if err := c.Call(ctx, busDestination, busPath, busInterface, "RequestName", "su", []any{name, uint32(flags)}, "u", &resp); err != nil {
		return false, err
	}
	switch resp {
	case 1, 4: // became primary owner, or already was
		return true, nil
	case 2: // queued
		return false, nil
	case 3:
		return false, newErr(KindRemoteDBusError, "requested name %q not available", name)
	default:
		return false, fmt.Errorf("unknown RequestName response code %d", resp)
	}
}

// ReleaseName releases a name previously acquired with RequestName.
func (c *Conn) ReleaseName(ctx context.Context, name string) error {
	var resp uint32
	return c.Call(ctx, busDestination, busPath, busInterface, "ReleaseName", "s", []any{name}, "u", &resp)
}

// ListNames returns every bus name currently registered with the bus.
func (c *Conn) ListNames(ctx context.Context) ([]string, error) {
	var names []any
	if err := c.Call(ctx, busDestination, busPath, busInterface, "ListNames", "", nil, "as", &names); err != nil {
		return nil, err
	}
	return anySliceToStrings(names), nil
}

// BusID returns the bus's own GUID.
func (c *Conn) BusID(ctx context.Context) (string, error) {
	var id string
	err := c.Call(ctx, busDestination, busPath, busInterface, "GetId", "", nil, "s", &id)
	return id, err
}

func anySliceToStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i], _ = v.(string)
	}
	return out
}

// addMatch / removeMatch implement the 0→1 / 1→0 refcounted transitions
// described in spec.md §4.I: only the first Subscribe for a given rule
// string issues AddMatch, and only the last matching [Watcher.Close] issues
// RemoveMatch.
func (c *Conn) addMatch(ctx context.Context, rule string) error {
	c.mu.Lock()
	c.ruleRefs[rule]++
	first := c.ruleRefs[rule] == 1
	c.mu.Unlock()
	if !first {
		return nil
	}
	return c.Call(ctx, busDestination, busPath, busInterface, "AddMatch", "s", []any{rule}, "", nil)
}

func (c *Conn) removeMatch(ctx context.Context, rule string) error {
	c.mu.Lock()
	c.ruleRefs[rule]--
	last := c.ruleRefs[rule] <= 0
	if last {
		delete(c.ruleRefs, rule)
	}
	c.mu.Unlock()
	if !last {
		return nil
	}
	return c.Call(ctx, busDestination, busPath, busInterface, "RemoveMatch", "s", []any{rule}, "", nil)
}

// Watcher delivers signals matching a [MatchRule] to a channel. Obtain one
// with [Conn.Subscribe].
type Watcher struct {
	c       *Conn
	rule    *MatchRule
	ruleStr string
	ch      chan *Message
	closed  bool
}

// Subscribe registers rule with the bus and returns a Watcher delivering
// matching signals on its channel. Callers must call [Watcher.Close] when
// done to release the underlying AddMatch registration.
func (c *Conn) Subscribe(ctx context.Context, rule *MatchRule) (*Watcher, error) {
	ruleStr := rule.String()
	if err := c.addMatch(ctx, ruleStr); err != nil {
		return nil, err
	}
	w := &Watcher{
		c:       c,
		rule:    rule,
		ruleStr: ruleStr,
		ch:      make(chan *Message, 16),
	}
	c.mu.Lock()
	c.watchers.Add(w)
	c.mu.Unlock()
	return w, nil
}

// C returns the channel on which matching signals are delivered. The
// channel is closed when the Watcher is closed or the Conn disconnects.
func (w *Watcher) C() <-chan *Message { return w.ch }

func (w *Watcher) deliver(m *Message) {
	select {
	case w.ch <- m:
	default:
		// A slow consumer drops signals rather than blocking dispatch for
		// every other watcher and pending call on the connection.
	}
}

// Close unregisters the Watcher and, if no other Watcher shares its rule
// string, issues RemoveMatch.
func (w *Watcher) Close(ctx context.Context) error {
	w.c.mu.Lock()
	if w.closed {
		w.c.mu.Unlock()
		return nil
	}
	w.closed = true
	w.c.watchers.Remove(w)
	w.c.mu.Unlock()
	close(w.ch)
	return w.c.removeMatch(ctx, w.ruleStr)
}

// closeLocally tears down the watcher without talking to the bus, used
// when the whole Conn is closing anyway.
func (w *Watcher) closeLocally() {
	w.c.mu.Lock()
	if w.closed {
		w.c.mu.Unlock()
		return
	}
	w.closed = true
	w.c.mu.Unlock()
	close(w.ch)
}

// Well-known bus signal and interface names (spec.md §6).
const (
	SignalNameOwnerChanged  = "NameOwnerChanged"
	SignalNameLost          = "NameLost"
	SignalNameAcquired      = "NameAcquired"
	SignalPropertiesChanged = "PropertiesChanged"
	SignalInterfacesAdded   = "InterfacesAdded"
	SignalInterfacesRemoved = "InterfacesRemoved"
	InterfaceObjectManager  = ifaceObjectManagerName
	InterfaceProperties     = ifacePropertiesName
	InterfacePeer           = ifacePeerName
)
