package dbus

import (
	"context"
	"os"
	"sync"

	"testing"

	"github.com/creachadair/mds/mapset"
	"github.com/quietwire/dbus/fragments"
)

// recordingTransport is a no-op transport.Transport that records every
// message written to it, used to test Conn methods that send messages
// without needing a real socket pair.
type recordingTransport struct {
	mu      sync.Mutex
	written [][]byte
}

func (r *recordingTransport) Read(p []byte) (int, error) { return 0, os.ErrClosed }
func (r *recordingTransport) Close() error               { return nil }
func (r *recordingTransport) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written = append(r.written, append([]byte(nil), p...))
	return len(p), nil
}
func (r *recordingTransport) WriteWithFiles(p []byte, fs []*os.File) (int, error) {
	return r.Write(p)
}
func (r *recordingTransport) GetFiles(n int) ([]*os.File, error) { return nil, nil }
func (r *recordingTransport) SupportsFileDescriptors() bool      { return false }

func newTestConn() (*Conn, *recordingTransport) {
	rt := &recordingTransport{}
	c := &Conn{
		t:        rt,
		order:    fragments.LittleEndian,
		pending:  map[uint32]*pendingCall{},
		watchers: mapset.New[*Watcher](),
		ruleRefs: map[string]int{},
		tree:     newObjectTree(),
	}
	return c, rt
}

func TestConnExportAddsStandardInterfaces(t *testing.T) {
	c, _ := newTestConn()
	c.Export("/a", newExportedInterface("org.example.Foo"))

	for _, name := range []string{
		"org.example.Foo",
		ifacePeerName,
		"org.freedesktop.DBus.Introspectable",
		ifacePropertiesName,
	} {
		if _, ok := c.Tree().Lookup("/a", name); !ok {
			t.Errorf("Export should also register %s", name)
		}
	}
}

func TestConnUnexport(t *testing.T) {
	c, _ := newTestConn()
	c.Export("/a", newExportedInterface("org.example.Foo"))
	c.Unexport("/a", "org.example.Foo")
	if _, ok := c.Tree().Lookup("/a", "org.example.Foo"); ok {
		t.Error("Unexport should remove the interface")
	}
	// The automatically added interfaces remain.
	if !c.Tree().HasPath("/a") {
		t.Error("path should still exist due to automatically exported interfaces")
	}
}

func TestConnExportObjectManager(t *testing.T) {
	c, _ := newTestConn()
	c.ExportObjectManager("/")
	if _, ok := c.Tree().Lookup("/", ifaceObjectManagerName); !ok {
		t.Error("ExportObjectManager should register org.freedesktop.DBus.ObjectManager")
	}
}

func TestConnCurrentProperties(t *testing.T) {
	c, _ := newTestConn()
	iface := newExportedInterface("org.example.Foo")
	iface.Properties["X"] = &PropertyDescriptor{
		Signature: "i",
		Get:       func(ctx context.Context) (any, error) { return int32(7), nil },
	}
	iface.Properties["Bad"] = &PropertyDescriptor{
		Signature: "i",
		Get:       func(ctx context.Context) (any, error) { return nil, os.ErrInvalid },
	}
	props := c.currentProperties(context.Background(), "/a", iface)
	if len(props) != 1 {
		t.Fatalf("currentProperties returned %d entries, want 1 (failing Get should be skipped)", len(props))
	}
	if v := props["X"].(Variant).Value(); v != int32(7) {
		t.Errorf("props[X] = %v, want 7", v)
	}
}

func TestConnEmitPropertiesChangedSendsSignal(t *testing.T) {
	c, rt := newTestConn()
	iface := newExportedInterface("org.example.Foo")
	iface.Properties["X"] = &PropertyDescriptor{
		Signature: "i",
		Get:       func(ctx context.Context) (any, error) { return int32(0), nil },
	}
	c.tree.Export("/a", iface)

	c.emitPropertiesChanged("/a", "org.example.Foo", "X", int32(42))

	rt.mu.Lock()
	n := len(rt.written)
	rt.mu.Unlock()
	if n != 1 {
		t.Fatalf("emitPropertiesChanged should have written exactly one message, got %d", n)
	}

	rt.mu.Lock()
	raw := rt.written[0]
	rt.mu.Unlock()
	m, _, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if m.Type != TypeSignal || m.Interface != ifacePropertiesName || m.Member != "PropertiesChanged" {
		t.Errorf("unexpected signal: %+v", m)
	}
	if m.Body[0] != "org.example.Foo" {
		t.Errorf("body[0] = %v, want interface name", m.Body[0])
	}
	changed := m.Body[1].(map[any]any)
	if v := changed["X"].(Variant).Value(); v != int32(42) {
		t.Errorf("changed[X] = %v, want 42", v)
	}
}

func TestConnEmitPropertiesChangedIgnoresUnknownProperty(t *testing.T) {
	c, rt := newTestConn()
	c.tree.Export("/a", newExportedInterface("org.example.Foo"))

	c.emitPropertiesChanged("/a", "org.example.Foo", "NoSuchProp", "x")

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.written) != 0 {
		t.Errorf("emitPropertiesChanged for an unknown property should not send anything, wrote %d messages", len(rt.written))
	}
}
