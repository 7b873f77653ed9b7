package dbus

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/quietwire/dbus/fragments"
)

// pipeTransport adapts a net.Conn (as produced by net.Pipe) to the
// transport.Transport interface, for exercising Conn logic end-to-end
// without a real socket or SASL handshake.
type pipeTransport struct {
	net.Conn
}

func (p *pipeTransport) GetFiles(n int) ([]*os.File, error) {
	if n == 0 {
		return nil, nil
	}
	return nil, errors.New("pipeTransport never carries file descriptors")
}

func (p *pipeTransport) WriteWithFiles(bs []byte, fs []*os.File) (int, error) {
	if len(fs) > 0 {
		return 0, errors.New("pipeTransport never carries file descriptors")
	}
	return p.Write(bs)
}

func (p *pipeTransport) SupportsFileDescriptors() bool { return false }

// newPipedConn builds a *Conn backed by one end of a net.Pipe, with its
// read loop already running, and returns the other end for a test to act
// as the fake bus server on.
func newPipedConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	c := &Conn{
		t:        &pipeTransport{clientSide},
		order:    fragments.LittleEndian,
		pending:  map[uint32]*pendingCall{},
		watchers: mapset.New[*Watcher](),
		ruleRefs: map[string]int{},
		tree:     newObjectTree(),
	}
	go c.readLoop(nil)
	t.Cleanup(func() { c.Close() })
	return c, serverSide
}

// serveOneCall reads exactly one method call off server and writes back the
// message that handle returns for it.
func serveOneCall(t *testing.T, server net.Conn, handle func(m *Message) *Message) {
	t.Helper()
	go func() {
		buf := make([]byte, 4096)
		var data []byte
		for {
			m, n, err := DecodeMessage(data)
			if errors.Is(err, fragments.ErrShortBuffer) {
				got, rerr := server.Read(buf)
				if rerr != nil {
					return
				}
				data = append(data, buf[:got]...)
				continue
			}
			if err != nil {
				return
			}
			data = data[n:]
			reply := handle(m)
			if reply == nil {
				return
			}
			reply.Serial = m.Serial + 1000
			bs, err := reply.Encode(fragments.LittleEndian)
			if err != nil {
				return
			}
			if _, err := server.Write(bs); err != nil {
				return
			}
			return
		}
	}()
}

func methodReturn(replySerial uint32, sig string, body ...any) *Message {
	return &Message{
		Type:        TypeMethodReturn,
		ReplySerial: replySerial,
		Signature:   sig,
		Body:        body,
	}
}

func withTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

func TestConnRequestNameBecomesPrimaryOwner(t *testing.T) {
	c, server := newPipedConn(t)
	serveOneCall(t, server, func(m *Message) *Message {
		if m.Member != "RequestName" {
			t.Errorf("unexpected method %q", m.Member)
		}
		return methodReturn(m.Serial, "u", uint32(1))
	})

	ctx, cancel := withTimeout(t)
	defer cancel()
	isPrimary, err := c.RequestName(ctx, "org.example.Foo", 0)
	if err != nil {
		t.Fatalf("RequestName: %v", err)
	}
	if !isPrimary {
		t.Error("RequestName should report primary ownership for response code 1")
	}
}

func TestConnRequestNameQueued(t *testing.T) {
	c, server := newPipedConn(t)
	serveOneCall(t, server, func(m *Message) *Message {
		return methodReturn(m.Serial, "u", uint32(2))
	})

	ctx, cancel := withTimeout(t)
	defer cancel()
	isPrimary, err := c.RequestName(ctx, "org.example.Foo", 0)
	if err != nil {
		t.Fatalf("RequestName: %v", err)
	}
	if isPrimary {
		t.Error("RequestName should report non-primary for response code 2 (queued)")
	}
}

func TestConnRequestNameNotAvailable(t *testing.T) {
	c, server := newPipedConn(t)
	serveOneCall(t, server, func(m *Message) *Message {
		return methodReturn(m.Serial, "u", uint32(3))
	})

	ctx, cancel := withTimeout(t)
	defer cancel()
	if _, err := c.RequestName(ctx, "org.example.Foo", 0); err == nil {
		t.Error("RequestName should fail for response code 3 (not available)")
	}
}

func TestConnListNames(t *testing.T) {
	c, server := newPipedConn(t)
	serveOneCall(t, server, func(m *Message) *Message {
		return methodReturn(m.Serial, "as", []any{"org.freedesktop.DBus", ":1.1"})
	})

	ctx, cancel := withTimeout(t)
	defer cancel()
	names, err := c.ListNames(ctx)
	if err != nil {
		t.Fatalf("ListNames: %v", err)
	}
	if len(names) != 2 || names[0] != "org.freedesktop.DBus" || names[1] != ":1.1" {
		t.Errorf("ListNames = %v", names)
	}
}

func TestConnBusID(t *testing.T) {
	c, server := newPipedConn(t)
	serveOneCall(t, server, func(m *Message) *Message {
		return methodReturn(m.Serial, "s", "deadbeefcafef00d")
	})

	ctx, cancel := withTimeout(t)
	defer cancel()
	id, err := c.BusID(ctx)
	if err != nil {
		t.Fatalf("BusID: %v", err)
	}
	if id != "deadbeefcafef00d" {
		t.Errorf("BusID = %q", id)
	}
}

func TestConnAddMatchRemoveMatchRefcounting(t *testing.T) {
	c, server := newPipedConn(t)

	var calls []string
	go func() {
		buf := make([]byte, 4096)
		var data []byte
		for {
			m, n, err := DecodeMessage(data)
			if errors.Is(err, fragments.ErrShortBuffer) {
				got, rerr := server.Read(buf)
				if rerr != nil {
					return
				}
				data = append(data, buf[:got]...)
				continue
			}
			if err != nil {
				return
			}
			data = data[n:]
			calls = append(calls, m.Member)
			reply := methodReturn(m.Serial, "")
			reply.Signature = ""
			reply.Body = nil
			reply.Serial = m.Serial + 1000
			bs, _ := reply.Encode(fragments.LittleEndian)
			server.Write(bs)
		}
	}()

	ctx, cancel := withTimeout(t)
	defer cancel()

	// Two AddMatch calls in a row on the same rule string: only the first
	// actually calls the bus.
	if err := c.addMatch(ctx, "type='signal'"); err != nil {
		t.Fatalf("addMatch: %v", err)
	}
	if err := c.addMatch(ctx, "type='signal'"); err != nil {
		t.Fatalf("addMatch: %v", err)
	}
	// One RemoveMatch does not release it yet (refcount 2 -> 1).
	if err := c.removeMatch(ctx, "type='signal'"); err != nil {
		t.Fatalf("removeMatch: %v", err)
	}
	// The second does (refcount 1 -> 0).
	if err := c.removeMatch(ctx, "type='signal'"); err != nil {
		t.Fatalf("removeMatch: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	want := []string{"AddMatch", "RemoveMatch"}
	if len(calls) != len(want) {
		t.Fatalf("bus received calls %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestWatcherSubscribeDeliverClose(t *testing.T) {
	c, server := newPipedConn(t)
	serveOneCall(t, server, func(m *Message) *Message {
		return methodReturn(m.Serial, "")
	})

	ctx, cancel := withTimeout(t)
	defer cancel()
	rule := NewMatchRule().Signal("org.example.Foo", "Changed")
	w, err := c.Subscribe(ctx, rule)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sig := &Message{
		Type:      TypeSignal,
		Path:      "/a",
		Interface: "org.example.Foo",
		Member:    "Changed",
		Serial:    1,
	}
	c.dispatchSignal(sig)

	select {
	case got := <-w.C():
		if got.Member != "Changed" {
			t.Errorf("got signal %q, want Changed", got.Member)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not deliver matching signal")
	}

	serveOneCall(t, server, func(m *Message) *Message {
		if m.Member != "RemoveMatch" {
			t.Errorf("unexpected call %q on Close", m.Member)
		}
		return methodReturn(m.Serial, "")
	})
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, ok := <-w.C(); ok {
		t.Error("channel should be closed after Watcher.Close")
	}
}

func TestWatcherDeliverIgnoresNonMatchingSignal(t *testing.T) {
	c, server := newPipedConn(t)
	serveOneCall(t, server, func(m *Message) *Message {
		return methodReturn(m.Serial, "")
	})

	ctx, cancel := withTimeout(t)
	defer cancel()
	rule := NewMatchRule().Signal("org.example.Foo", "Changed")
	w, err := c.Subscribe(ctx, rule)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer w.closeLocally()

	c.dispatchSignal(&Message{
		Type:      TypeSignal,
		Path:      "/a",
		Interface: "org.example.Other",
		Member:    "Unrelated",
		Serial:    1,
	})

	select {
	case <-w.C():
		t.Fatal("watcher should not have received a non-matching signal")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnCloseClosesWatchers(t *testing.T) {
	c, _ := newPipedConn(t)
	w := &Watcher{c: c, rule: NewMatchRule(), ch: make(chan *Message, 1)}
	c.mu.Lock()
	c.watchers.Add(w)
	c.mu.Unlock()

	c.Close()

	if _, ok := <-w.C(); ok {
		t.Error("Conn.Close should close every active watcher's channel")
	}
}
