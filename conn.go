package dbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/quietwire/dbus/fragments"
	"github.com/quietwire/dbus/transport"
)

// ctxSenderKey carries the sending peer's unique name through a dispatched
// call's context, so built-in handlers (Properties, Introspectable,
// ObjectManager) can see who is asking without threading it through every
// Handler signature.
type ctxSenderKey struct{}

// Conn is a DBus connection: one authenticated byte stream plus the serial
// allocation, pending-reply tracking, and object dispatch state layered on
// top of it (spec.md §4.I).
type Conn struct {
	t     transport.Transport
	order fragments.ByteOrder

	writeMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	nextSerial uint32
	pending    map[uint32]*pendingCall
	watchers   mapset.Set[*Watcher]
	ruleRefs   map[string]int

	tree       *ObjectTree
	uniqueName string
}

type pendingCall struct {
	done  chan struct{}
	reply *Message
	err   error
}

// ConnOption customizes [Connect].
type ConnOption func(*connOptions)

type connOptions struct {
	auth []AuthMechanism
}

// WithAuthMechanisms overrides the default EXTERNAL/ANONYMOUS mechanism
// list tried during the SASL handshake.
func WithAuthMechanisms(mechs ...AuthMechanism) ConnOption {
	return func(o *connOptions) { o.auth = mechs }
}

// Connect dials addrStr (a semicolon-separated DBus address string, per
// spec.md §6), authenticates, and performs the mandatory Hello call.
func Connect(addrStr string, opts ...ConnOption) (*Conn, error) {
	addrs, err := ParseAddresses(addrStr)
	if err != nil {
		return nil, err
	}
	t, _, err := Dial(addrs)
	if err != nil {
		return nil, err
	}
	return ConnectTransport(t, opts...)
}

// ConnectTransport runs the SASL handshake and mandatory Hello call over an
// already-established transport, rather than dialing one from an address
// string. [Connect] is a thin wrapper around this for the common case; test
// harnesses that synthesize a transport (an in-process fake bus, say) use
// this entry point directly.
func ConnectTransport(t transport.Transport, opts ...ConnOption) (*Conn, error) {
	var o connOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := NewAuthenticator(t, o.auth...)
	a.RequestUnixFDs = t.SupportsFileDescriptors()
	if err := a.Authenticate(); err != nil {
		t.Close()
		return nil, err
	}

	c := &Conn{
		t:        t,
		order:    fragments.LittleEndian,
		pending:  map[uint32]*pendingCall{},
		watchers: mapset.New[*Watcher](),
		ruleRefs: map[string]int{},
		tree:     newObjectTree(),
	}
	go c.readLoop(a.Buffered())

	var name string
	if err := c.Call(context.Background(), "org.freedesktop.DBus", "/org/freedesktop/DBus", "org.freedesktop.DBus", "Hello", "", nil, "s", &name); err != nil {
		c.Close()
		return nil, fmt.Errorf("sending Hello: %w", err)
	}
	c.uniqueName = name

	return c, nil
}

// LocalName returns this connection's unique bus name, assigned by the bus
// during Hello.
func (c *Conn) LocalName() string { return c.uniqueName }

// Close shuts down the connection, failing every pending call and closing
// every active Watcher.
func (c *Conn) Close() error {
	var pend map[uint32]*pendingCall
	var watchers mapset.Set[*Watcher]
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pend, c.pending = c.pending, nil
	watchers, c.watchers = c.watchers, nil
	c.mu.Unlock()

	for _, p := range pend {
		p.err = net.ErrClosed
		close(p.done)
	}
	for w := range watchers {
		w.closeLocally()
	}
	return c.t.Close()
}

func (c *Conn) allocSerial() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	c.nextSerial++
	return c.nextSerial, nil
}

// send assigns m a serial if it doesn't have one and writes it to the
// transport.
func (c *Conn) send(m *Message) error {
	if m.Serial == 0 {
		serial, err := c.allocSerial()
		if err != nil {
			return err
		}
		m.Serial = serial
	}
	bs, err := m.Encode(c.order)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if len(m.UnixFDs) > 0 {
		_, err = c.t.WriteWithFiles(bs, m.UnixFDs)
	} else {
		_, err = c.t.Write(bs)
	}
	return err
}

// SendMessage sends m as-is, without expecting or waiting for a reply. Used
// for signals and one-way calls; see [Conn.Call] for calls that want a
// reply.
func (c *Conn) SendMessage(m *Message) error {
	return c.send(m)
}

// CallMessage sends m (a TypeMethodCall message) and blocks for its reply,
// honoring ctx's deadline/cancellation. If m requests no reply
// (FlagNoReplyExpected), CallMessage returns immediately after sending.
func (c *Conn) CallMessage(ctx context.Context, m *Message) (*Message, error) {
	serial, err := c.allocSerial()
	if err != nil {
		return nil, err
	}
	m.Serial = serial

	wantReply := m.WantReply()
	var pend *pendingCall
	if wantReply {
		pend = &pendingCall{done: make(chan struct{})}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, net.ErrClosed
		}
		c.pending[serial] = pend
		c.mu.Unlock()
	}

	if err := c.send(m); err != nil {
		if wantReply {
			c.mu.Lock()
			delete(c.pending, serial)
			c.mu.Unlock()
		}
		return nil, err
	}
	if !wantReply {
		return nil, nil
	}

	select {
	case <-pend.done:
		return pend.reply, pend.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, serial)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Call performs a method call and decodes its reply body, a low-level API
// grounded in explicit signatures rather than reflection: it is the
// caller's responsibility to ensure args matches inSig and that the
// pointers in out (if any) match outSig.
func (c *Conn) Call(ctx context.Context, destination string, path ObjectPath, iface, method, inSig string, args []any, outSig string, out ...any) error {
	m := &Message{
		Type:        TypeMethodCall,
		Destination: destination,
		Path:        path,
		Interface:   iface,
		Member:      method,
		Signature:   inSig,
		Body:        args,
	}
	reply, err := c.CallMessage(ctx, m)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	if len(out) != len(reply.Body) {
		return newErr(KindSignatureBodyMismatch, "call to %s.%s returned %d values, expected %d", iface, method, len(reply.Body), len(out))
	}
	for i, dst := range out {
		if err := assignOut(dst, reply.Body[i]); err != nil {
			return fmt.Errorf("decoding return value %d: %w", i, err)
		}
	}
	return nil
}

// assignOut copies v into the pointer dst, a small reflection-free swap on
// the handful of concrete types this package's wire decoding ever produces.
func assignOut(dst any, v any) error {
	switch p := dst.(type) {
	case *any:
		*p = v
	case *string:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("value is %T, not string", v)
		}
		*p = s
	case *bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("value is %T, not bool", v)
		}
		*p = b
	case *byte:
		b, ok := v.(byte)
		if !ok {
			return fmt.Errorf("value is %T, not byte", v)
		}
		*p = b
	case *int16:
		*p = v.(int16)
	case *uint16:
		*p = v.(uint16)
	case *int32:
		*p = v.(int32)
	case *uint32:
		*p = v.(uint32)
	case *int64:
		*p = v.(int64)
	case *uint64:
		*p = v.(uint64)
	case *float64:
		*p = v.(float64)
	case *ObjectPath:
		*p = v.(ObjectPath)
	case *Signature:
		*p = v.(Signature)
	case *UnixFD:
		*p = v.(UnixFD)
	case *Variant:
		*p = v.(Variant)
	case *[]any:
		*p = v.([]any)
	case *map[any]any:
		*p = v.(map[any]any)
	case *[]byte:
		*p = v.([]byte)
	default:
		return fmt.Errorf("unsupported out type %T", dst)
	}
	return nil
}

func (c *Conn) readLoop(leftover []byte) {
	buf := leftover
	scratch := make([]byte, 4096)
	for {
		m, n, err := DecodeMessage(buf)
		if errors.Is(err, fragments.ErrShortBuffer) {
			got, rerr := c.t.Read(scratch)
			if rerr != nil {
				if !errors.Is(rerr, net.ErrClosed) {
					log.Printf("dbus: transport read error: %v", rerr)
				}
				c.Close()
				return
			}
			buf = append(buf, scratch[:got]...)
			continue
		}
		if err != nil {
			log.Printf("dbus: malformed message, closing connection: %v", err)
			c.Close()
			return
		}

		if nfd := m.NumFDs(); nfd > 0 {
			files, ferr := c.t.GetFiles(nfd)
			if ferr != nil {
				log.Printf("dbus: fetching attached file descriptors: %v", ferr)
				c.Close()
				return
			}
			m.UnixFDs = files
		}

		buf = append([]byte(nil), buf[n:]...)
		c.dispatch(m)
	}
}

func (c *Conn) dispatch(m *Message) {
	switch m.Type {
	case TypeMethodCall:
		go c.dispatchCall(m)
	case TypeMethodReturn, TypeError:
		c.dispatchReply(m)
	case TypeSignal:
		c.dispatchSignal(m)
	default:
		// Unknown message types are silently ignored, per spec.md §4.F.
	}
}

func (c *Conn) dispatchReply(m *Message) {
	c.mu.Lock()
	pend, ok := c.pending[m.ReplySerial]
	if ok {
		delete(c.pending, m.ReplySerial)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if m.Type == TypeError {
		pend.err = remoteErr(m.ErrorName, m.Body)
	} else {
		pend.reply = m
	}
	close(pend.done)
}

func (c *Conn) dispatchCall(m *Message) {
	ctx := context.WithValue(context.Background(), ctxObjectPathKey{}, m.Path)
	ctx = context.WithValue(ctx, ctxSenderKey{}, m.Sender)

	results, outSig, rerr := c.invoke(ctx, m)
	if !m.WantReply() {
		return
	}

	reply := &Message{
		Destination: m.Sender,
		ReplySerial: m.Serial,
	}
	if rerr != nil {
		var re *RemoteError
		if errors.As(rerr, &re) {
			reply.Type = TypeError
			reply.ErrorName = re.Name
			reply.Body = re.Body
		} else {
			reply.Type = TypeError
			reply.ErrorName = ErrFailed
			reply.Body = []any{rerr.Error()}
		}
		if len(reply.Body) > 0 {
			reply.Signature = "s"
		}
	} else {
		reply.Type = TypeMethodReturn
		reply.Body = results
		if len(results) > 0 {
			reply.Signature = outSig
		}
	}

	if err := c.send(reply); err != nil {
		log.Printf("dbus: sending reply to %s.%s: %v", m.Interface, m.Member, err)
	}
}

// invoke locates and runs the handler for an incoming method call, following
// the lookup and error-mapping rules of spec.md §4.I: missing path, missing
// interface, missing member, and signature mismatch each map to a distinct
// well-known error name. When the caller left Interface unset, every
// interface exported at Path is searched for a method named Member, as the
// spec allows for calls that don't disambiguate by interface.
func (c *Conn) invoke(ctx context.Context, m *Message) ([]any, string, error) {
	if !c.tree.HasPath(m.Path) {
		return nil, "", &RemoteError{Name: ErrUnknownObject, Body: []any{"unknown object " + string(m.Path)}}
	}

	var md *MethodDescriptor
	if m.Interface != "" {
		iface, ok := c.tree.Lookup(m.Path, m.Interface)
		if !ok {
			return nil, "", &RemoteError{Name: ErrUnknownInterface, Body: []any{"unknown interface " + m.Interface}}
		}
		md, ok = iface.Methods[m.Member]
		if !ok {
			return nil, "", &RemoteError{Name: ErrUnknownMethod, Body: []any{"unknown method " + m.Member}}
		}
	} else {
		for _, name := range c.tree.Interfaces(m.Path) {
			iface, _ := c.tree.Lookup(m.Path, name)
			if found, ok := iface.Methods[m.Member]; ok {
				md = found
				break
			}
		}
		if md == nil {
			return nil, "", &RemoteError{Name: ErrUnknownMethod, Body: []any{"unknown method " + m.Member}}
		}
	}

	if md.InSignature != m.Signature {
		return nil, "", &RemoteError{Name: ErrInvalidArgs, Body: []any{
			"expected signature " + md.InSignature + ", got " + m.Signature,
		}}
	}

	results, err := md.Handler(ctx, m.Sender, m.Body)
	return results, md.OutSignature, err
}

func (c *Conn) dispatchSignal(m *Message) {
	c.mu.Lock()
	watchers := make([]*Watcher, 0, len(c.watchers))
	for w := range c.watchers {
		watchers = append(watchers, w)
	}
	c.mu.Unlock()

	for _, w := range watchers {
		if w.rule.matches(m) {
			w.deliver(m)
		}
	}
}

// Tree returns the object tree backing this connection's server side, for
// use by [Conn.Export]/[Conn.Unexport].
func (c *Conn) Tree() *ObjectTree { return c.tree }
