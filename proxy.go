package dbus

import "context"

// ProxyObject is a convenience wrapper around [Conn.Call] bound to one
// remote destination and object path. Unlike the teacher's reflect-driven
// proxy, signatures are supplied explicitly by the caller rather than
// discovered by parsing a peer's Introspect() output (spec.md §1 Non-goals).
type ProxyObject struct {
	conn        *Conn
	destination string
	path        ObjectPath
}

// Object returns a ProxyObject bound to destination and path.
func (c *Conn) Object(destination string, path ObjectPath) *ProxyObject {
	return &ProxyObject{conn: c, destination: destination, path: path}
}

// Path returns the object path this proxy is bound to.
func (o *ProxyObject) Path() ObjectPath { return o.path }

// Destination returns the bus name this proxy is bound to.
func (o *ProxyObject) Destination() string { return o.destination }

// Interface returns a ProxyInterface narrowing this object to a single
// interface name, for calls, property access and signal subscriptions.
func (o *ProxyObject) Interface(name string) *ProxyInterface {
	return &ProxyInterface{obj: o, name: name}
}

// Call invokes method on iface, decoding the reply body into out. args must
// match inSig and out must match outSig; there is no reflection to catch a
// mismatch earlier than the wire-level type check.
func (o *ProxyObject) Call(ctx context.Context, iface, method, inSig string, args []any, outSig string, out ...any) error {
	return o.conn.Call(ctx, o.destination, o.path, iface, method, inSig, args, outSig, out...)
}

// ProxyInterface is a [ProxyObject] narrowed to one interface name.
type ProxyInterface struct {
	obj  *ProxyObject
	name string
}

// Call invokes method, decoding the reply body into out.
func (p *ProxyInterface) Call(ctx context.Context, method, inSig string, args []any, outSig string, out ...any) error {
	return p.obj.Call(ctx, p.name, method, inSig, args, outSig, out...)
}

// Get fetches a single property via org.freedesktop.DBus.Properties.Get.
// val must be a pointer of the concrete Go type the property's signature
// decodes to.
func (p *ProxyInterface) Get(ctx context.Context, property string, val any) error {
	var v Variant
	if err := p.obj.Call(ctx, ifacePropertiesName, "Get", "ss", []any{p.name, property}, "v", &v); err != nil {
		return err
	}
	return assignOut(val, v.Value())
}

// Set assigns a single property via org.freedesktop.DBus.Properties.Set.
func (p *ProxyInterface) Set(ctx context.Context, property, sig string, val any) error {
	v, err := NewVariant(sig, val)
	if err != nil {
		return err
	}
	return p.obj.Call(ctx, ifacePropertiesName, "Set", "ssv", []any{p.name, property, v}, "")
}

// GetAll fetches every property of the interface via
// org.freedesktop.DBus.Properties.GetAll.
func (p *ProxyInterface) GetAll(ctx context.Context) (map[string]Variant, error) {
	var raw map[any]any
	if err := p.obj.Call(ctx, ifacePropertiesName, "GetAll", "s", []any{p.name}, "a{sv}", &raw); err != nil {
		return nil, err
	}
	out := make(map[string]Variant, len(raw))
	for k, v := range raw {
		s, ok := k.(string)
		if !ok {
			continue
		}
		variant, ok := v.(Variant)
		if !ok {
			continue
		}
		out[s] = variant
	}
	return out, nil
}

// Subscribe watches signal member on this interface, restricted to its bound
// object path and destination sender.
func (p *ProxyInterface) Subscribe(ctx context.Context, member string) (*Watcher, error) {
	rule := NewMatchRule().Sender(p.obj.destination).Object(p.obj.path).Signal(p.name, member)
	return p.obj.conn.Subscribe(ctx, rule)
}
