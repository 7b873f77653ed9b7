package dbus

import "context"

// Export registers iface at path. Every exported path automatically also
// offers org.freedesktop.DBus.Peer, org.freedesktop.DBus.Introspectable,
// and org.freedesktop.DBus.Properties, matching every real DBus service
// (spec.md §9).
func (c *Conn) Export(path ObjectPath, iface *ExportedInterface) {
	c.tree.Export(path, iface)
	c.tree.Export(path, peerInterface())
	c.tree.Export(path, introspectableInterface(c.tree))
	c.tree.Export(path, propertiesInterface(c.tree, c.emitPropertiesChanged))
}

// Unexport removes ifaceName from path.
func (c *Conn) Unexport(path ObjectPath, ifaceName string) {
	c.tree.Unexport(path, ifaceName)
}

// ExportObjectManager additionally offers org.freedesktop.DBus.ObjectManager
// at path, reporting every interface exported at or below path (spec.md §9
// supplement; optional, since ObjectManager is not part of the wire-protocol
// core).
func (c *Conn) ExportObjectManager(path ObjectPath) {
	c.tree.Export(path, objectManagerInterface(c.tree, c.currentProperties))
}

func (c *Conn) currentProperties(ctx context.Context, path ObjectPath, iface *ExportedInterface) map[any]any {
	out := map[any]any{}
	for name, pd := range iface.Properties {
		v, err := pd.Get(ctx)
		if err != nil {
			continue
		}
		variant, err := NewVariant(pd.Signature, v)
		if err != nil {
			continue
		}
		out[name] = variant
	}
	return out
}

// emitPropertiesChanged sends the standard PropertiesChanged signal after a
// property set through the Properties interface actually changes a value.
func (c *Conn) emitPropertiesChanged(path ObjectPath, ifaceName, prop string, val any) {
	iface, ok := c.tree.Lookup(path, ifaceName)
	if !ok {
		return
	}
	pd, ok := iface.Properties[prop]
	if !ok {
		return
	}
	variant, err := NewVariant(pd.Signature, val)
	if err != nil {
		return
	}
	changed := map[any]any{prop: variant}
	m := &Message{
		Type:      TypeSignal,
		Path:      path,
		Interface: ifacePropertiesName,
		Member:    "PropertiesChanged",
		Signature: "sa{sv}as",
		Body:      []any{ifaceName, changed, []any{}},
	}
	_ = c.send(m)
}
