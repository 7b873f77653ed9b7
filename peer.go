package dbus

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"
)

const ifacePeerName = "org.freedesktop.DBus.Peer"

var machineID = sync.OnceValues(func() (string, error) {
	bs, err := os.ReadFile("/etc/machine-id")
	if errors.Is(err, fs.ErrNotExist) {
		bs, err = os.ReadFile("/var/lib/dbus/machine-id")
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(bs)), nil
})

// peerInterface builds the standard org.freedesktop.DBus.Peer interface,
// offered automatically on every object path a [Conn] exposes anything on.
func peerInterface() *ExportedInterface {
	iface := newExportedInterface(ifacePeerName)
	iface.Methods["Ping"] = &MethodDescriptor{
		Handler: func(ctx context.Context, sender string, args []any) ([]any, error) {
			return nil, nil
		},
	}
	iface.Methods["GetMachineId"] = &MethodDescriptor{
		OutSignature: "s",
		Handler: func(ctx context.Context, sender string, args []any) ([]any, error) {
			id, err := machineID()
			if err != nil {
				return nil, err
			}
			return []any{id}, nil
		},
	}
	return iface
}

const ifaceObjectManagerName = "org.freedesktop.DBus.ObjectManager"

// objectManagerInterface builds the optional org.freedesktop.DBus.ObjectManager
// interface (spec.md §9 supplement), reporting every object and interface
// exported at or below root.
func objectManagerInterface(tree *ObjectTree, propsOf func(ctx context.Context, path ObjectPath, iface *ExportedInterface) map[any]any) *ExportedInterface {
	iface := newExportedInterface(ifaceObjectManagerName)
	iface.Methods["GetManagedObjects"] = &MethodDescriptor{
		OutSignature: "a{oa{sa{sv}}}",
		Handler: func(ctx context.Context, sender string, args []any) ([]any, error) {
			root, _ := ctx.Value(ctxObjectPathKey{}).(ObjectPath)
			out := map[any]any{}
			for _, p := range tree.Paths() {
				if p != root && !p.IsChildOf(root) {
					continue
				}
				ifaces := map[any]any{}
				for _, name := range tree.Interfaces(p) {
					ei, _ := tree.Lookup(p, name)
					ifaces[name] = propsOf(ctx, p, ei)
				}
				out[p] = ifaces
			}
			return []any{out}, nil
		},
	}
	iface.Signals["InterfacesAdded"] = &SignalDescriptor{Signature: "oa{sa{sv}}"}
	iface.Signals["InterfacesRemoved"] = &SignalDescriptor{Signature: "oas"}
	return iface
}
