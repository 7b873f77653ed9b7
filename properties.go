package dbus

import (
	"context"
	"sort"
)

// PropertyDescriptor describes one exported property (spec.md §9).
type PropertyDescriptor struct {
	Signature string
	// Get reads the current value. Required.
	Get func(ctx context.Context) (any, error)
	// Set writes a new value. Nil means the property is read-only, and
	// attempts to set it fail with [ErrPropertyReadOnly].
	Set func(ctx context.Context, val any) error
	// EmitsChanged controls whether a successful Set triggers a
	// PropertiesChanged signal. It is honored only when the new value
	// actually differs from what Get returned beforehand.
	EmitsChanged bool
}

const ifacePropertiesName = "org.freedesktop.DBus.Properties"

// propertiesInterface builds the standard org.freedesktop.DBus.Properties
// interface descriptor, dispatching against tree's registered
// PropertyDescriptors. emitChanged is called after a successful Set whose
// descriptor has EmitsChanged set and whose value actually changed.
func propertiesInterface(tree *ObjectTree, emitChanged func(path ObjectPath, ifaceName, prop string, val any)) *ExportedInterface {
	iface := newExportedInterface(ifacePropertiesName)

	iface.Methods["Get"] = &MethodDescriptor{
		InSignature:  "ss",
		OutSignature: "v",
		Handler: func(ctx context.Context, sender string, args []any) ([]any, error) {
			path, _ := ctx.Value(ctxObjectPathKey{}).(ObjectPath)
			ifaceName, prop := args[0].(string), args[1].(string)
			target, ok := tree.Lookup(path, ifaceName)
			if !ok {
				return nil, &RemoteError{Name: ErrUnknownInterface, Body: []any{"no such interface " + ifaceName}}
			}
			pd, ok := target.Properties[prop]
			if !ok {
				return nil, &RemoteError{Name: ErrUnknownProperty, Body: []any{"no such property " + prop}}
			}
			v, err := pd.Get(ctx)
			if err != nil {
				return nil, err
			}
			variant, err := NewVariant(pd.Signature, v)
			if err != nil {
				return nil, err
			}
			return []any{variant}, nil
		},
	}

	iface.Methods["Set"] = &MethodDescriptor{
		InSignature:  "ssv",
		OutSignature: "",
		Handler: func(ctx context.Context, sender string, args []any) ([]any, error) {
			path, _ := ctx.Value(ctxObjectPathKey{}).(ObjectPath)
			ifaceName, prop := args[0].(string), args[1].(string)
			newVal := args[2].(Variant)
			target, ok := tree.Lookup(path, ifaceName)
			if !ok {
				return nil, &RemoteError{Name: ErrUnknownInterface, Body: []any{"no such interface " + ifaceName}}
			}
			pd, ok := target.Properties[prop]
			if !ok {
				return nil, &RemoteError{Name: ErrUnknownProperty, Body: []any{"no such property " + prop}}
			}
			if pd.Set == nil {
				return nil, &RemoteError{Name: ErrPropertyReadOnly, Body: []any{prop + " is read-only"}}
			}
			var old any
			if pd.EmitsChanged && emitChanged != nil {
				old, _ = pd.Get(ctx)
			}
			if err := pd.Set(ctx, newVal.Value()); err != nil {
				return nil, err
			}
			if pd.EmitsChanged && emitChanged != nil {
				if cur, err := pd.Get(ctx); err == nil && !deepEqualValue(old, cur) {
					emitChanged(path, ifaceName, prop, cur)
				}
			}
			return nil, nil
		},
	}

	iface.Methods["GetAll"] = &MethodDescriptor{
		InSignature:  "s",
		OutSignature: "a{sv}",
		Handler: func(ctx context.Context, sender string, args []any) ([]any, error) {
			path, _ := ctx.Value(ctxObjectPathKey{}).(ObjectPath)
			ifaceName := args[0].(string)
			target, ok := tree.Lookup(path, ifaceName)
			if !ok {
				return nil, &RemoteError{Name: ErrUnknownInterface, Body: []any{"no such interface " + ifaceName}}
			}
			names := make([]string, 0, len(target.Properties))
			for n := range target.Properties {
				names = append(names, n)
			}
			sort.Strings(names)
			out := map[any]any{}
			for _, n := range names {
				pd := target.Properties[n]
				v, err := pd.Get(ctx)
				if err != nil {
					return nil, err
				}
				variant, err := NewVariant(pd.Signature, v)
				if err != nil {
					return nil, err
				}
				out[n] = variant
			}
			return []any{out}, nil
		},
	}

	iface.Signals["PropertiesChanged"] = &SignalDescriptor{Signature: "sa{sv}as"}

	return iface
}

// ctxObjectPathKey is the context key [Conn] uses to pass the target
// object path of the call currently being dispatched to its handler, since
// MethodDescriptor.Handler does not take it as an explicit parameter (the
// Properties interface needs it to find the right ExportedInterface).
type ctxObjectPathKey struct{}
