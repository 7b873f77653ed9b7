package dbus

import (
	"context"
	"encoding/xml"
	"sort"
)

// Introspection XML data model (spec.md §9's introspection supplement).
// These mirror the standard DBus introspection document schema closely
// enough for encoding/xml to reproduce it, without attempting to be a
// general-purpose parser for documents this process did not generate: a
// full introspection XML parser is out of scope (spec.md §1 Non-goals), so
// remote ProxyObjects are still built from explicit descriptors rather than
// by reading a peer's Introspect() output.
type xmlNode struct {
	XMLName    xml.Name        `xml:"node"`
	Interfaces []xmlInterface  `xml:"interface"`
	Nodes      []xmlChildNode  `xml:"node"`
}

type xmlChildNode struct {
	Name string `xml:"name,attr"`
}

type xmlInterface struct {
	Name       string         `xml:"name,attr"`
	Methods    []xmlMethod    `xml:"method"`
	Signals    []xmlSignal    `xml:"signal"`
	Properties []xmlProperty  `xml:"property"`
}

type xmlMethod struct {
	Name string   `xml:"name,attr"`
	Args []xmlArg `xml:"arg"`
}

type xmlSignal struct {
	Name string   `xml:"name,attr"`
	Args []xmlArg `xml:"arg"`
}

type xmlProperty struct {
	Name   string `xml:"name,attr"`
	Type   string `xml:"type,attr"`
	Access string `xml:"access,attr"`
}

type xmlArg struct {
	Name      string `xml:"name,attr,omitempty"`
	Type      string `xml:"type,attr"`
	Direction string `xml:"direction,attr,omitempty"`
}

const introspectionDoctype = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN" "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">` + "\n"

// GenerateIntrospection renders the introspection XML document for path,
// describing its directly exported interfaces and immediate child nodes.
func GenerateIntrospection(tree *ObjectTree, path ObjectPath) (string, error) {
	doc := xmlNode{}
	for _, name := range tree.Interfaces(path) {
		iface, _ := tree.Lookup(path, name)
		doc.Interfaces = append(doc.Interfaces, renderInterface(iface))
	}
	for _, child := range tree.ChildNames(path) {
		doc.Nodes = append(doc.Nodes, xmlChildNode{Name: child})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return introspectionDoctype + string(out), nil
}

func renderInterface(iface *ExportedInterface) xmlInterface {
	out := xmlInterface{Name: iface.Name}

	methodNames := sortedKeys(iface.Methods)
	for _, name := range methodNames {
		md := iface.Methods[name]
		m := xmlMethod{Name: name}
		for _, a := range splitTopLevelTypes(md.InSignature) {
			m.Args = append(m.Args, xmlArg{Type: a, Direction: "in"})
		}
		for _, a := range splitTopLevelTypes(md.OutSignature) {
			m.Args = append(m.Args, xmlArg{Type: a, Direction: "out"})
		}
		out.Methods = append(out.Methods, m)
	}

	signalNames := sortedKeys(iface.Signals)
	for _, name := range signalNames {
		sd := iface.Signals[name]
		s := xmlSignal{Name: name}
		for _, a := range splitTopLevelTypes(sd.Signature) {
			s.Args = append(s.Args, xmlArg{Type: a})
		}
		out.Signals = append(out.Signals, s)
	}

	propNames := sortedKeys(iface.Properties)
	for _, name := range propNames {
		pd := iface.Properties[name]
		access := "read"
		if pd.Set != nil {
			access = "readwrite"
		}
		out.Properties = append(out.Properties, xmlProperty{Name: name, Type: pd.Signature, Access: access})
	}

	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// splitTopLevelTypes splits a signature string into its complete top-level
// types, for rendering each as one <arg>.
func splitTopLevelTypes(sig string) []string {
	nodes, err := ParseSignature(sig)
	if err != nil {
		return nil
	}
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.String()
	}
	return out
}

// introspectableInterface builds the standard
// org.freedesktop.DBus.Introspectable interface.
func introspectableInterface(tree *ObjectTree) *ExportedInterface {
	iface := newExportedInterface("org.freedesktop.DBus.Introspectable")
	iface.Methods["Introspect"] = &MethodDescriptor{
		InSignature:  "",
		OutSignature: "s",
		Handler: func(ctx context.Context, sender string, args []any) ([]any, error) {
			path, _ := ctx.Value(ctxObjectPathKey{}).(ObjectPath)
			xmlStr, err := GenerateIntrospection(tree, path)
			if err != nil {
				return nil, err
			}
			return []any{xmlStr}, nil
		},
	}
	return iface
}
