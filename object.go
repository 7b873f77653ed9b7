package dbus

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MethodDescriptor describes one exported method (spec.md §9's explicit
// descriptor model: no reflection is consulted at dispatch time).
type MethodDescriptor struct {
	// InSignature and OutSignature are the method's argument and return
	// value signatures, used both to type-check/marshal the wire traffic
	// and to generate introspection XML.
	InSignature  string
	OutSignature string
	// Handler is invoked with the decoded argument list; it returns the
	// decoded return value list. Returning a *RemoteError controls the
	// ERROR name and body sent back; any other error is mapped to
	// [ErrFailed].
	Handler func(ctx context.Context, sender string, args []any) ([]any, error)
}

// SignalDescriptor describes one signal an interface may emit, for
// introspection purposes.
type SignalDescriptor struct {
	Signature string
}

// ExportedInterface is a named bundle of methods, properties and signals
// attached to one or more object paths.
type ExportedInterface struct {
	Name       string
	Methods    map[string]*MethodDescriptor
	Properties map[string]*PropertyDescriptor
	Signals    map[string]*SignalDescriptor
}

func newExportedInterface(name string) *ExportedInterface {
	return &ExportedInterface{
		Name:       name,
		Methods:    map[string]*MethodDescriptor{},
		Properties: map[string]*PropertyDescriptor{},
		Signals:    map[string]*SignalDescriptor{},
	}
}

// NewExportedInterface returns an empty [ExportedInterface] named name,
// ready for its Methods/Properties/Signals maps to be populated before
// passing it to [Conn.Export].
func NewExportedInterface(name string) *ExportedInterface {
	return newExportedInterface(name)
}

// ObjectTree is the server-side registry of exported objects: a map from
// object path to the set of interfaces that object implements. It has no
// notion of hierarchy beyond what [ObjectPath.IsChildOf] expresses for
// introspection/ObjectManager purposes; every exported path is registered
// explicitly.
type ObjectTree struct {
	mu      sync.RWMutex
	objects map[ObjectPath]map[string]*ExportedInterface
}

func newObjectTree() *ObjectTree {
	return &ObjectTree{objects: map[ObjectPath]map[string]*ExportedInterface{}}
}

// Export registers iface on path, replacing any existing interface of the
// same name at that path.
func (t *ObjectTree) Export(path ObjectPath, iface *ExportedInterface) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ifaces, ok := t.objects[path]
	if !ok {
		ifaces = map[string]*ExportedInterface{}
		t.objects[path] = ifaces
	}
	ifaces[iface.Name] = iface
}

// Unexport removes one interface from path. If path has no interfaces left,
// it is removed from the tree entirely.
func (t *ObjectTree) Unexport(path ObjectPath, ifaceName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ifaces, ok := t.objects[path]
	if !ok {
		return
	}
	delete(ifaces, ifaceName)
	if len(ifaces) == 0 {
		delete(t.objects, path)
	}
}

// Lookup returns the interface named ifaceName exported on path, if any.
func (t *ObjectTree) Lookup(path ObjectPath, ifaceName string) (*ExportedInterface, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ifaces, ok := t.objects[path]
	if !ok {
		return nil, false
	}
	iface, ok := ifaces[ifaceName]
	return iface, ok
}

// Interfaces returns the names of all interfaces exported on path.
func (t *ObjectTree) Interfaces(path ObjectPath) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ifaces, ok := t.objects[path]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(ifaces))
	for n := range ifaces {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasPath reports whether any interface is exported on path.
func (t *ObjectTree) HasPath(path ObjectPath) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.objects[path]
	return ok
}

// ChildNames returns the immediate child path segments of path that have
// objects exported under them, for introspection's <node name="..."/>
// entries.
func (t *ObjectTree) ChildNames(path ObjectPath) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := map[string]bool{}
	prefix := string(path.Clean())
	if prefix != "/" {
		prefix += "/"
	}
	for p := range t.objects {
		ps := string(p)
		if !strings.HasPrefix(ps, prefix) || ps == string(path) {
			continue
		}
		rest := ps[len(prefix):]
		for i := 0; i < len(rest); i++ {
			if rest[i] == '/' {
				rest = rest[:i]
				break
			}
		}
		if rest != "" {
			seen[rest] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Paths returns every object path currently exported, sorted.
func (t *ObjectTree) Paths() []ObjectPath {
	t.mu.RLock()
	defer t.mu.RUnlock()
	paths := make([]ObjectPath, 0, len(t.objects))
	for p := range t.objects {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}
