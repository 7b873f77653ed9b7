package dbus

import (
	"reflect"
	"testing"
)

func TestObjectTreeExportLookupUnexport(t *testing.T) {
	tree := newObjectTree()
	iface := newExportedInterface("org.example.Foo")
	iface.Methods["Bar"] = &MethodDescriptor{}

	if tree.HasPath("/a") {
		t.Fatal("HasPath should be false before any export")
	}
	tree.Export("/a", iface)
	if !tree.HasPath("/a") {
		t.Fatal("HasPath should be true after export")
	}

	got, ok := tree.Lookup("/a", "org.example.Foo")
	if !ok || got != iface {
		t.Fatalf("Lookup returned (%v, %v), want (%v, true)", got, ok, iface)
	}

	if _, ok := tree.Lookup("/a", "org.example.Bar"); ok {
		t.Fatal("Lookup of an unexported interface should fail")
	}

	tree.Unexport("/a", "org.example.Foo")
	if tree.HasPath("/a") {
		t.Fatal("HasPath should be false after unexporting the only interface")
	}
}

func TestObjectTreeInterfaces(t *testing.T) {
	tree := newObjectTree()
	tree.Export("/a", newExportedInterface("org.example.B"))
	tree.Export("/a", newExportedInterface("org.example.A"))

	got := tree.Interfaces("/a")
	want := []string{"org.example.A", "org.example.B"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v (sorted)", got, want)
	}

	if got := tree.Interfaces("/nonexistent"); got != nil {
		t.Errorf("Interfaces of an unexported path should be nil, got %v", got)
	}
}

func TestObjectTreeChildNames(t *testing.T) {
	tree := newObjectTree()
	tree.Export("/a", newExportedInterface("org.example.I"))
	tree.Export("/a/b", newExportedInterface("org.example.I"))
	tree.Export("/a/c/d", newExportedInterface("org.example.I"))
	tree.Export("/z", newExportedInterface("org.example.I"))

	got := tree.ChildNames("/a")
	want := []string{"b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestObjectTreePaths(t *testing.T) {
	tree := newObjectTree()
	tree.Export("/b", newExportedInterface("org.example.I"))
	tree.Export("/a", newExportedInterface("org.example.I"))

	got := tree.Paths()
	want := []ObjectPath{"/a", "/b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v (sorted)", got, want)
	}
}

func TestObjectTreeExportReplacesSameNamedInterface(t *testing.T) {
	tree := newObjectTree()
	first := newExportedInterface("org.example.Foo")
	second := newExportedInterface("org.example.Foo")
	tree.Export("/a", first)
	tree.Export("/a", second)

	got, ok := tree.Lookup("/a", "org.example.Foo")
	if !ok || got != second {
		t.Error("exporting the same interface name again should replace the previous one")
	}
}
