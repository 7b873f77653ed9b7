package dbus

import "testing"

func TestNewVariant(t *testing.T) {
	v, err := NewVariant("u", uint32(42))
	if err != nil {
		t.Fatal(err)
	}
	if v.Signature() != "u" {
		t.Errorf("Signature() = %q, want %q", v.Signature(), "u")
	}
	if v.Value() != uint32(42) {
		t.Errorf("Value() = %v, want 42", v.Value())
	}
}

func TestNewVariantTypeMismatch(t *testing.T) {
	if _, err := NewVariant("u", "not a uint32"); err == nil {
		t.Error("NewVariant with mismatched value should fail")
	}
}

func TestNewVariantBadSignature(t *testing.T) {
	if _, err := NewVariant("uu", uint32(1)); err == nil {
		t.Error("NewVariant with a multi-type signature should fail")
	}
	if _, err := NewVariant("(", uint32(1)); err == nil {
		t.Error("NewVariant with an unparseable signature should fail")
	}
}

func TestMustVariantPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustVariant with mismatched value should panic")
		}
	}()
	MustVariant("u", "nope")
}

func TestVariantEqual(t *testing.T) {
	a := MustVariant("s", "hello")
	b := MustVariant("s", "hello")
	c := MustVariant("s", "world")
	d := MustVariant("u", uint32(1))

	if !a.Equal(b) {
		t.Error("equal variants should compare equal")
	}
	if a.Equal(c) {
		t.Error("variants with different values should not compare equal")
	}
	if a.Equal(d) {
		t.Error("variants with different signatures should not compare equal")
	}
}

func TestVariantEqualContainers(t *testing.T) {
	a := MustVariant("as", []any{"x", "y"})
	b := MustVariant("as", []any{"x", "y"})
	c := MustVariant("as", []any{"x", "z"})
	if !a.Equal(b) {
		t.Error("variants wrapping equal slices should compare equal")
	}
	if a.Equal(c) {
		t.Error("variants wrapping different slices should not compare equal")
	}
}

func TestVariantEqualNestedVariant(t *testing.T) {
	inner1 := MustVariant("u", uint32(7))
	inner2 := MustVariant("u", uint32(7))
	a := MustVariant("v", inner1)
	b := MustVariant("v", inner2)
	if !a.Equal(b) {
		t.Error("variants wrapping equal nested variants should compare equal")
	}
}

func TestVariantZeroValueEqual(t *testing.T) {
	var a, b Variant
	if !a.Equal(b) {
		t.Error("two zero Variants should compare equal")
	}
}
