package dbus

import (
	"strings"
	"testing"
)

func TestParseSignatureBasic(t *testing.T) {
	tests := []struct {
		sig  string
		want string
	}{
		{"", ""},
		{"y", "y"},
		{"s", "s"},
		{"ay", "ay"},
		{"a{sv}", "a{sv}"},
		{"(ii)", "(ii)"},
		{"a(sv)", "a(sv)"},
		{"aaay", "aaay"},
		{"(a{sv}as)", "(a{sv}as)"},
	}
	for _, tc := range tests {
		nodes, err := ParseSignature(tc.sig)
		if err != nil {
			t.Errorf("ParseSignature(%q) failed: %v", tc.sig, err)
			continue
		}
		if got := SignatureString(nodes); got != tc.want {
			t.Errorf("ParseSignature(%q) round-trips to %q, want %q", tc.sig, got, tc.want)
		}
	}
}

func TestParseSignatureErrors(t *testing.T) {
	mustFail := []string{
		"(",        // unterminated struct
		"(ii",      // unterminated struct
		"()",       // struct with no fields
		"a",        // array with no element type
		"{sv}",     // dict entry outside array
		"a{si",     // unterminated dict entry
		"a{s}",     // dict entry with only one child
		"a{(i)s}",  // non-basic dict entry key
		"z",        // unknown type code
	}
	for _, sig := range mustFail {
		if _, err := ParseSignature(sig); err == nil {
			t.Errorf("ParseSignature(%q) succeeded, want error", sig)
		}
	}

	if _, err := ParseSignature("a{si}s"); err != nil {
		t.Errorf("ParseSignature(%q) failed, want success (two complete top-level types): %v", "a{si}s", err)
	}
}

func TestSignatureLengthLimit(t *testing.T) {
	ok := strings.Repeat("y", 255)
	if _, err := ParseSignature(ok); err != nil {
		t.Errorf("255-byte signature should succeed: %v", err)
	}
	tooLong := strings.Repeat("y", 256)
	if _, err := ParseSignature(tooLong); err == nil {
		t.Error("256-byte signature should fail")
	}
}

func TestSignatureNestingLimit(t *testing.T) {
	ok := strings.Repeat("a", 32) + "y"
	if _, err := ParseSignature(ok); err != nil {
		t.Errorf("nesting depth 32 should succeed: %v", err)
	}
	tooDeep := strings.Repeat("a", 33) + "y"
	if _, err := ParseSignature(tooDeep); err == nil {
		t.Error("nesting depth 33 should fail")
	}
}

func TestSignatureAlignmentAndFixed(t *testing.T) {
	tests := []struct {
		sig       string
		align     int
		fixedSize bool
	}{
		{"y", 1, true},
		{"n", 2, true},
		{"i", 4, true},
		{"x", 8, true},
		{"d", 8, true},
		{"s", 4, false},
		{"o", 4, false},
		{"g", 1, false},
		{"a y", 4, false}, // array never fixed
		{"(ii)", 8, true},
		{"(is)", 8, false}, // struct with a variable-size field
		{"v", 1, false},
	}
	for _, tc := range tests {
		sig := strings.ReplaceAll(tc.sig, " ", "")
		nodes, err := ParseSignature(sig)
		if err != nil {
			t.Fatalf("ParseSignature(%q): %v", sig, err)
		}
		n := nodes[0]
		if n.Alignment() != tc.align {
			t.Errorf("%q: Alignment() = %d, want %d", sig, n.Alignment(), tc.align)
		}
		if n.Fixed() != tc.fixedSize {
			t.Errorf("%q: Fixed() = %v, want %v", sig, n.Fixed(), tc.fixedSize)
		}
	}
}

func TestParseSingleType(t *testing.T) {
	if _, err := ParseSingleType("ii"); err == nil {
		t.Error("ParseSingleType on a two-element signature should fail")
	}
	if _, err := ParseSingleType(""); err == nil {
		t.Error("ParseSingleType on an empty signature should fail")
	}
	n, err := ParseSingleType("a{sv}")
	if err != nil {
		t.Fatal(err)
	}
	if n.Code != TypeArray {
		t.Errorf("got code %q, want 'a'", n.Code)
	}
}

func TestSignatureCacheIsDeterministic(t *testing.T) {
	n1, err := ParseSignature("a{sv}")
	if err != nil {
		t.Fatal(err)
	}
	n2, err := ParseSignature("a{sv}")
	if err != nil {
		t.Fatal(err)
	}
	if SignatureString(n1) != SignatureString(n2) {
		t.Error("repeated parses of the same signature should produce equal trees")
	}
}

func TestDictEntryKeyMustBeBasic(t *testing.T) {
	if _, err := ParseSignature("a{(i)s}"); err == nil {
		t.Error("struct dict-entry key should be rejected")
	}
	if _, err := ParseSignature("a{as}"); err == nil {
		t.Error("array dict-entry key should be rejected")
	}
}
