package dbus

import "testing"

func TestValidBusName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"org.freedesktop.DBus", true},
		{":1.42", true},
		{":1.42.foo", true},
		{"", false},
		{":", false},
		{":.", false},
		{"org", false}, // well-known names need at least two elements
		{"org.freedesktop.", false},
		{"org..freedesktop", false},
		{"org.1freedesktop", false}, // element can't start with a digit
		{"org.free-desktop", true},  // '-' is allowed in bus names
	}
	for _, tc := range tests {
		if got := ValidBusName(tc.name); got != tc.want {
			t.Errorf("ValidBusName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestValidInterfaceName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"org.freedesktop.DBus.Properties", true},
		{"a.b", true},
		{"a", false},
		{"", false},
		{"1.b", false},
		{":1.42", false}, // unique names aren't valid interface names
	}
	for _, tc := range tests {
		if got := ValidInterfaceName(tc.name); got != tc.want {
			t.Errorf("ValidInterfaceName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestValidMemberName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Ping", true},
		{"GetAll", true},
		{"_leading_underscore", true},
		{"", false},
		{"1Leading", false},
		{"has-dash", false}, // unlike bus/interface names, '-' is rejected
		{"has.dot", false},
	}
	for _, tc := range tests {
		if got := ValidMemberName(tc.name); got != tc.want {
			t.Errorf("ValidMemberName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestValidObjectPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/org/freedesktop/DBus", true},
		{"/a/b_c/D42", true},
		{"", false},
		{"no/leading/slash", false},
		{"/trailing/slash/", false},
		{"/double//slash", false},
		{"/has-dash", false},
		{"/has.dot", false},
	}
	for _, tc := range tests {
		if got := ValidObjectPath(tc.path); got != tc.want {
			t.Errorf("ValidObjectPath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
