package dbus

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/quietwire/dbus/transport"
)

// Address is one parsed entry of a DBus server address string (spec.md §6):
// a transport kind plus its key=value parameters.
type Address struct {
	Transport string // "unix", "tcp", or "launchd"
	Params    map[string]string
}

// ParseAddresses splits a semicolon-separated DBus address string into its
// individual entries, to be tried in order until one connects.
func ParseAddresses(s string) ([]Address, error) {
	var addrs []Address
	for _, entry := range strings.Split(s, ";") {
		if entry == "" {
			continue
		}
		a, err := parseOneAddress(entry)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	if len(addrs) == 0 {
		return nil, newErr(KindInvalidAddress, "empty address string")
	}
	return addrs, nil
}

func parseOneAddress(entry string) (Address, error) {
	kind, rest, ok := strings.Cut(entry, ":")
	if !ok {
		return Address{}, newErr(KindInvalidAddress, "address %q has no transport prefix", entry)
	}
	params := map[string]string{}
	for _, kv := range strings.Split(rest, ",") {
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return Address{}, newErr(KindInvalidAddress, "malformed address parameter %q in %q", kv, entry)
		}
		unescaped, err := unescapeAddressValue(v)
		if err != nil {
			return Address{}, err
		}
		params[k] = unescaped
	}
	switch kind {
	case "unix", "tcp", "launchd":
		return Address{Transport: kind, Params: params}, nil
	default:
		return Address{}, newErr(KindInvalidAddress, "unsupported transport %q in address %q", kind, entry)
	}
}

// unescapeAddressValue undoes the percent-style escaping the DBus address
// grammar uses for bytes outside its unreserved set.
func unescapeAddressValue(v string) (string, error) {
	if !strings.Contains(v, "%") {
		return v, nil
	}
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] != '%' {
			b.WriteByte(v[i])
			continue
		}
		if i+2 >= len(v) {
			return "", newErr(KindInvalidAddress, "truncated percent-escape in address value %q", v)
		}
		bs, err := hex.DecodeString(v[i+1 : i+3])
		if err != nil || len(bs) != 1 {
			return "", newErr(KindInvalidAddress, "invalid percent-escape in address value %q", v)
		}
		b.WriteByte(bs[0])
		i += 2
	}
	return b.String(), nil
}

// Dial connects to the first address in addrs that can be reached, trying
// each in turn, per spec.md §6.
func Dial(addrs []Address) (transport.Transport, string, error) {
	var lastErr error
	for _, a := range addrs {
		t, guid, err := dialOne(a)
		if err == nil {
			return t, guid, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = newErr(KindInvalidAddress, "no addresses to try")
	}
	return nil, "", lastErr
}

func dialOne(a Address) (transport.Transport, string, error) {
	switch a.Transport {
	case "unix":
		path, err := unixSocketPath(a.Params)
		if err != nil {
			return nil, "", err
		}
		t, err := transport.DialUnix(path)
		return t, a.Params["guid"], err
	case "tcp":
		host := a.Params["host"]
		if host == "" {
			host = "localhost"
		}
		port := a.Params["port"]
		if port == "" {
			return nil, "", newErr(KindInvalidAddress, "tcp address missing required port= parameter")
		}
		network := "tcp"
		if family := a.Params["family"]; family == "ipv4" {
			network = "tcp4"
		} else if family == "ipv6" {
			network = "tcp6"
		}
		t, err := transport.DialTCP(network, host+":"+port)
		return t, a.Params["guid"], err
	case "launchd":
		return nil, "", newErr(KindInvalidAddress, "launchd addresses are not supported on this platform")
	default:
		return nil, "", newErr(KindInvalidAddress, "unsupported transport %q", a.Transport)
	}
}

// unixSocketPath resolves a unix: address's path/abstract/tmpdir parameter
// to the string net.UnixAddr expects, using a leading NUL byte to request
// Linux's abstract socket namespace.
func unixSocketPath(params map[string]string) (string, error) {
	if p, ok := params["path"]; ok {
		return p, nil
	}
	if a, ok := params["abstract"]; ok {
		return "\x00" + a, nil
	}
	if dir, ok := params["tmpdir"]; ok {
		name, err := randomAbstractName()
		if err != nil {
			return "", err
		}
		_ = dir // the abstract namespace ignores the directory; kept for symmetry with path= addresses that do use it.
		return "\x00" + name, nil
	}
	return "", newErr(KindInvalidAddress, "unix address missing path=, abstract=, or tmpdir= parameter")
}

func randomAbstractName() (string, error) {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("dbus-%s", hex.EncodeToString(buf[:])), nil
}

// SessionBusAddress returns the current process's session bus address, from
// the DBUS_SESSION_BUS_ADDRESS environment variable.
func SessionBusAddress() (string, error) {
	addr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if addr == "" {
		return "", newErr(KindInvalidAddress, "DBUS_SESSION_BUS_ADDRESS is not set")
	}
	return addr, nil
}

// SystemBusAddress returns the well-known system bus address, honoring
// DBUS_SYSTEM_BUS_ADDRESS if set.
func SystemBusAddress() string {
	if addr := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS"); addr != "" {
		return addr
	}
	return "unix:path=/var/run/dbus/system_bus_socket"
}
