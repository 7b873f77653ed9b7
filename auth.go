package dbus

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// AuthMechanism is a SASL mechanism this implementation can offer during the
// DBus authentication handshake (spec.md §4.G).
type AuthMechanism int

const (
	// MechExternal authenticates using the connecting process's Unix
	// credentials, as provided by the kernel on the socket itself.
	MechExternal AuthMechanism = iota
	// MechAnonymous performs no real authentication; offered only to
	// buses that are configured to allow it.
	MechAnonymous
)

func (m AuthMechanism) String() string {
	switch m {
	case MechExternal:
		return "EXTERNAL"
	case MechAnonymous:
		return "ANONYMOUS"
	default:
		return "UNKNOWN"
	}
}

// authState is one state of the SASL handshake state machine (spec.md
// §4.G). Unlike the single-shot optimistic EXTERNAL write some DBus client
// libraries use, this implementation tracks the handshake explicitly so
// that a REJECTED response can fall back to the next offered mechanism.
type authState int

const (
	authStart authState = iota
	authWaitingForData
	authWaitingForOK
	authWaitingForAgreeUnixFD
	authAuthenticated
)

// Authenticator drives the DBus SASL authentication handshake over an
// already-connected byte stream, per spec.md §4.G.
type Authenticator struct {
	rw         io.ReadWriter
	br         *bufio.Reader
	mechanisms []AuthMechanism

	state authState

	// RequestUnixFDs requests unix file descriptor passing support via
	// NEGOTIATE_UNIX_FD. UnixFDsEnabled reports whether the server agreed.
	RequestUnixFDs bool
	UnixFDsEnabled bool

	// GUID is the server's GUID, as reported in its OK response.
	GUID string
}

// NewAuthenticator creates an Authenticator that will try mechs in order,
// falling back to the next on REJECTED. If mechs is empty, it defaults to
// EXTERNAL then ANONYMOUS, which covers every transport this implementation
// supports (spec.md §6).
func NewAuthenticator(rw io.ReadWriter, mechs ...AuthMechanism) *Authenticator {
	if len(mechs) == 0 {
		mechs = []AuthMechanism{MechExternal, MechAnonymous}
	}
	return &Authenticator{
		rw:         rw,
		br:         bufio.NewReader(rw),
		mechanisms: mechs,
		state:      authStart,
	}
}

// Authenticate runs the handshake to completion: it negotiates a
// mechanism, optionally negotiates unix fd passing, and sends BEGIN. On
// success the connection is in the AUTHENTICATED state and the caller may
// start exchanging DBus messages; any bytes Authenticate has already
// buffered past the handshake are not lost, see [Authenticator.Buffered].
func (a *Authenticator) Authenticate() error {
	if _, err := a.rw.Write([]byte{0}); err != nil {
		return newErr(KindAuthFailed, "writing initial NUL byte: %w", err)
	}

	var lastErr error
	for _, mech := range a.mechanisms {
		ok, err := a.tryMechanism(mech)
		if err != nil {
			return err
		}
		if ok {
			lastErr = nil
			break
		}
		lastErr = newErr(KindAuthFailed, "mechanism %s rejected by server", mech)
	}
	if lastErr != nil {
		return lastErr
	}

	if a.RequestUnixFDs {
		if err := a.negotiateUnixFD(); err != nil {
			return err
		}
	}

	if _, err := a.rw.Write([]byte("BEGIN\r\n")); err != nil {
		return newErr(KindAuthFailed, "writing BEGIN: %w", err)
	}
	a.state = authAuthenticated
	return nil
}

// tryMechanism attempts a single mechanism's exchange and reports whether
// the server accepted it (OK). A false, nil result means REJECTED: the
// caller should try the next mechanism.
func (a *Authenticator) tryMechanism(mech AuthMechanism) (bool, error) {
	initial, err := initialResponse(mech)
	if err != nil {
		return false, err
	}
	if _, err := fmt.Fprintf(a.rw, "AUTH %s %s\r\n", mech, initial); err != nil {
		return false, newErr(KindAuthFailed, "writing AUTH %s: %w", mech, err)
	}
	a.state = authWaitingForData

	for {
		line, err := a.readLine()
		if err != nil {
			return false, newErr(KindAuthFailed, "reading response to AUTH %s: %w", mech, err)
		}
		switch {
		case strings.HasPrefix(line, "OK "):
			a.GUID = strings.TrimSpace(strings.TrimPrefix(line, "OK "))
			a.state = authWaitingForOK
			return true, nil
		case line == "REJECTED" || strings.HasPrefix(line, "REJECTED "):
			a.state = authStart
			return false, nil
		case strings.HasPrefix(line, "DATA "):
			// Neither EXTERNAL nor ANONYMOUS require a real continuation;
			// answer with an empty DATA response and let the server
			// decide the outcome on its next line.
			if _, err := a.rw.Write([]byte("DATA\r\n")); err != nil {
				return false, newErr(KindAuthFailed, "writing empty DATA continuation: %w", err)
			}
			continue
		case strings.HasPrefix(line, "ERROR"):
			a.state = authStart
			return false, nil
		default:
			return false, newErr(KindAuthFailed, "unexpected response %q during AUTH %s", line, mech)
		}
	}
}

func (a *Authenticator) negotiateUnixFD() error {
	if _, err := a.rw.Write([]byte("NEGOTIATE_UNIX_FD\r\n")); err != nil {
		return newErr(KindAuthFailed, "writing NEGOTIATE_UNIX_FD: %w", err)
	}
	a.state = authWaitingForAgreeUnixFD

	line, err := a.readLine()
	if err != nil {
		return newErr(KindAuthFailed, "reading response to NEGOTIATE_UNIX_FD: %w", err)
	}
	switch {
	case line == "AGREE_UNIX_FD":
		a.UnixFDsEnabled = true
	case strings.HasPrefix(line, "ERROR"):
		a.UnixFDsEnabled = false
	default:
		return newErr(KindAuthFailed, "unexpected response %q to NEGOTIATE_UNIX_FD", line)
	}
	return nil
}

func (a *Authenticator) readLine() (string, error) {
	line, err := a.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Buffered returns bytes already read from the underlying stream during
// negotiation but not yet consumed (possible if the server pipelines its
// first message ahead of the handshake's final response). Callers must
// prepend this to the first read they perform post-handshake.
func (a *Authenticator) Buffered() []byte {
	n := a.br.Buffered()
	if n == 0 {
		return nil
	}
	bs := make([]byte, n)
	_, _ = io.ReadFull(a.br, bs)
	return bs
}

func initialResponse(mech AuthMechanism) (string, error) {
	switch mech {
	case MechExternal:
		return hex.EncodeToString([]byte(strconv.Itoa(os.Getuid()))), nil
	case MechAnonymous:
		return hex.EncodeToString([]byte("quietwire-dbus")), nil
	default:
		return "", newErr(KindAuthFailed, "unknown auth mechanism %v", mech)
	}
}
