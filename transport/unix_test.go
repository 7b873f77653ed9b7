package transport_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quietwire/dbus/transport"
	"golang.org/x/sys/unix"
)

// listenAndDial sets up a real AF_UNIX socket pair: a listener accepting
// exactly one connection, and the client-side Transport dialed against it.
func listenAndDial(t *testing.T) (transport.Transport, *net.UnixConn) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.sock")

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	serverCh := make(chan *net.UnixConn, 1)
	go func() {
		c, err := ln.AcceptUnix()
		if err != nil {
			return
		}
		serverCh <- c
	}()

	client, err := transport.DialUnix(path)
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	var server *net.UnixConn
	select {
	case server = <-serverCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept connection in time")
	}
	t.Cleanup(func() { server.Close() })

	return client, server
}

func TestUnixTransportSupportsFileDescriptors(t *testing.T) {
	client, _ := listenAndDial(t)
	if !client.SupportsFileDescriptors() {
		t.Error("unix transport should report SupportsFileDescriptors() == true")
	}
}

func TestUnixTransportPlainReadWrite(t *testing.T) {
	client, server := listenAndDial(t)

	msg := []byte("hello dbus")
	if _, err := server.Write(msg); err != nil {
		t.Fatalf("server write: %v", err)
	}
	buf := make([]byte, len(msg))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(buf[:n]) != string(msg) {
		t.Errorf("got %q, want %q", buf[:n], msg)
	}
}

func TestUnixTransportFilePassthrough(t *testing.T) {
	client, server := listenAndDial(t)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	const payload = "fd payload"
	go func() {
		w.WriteString(payload)
		w.Close()
	}()

	serverSide := &unixConnTransport{server}
	if _, err := serverSide.WriteWithFiles([]byte("X"), []*os.File{r}); err != nil {
		t.Fatalf("WriteWithFiles: %v", err)
	}

	buf := make([]byte, 1)
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if buf[0] != 'X' {
		t.Fatalf("got %q, want 'X'", buf)
	}

	files, err := client.GetFiles(1)
	if err != nil {
		t.Fatalf("GetFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
	defer files[0].Close()

	got := make([]byte, len(payload))
	n, _ := files[0].Read(got)
	if string(got[:n]) != payload {
		t.Errorf("got %q, want %q", got[:n], payload)
	}
}

func TestUnixTransportGetFilesErrorsWhenNoneAvailable(t *testing.T) {
	client, _ := listenAndDial(t)
	if _, err := client.GetFiles(1); err == nil {
		t.Error("GetFiles with no received descriptors should fail")
	}
}

// unixConnTransport is a minimal WriteWithFiles-capable wrapper around a
// raw server-side *net.UnixConn, used to inject SCM_RIGHTS ancillary data
// without depending on transport package internals.
type unixConnTransport struct {
	conn *net.UnixConn
}

func (u *unixConnTransport) WriteWithFiles(bs []byte, fs []*os.File) (int, error) {
	fds := make([]int, len(fs))
	for i, f := range fs {
		fds[i] = int(f.Fd())
	}
	rights := unix.UnixRights(fds...)
	n, oobn, err := u.conn.WriteMsgUnix(bs, rights, nil)
	if err != nil {
		return n, err
	}
	if oobn != len(rights) {
		return n, err
	}
	return n, nil
}
