package listener

import (
	"net"
	"testing"

	"git.torproject.org/tor-or-core.git/conn"
)

func noopAccept(net.Conn, PortConfig) {}

func TestReconcileKeepsMatchingClosesUnwantedOpensNew(t *testing.T) {
	m := NewManager(noopAccept, nil, nil)

	initial := []PortConfig{
		{Kind: conn.OrListener, Addr: "127.0.0.1", Port: 0},
		{Kind: conn.DirListener, Addr: "127.0.0.1", Port: 0},
	}
	if err := m.Reconcile(initial); err != nil {
		t.Fatalf("initial Reconcile: %v", err)
	}
	first := m.Listeners()
	if len(first) != 2 {
		t.Fatalf("expected 2 listeners after initial reconcile, got %d", len(first))
	}

	var orAddr net.Addr
	for _, l := range first {
		if l.Config().Kind == conn.OrListener {
			orAddr = l.Addr()
		}
	}
	orPort := uint16(orAddr.(*net.TCPAddr).Port)

	next := []PortConfig{
		{Kind: conn.OrListener, Addr: "127.0.0.1", Port: orPort},
		{Kind: conn.OrListener, Addr: "127.0.0.1", Port: 0},
		{Kind: conn.ControlListener, Addr: "127.0.0.1", Port: 0},
	}
	if err := m.Reconcile(next); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}

	second := m.Listeners()
	if len(second) != 3 {
		t.Fatalf("expected 3 listeners after second reconcile, got %d", len(second))
	}

	var keptOr bool
	var sawDir bool
	for _, l := range second {
		if l.Config().Kind == conn.OrListener && l.Addr().(*net.TCPAddr).Port == int(orPort) {
			keptOr = true
		}
		if l.Config().Kind == conn.DirListener {
			sawDir = true
		}
	}
	if !keptOr {
		t.Fatalf("expected the original Or:%d listener to be kept, not replaced", orPort)
	}
	if sawDir {
		t.Fatalf("expected Dir listener to be closed, but it is still present")
	}

	for _, l := range second {
		_ = l.Close()
	}
}

func TestPortConfigKeyDistinguishesUnixFromTCP(t *testing.T) {
	a := PortConfig{Kind: conn.ControlListener, IsUnixAddr: true, UnixPath: "/tmp/x.sock"}
	b := PortConfig{Kind: conn.ControlListener, Addr: "127.0.0.1", Port: 9051}
	if a.key() == b.key() {
		t.Fatalf("expected distinct keys for unix vs tcp listener configs")
	}
}

func TestParseIsolationFlagsSetsBitsForPresentKeys(t *testing.T) {
	flags, err := ParseIsolationFlags("client_addr=1;dest_port=1")
	if err != nil {
		t.Fatalf("ParseIsolationFlags: %v", err)
	}
	if flags&IsolateClientAddr == 0 || flags&IsolateDestPort == 0 {
		t.Fatalf("expected IsolateClientAddr|IsolateDestPort set, got %#x", flags)
	}
	if flags&IsolateDestAddr != 0 {
		t.Fatalf("did not expect IsolateDestAddr set, got %#x", flags)
	}
}

func TestParseIsolationFlagsEmptyStringYieldsNoFlags(t *testing.T) {
	flags, err := ParseIsolationFlags("")
	if err != nil {
		t.Fatalf("ParseIsolationFlags: %v", err)
	}
	if flags != 0 {
		t.Fatalf("flags = %#x, want 0", flags)
	}
}
