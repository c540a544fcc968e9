package portalloc

import (
	"net"
	"strconv"
	"testing"
)

// reserveLocalPort binds an ephemeral port and returns it with the open
// listener so tests control exactly when it frees.
func reserveLocalPort(t *testing.T) (int, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return port, ln
}

func TestIsFreeDetectsListener(t *testing.T) {
	port, ln := reserveLocalPort(t)
	defer ln.Close()

	if IsFree(port, "127.0.0.1") {
		t.Errorf("port %d has a listener but probed free", port)
	}
}

func TestIsFreeAfterRelease(t *testing.T) {
	port, ln := reserveLocalPort(t)
	ln.Close()

	if !IsFree(port, "127.0.0.1") {
		t.Errorf("port %d released but probed in use", port)
	}

	// A fresh bind must succeed on a port reported free.
	again, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("rebind on free port: %v", err)
	}
	again.Close()
}

func TestFindFreeStaysInRange(t *testing.T) {
	port, ok := FindFree(20000, 20050, "127.0.0.1")
	if !ok {
		t.Skip("no free port in probe range on this host")
	}
	if port < 20000 || port >= 20050 {
		t.Fatalf("FindFree returned %d outside [20000, 20050)", port)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("returned port %d not bindable: %v", port, err)
	}
	ln.Close()
}

func TestFindFreeExhaustedRange(t *testing.T) {
	port, ln := reserveLocalPort(t)
	defer ln.Close()

	if got, ok := FindFree(port, port+1, "127.0.0.1"); ok {
		t.Fatalf("expected no free port in occupied single-port range, got %d", got)
	}
}

func TestResolveFreePort(t *testing.T) {
	port, ln := reserveLocalPort(t)
	ln.Close()

	got, err := Resolve(port)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != port {
		t.Errorf("expected free desired port %d returned as-is, got %d", port, got)
	}
}

func TestReclaimNoOwnerIsSuccess(t *testing.T) {
	port, ln := reserveLocalPort(t)
	ln.Close()

	if !Reclaim(port, false, 1) {
		t.Error("expected reclaim of an unowned free port to succeed")
	}
}

func TestInspectFreePort(t *testing.T) {
	port, ln := reserveLocalPort(t)
	ln.Close()

	p := Inspect(port, "127.0.0.1")
	if p.InUse {
		t.Errorf("expected free port, got %+v", p)
	}
	if p.OwnerPID != 0 {
		t.Errorf("free port should have no owner, got pid %d", p.OwnerPID)
	}
}
