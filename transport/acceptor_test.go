package transport

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/meshbus/meshbus-go/meshbuserr"
)

func TestTryAcceptDoesNotBlockWhenEmpty(t *testing.T) {
	a, err := Listen("127.0.0.1", 0, 0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer a.Close()

	conn, ok := a.TryAccept()
	if ok || conn != nil {
		t.Fatalf("expected no pending connection, got %+v", conn)
	}
}

func TestTryAcceptReturnsPendingConnection(t *testing.T) {
	a, err := Listen("127.0.0.1", 0, 0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer a.Close()

	client, err := net.DialTimeout("tcp", a.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(2 * time.Second)
	var conn *Conn
	var ok bool
	for time.Now().Before(deadline) {
		conn, ok = a.TryAccept()
		if ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !ok {
		t.Fatal("timed out waiting for accepted connection")
	}
	defer conn.Raw.Close()
	if conn.Host == "" || conn.Port == 0 {
		t.Fatalf("expected peer host/port to be populated, got %+v", conn)
	}
}

func TestListenPortZeroAssignsPort(t *testing.T) {
	a, err := Listen("127.0.0.1", 0, 0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer a.Close()

	_, portStr, err := net.SplitHostPort(a.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	if portStr == "0" {
		t.Fatal("expected an OS-assigned non-zero port")
	}
}

func TestListenSecondBindOnSameAddrFails(t *testing.T) {
	a, err := Listen("127.0.0.1", 0, 0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer a.Close()

	_, portStr, err := net.SplitHostPort(a.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	_, err = Listen("127.0.0.1", port, 0)
	if !meshbuserr.Is(err, meshbuserr.CodeAddressInUse) {
		t.Fatalf("expected CodeAddressInUse, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := Listen("127.0.0.1", 0, 0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}
