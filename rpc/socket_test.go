package rpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/meshbus/meshbus-go/rpc"
)

// handshakePair dials addr for the client side while running the accepted
// side's handshake on serverConn, and returns both connected sockets.
func handshakePair(t *testing.T, connectingMessage any) (*rpc.Socket, *rpc.Socket) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverCh := make(chan *rpc.Socket, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		srv := rpc.NewAccepted(conn)
		if err := srv.RunServerHandshake(func(any) {}); err != nil {
			errCh <- err
			return
		}
		serverCh <- srv
	}()

	client, err := rpc.Dial(context.Background(), ln.Addr().String(), connectingMessage, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	select {
	case srv := <-serverCh:
		return client, srv
	case err := <-errCh:
		t.Fatalf("server handshake: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for server handshake")
	}
	return nil, nil
}

func TestHandshakeThenOneWayRequest(t *testing.T) {
	client, server := handshakePair(t, map[string]any{"hello": "client"})
	defer client.Close()
	defer server.Close()

	got := make(chan any, 1)
	server.OnRequest("ping", func(message any) {
		got <- message
	})

	if err := client.SendRequest("ping", map[string]any{"n": int32(1)}); err != nil {
		t.Fatalf("send request: %v", err)
	}

	select {
	case msg := <-got:
		m, ok := msg.(map[string]any)
		if !ok || m["n"] != int32(1) {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for request")
	}
}

func TestRequestResponseRoundTrip(t *testing.T) {
	client, server := handshakePair(t, map[string]any{})
	defer client.Close()
	defer server.Close()

	server.OnRequestResponse("double", func(message any) any {
		m := message.(map[string]any)
		n, _ := m["n"].(int32)
		return map[string]any{"n": n * 2}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.SendRequestAndGetResponse(ctx, "double", map[string]any{"n": int32(21)})
	if err != nil {
		t.Fatalf("request/response: %v", err)
	}
	m, ok := resp.(map[string]any)
	if !ok || m["n"] != int32(42) {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCloseHandshakeDeliversPendingRequestFirst(t *testing.T) {
	client, server := handshakePair(t, map[string]any{})
	defer server.Close()

	got := make(chan any, 1)
	server.OnRequest("last", func(message any) {
		got <- message
	})

	closed := make(chan struct{})
	server.OnClosing(func() { close(closed) })

	if err := client.SendRequest("last", map[string]any{"ok": true}); err != nil {
		t.Fatalf("send request: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for closing callback")
	}

	select {
	case msg := <-got:
		m, ok := msg.(map[string]any)
		if !ok || m["ok"] != true {
			t.Fatalf("unexpected message: %+v", msg)
		}
	default:
		t.Fatal("expected the pre-close request to have already been delivered")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client, server := handshakePair(t, map[string]any{})
	defer server.Close()

	if err := client.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestSendRequestAndGetResponseFailsAfterPeerCloses(t *testing.T) {
	client, server := handshakePair(t, map[string]any{})
	defer client.Close()

	_ = server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := client.SendRequestAndGetResponse(ctx, "whatever", map[string]any{}); err == nil {
		t.Fatal("expected an error once the peer has closed")
	}
}

func TestDialFailsOnHandshakeTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Never send the ack frame.
		defer conn.Close()
		time.Sleep(3 * time.Second)
	}()

	_, err = rpc.Dial(context.Background(), ln.Addr().String(), map[string]any{}, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected a handshake timeout error")
	}
}
