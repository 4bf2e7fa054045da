package rpc

import (
	"net"
	"testing"
	"time"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestCallRoundTrip(t *testing.T) {
	addr := freePort(t)

	srv := NewServer(nil)
	srv.Bind("ECHO", func(payload []byte) ([]byte, error) {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	})
	go srv.Listen(addr)
	waitForServer(t, addr)

	client := NewClient([]string{addr}, nil)
	reply, err := client.Call(0, "ECHO", []byte("hello"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(reply) != "hello" {
		t.Errorf("reply = %q, want %q", reply, "hello")
	}
}

func TestCallBlockingRetriesUntilServerIsUp(t *testing.T) {
	addr := freePort(t)

	client := NewClient([]string{addr}, nil)
	done := make(chan []byte, 1)
	go func() {
		done <- client.CallBlocking(0, "PING", []byte("x"))
	}()

	// Give call_blocking a couple of failed attempts against nothing
	// listening yet, then start the server it should eventually reach.
	time.Sleep(150 * time.Millisecond)

	srv := NewServer(nil)
	srv.Bind("PING", func(payload []byte) ([]byte, error) {
		return []byte(ReplyOK), nil
	})
	go srv.Listen(addr)
	waitForServer(t, addr)

	select {
	case reply := <-done:
		if string(reply) != ReplyOK {
			t.Errorf("reply = %q, want %q", reply, ReplyOK)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("call_blocking did not succeed after the server came up")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never came up", addr)
}
