package transport

import (
	"context"
	"testing"
	"time"
)

func TestTCPRoundTrip(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()

	addr := ln.ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverConnCh := make(chan Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			errCh <- err
			return
		}
		serverConnCh <- conn
	}()

	client, err := (TCPDialer{}).Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var server Conn
	select {
	case server = <-serverConnCh:
	case err := <-errCh:
		t.Fatalf("Accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Accept")
	}
	defer server.Close()

	want := []byte("hello world")
	if err := client.Send(want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-server.Receive():
		if string(got) != string(want) {
			t.Fatalf("got %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestTCPReceiveClosesOnPeerDisconnect(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()

	addr := ln.ln.Addr().String()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverConnCh := make(chan Conn, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err == nil {
			serverConnCh <- conn
		}
	}()

	client, err := (TCPDialer{}).Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	server := <-serverConnCh
	client.Close()

	select {
	case _, ok := <-server.Receive():
		if ok {
			t.Fatal("expected closed channel after peer disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for receive channel to close")
	}
}
