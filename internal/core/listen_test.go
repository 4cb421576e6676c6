package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	ncerr "sockcon/internal/errors"
	"sockcon/internal/transport"
)

func newListenMode(t *testing.T, out io.Writer) (*ListenMode, <-chan net.Addr) {
	t.Helper()
	ready := make(chan net.Addr, 1)
	return &ListenMode{
		console:  testConsole(idleStdin(t), out),
		Listener: transport.TCPListener{},
		Network:  "tcp",
		Address:  "127.0.0.1:0",
		Ready:    func(a net.Addr) { ready <- a },
	}, ready
}

// TestListenMode_TCP verifies that ListenMode relays a client's bytes
// and returns once the client hangs up.
func TestListenMode_TCP(t *testing.T) {
	output := &bytes.Buffer{}
	mode, ready := newListenMode(t, output)

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() { serverErr <- mode.Run(ctx) }()

	conn, err := net.DialTimeout("tcp", (<-ready).String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Write([]byte("test message")) //nolint:errcheck
	conn.Close()

	select {
	case err := <-serverErr:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not finish")
	}
	if output.String() != "test message" {
		t.Errorf("output = %q", output.String())
	}
}

// TestListenMode_SingleClient verifies the listener is gone once the
// first client is accepted.
func TestListenMode_SingleClient(t *testing.T) {
	mode, ready := newListenMode(t, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverErr := make(chan error, 1)
	go func() { serverErr <- mode.Run(ctx) }()

	addr := (<-ready).String()
	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		second, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			break
		}
		second.Close()
		if time.Now().After(deadline) {
			t.Fatal("listener still accepting after the first client")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Run after cancel = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenMode_AcceptTimeout(t *testing.T) {
	mode, _ := newListenMode(t, io.Discard)
	mode.Timeout = 50 * time.Millisecond

	err := mode.Run(context.Background())
	var se *ncerr.StageError
	if !errors.As(err, &se) || se.Stage != ncerr.StageAccept {
		t.Fatalf("Run = %v, want accept-stage error", err)
	}
	if ncerr.ExitCode(err) != ncerr.ExitSession {
		t.Errorf("exit code = %d", ncerr.ExitCode(err))
	}
}

func TestListenMode_CancelWhileWaiting(t *testing.T) {
	mode, ready := newListenMode(t, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() { serverErr <- mode.Run(ctx) }()
	<-ready
	cancel()

	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenMode_AddressInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	mode, _ := newListenMode(t, io.Discard)
	mode.Address = busy.Addr().String()

	err = mode.Run(context.Background())
	if ncerr.ExitCode(err) != ncerr.ExitSetup {
		t.Fatalf("Run = %v (exit %d), want listen failure", err, ncerr.ExitCode(err))
	}
}
