package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	ncerr "sockcon/internal/errors"
	"sockcon/internal/transport"
)

// TestConnectMode_TCP verifies the peer's bytes reach local output and
// a peer close ends the run cleanly.
func TestConnectMode_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello from server\n")) //nolint:errcheck
	}()

	output := &bytes.Buffer{}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	mode := &ConnectMode{
		console: testConsole(idleStdin(t), output),
		Dialer:  &transport.TCPDialer{Timeout: 2 * time.Second},
		Network: "tcp",
		Address: ln.Addr().String(),
	}

	if err := mode.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := output.String(); got != "hello from server\n" {
		t.Errorf("output = %q, want %q", got, "hello from server\n")
	}
}

// TestConnectMode_SendData verifies data flows from client to server.
func TestConnectMode_SendData(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var buf bytes.Buffer
		io.Copy(&buf, conn) //nolint:errcheck
		received <- buf.String()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	mode := &ConnectMode{
		console: testConsole(bytes.NewBufferString("payload from client"), io.Discard),
		Dialer:  &transport.TCPDialer{Timeout: 2 * time.Second},
		Network: "tcp",
		Address: ln.Addr().String(),
	}
	if err := mode.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case got := <-received:
		if got != "payload from client" {
			t.Errorf("server got %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for data")
	}
}

func TestConnectMode_RefusedAfterRetries(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := testConsole(idleStdin(t), io.Discard)
	mode := &ConnectMode{
		console:       c,
		Dialer:        &transport.TCPDialer{Timeout: time.Second},
		Network:       "tcp",
		Address:       addr,
		Retries:       2,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
	}

	err = mode.Run(context.Background())
	var se *ncerr.StageError
	if !errors.As(err, &se) || se.Stage != ncerr.StageConnect {
		t.Fatalf("Run = %v, want connect-stage error", err)
	}
	if ncerr.ExitCode(err) != ncerr.ExitSetup {
		t.Errorf("exit code = %d, want %d", ncerr.ExitCode(err), ncerr.ExitSetup)
	}
	if got := c.Metrics.ConnectAttempts(); got != 3 {
		t.Errorf("connect attempts = %d, want 3", got)
	}
}

func TestConnectMode_RetryReachesLateServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	go func() {
		time.Sleep(150 * time.Millisecond)
		late, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		defer late.Close()
		conn, err := late.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("finally")) //nolint:errcheck
		conn.Close()
	}()

	output := &bytes.Buffer{}
	mode := &ConnectMode{
		console:       testConsole(idleStdin(t), output),
		Dialer:        &transport.TCPDialer{Timeout: time.Second},
		Network:       "tcp",
		Address:       addr,
		Retries:       10,
		RetryDelay:    50 * time.Millisecond,
		MaxRetryDelay: 100 * time.Millisecond,
	}
	if err := mode.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if output.String() != "finally" {
		t.Errorf("output = %q", output.String())
	}
}

func TestConnectMode_RelayFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("data")) //nolint:errcheck
		io.Copy(io.Discard, conn)  //nolint:errcheck
	}()

	mode := &ConnectMode{
		console: testConsole(idleStdin(t), brokenWriter{}),
		Dialer:  &transport.TCPDialer{Timeout: time.Second},
		Network: "tcp",
		Address: ln.Addr().String(),
	}

	err = mode.Run(context.Background())
	if ncerr.ExitCode(err) != ncerr.ExitSession {
		t.Fatalf("Run = %v (exit %d), want relay failure", err, ncerr.ExitCode(err))
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("error should wrap the write failure: %v", err)
	}
}

func TestConnectMode_InterruptEndsCleanly(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(io.Discard, conn) //nolint:errcheck
	}()

	ctx, cancel := context.WithCancel(context.Background())
	mode := &ConnectMode{
		console: testConsole(idleStdin(t), io.Discard),
		Dialer:  &transport.TCPDialer{Timeout: time.Second},
		Network: "tcp",
		Address: ln.Addr().String(),
	}

	done := make(chan error, 1)
	go func() { done <- mode.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after interrupt = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after interrupt")
	}
}

// countingDialer fails every Dial with err.
type countingDialer struct {
	err   error
	calls int
}

func (d *countingDialer) Dial(context.Context, string, string) (net.Conn, error) {
	d.calls++
	return nil, d.err
}

func (d *countingDialer) Close() error { return nil }

// TestConnectMode_AuthFailureNotRetried verifies a rejected SSH login
// ends the retry loop after the first attempt.
func TestConnectMode_AuthFailureNotRetried(t *testing.T) {
	authErr := ncerr.WrapSSH("handshake", "jump", 22, errors.New("unable to authenticate"))
	d := &countingDialer{err: fmt.Errorf("tunnel: %w", authErr)}

	mode := &ConnectMode{
		console:       testConsole(idleStdin(t), io.Discard),
		Dialer:        d,
		Network:       "tcp",
		Address:       "10.0.0.1:5555",
		Retries:       3,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: time.Millisecond,
	}

	err := mode.Run(context.Background())
	var sshErr *ncerr.SSHError
	if !errors.As(err, &sshErr) {
		t.Fatalf("Run = %v, want SSHError", err)
	}
	if ncerr.ExitCode(err) != ncerr.ExitSetup {
		t.Errorf("exit code = %d", ncerr.ExitCode(err))
	}
	if d.calls != 1 {
		t.Errorf("dialed %d times, want 1", d.calls)
	}
}
