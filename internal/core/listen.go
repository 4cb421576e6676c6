package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	ncerr "sockcon/internal/errors"
	"sockcon/internal/transport"
)

// ListenMode waits for a single client and relays with it.  The
// listening socket is closed as soon as the client is accepted.
type ListenMode struct {
	console

	Listener transport.Listener
	Network  string
	Address  string
	// Timeout bounds the wait for a client (0 = wait until ctx ends).
	Timeout time.Duration

	// Ready, if set, is called with the bound address before Accept.
	Ready func(net.Addr)
}

// Run listens, accepts one client, and relays until the session ends.
func (m *ListenMode) Run(ctx context.Context) error {
	defer m.Listener.Close()

	ln, err := m.Listener.Listen(ctx, m.Network, m.Address)
	if err != nil {
		return ncerr.AtStage(ncerr.StageListen, ncerr.Wrap("listen", m.Address, err))
	}
	m.Logger.Info("listening on %s", ln.Addr())
	if m.Ready != nil {
		m.Ready(ln.Addr())
	}

	conn, err := m.acceptOne(ctx, ln)
	if err != nil {
		if ctx.Err() != nil {
			m.Logger.Verbose("stopped while waiting for a client")
			return nil
		}
		return ncerr.AtStage(ncerr.StageAccept, err)
	}
	defer conn.Close()

	m.Logger.Info("connection from %s", conn.RemoteAddr())
	return m.serve(ctx, conn)
}

// acceptOne returns the first client and closes ln.
func (m *ListenMode) acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	waitCtx := ctx
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}
	stop := context.AfterFunc(waitCtx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	conn, err := ln.Accept()
	if err == nil {
		return conn, nil
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("no client connected within %s", m.Timeout)
	}
	return nil, ncerr.Wrap("accept", ln.Addr().String(), err)
}
