// Package core is the orchestration layer.  It obtains the one
// connection a console run relays over, hands it to the relay engine,
// and turns the session outcome into an error the CLI can map to an
// exit code.
//
// Architecture layers (bottom → top):
//
//	transport  →  relay  →  core  →  cmd (CLI)
package core

import (
	"context"
	"io"
	"net"
	"os"

	ncerr "sockcon/internal/errors"
	"sockcon/internal/metrics"
	"sockcon/internal/relay"
	"sockcon/util"
)

// Mode is a complete operational mode of sockcon (server or client).
// Each mode owns its full lifecycle from connection establishment to
// teardown.
type Mode interface {
	Run(ctx context.Context) error
}

// console is what both modes share once a connection exists.
type console struct {
	Engine  *relay.Engine
	Logger  *util.Logger
	Metrics *metrics.Collector

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer
}

func (c *console) stdin() io.Reader {
	if c.Stdin != nil {
		return c.Stdin
	}
	return os.Stdin
}

func (c *console) stdout() io.Writer {
	if c.Stdout != nil {
		return c.Stdout
	}
	return os.Stdout
}

// serve runs one session over conn.  Only a failed session is an
// error; every orderly ending exits cleanly.
func (c *console) serve(ctx context.Context, conn net.Conn) error {
	outcome, err := c.Engine.Run(ctx, conn, c.stdin(), c.stdout())
	stats := c.Engine.LastStats()
	c.Logger.Debug("session %s: %s, %d bytes in, %d bytes out", stats.ID, outcome, stats.BytesIn, stats.BytesOut)
	c.Logger.Debug("metrics: %s", c.Metrics.JSON())

	switch outcome {
	case relay.Failed:
		return ncerr.AtStage(ncerr.StageRelay, err)
	case relay.ConnectionClosedByPeer:
		c.Logger.Verbose("connection closed by peer")
	case relay.LocalInputClosed:
		c.Logger.Verbose("local input closed")
	default:
		c.Logger.Verbose("session interrupted")
	}
	return nil
}
