package core

import (
	"context"
	"net"
	"time"

	ncerr "sockcon/internal/errors"
	"sockcon/internal/retry"
	"sockcon/internal/transport"
)

// ConnectMode dials the peer and relays with it, the default client
// mode.
type ConnectMode struct {
	console

	Dialer  transport.Dialer
	Network string
	Address string

	// Retries is how many extra dial attempts follow a retryable
	// failure, spaced by exponential backoff.
	Retries       int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Run dials the remote address and relays until the session ends.  The
// transport is closed when Run returns.
func (m *ConnectMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	m.Logger.Verbose("connecting to %s (%s)", m.Address, m.Network)

	conn, err := m.dial(ctx)
	if err != nil {
		return ncerr.AtStage(ncerr.StageConnect, err)
	}
	defer conn.Close()

	m.Logger.Info("connected to %s", conn.RemoteAddr())
	return m.serve(ctx, conn)
}

func (m *ConnectMode) dial(ctx context.Context) (net.Conn, error) {
	var conn net.Conn

	b := retry.ForAttempts(m.Retries, m.RetryDelay, m.MaxRetryDelay)
	b.OnRetry = func(attempt int, wait time.Duration, err error) {
		m.Logger.Warn("attempt %d/%d: %v; retrying in %s",
			attempt, m.Retries+1, err, wait.Truncate(time.Millisecond))
	}

	err := b.Do(ctx, func(int) error {
		m.Metrics.ConnectAttempt()
		c, err := m.Dialer.Dial(ctx, m.Network, m.Address)
		if err != nil {
			// Rejected credentials or host keys fail the same way twice.
			if !ncerr.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return ncerr.Wrap("dial", m.Address, err)
		}
		conn = c
		return nil
	})
	return conn, err
}
