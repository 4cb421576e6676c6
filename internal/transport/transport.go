// Package transport opens the single byte-stream connection a console
// session relays over: plain TCP, a channel through an SSH gateway, or
// a WebSocket.  What flows over the connection is the relay's business.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound connections.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases long-lived resources held by the dialer (e.g. an
	// SSH session).  Stateless dialers return nil.
	Close() error
}

// Listener opens the socket a server-mode console accepts its client
// on.
type Listener interface {
	Listen(ctx context.Context, network, address string) (net.Listener, error)

	// Close releases resources held beyond the returned listener.
	Close() error
}
