package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultMaxMessageSize caps a single inbound WebSocket message.
const DefaultMaxMessageSize = 1 << 20

// WebSocketDialer connects to a ws:// or wss:// endpoint and exposes
// the binary message stream as a [net.Conn].
type WebSocketDialer struct {
	// URL is the endpoint.  When empty, Dial builds ws://address/.
	URL     string
	Timeout time.Duration
	Header  http.Header
	// MaxMessageSize bounds each inbound message (0 = 1 MiB).  A larger
	// message fails the read with websocket.ErrReadLimit.
	MaxMessageSize int64
}

// Dial performs the WebSocket handshake.  network is ignored.
func (d *WebSocketDialer) Dial(ctx context.Context, _ string, address string) (net.Conn, error) {
	url := d.URL
	if url == "" {
		url = "ws://" + address + "/"
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.Timeout,
	}
	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake %s (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	limit := d.MaxMessageSize
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	ws.SetReadLimit(limit)
	return newWSConn(ws), nil
}

// Close is a no-op.
func (d *WebSocketDialer) Close() error { return nil }

var errWSDeadline = errors.New("websocket: read deadlines not supported")

// wsConn turns a message-oriented WebSocket into a byte stream.  Each
// Write is one binary message; Read drains messages in order, keeping
// the unread tail of the current one.
type wsConn struct {
	ws *websocket.Conn

	rmu      sync.Mutex
	leftover []byte

	wmu    sync.Mutex
	closed bool
}

func newWSConn(ws *websocket.Conn) *wsConn { return &wsConn{ws: ws} }

func (c *wsConn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for len(c.leftover) == 0 {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, wsReadErr(err)
		}
		if mt == websocket.BinaryMessage || mt == websocket.TextMessage {
			c.leftover = data
		}
	}
	n := copy(p, c.leftover)
	c.leftover = c.leftover[n:]
	return n, nil
}

// wsReadErr reports an orderly close as io.EOF.
func wsReadErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return io.EOF
	}
	return err
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and drops the connection.
func (c *wsConn) Close() error {
	c.wmu.Lock()
	if c.closed {
		c.wmu.Unlock()
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

// A timed-out read leaves a gorilla connection unusable, so read
// deadlines are refused and only write deadlines pass through.
func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetWriteDeadline(t); err != nil {
		return err
	}
	return errWSDeadline
}

func (c *wsConn) SetReadDeadline(time.Time) error { return errWSDeadline }

func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
