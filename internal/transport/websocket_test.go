package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer starts an httptest server running handler on each upgraded
// connection and returns its ws:// URL.
func wsServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketDialer_Echo(t *testing.T) {
	url := wsServer(t, func(ws *websocket.Conn) {
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})

	d := &WebSocketDialer{URL: url, Timeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), "tcp", "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(conn, buf); err != nil || string(buf) != "hello" {
		t.Fatalf("echo = (%q, %v)", buf, err)
	}
	if conn.RemoteAddr() == nil || conn.LocalAddr() == nil {
		t.Error("addresses should be set")
	}
}

func TestWebSocketConn_SplitsLargeMessages(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 5000)
	url := wsServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.BinaryMessage, payload[:3000]) //nolint:errcheck
		ws.WriteMessage(websocket.BinaryMessage, payload[3000:]) //nolint:errcheck
		ws.WriteMessage(websocket.CloseMessage,                   //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	conn, err := (&WebSocketDialer{URL: url}).Dial(context.Background(), "tcp", "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var got []byte
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 1024 {
			t.Fatalf("read %d bytes into a 1024-byte buffer", n)
		}
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %d bytes, want %d", len(got), len(payload))
	}
}

// TestWebSocketConn_MessageSizeLimit verifies an oversized inbound
// message fails the read instead of being buffered.
func TestWebSocketConn_MessageSizeLimit(t *testing.T) {
	url := wsServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.BinaryMessage, bytes.Repeat([]byte("y"), 2048)) //nolint:errcheck
		ws.ReadMessage()                                                          //nolint:errcheck
	})

	conn, err := (&WebSocketDialer{URL: url, MaxMessageSize: 1024}).Dial(context.Background(), "tcp", "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	n, err := conn.Read(make([]byte, 4096))
	if !errors.Is(err, websocket.ErrReadLimit) {
		t.Fatalf("Read = (%d, %v), want ErrReadLimit", n, err)
	}
}

func TestWebSocketConn_RefusesReadDeadline(t *testing.T) {
	url := wsServer(t, func(ws *websocket.Conn) { ws.ReadMessage() }) //nolint:errcheck

	conn, err := (&WebSocketDialer{URL: url}).Dial(context.Background(), "tcp", "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Time{}); err == nil {
		t.Error("SetReadDeadline should report lack of support")
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		t.Errorf("SetWriteDeadline: %v", err)
	}
}

func TestWebSocketConn_WriteAfterClose(t *testing.T) {
	url := wsServer(t, func(ws *websocket.Conn) { ws.ReadMessage() }) //nolint:errcheck

	conn, err := (&WebSocketDialer{URL: url}).Dial(context.Background(), "tcp", "")
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()
	conn.Close()
	if _, err := conn.Write([]byte("late")); err == nil {
		t.Error("write after close should fail")
	}
}

func TestWebSocketDialer_BadHandshake(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := &WebSocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	_, err := d.Dial(context.Background(), "tcp", "")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %v, want status 404", err)
	}
}

func TestWebSocketDialer_AddressFallback(t *testing.T) {
	url := wsServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.BinaryMessage, []byte("hi")) //nolint:errcheck
		ws.ReadMessage()                                       //nolint:errcheck
	})
	host := strings.TrimPrefix(url, "ws://")

	conn, err := (&WebSocketDialer{}).Dial(context.Background(), "tcp", host)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	buf := make([]byte, 2)
	if _, err := io.ReadFull(conn, buf); err != nil || string(buf) != "hi" {
		t.Errorf("read = (%q, %v)", buf, err)
	}
}
