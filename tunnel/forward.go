package tunnel

// Remote port forwarding.  ssh.Client.Listen matches forwarded-tcpip
// channels against the exact bind address it sent; gateways that echo
// a different address ("0.0.0.0" for "") get every channel rejected.
// This listener sends tcpip-forward itself and takes every channel.

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "sockcon/internal/errors"
)

var errNoDeadline = errors.New("tunnel: deadlines not supported on SSH channels")

// channelForwardMsg is the payload of "tcpip-forward" and
// "cancel-tcpip-forward" (RFC 4254 §7.1).
type channelForwardMsg struct {
	Addr string
	Port uint32
}

// forwardReplyMsg carries the allocated port when port 0 was asked.
type forwardReplyMsg struct {
	Port uint32
}

// forwardedTCPPayload is the open payload of "forwarded-tcpip"
// (RFC 4254 §7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// forwardListener is a [net.Listener] over forwarded-tcpip channels.
type forwardListener struct {
	client   *ssh.Client
	bindAddr string
	bindPort uint32
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

// Accept waits for the next forwarded connection.  It fails with
// ErrTunnelClosed once the SSH connection is gone.
func (l *forwardListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, net.ErrClosed
	case newCh, ok := <-l.incoming:
		if !ok {
			return nil, ncerr.ErrTunnelClosed
		}
		ch, reqs, err := newCh.Accept()
		if err != nil {
			return nil, fmt.Errorf("channel accept: %w", err)
		}
		go ssh.DiscardRequests(reqs)

		var raddr net.Addr = &net.TCPAddr{}
		var payload forwardedTCPPayload
		if err := ssh.Unmarshal(newCh.ExtraData(), &payload); err == nil {
			raddr = &net.TCPAddr{
				IP:   net.ParseIP(payload.OriginAddr),
				Port: int(payload.OriginPort),
			}
		}
		return &chanConn{Channel: ch, laddr: l.Addr(), raddr: raddr}, nil
	}
}

// Close cancels the remote forward and unblocks Accept.
func (l *forwardListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		msg := channelForwardMsg{Addr: l.bindAddr, Port: l.bindPort}
		l.client.SendRequest("cancel-tcpip-forward", true, ssh.Marshal(&msg)) //nolint:errcheck
	})
	return nil
}

// Addr returns the address the gateway is listening on.
func (l *forwardListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(l.bindAddr), Port: int(l.bindPort)}
}

// chanConn adapts an [ssh.Channel] to [net.Conn].
type chanConn struct {
	ssh.Channel
	laddr net.Addr
	raddr net.Addr
}

func (c *chanConn) LocalAddr() net.Addr                { return c.laddr }
func (c *chanConn) RemoteAddr() net.Addr               { return c.raddr }
func (c *chanConn) SetDeadline(time.Time) error        { return errNoDeadline }
func (c *chanConn) SetReadDeadline(time.Time) error    { return errNoDeadline }
func (c *chanConn) SetWriteDeadline(_ time.Time) error { return nil }
func (c *chanConn) CloseWrite() error                  { return c.Channel.CloseWrite() }

// listenRemoteForward sends tcpip-forward and returns a listener for
// the channels the gateway opens back.
func listenRemoteForward(client *ssh.Client, bindAddr string, bindPort int) (net.Listener, error) {
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("forwarded-tcpip handler already registered")
	}

	msg := channelForwardMsg{Addr: bindAddr, Port: uint32(bindPort)}
	ok, reply, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tcpip-forward request denied by gateway")
	}

	port := uint32(bindPort)
	if port == 0 {
		var r forwardReplyMsg
		if err := ssh.Unmarshal(reply, &r); err != nil {
			return nil, fmt.Errorf("tcpip-forward reply: %w", err)
		}
		port = r.Port
	}

	return &forwardListener{
		client:   client,
		bindAddr: bindAddr,
		bindPort: port,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}
