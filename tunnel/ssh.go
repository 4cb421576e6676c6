package tunnel

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "sockcon/internal/errors"
	"sockcon/util"
)

// SSHConfig describes the gateway a tunnel connects to and how to
// authenticate there.
type SSHConfig struct {
	User string
	Host string
	Port int // 22 when zero

	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string

	// ConnTimeout bounds the TCP dial and the SSH handshake.
	ConnTimeout time.Duration

	// KeepAlive, when positive, sends keepalive@openssh.com at this
	// interval and closes the tunnel if the gateway stops answering.
	KeepAlive time.Duration

	// Prompt reads a secret (password or key passphrase).  Nil means
	// read from the controlling terminal.
	Prompt Prompter
}

// SSHTunnel implements [Tunnel] over a single ssh.Client.  It can be
// reconnected after the gateway drops it.
type SSHTunnel struct {
	cfg *SSHConfig
	log *util.Logger

	mu     sync.RWMutex
	client *ssh.Client
	closed chan struct{} // closed when client's connection ends
}

var _ Tunnel = (*SSHTunnel)(nil)

// NewSSHTunnel creates a tunnel that is ready to [Connect].
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &SSHTunnel{cfg: cfg, log: logger.With("gateway", cfg.Host)}
}

// Addr returns the gateway address as host:port.
func (t *SSHTunnel) Addr() string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
}

func (t *SSHTunnel) sshErr(op string, err error) error {
	return ncerr.WrapSSH(op, t.cfg.Host, t.cfg.Port, err)
}

// Connect dials the gateway, authenticates, and starts watching the
// connection.  The handshake is bounded by ctx's deadline or, failing
// that, ConnTimeout.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	creds, err := loadCredentials(t.cfg)
	if err != nil {
		return t.sshErr("auth", err)
	}
	defer creds.Close()

	verify, err := hostKeyCallback(t.cfg)
	if err != nil {
		return t.sshErr("hostkey", err)
	}

	addr := t.Addr()
	t.log.Debug("SSH: dialing %s as %s", addr, t.cfg.User)

	d := net.Dialer{Timeout: t.cfg.ConnTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ncerr.Wrap("dial", addr, err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.cfg.ConnTimeout)
	}
	raw.SetDeadline(deadline) //nolint:errcheck

	conn, chans, reqs, err := ssh.NewClientConn(raw, addr, &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            creds.methods,
		HostKeyCallback: verify,
		Timeout:         t.cfg.ConnTimeout,
		BannerCallback: func(banner string) error {
			t.log.Info("%s", strings.TrimRight(banner, "\r\n"))
			return nil
		},
	})
	if err != nil {
		raw.Close()
		return t.sshErr("handshake", err)
	}
	raw.SetDeadline(time.Time{}) //nolint:errcheck

	client := ssh.NewClient(conn, chans, reqs)
	closed := make(chan struct{})

	t.mu.Lock()
	t.client, t.closed = client, closed
	t.mu.Unlock()

	t.log.Verbose("SSH: connected to %s (%s)", addr, conn.ServerVersion())
	go t.watch(client, closed)
	if t.cfg.KeepAlive > 0 {
		go t.keepalive(client, closed)
	}
	return nil
}

// live returns the current client, or ErrNotConnected.
func (t *SSHTunnel) live() (*ssh.Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil {
		return nil, ncerr.ErrNotConnected
	}
	return t.client, nil
}

// Dial opens a direct-tcpip channel from the gateway to address.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := t.live()
	if err != nil {
		return nil, err
	}
	t.log.Debug("SSH: direct-tcpip to %s", address)
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, ncerr.Wrap("tunnel dial", address, err)
	}
	return conn, nil
}

// Listen requests a remote port forward on the gateway.  Port 0 lets
// the gateway choose; the chosen port is reported by Addr.
func (t *SSHTunnel) Listen(bindAddr string, port int) (net.Listener, error) {
	client, err := t.live()
	if err != nil {
		return nil, err
	}
	t.log.Debug("SSH: tcpip-forward %s", net.JoinHostPort(bindAddr, strconv.Itoa(port)))
	ln, err := listenRemoteForward(client, bindAddr, port)
	if err != nil {
		return nil, t.sshErr("tcpip-forward", err)
	}
	return ln, nil
}

// Close shuts down the SSH connection.  Closing an unconnected tunnel
// is a no-op.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// IsAlive reports whether the tunnel is still connected.
func (t *SSHTunnel) IsAlive() bool {
	_, err := t.live()
	return err == nil
}

// watch forgets client once its connection ends.
func (t *SSHTunnel) watch(client *ssh.Client, closed chan struct{}) {
	err := client.Wait()
	close(closed)

	t.mu.Lock()
	if t.client == client {
		t.client = nil
	}
	t.mu.Unlock()

	t.log.Debug("SSH: connection to %s ended: %v", t.Addr(), err)
}

// keepalive pings the gateway and closes the client once a ping fails,
// which ends every channel riding on it.
func (t *SSHTunnel) keepalive(client *ssh.Client, closed <-chan struct{}) {
	tick := time.NewTicker(t.cfg.KeepAlive)
	defer tick.Stop()

	for {
		select {
		case <-closed:
			return
		case <-tick.C:
		}
		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			t.log.Warn("SSH keepalive to %s failed: %v", t.Addr(), err)
			client.Close()
			return
		}
	}
}
