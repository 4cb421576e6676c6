package tunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"

	"golang.org/x/crypto/ssh"
)

// testGateway is a minimal in-process SSH server that supports
// direct-tcpip channels and tcpip-forward requests.
type testGateway struct {
	addr    *net.TCPAddr
	hostKey ssh.PublicKey
}

func startGateway(t *testing.T) *testGateway {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveGateway(nc, cfg)
		}
	}()

	return &testGateway{addr: ln.Addr().(*net.TCPAddr), hostKey: signer.PublicKey()}
}

func (g *testGateway) config() *SSHConfig {
	return &SSHConfig{User: "tester", Host: "127.0.0.1", Port: g.addr.Port}
}

func serveGateway(nc net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	defer sconn.Close()

	go handleGlobalRequests(sconn, reqs)

	for nch := range chans {
		if nch.ChannelType() != "direct-tcpip" {
			nch.Reject(ssh.UnknownChannelType, "unsupported") //nolint:errcheck
			continue
		}
		var p struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(nch.ExtraData(), &p); err != nil {
			nch.Reject(ssh.Prohibited, "bad payload") //nolint:errcheck
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port))))
		if err != nil {
			nch.Reject(ssh.ConnectionFailed, err.Error()) //nolint:errcheck
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			target.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go splice(ch, target)
	}
}

func handleGlobalRequests(sconn *ssh.ServerConn, reqs <-chan *ssh.Request) {
	for req := range reqs {
		if req.Type != "tcpip-forward" {
			if req.WantReply {
				req.Reply(false, nil) //nolint:errcheck
			}
			continue
		}

		var m channelForwardMsg
		if err := ssh.Unmarshal(req.Payload, &m); err != nil {
			req.Reply(false, nil) //nolint:errcheck
			continue
		}
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			req.Reply(false, nil) //nolint:errcheck
			continue
		}
		port := uint32(ln.Addr().(*net.TCPAddr).Port)
		req.Reply(true, ssh.Marshal(&forwardReplyMsg{Port: port})) //nolint:errcheck

		go func() {
			sconn.Wait() //nolint:errcheck
			ln.Close()
		}()
		go func() {
			for {
				c, err := ln.Accept()
				if err != nil {
					return
				}
				origin := c.RemoteAddr().(*net.TCPAddr)
				payload := forwardedTCPPayload{
					Addr:       m.Addr,
					Port:       port,
					OriginAddr: origin.IP.String(),
					OriginPort: uint32(origin.Port),
				}
				ch, chReqs, err := sconn.OpenChannel("forwarded-tcpip", ssh.Marshal(&payload))
				if err != nil {
					c.Close()
					continue
				}
				go ssh.DiscardRequests(chReqs)
				go splice(ch, c)
			}
		}()
	}
}

func splice(ch ssh.Channel, c net.Conn) {
	go func() {
		io.Copy(c, ch) //nolint:errcheck
		if tc, ok := c.(*net.TCPConn); ok {
			tc.CloseWrite() //nolint:errcheck
		}
	}()
	io.Copy(ch, c) //nolint:errcheck
	ch.CloseWrite() //nolint:errcheck
	ch.Close()
	c.Close()
}
