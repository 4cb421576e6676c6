package tunnel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"
)

// Prompter asks the user for a secret.  The prompt is shown as-is.
type Prompter func(prompt string) ([]byte, error)

// TerminalPrompt reads a secret from stdin with echo disabled.  stdin
// carries the relayed stream, so it must be a terminal.
func TerminalPrompt(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("stdin is not a terminal; use --ssh-key or --ssh-agent")
	}
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	return secret, err
}

// fallbackKeys are tried from ~/.ssh when no method is configured.
var fallbackKeys = []string{"id_ed25519", "id_ecdsa", "id_rsa"} //nolint:gochecknoglobals

// credentials is the auth material for one handshake.  Close it once
// the handshake is over; the agent socket is only needed until then.
type credentials struct {
	methods []ssh.AuthMethod
	agent   net.Conn
}

func (c *credentials) Close() error {
	if c.agent == nil {
		return nil
	}
	return c.agent.Close()
}

// loadCredentials collects the configured methods in the order the
// server should try them: key file, agent, password.
func loadCredentials(cfg *SSHConfig) (*credentials, error) {
	c := &credentials{}

	if cfg.KeyPath != "" {
		signer, err := cfg.loadSigner(expandHome(cfg.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", cfg.KeyPath, err)
		}
		c.methods = append(c.methods, ssh.PublicKeys(signer))
	}

	if cfg.UseAgent {
		if err := c.useAgent(); err != nil {
			return nil, fmt.Errorf("ssh-agent: %w", err)
		}
	}

	if cfg.PromptPass {
		// Asked lazily, only if the server gets that far.
		c.methods = append(c.methods, ssh.PasswordCallback(func() (string, error) {
			pass, err := cfg.prompt(fmt.Sprintf("%s@%s's password: ", cfg.User, cfg.Host))
			if err != nil {
				return "", fmt.Errorf("reading password: %w", err)
			}
			return string(pass), nil
		}))
	}

	if len(c.methods) == 0 {
		c.useFallbacks()
	}
	if len(c.methods) == 0 {
		return nil, errors.New("no SSH credentials found; pass --ssh-key, --ssh-agent or --ssh-password")
	}
	return c, nil
}

func (c *credentials) useAgent() error {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return errors.New("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return fmt.Errorf("connecting to agent at %s: %w", sock, err)
	}
	c.agent = conn
	c.methods = append(c.methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
	return nil
}

// useFallbacks adds the agent, if reachable, and any unencrypted
// default key.  Encrypted keys are skipped so a run never stops for a
// passphrase nobody asked for.
func (c *credentials) useFallbacks() {
	_ = c.useAgent()

	var signers []ssh.Signer
	for _, name := range fallbackKeys {
		data, err := os.ReadFile(expandHome(filepath.Join("~", ".ssh", name)))
		if err != nil {
			continue
		}
		if s, err := ssh.ParsePrivateKey(data); err == nil {
			signers = append(signers, s)
		}
	}
	if len(signers) > 0 {
		c.methods = append(c.methods, ssh.PublicKeys(signers...))
	}
}

// loadSigner parses a private key file, asking for the passphrase if
// the key is encrypted.
func (cfg *SSHConfig) loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(data)
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return signer, err
	}

	pass, err := cfg.prompt(fmt.Sprintf("Enter passphrase for %s: ", path))
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return ssh.ParsePrivateKeyWithPassphrase(data, pass)
}

func (cfg *SSHConfig) prompt(p string) ([]byte, error) {
	if cfg.Prompt != nil {
		return cfg.Prompt(p)
	}
	return TerminalPrompt(p)
}

// ── host-key verification ────────────────────────────────────────────

func hostKeyCallback(cfg *SSHConfig) (ssh.HostKeyCallback, error) {
	if !cfg.StrictHostKey {
		//nolint:gosec // user opted out of host key checking
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := expandHome(cfg.KnownHosts)
	if path == "" {
		path = expandHome(filepath.Join("~", ".ssh", "known_hosts"))
	}
	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		var ke *knownhosts.KeyError
		if !errors.As(err, &ke) {
			return err
		}
		if len(ke.Want) == 0 {
			return fmt.Errorf("host %s is not in %s (%s %s)",
				hostname, path, key.Type(), ssh.FingerprintSHA256(key))
		}
		return fmt.Errorf("host key for %s does not match %s:%d; refusing to connect",
			hostname, ke.Want[0].Filename, ke.Want[0].Line)
	}, nil
}

// expandHome turns a leading "~/" into the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
