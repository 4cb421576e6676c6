// Package config defines the runtime configuration for sockcon and
// provides helpers for parsing tunnel specifications and ports.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ncerr "sockcon/internal/errors"
	"sockcon/util"
)

// Config holds every tuneable for a single sockcon run.
type Config struct {
	// ── Connection ───────────────────────────────────────────────────
	Listen       bool          `mapstructure:"listen" yaml:"listen"`
	Address      string        `mapstructure:"address" yaml:"address"`
	Port         int           `mapstructure:"port" yaml:"port"`
	NoDNS        bool          `mapstructure:"no_dns" yaml:"no_dns"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries      int           `mapstructure:"retries" yaml:"retries"`
	WebSocketURL string        `mapstructure:"websocket" yaml:"websocket,omitempty"`

	// ── Relay ────────────────────────────────────────────────────────
	ChunkSize int  `mapstructure:"chunk_size" yaml:"chunk_size"`
	HalfClose bool `mapstructure:"half_close" yaml:"half_close"`

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string `mapstructure:"tunnel" yaml:"tunnel,omitempty"` // raw user@host[:port] from -T
	SSHKeyPath     string `mapstructure:"ssh_key" yaml:"ssh_key,omitempty"`
	SSHPassword    bool   `mapstructure:"ssh_password" yaml:"ssh_password"` // true → prompt interactively
	UseSSHAgent    bool   `mapstructure:"ssh_agent" yaml:"ssh_agent"`
	StrictHostKey  bool   `mapstructure:"strict_hostkey" yaml:"strict_hostkey"`
	KnownHostsPath string `mapstructure:"known_hosts" yaml:"known_hosts,omitempty"`

	// Filled in by Resolve from TunnelSpec.
	TunnelEnabled bool   `mapstructure:"-" yaml:"-"`
	TunnelUser    string `mapstructure:"-" yaml:"-"`
	TunnelHost    string `mapstructure:"-" yaml:"-"`
	TunnelPort    int    `mapstructure:"-" yaml:"-"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose   int    `mapstructure:"verbose" yaml:"verbose"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file,omitempty"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// Mode returns "server" or "client".
func (c *Config) Mode() string {
	if c.Listen {
		return "server"
	}
	return "client"
}

// ── Port helper ──────────────────────────────────────────────────────

// ParsePort accepts a decimal TCP port in 1-65535.
func ParsePort(spec string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(spec))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", spec)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// Resolve fills the derived tunnel fields from TunnelSpec.
func (c *Config) Resolve() error {
	if c.TunnelSpec == "" {
		c.TunnelEnabled = false
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &ncerr.ConfigError{
			Field:   "tunnel",
			Value:   c.TunnelSpec,
			Message: err.Error(),
			Hint:    "use -T [user@]host[:port], e.g. -T admin@bastion:2222",
		}
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &ncerr.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 1-65535",
			Hint:    fmt.Sprintf("omit -p to use the default port %d", DefaultPort),
		}
	}
	if !c.Listen && c.Address == "" && c.WebSocketURL == "" {
		return &ncerr.ConfigError{
			Field:   "address",
			Message: "client mode needs a peer address",
			Hint:    "pass -a <host> or a positional address",
		}
	}
	if c.ChunkSize < 1 || c.ChunkSize > util.MaxChunkSize {
		return &ncerr.ConfigError{
			Field:   "chunk-size",
			Value:   c.ChunkSize,
			Message: fmt.Sprintf("must be between 1 and %d", util.MaxChunkSize),
		}
	}
	if c.Retries < 0 {
		return &ncerr.ConfigError{Field: "retries", Value: c.Retries, Message: "must not be negative"}
	}
	if c.Listen && c.Retries > 0 {
		return &ncerr.ConfigError{
			Field:   "retries",
			Value:   c.Retries,
			Message: "only applies to client mode",
			Hint:    "drop --retries or run without -l/server",
		}
	}

	if c.WebSocketURL != "" {
		if !strings.HasPrefix(c.WebSocketURL, "ws://") && !strings.HasPrefix(c.WebSocketURL, "wss://") {
			return &ncerr.ConfigError{
				Field:   "websocket",
				Value:   c.WebSocketURL,
				Message: "must be a ws:// or wss:// URL",
			}
		}
		if c.Listen {
			return &ncerr.ConfigError{Field: "websocket", Message: "server mode cannot accept websocket clients"}
		}
		if c.TunnelEnabled {
			return &ncerr.ConfigError{Field: "websocket", Message: "cannot be combined with an SSH tunnel"}
		}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &ncerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return &ncerr.ConfigError{
			Field:   "log-format",
			Value:   c.LogFormat,
			Message: "unknown format",
			Hint:    "use console or json",
		}
	}
	return nil
}

// YAML renders the effective configuration (used by --dry-run).
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(out), nil
}
