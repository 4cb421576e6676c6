package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultAddress is the peer address in client mode and the bind
	// address in server mode.
	DefaultAddress = "127.0.0.1"

	// DefaultPort is the console port.
	DefaultPort = 5555

	// DefaultChunkSize is how many bytes a relay pump asks for per read.
	DefaultChunkSize = 1024

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout is the TCP/SSH/websocket connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultRetryDelay is the first pause between connect retries.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultMaxRetryDelay caps the exponential backoff between
	// connect retries.
	DefaultMaxRetryDelay = 10 * time.Second

	// DefaultSSHKeepAlive is the keepalive interval on SSH tunnels.
	DefaultSSHKeepAlive = 30 * time.Second

	// DefaultLogFormat is the log encoder used when none is configured.
	DefaultLogFormat = "console"
)

// Default returns a Config populated with the defaults above.
func Default() *Config {
	return &Config{
		Address:   DefaultAddress,
		Port:      DefaultPort,
		ChunkSize: DefaultChunkSize,
		LogFormat: DefaultLogFormat,
	}
}
