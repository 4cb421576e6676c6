// Package cmd wires up the CLI flags and dispatches to the console core.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"sockcon/config"
	"sockcon/internal/core"
	ncerr "sockcon/internal/errors"
	"sockcon/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X sockcon/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the requested sockcon mode.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdout, os.Stderr)
}

// options holds the flag values that are not config fields.
type options struct {
	configPath string
	timeoutSec int
	debug      bool
	dryRun     bool
	version    bool
	help       bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flagCfg := config.Default()
	var opts options

	fs := flag.NewFlagSet("sockcon", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// ── connection ───────────────────────────────────────────────
	fs.BoolVarP(&flagCfg.Listen, "listen", "l", false, "Server mode: wait for one client")
	fs.StringVarP(&flagCfg.Address, "address", "a", config.DefaultAddress, "Peer address (client) or bind address (server)")
	fs.IntVarP(&flagCfg.Port, "port", "p", config.DefaultPort, "Port number")
	fs.BoolVarP(&flagCfg.NoDNS, "no-dns", "n", false, "Numeric-only, no DNS resolution")
	fs.IntVarP(&opts.timeoutSec, "timeout", "w", 0, "Connect/accept timeout in seconds")
	fs.IntVar(&flagCfg.Retries, "retries", 0, "Extra connect attempts on failure (client)")
	fs.StringVar(&flagCfg.WebSocketURL, "websocket", "", "Connect to a ws:// or wss:// URL instead of TCP")

	// ── relay ────────────────────────────────────────────────────
	fs.IntVar(&flagCfg.ChunkSize, "chunk-size", config.DefaultChunkSize, "Bytes per relay read")
	fs.BoolVarP(&flagCfg.HalfClose, "half-close", "N", false, "Keep receiving after local input ends")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&flagCfg.TunnelSpec, "tunnel", "T", "", "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&flagCfg.SSHKeyPath, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&flagCfg.SSHPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&flagCfg.UseSSHAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&flagCfg.StrictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&flagCfg.KnownHostsPath, "known-hosts", "", "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&flagCfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&opts.debug, "debug", false, "Debug output (same as -vvv)")
	fs.StringVar(&flagCfg.LogFile, "log-file", "", "Write logs to a rotating file")
	fs.StringVar(&flagCfg.LogFormat, "log-format", config.DefaultLogFormat, "Log format: console or json")

	// ── misc ─────────────────────────────────────────────────────
	fs.StringVar(&opts.configPath, "config", "", "Config file (YAML)")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Validate and print the effective config")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")
	fs.BoolVarP(&opts.help, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ncerr.ErrUsage, err)
	}
	if opts.help {
		printUsage(stderr, fs)
		return nil
	}
	if opts.version {
		fmt.Fprintf(stdout, "sockcon %s\n", version)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return ncerr.AtStage(ncerr.StageConfig, err)
	}
	applyFlags(cfg, flagCfg, fs)
	if fs.Changed("timeout") {
		cfg.Timeout = time.Duration(opts.timeoutSec) * time.Second
	}
	if opts.debug {
		cfg.Verbose = int(util.LogDebug)
	}

	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}
	if err := cfg.Resolve(); err != nil {
		return ncerr.AtStage(ncerr.StageConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return ncerr.AtStage(ncerr.StageConfig, err)
	}

	if opts.dryRun {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, out)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(stderr)
	logger.SetFormat(cfg.LogFormat)
	if cfg.LogFile != "" {
		logger.SetLogFile(cfg.LogFile)
	}
	defer logger.Close()

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return ncerr.AtStage(ncerr.StageConfig, err)
	}
	logger.Verbose("%s mode, %s:%d", cfg.Mode(), cfg.Address, cfg.Port)
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// flagFields copies a flag's value from the parsed flag config into the
// loaded one.  Only flags the user actually set override file and env.
var flagFields = map[string]func(dst, src *config.Config){ //nolint:gochecknoglobals
	"listen":         func(d, s *config.Config) { d.Listen = s.Listen },
	"address":        func(d, s *config.Config) { d.Address = s.Address },
	"port":           func(d, s *config.Config) { d.Port = s.Port },
	"no-dns":         func(d, s *config.Config) { d.NoDNS = s.NoDNS },
	"retries":        func(d, s *config.Config) { d.Retries = s.Retries },
	"websocket":      func(d, s *config.Config) { d.WebSocketURL = s.WebSocketURL },
	"chunk-size":     func(d, s *config.Config) { d.ChunkSize = s.ChunkSize },
	"half-close":     func(d, s *config.Config) { d.HalfClose = s.HalfClose },
	"tunnel":         func(d, s *config.Config) { d.TunnelSpec = s.TunnelSpec },
	"ssh-key":        func(d, s *config.Config) { d.SSHKeyPath = s.SSHKeyPath },
	"ssh-password":   func(d, s *config.Config) { d.SSHPassword = s.SSHPassword },
	"ssh-agent":      func(d, s *config.Config) { d.UseSSHAgent = s.UseSSHAgent },
	"strict-hostkey": func(d, s *config.Config) { d.StrictHostKey = s.StrictHostKey },
	"known-hosts":    func(d, s *config.Config) { d.KnownHostsPath = s.KnownHostsPath },
	"verbose":        func(d, s *config.Config) { d.Verbose = s.Verbose },
	"log-file":       func(d, s *config.Config) { d.LogFile = s.LogFile },
	"log-format":     func(d, s *config.Config) { d.LogFormat = s.LogFormat },
}

func applyFlags(dst, src *config.Config, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := flagFields[f.Name]; ok {
			apply(dst, src)
		}
	})
}

// parsePositional handles [server|client] [address [port]].
func parsePositional(cfg *config.Config, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "server":
			cfg.Listen = true
			args = args[1:]
		case "client":
			cfg.Listen = false
			args = args[1:]
		}
	}

	switch len(args) {
	case 0:
	case 2:
		port, err := config.ParsePort(args[1])
		if err != nil {
			return fmt.Errorf("%w: %v", ncerr.ErrUsage, err)
		}
		cfg.Port = port
		fallthrough
	case 1:
		cfg.Address = args[0]
	default:
		return fmt.Errorf("%w: too many arguments (use --help for usage)", ncerr.ErrUsage)
	}
	return nil
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `sockcon - interactive network console v%s

Bridges this terminal with one TCP, websocket, or SSH-tunnelled connection.

Usage:
  sockcon [options] [client] [address [port]]     Connect (default)
  sockcon [options] server [address [port]]       Wait for one client
  sockcon -l -p <port>                            Same, with flags

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  sockcon 10.0.0.5 5555                           Connect to a console
  sockcon server 0.0.0.0 5555                     Serve a console on all interfaces
  sockcon -N db-host 9000 < query.txt             Send a file, then read the reply
  sockcon --websocket wss://relay.example/tty     Console over a websocket
  sockcon -T admin@bastion db-internal 5555       Connect through an SSH jump host
  sockcon -l -T admin@bastion -p 5555             Listen on the SSH gateway
`)
}
