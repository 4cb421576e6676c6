package core

import (
	"time"

	"sockcon/config"
	"sockcon/internal/metrics"
	"sockcon/internal/relay"
	"sockcon/internal/transport"
	"sockcon/tunnel"
	"sockcon/util"
)

// Build constructs the Mode the configuration asks for.  cfg must
// already be resolved and validated.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	collector := metrics.New()
	c := console{
		Engine: relay.New(relay.Options{
			ChunkSize: cfg.ChunkSize,
			HalfClose: cfg.HalfClose,
			Logger:    logger,
			Metrics:   collector,
		}),
		Logger:  logger,
		Metrics: collector,
	}

	if cfg.Listen {
		return buildListen(cfg, logger, c), nil
	}
	return buildConnect(cfg, logger, c)
}

// ── mode builders ────────────────────────────────────────────────────

func buildConnect(cfg *config.Config, logger *util.Logger, c console) (Mode, error) {
	address := cfg.WebSocketURL
	if address == "" {
		var err error
		address, err = util.DialAddr(cfg.Address, cfg.Port, cfg.NoDNS)
		if err != nil {
			return nil, err
		}
	}

	return &ConnectMode{
		console:       c,
		Dialer:        buildDialer(cfg, logger),
		Network:       "tcp",
		Address:       address,
		Retries:       cfg.Retries,
		RetryDelay:    config.DefaultRetryDelay,
		MaxRetryDelay: config.DefaultMaxRetryDelay,
	}, nil
}

func buildListen(cfg *config.Config, logger *util.Logger, c console) Mode {
	var ln transport.Listener = transport.TCPListener{}
	if cfg.TunnelEnabled {
		ln = transport.NewSSHDialer(sshConfig(cfg), logger)
	}

	return &ListenMode{
		console:  c,
		Listener: ln,
		Network:  "tcp",
		Address:  util.BindAddr(cfg.Address, cfg.Port),
		Timeout:  cfg.Timeout,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	switch {
	case cfg.TunnelEnabled:
		return transport.NewSSHDialer(sshConfig(cfg), logger)
	case cfg.WebSocketURL != "":
		return &transport.WebSocketDialer{URL: cfg.WebSocketURL, Timeout: connTimeout(cfg)}
	default:
		return &transport.TCPDialer{Timeout: connTimeout(cfg)}
	}
}

func sshConfig(cfg *config.Config) *tunnel.SSHConfig {
	return &tunnel.SSHConfig{
		User:          cfg.TunnelUser,
		Host:          cfg.TunnelHost,
		Port:          cfg.TunnelPort,
		KeyPath:       cfg.SSHKeyPath,
		PromptPass:    cfg.SSHPassword,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHostsPath,
		ConnTimeout:   connTimeout(cfg),
		KeepAlive:     config.DefaultSSHKeepAlive,
	}
}

func connTimeout(cfg *config.Config) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return config.DefaultConnTimeout
}
