package config

// loader.go - configuration loading from a YAML file and environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  SOCKCON_*
//   3. Config file  (--config, $SOCKCON_CONFIG, ./sockcon.yaml, ~/.sockcon/sockcon.yaml)
//   4. Defaults   (defaults.go)

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every supported environment variable.
const EnvPrefix = "SOCKCON"

// Load builds a Config from defaults, an optional config file, and
// SOCKCON_* environment variables.  An explicit path must exist; the
// implicit search locations are optional.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Seed every key so env-only configs are picked up by Unmarshal.
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("address", cfg.Address)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("no_dns", cfg.NoDNS)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("retries", cfg.Retries)
	v.SetDefault("websocket", cfg.WebSocketURL)
	v.SetDefault("chunk_size", cfg.ChunkSize)
	v.SetDefault("half_close", cfg.HalfClose)
	v.SetDefault("tunnel", cfg.TunnelSpec)
	v.SetDefault("ssh_key", cfg.SSHKeyPath)
	v.SetDefault("ssh_password", cfg.SSHPassword)
	v.SetDefault("ssh_agent", cfg.UseSSHAgent)
	v.SetDefault("strict_hostkey", cfg.StrictHostKey)
	v.SetDefault("known_hosts", cfg.KnownHostsPath)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_format", cfg.LogFormat)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sockcon")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sockcon"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		boolWordsHook,
		secondsDurationHook,
	))
	if err := v.Unmarshal(cfg, hooks); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// ── decode hooks ─────────────────────────────────────────────────────

// boolWordsHook accepts "1", "true", "yes", "on" (case-insensitive) as
// true for boolean fields, and treats anything else as false.
func boolWordsHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	return parseBool(data.(string)), nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsDurationHook decodes durations.  Bare numbers are seconds
// (SOCKCON_TIMEOUT=10), anything else goes through time.ParseDuration.
func secondsDurationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return time.Duration(0), nil
		}
		if n, err := strconv.Atoi(s); err == nil {
			return secondsDuration(n), nil
		}
		return time.ParseDuration(s)
	case reflect.Int, reflect.Int32, reflect.Int64:
		return secondsDuration(int(reflect.ValueOf(data).Int())), nil
	}
	return data, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
