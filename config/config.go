// Package config resolves the client's runtime configuration: gateway
// scheme/host/port, default replication strategy, and local mount-cache
// file path (SPEC_FULL.md §4.9).
//
// Precedence, lowest to highest: Default(), a TOML config file, then
// environment variables — following the teacher's logging.NewConfigFromEnv
// tolerant env-parsing idiom for the final override layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the resolved runtime configuration.
type Config struct {
	GatewayScheme string `toml:"gateway_scheme"`
	GatewayHost   string `toml:"gateway_host"`
	GatewayPort   int    `toml:"gateway_port"`
	TimeoutMS     int    `toml:"timeout_ms"`
	CacheFile     string `toml:"cache_file"`

	DefaultStrategy map[string]int `toml:"default_strategy"`
}

// Default returns the baseline configuration before any file or env
// override is applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		GatewayScheme: "https",
		GatewayHost:   "localhost",
		GatewayPort:   6270,
		TimeoutMS:     30_000,
		CacheFile:     filepath.Join(home, ".gaia", "cache.bin"),
		DefaultStrategy: map[string]int{
			"local":  1,
			"public": 1,
		},
	}
}

// BaseURL returns the scheme://host:port string for building a
// transport.Client.
func (c Config) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.GatewayScheme, c.GatewayHost, c.GatewayPort)
}

// Load resolves Config per the precedence documented on the package:
// Default(), then a TOML file (GAIA_CONFIG env var, else
// ~/.gaia/config.toml, silently skipped if absent), then individual
// environment variable overrides.
func Load() (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(os.Getenv("GAIA_CONFIG"))
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".gaia", "config.toml")
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if v := os.Getenv("GAIA_GATEWAY_HOST"); v != "" {
		cfg.GatewayHost = v
	}
	if v := os.Getenv("GAIA_GATEWAY_PORT"); v != "" {
		cfg.GatewayPort = envInt(v, cfg.GatewayPort)
	}
	if v := os.Getenv("GAIA_GATEWAY_SCHEME"); v != "" {
		cfg.GatewayScheme = v
	}
	if v := os.Getenv("GAIA_TIMEOUT_MS"); v != "" {
		cfg.TimeoutMS = envInt(v, cfg.TimeoutMS)
	}
	if v := os.Getenv("GAIA_CACHE_FILE"); v != "" {
		cfg.CacheFile = v
	}

	return cfg, nil
}

func envInt(s string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return v
	}
	return def
}
