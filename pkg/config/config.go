// Package config loads salesd server settings from defaults, an optional
// YAML file and SALESD_* environment variables, in that order of
// precedence (later wins). Command-line flags are applied by the binary.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration.
type Config struct {
	Addr            string        `yaml:"addr"`
	DataPath        string        `yaml:"dataPath"`
	CacheSize       int           `yaml:"cacheSize"`
	LogPrefix       string        `yaml:"logPrefix"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// MetricsEndpoint is an OTLP/HTTP collector; empty disables export.
	MetricsEndpoint string        `yaml:"metricsEndpoint"`
	MetricsInterval time.Duration `yaml:"metricsInterval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:            ":12345",
		DataPath:        "salesd.db",
		CacheSize:       10,
		LogPrefix:       "salesd",
		ShutdownTimeout: 10 * time.Second,
		MetricsInterval: 30 * time.Second,
	}
}

// Load reads path over the defaults. A missing file is not an error: the
// defaults are returned with loaded=false.
func Load(path string) (cfg Config, loaded bool, err error) {
	cfg = Default()
	if strings.TrimSpace(path) == "" {
		return cfg, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, false, nil
	}
	if err != nil {
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalise()
	return cfg, true, nil
}

// FromEnv returns base with SALESD_* environment overrides applied.
func FromEnv(base Config) (Config, error) {
	return fromLookup(base, os.LookupEnv)
}

func fromLookup(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	if v, ok := lookup("SALESD_ADDR"); ok && v != "" {
		cfg.Addr = v
	}
	if v, ok := lookup("SALESD_DB"); ok && v != "" {
		cfg.DataPath = v
	}
	if v, ok := lookup("SALESD_CACHE_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("SALESD_CACHE_SIZE: %w", err)
		}
		cfg.CacheSize = n
	}
	if v, ok := lookup("SALESD_SHUTDOWN_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("SALESD_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if v, ok := lookup("SALESD_METRICS_ENDPOINT"); ok {
		cfg.MetricsEndpoint = v
	}
	cfg.normalise()
	return cfg, nil
}

func (c *Config) normalise() {
	c.Addr = strings.TrimSpace(c.Addr)
	c.DataPath = strings.TrimSpace(c.DataPath)
	c.LogPrefix = strings.TrimSpace(c.LogPrefix)
	c.MetricsEndpoint = strings.TrimSpace(c.MetricsEndpoint)
}

// Validate performs semantic validation on the configuration.
func (c Config) Validate() error {
	if c.CacheSize < 1 {
		return fmt.Errorf("cacheSize must be >0, got %d", c.CacheSize)
	}
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.DataPath == "" {
		return errors.New("dataPath is required")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdownTimeout must be >=0, got %s", c.ShutdownTimeout)
	}
	if c.MetricsEndpoint != "" && c.MetricsInterval <= 0 {
		return fmt.Errorf("metricsInterval must be >0 when exporting, got %s", c.MetricsInterval)
	}
	return nil
}

// PortAddr turns a bare port number into a listen address.
func PortAddr(port string) (string, error) {
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return "", fmt.Errorf("invalid port %q", port)
	}
	return ":" + strconv.Itoa(n), nil
}
