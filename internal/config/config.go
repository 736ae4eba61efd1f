// Package config loads splynx-tickets configuration. Every setting the
// process needs has an environment variable (spec §6 "Environment
// (enumerated)"), the way the original deployment's docker-compose
// environment block supplied them; an optional YAML file can set the same
// fields for local development, but any environment variable present
// always wins over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/rhernandezbas/splynx-tickets/internal/db"
)

// Config holds every setting the process needs to wire its dependencies
// (TicketSvc client, MessagingGateway client, the MySQL pool) before the
// HTTP server and Scheduler start.
type Config struct {
	Splynx    SplynxConfig    `yaml:"splynx"`
	Evolution EvolutionConfig `yaml:"evolution"`
	DB        db.Config       `yaml:"db"`
	Listen    ListenConfig    `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"`
	LockPath  string          `yaml:"lock_path"`
}

// SplynxConfig is the TicketSvc connection (spec §4.C). SSLVerifyFile
// holds the YAML overlay's raw value as a pointer so an unset file field
// is distinguishable from an explicit "false"; Load resolves it into
// SSLVerify.
type SplynxConfig struct {
	BaseURL       string `yaml:"base_url"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	SSLVerifyFile *bool  `yaml:"ssl_verify"`
	SSLVerify     bool   `yaml:"-"`
}

// EvolutionConfig is the MessagingGateway connection (spec §4.D).
type EvolutionConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	InstanceName string `yaml:"instance_name"`
}

// ListenConfig is the inbound HTTP server's bind address.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// DefaultSearchPaths returns the optional config file search order:
// ./splynx-tickets.yaml, then $HOME/.config/splynx-tickets/config.yaml,
// then /etc/splynx-tickets/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"splynx-tickets.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "splynx-tickets", "config.yaml"))
	}
	paths = append(paths, "/etc/splynx-tickets/config.yaml")
	return paths
}

// findConfig returns the first existing path in DefaultSearchPaths, or ""
// if none exist. Absence of a config file is not an error: the enumerated
// environment variables are a complete configuration on their own.
func findConfig() string {
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load assembles Config from an optional YAML file overlaid with the
// enumerated environment variables (env always wins), applies defaults for
// variables that have one, and validates the result. It returns an error if
// a variable with no sensible default (credentials, base URLs) is missing
// from both sources.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := findConfig(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.Splynx.BaseURL = envOverride("SPLYNX_BASE_URL", cfg.Splynx.BaseURL)
	cfg.Splynx.User = envOverride("SPLYNX_USER", cfg.Splynx.User)
	cfg.Splynx.Password = envOverride("SPLYNX_PASSWORD", cfg.Splynx.Password)
	cfg.Splynx.SSLVerify = true
	if cfg.Splynx.SSLVerifyFile != nil {
		cfg.Splynx.SSLVerify = *cfg.Splynx.SSLVerifyFile
	}
	if v := os.Getenv("SPLYNX_SSL_VERIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Splynx.SSLVerify = b
		}
	}

	cfg.Evolution.BaseURL = envOverride("EVOLUTION_API_BASE_URL", cfg.Evolution.BaseURL)
	cfg.Evolution.APIKey = envOverride("EVOLUTION_API_KEY", cfg.Evolution.APIKey)
	cfg.Evolution.InstanceName = envOverride("EVOLUTION_INSTANCE_NAME", cfg.Evolution.InstanceName)

	cfg.DB.Host = envOverride("DB_HOST", orDefault(cfg.DB.Host, "localhost"))
	cfg.DB.Port = envIntOverride("DB_PORT", cfg.DB.Port, 3306)
	cfg.DB.Name = envOverride("DB_NAME", cfg.DB.Name)
	cfg.DB.User = envOverride("DB_USER", cfg.DB.User)
	cfg.DB.Password = envOverride("DB_PASSWORD", cfg.DB.Password)

	cfg.Listen.Address = envOverride("LISTEN_ADDRESS", cfg.Listen.Address)
	cfg.Listen.Port = envIntOverride("LISTEN_PORT", cfg.Listen.Port, 8000)

	cfg.LogLevel = envOverride("LOG_LEVEL", orDefault(cfg.LogLevel, "info"))
	cfg.LockPath = envOverride("SCHEDULER_LOCK_PATH", orDefault(cfg.LockPath, "/tmp/splynx_scheduler.lock"))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks that every variable without a safe default is present.
func (c *Config) Validate() error {
	if c.Splynx.BaseURL == "" {
		return fmt.Errorf("SPLYNX_BASE_URL is required")
	}
	if c.Splynx.User == "" || c.Splynx.Password == "" {
		return fmt.Errorf("SPLYNX_USER and SPLYNX_PASSWORD are required")
	}
	if c.DB.Name == "" || c.DB.User == "" {
		return fmt.Errorf("DB_NAME and DB_USER are required")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func envOverride(key, fileValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fileValue
}

func envIntOverride(key string, fileValue, def int) int {
	v := os.Getenv(key)
	if v == "" {
		if fileValue != 0 {
			return fileValue
		}
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

