// Package config loads server configuration from defaults, an optional
// YAML file and BOXDIR_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment variable name. The envconfig tags
// carry the full names so that unprefixed variables such as ROOT are
// never consulted.
const EnvPrefix = "BOXDIR"

// Config holds all server configuration.
type Config struct {
	// Sandbox
	Root              string `yaml:"root" envconfig:"BOXDIR_ROOT"`
	CreateRoot        bool   `yaml:"create_root" envconfig:"BOXDIR_CREATE_ROOT"`
	DefaultFolderName string `yaml:"default_folder_name" envconfig:"BOXDIR_DEFAULT_FOLDER_NAME"`

	// Server
	ListenAddr  string `yaml:"listen_addr" envconfig:"BOXDIR_LISTEN_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" envconfig:"BOXDIR_METRICS_ADDR"`

	// TLS (optional; both must be set)
	TLSCertFile string `yaml:"tls_cert_file" envconfig:"BOXDIR_TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" envconfig:"BOXDIR_TLS_KEY_FILE"`

	// Logging
	LogLevel  string `yaml:"log_level" envconfig:"BOXDIR_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"BOXDIR_LOG_FORMAT"`

	// Uploads
	MaxUploadSize int64 `yaml:"max_upload_size" envconfig:"BOXDIR_MAX_UPLOAD_SIZE"`

	// Rate limiting (0 = disabled)
	RateLimitRPS   float64 `yaml:"rate_limit_rps" envconfig:"BOXDIR_RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" envconfig:"BOXDIR_RATE_LIMIT_BURST"`

	// WebDAV mount at /webdav/
	WebDAVEnabled bool `yaml:"webdav_enabled" envconfig:"BOXDIR_WEBDAV_ENABLED"`

	// Audit trail in PostgreSQL (optional)
	AuditDatabaseURL string `yaml:"audit_database_url" envconfig:"BOXDIR_AUDIT_DATABASE_URL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultFolderName: "New Folder",
		ListenAddr:        ":8080",
		MetricsAddr:       ":9090",
		LogLevel:          "info",
		LogFormat:         "json",
		MaxUploadSize:     1 << 30, // 1 GiB
		RateLimitBurst:    20,
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty), then BOXDIR_* environment variables. Only variables
// that are set override earlier layers.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// Validate checks required fields and limits.
func (c *Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, fmt.Errorf("%s_ROOT (or root) is required", EnvPrefix))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("max upload size must be positive"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("rate limit burst must be positive"))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("TLS needs both a certificate and a key"))
	}
	return errors.Join(errs...)
}

// UseTLS reports whether the server should listen with TLS.
func (c *Config) UseTLS() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}
