// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "TANDEM_CONFIG"

// Config is the configuration of one tandem participant.
type Config struct {
	// Session configures dispatch and membership behavior.
	Session SessionConfig `yaml:"session"`

	// Identity configures how this participant presents itself.
	Identity IdentityConfig `yaml:"identity"`

	// Transport configures the network link to other participants.
	Transport TransportConfig `yaml:"transport"`

	// Storage configures on-disk state.
	Storage StorageConfig `yaml:"storage"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// SessionConfig configures the session controller.
type SessionConfig struct {
	// DispatchMode is "queued" (a worker goroutine executes incoming
	// activities) or "inline" (the receiving goroutine does).
	// Default: queued
	DispatchMode string `yaml:"dispatch_mode"`

	// QueueCapacity bounds the batches waiting for the dispatch worker.
	// Default: 256
	QueueCapacity int `yaml:"queue_capacity"`

	// SyncTimeout bounds how long the host waits for membership
	// acknowledgments.
	// Default: 5s
	SyncTimeout string `yaml:"sync_timeout"`

	// StrictColors panics on a color uniqueness violation instead of
	// logging it.
	StrictColors bool `yaml:"strict_colors"`
}

// IdentityConfig configures the local participant.
type IdentityConfig struct {
	// ID is the participant identifier. Usually given with --id.
	ID string `yaml:"id"`

	// PreferredColor is the color index to ask for. -1 means no
	// preference.
	// Default: -1
	PreferredColor int `yaml:"preferred_color"`
}

// TransportConfig configures the TCP transport.
type TransportConfig struct {
	// Listen is the address a host accepts participants on.
	// Default: 127.0.0.1:7464
	Listen string `yaml:"listen"`

	// Connect is the host address a participant joins.
	// Default: 127.0.0.1:7464
	Connect string `yaml:"connect"`

	// Compression is "none", "lz4" or "zstd".
	// Default: lz4
	Compression string `yaml:"compression"`

	// CompressionThreshold is the smallest frame payload, in bytes,
	// that is compressed.
	// Default: 512
	CompressionThreshold int `yaml:"compression_threshold"`
}

// StorageConfig configures on-disk state.
type StorageConfig struct {
	// Root is the base directory for tandem state.
	// Default: ~/.local/share/tandem
	Root string `yaml:"root"`

	// ColorDatabase is the SQLite database holding color assignments.
	// Default: ${TANDEM_ROOT}/colors.db
	ColorDatabase string `yaml:"color_database"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error".
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the configuration used as the base before a file is
// loaded.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Session: SessionConfig{
			DispatchMode:  "queued",
			QueueCapacity: 256,
			SyncTimeout:   "5s",
		},
		Identity: IdentityConfig{
			PreferredColor: -1,
		},
		Transport: TransportConfig{
			Listen:               "127.0.0.1:7464",
			Connect:              "127.0.0.1:7464",
			Compression:          "lz4",
			CompressionThreshold: 512,
		},
		Storage: StorageConfig{
			Root:          filepath.Join(homeDir, ".local", "share", "tandem"),
			ColorDatabase: "${TANDEM_ROOT}/colors.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads the file named by TANDEM_CONFIG. There is no fallback: if
// the variable is unset, Load fails.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your tandem.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults. Files
// ending in .json or .jsonc may contain comments and trailing commas.
// ${VAR} and ${VAR:-default} are expanded in storage paths.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.ExpandVariables()
	return cfg, nil
}

// ExpandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths. LoadFile calls it; callers that start from Default call it
// themselves.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Storage.Root = expandVars(c.Storage.Root, vars)
	vars["TANDEM_ROOT"] = c.Storage.Root
	c.Storage.ColorDatabase = expandVars(c.Storage.ColorDatabase, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// SyncTimeoutDuration parses Session.SyncTimeout.
func (c *Config) SyncTimeoutDuration() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.Session.SyncTimeout)
	if err != nil {
		return 0, fmt.Errorf("session.sync_timeout: %w", err)
	}
	return timeout, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]string{"queued", "inline"}, c.Session.DispatchMode) {
		errs = append(errs, fmt.Errorf("session.dispatch_mode must be queued or inline, got %q", c.Session.DispatchMode))
	}
	if c.Session.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("session.queue_capacity must be positive, got %d", c.Session.QueueCapacity))
	}
	if timeout, err := c.SyncTimeoutDuration(); err != nil {
		errs = append(errs, err)
	} else if timeout <= 0 {
		errs = append(errs, fmt.Errorf("session.sync_timeout must be positive, got %s", timeout))
	}

	if c.Identity.PreferredColor < -1 {
		errs = append(errs, fmt.Errorf("identity.preferred_color must be -1 or a color index, got %d", c.Identity.PreferredColor))
	}

	if !slices.Contains([]string{"none", "lz4", "zstd"}, c.Transport.Compression) {
		errs = append(errs, fmt.Errorf("transport.compression must be one of: none, lz4, zstd"))
	}
	if c.Transport.CompressionThreshold < 0 {
		errs = append(errs, fmt.Errorf("transport.compression_threshold must not be negative"))
	}

	if c.Storage.ColorDatabase == "" {
		errs = append(errs, fmt.Errorf("storage.color_database is required"))
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the directories configured paths live in.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Storage.Root, filepath.Dir(c.Storage.ColorDatabase)} {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
