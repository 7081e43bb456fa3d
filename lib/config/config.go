// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the gateway's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath is the environment variable consulted by Load when no
// explicit path is given.
const EnvConfigPath = "TTYSPOOL_CONFIG"

// DefaultPath is the config location used when neither the flag nor
// the environment names one.
const DefaultPath = "/etc/ttyspool/config.yaml"

// Config is the gateway's on-disk configuration.
type Config struct {
	Paths     Paths     `yaml:"paths"`
	Recording Recording `yaml:"recording"`
	Archive   Archive   `yaml:"archive"`
	Gateway   Gateway   `yaml:"gateway"`
}

// Paths fixes the on-disk layout.
type Paths struct {
	// LogDir holds session transcripts under its tty/ subdirectory.
	LogDir string `yaml:"log_dir"`
	// DownloadDir is the content-addressed artifact store root; stdin
	// captures are also staged here before finalization.
	DownloadDir string `yaml:"download_dir"`
	// StateDir holds the gateway's host key.
	StateDir string `yaml:"state_dir"`
}

// Recording controls what is recorded per session.
type Recording struct {
	// TTYLog enables transcript logging.
	TTYLog bool `yaml:"ttylog"`
	// ByteLimit caps total bytes received per session; zero means
	// unlimited.
	ByteLimit int64 `yaml:"byte_limit"`
}

// Archive configures optional transcript upload to S3-compatible
// object storage.
type Archive struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseTLS    bool   `yaml:"use_tls"`
}

// Gateway configures the SSH front end.
type Gateway struct {
	// Listen is the TCP address the SSH server binds.
	Listen string `yaml:"listen"`
	// Shell is the argv sessions run; exec requests append
	// ["-c", command].
	Shell []string `yaml:"shell"`
	// HostKey overrides the host key location; empty means
	// <state_dir>/host_key.
	HostKey string `yaml:"host_key"`
	// Users maps login names to passwords. Empty means any client may
	// connect (record-everything deployments).
	Users map[string]string `yaml:"users"`
}

// Default returns the configuration used where keys are absent.
func Default() *Config {
	return &Config{
		Paths: Paths{
			LogDir:      "/var/lib/ttyspool/log",
			DownloadDir: "/var/lib/ttyspool/downloads",
			StateDir:    "/var/lib/ttyspool/state",
		},
		Recording: Recording{
			TTYLog: true,
		},
		Gateway: Gateway{
			Listen: ":2222",
			Shell:  []string{"/bin/sh"},
		},
	}
}

// Load reads the config from path; an empty path falls back to
// $TTYSPOOL_CONFIG and then to DefaultPath. A missing file is an error
// only when a location was named explicitly; a silent DefaultPath miss
// yields Default().
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if !explicit {
		path = DefaultPath
	}
	cfg, err := LoadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads, expands, and validates the YAML config at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandVariables substitutes ${VAR} references with environment
// values.
func expandVariables(s string) string {
	return variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func (c *Config) expandPaths() {
	c.Paths.LogDir = expandVariables(c.Paths.LogDir)
	c.Paths.DownloadDir = expandVariables(c.Paths.DownloadDir)
	c.Paths.StateDir = expandVariables(c.Paths.StateDir)
	c.Gateway.HostKey = expandVariables(c.Gateway.HostKey)
}

// HostKeyPath returns the host key location.
func (c *Config) HostKeyPath() string {
	if c.Gateway.HostKey != "" {
		return c.Gateway.HostKey
	}
	return filepath.Join(c.Paths.StateDir, "host_key")
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Paths.LogDir == "" {
		errs = append(errs, errors.New("paths.log_dir must be set"))
	}
	if c.Paths.DownloadDir == "" {
		errs = append(errs, errors.New("paths.download_dir must be set"))
	}
	if c.Paths.StateDir == "" && c.Gateway.HostKey == "" {
		errs = append(errs, errors.New("paths.state_dir or gateway.host_key must be set"))
	}
	if c.Recording.ByteLimit < 0 {
		errs = append(errs, fmt.Errorf("recording.byte_limit must be >= 0, got %d", c.Recording.ByteLimit))
	}
	if c.Gateway.Listen == "" {
		errs = append(errs, errors.New("gateway.listen must be set"))
	}
	if len(c.Gateway.Shell) == 0 {
		errs = append(errs, errors.New("gateway.shell must name a command"))
	}
	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			errs = append(errs, errors.New("archive.endpoint must be set when archiving is enabled"))
		}
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket must be set when archiving is enabled"))
		}
	}
	return errors.Join(errs...)
}

// EnsurePaths creates the directory layout the gateway writes into,
// including the tty/ transcript subdirectory.
func (c *Config) EnsurePaths() error {
	dirs := []string{
		c.Paths.LogDir,
		filepath.Join(c.Paths.LogDir, "tty"),
		c.Paths.DownloadDir,
	}
	if c.Paths.StateDir != "" {
		dirs = append(dirs, c.Paths.StateDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
