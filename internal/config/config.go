package config

/*
secagg — client for aggregating security metadata about domain names
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package config loads the secagg TOML configuration file.
//
// A missing file is not an error; Load then returns Default().

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/x-stp/secagg/internal/client"
)

const (
	// DefaultEndpoint is the base URL of a locally running aggregation backend.
	DefaultEndpoint = "http://127.0.0.1:8000"

	// DefaultDirName is the directory under $HOME holding config.toml.
	DefaultDirName = ".secagg"

	// FileName is the configuration file name.
	FileName = "config.toml"

	// DefaultMaxFileBytes caps how much of a dropped file is read.
	DefaultMaxFileBytes = 4 << 20
)

// Config is the on-disk configuration.
type Config struct {
	Endpoint string   `toml:"endpoint"`
	Verbose  bool     `toml:"verbose"`
	HTTP     HTTP     `toml:"http"`
	Export   Export   `toml:"export"`
	DropZone DropZone `toml:"dropzone"`
	Metrics  Metrics  `toml:"metrics"`
}

// HTTP tunes the shared transport. Zero request timeout means none.
type HTTP struct {
	DialTimeoutSeconds    int `toml:"dial_timeout_seconds"`
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
	MaxIdleConns          int `toml:"max_idle_conns"`
}

// Export configures the CSV artifact.
type Export struct {
	FileName string `toml:"file_name"`
	Compress bool   `toml:"compress"`
}

// DropZone configures the watched drop directory of the TUI.
type DropZone struct {
	Dir          string `toml:"dir"`
	MaxFileBytes int64  `toml:"max_file_bytes"`
}

// Metrics configures the Prometheus endpoint. Port 0 disables it.
type Metrics struct {
	Port int `toml:"port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	hc := client.DefaultConfig()
	return &Config{
		Endpoint: DefaultEndpoint,
		HTTP: HTTP{
			DialTimeoutSeconds: int(hc.DialTimeout / time.Second),
			MaxIdleConns:       hc.MaxIdleConns,
		},
		Export: Export{
			FileName: "security_aggregator.csv",
		},
		DropZone: DropZone{
			MaxFileBytes: DefaultMaxFileBytes,
		},
	}
}

// DefaultPath returns ~/.secagg/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName, FileName), nil
}

// Load reads path over Default(). An empty path selects DefaultPath; a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("parsing config %s:%d:%d: %w", path, row, col, err)
		}
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and the endpoint URL.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("endpoint %q must be an http(s) URL", c.Endpoint)
	}
	if c.HTTP.DialTimeoutSeconds < 0 || c.HTTP.RequestTimeoutSeconds < 0 {
		return errors.New("http timeouts must not be negative")
	}
	if c.HTTP.MaxIdleConns < 0 {
		return errors.New("http.max_idle_conns must not be negative")
	}
	if c.Export.FileName == "" {
		return errors.New("export.file_name must not be empty")
	}
	if c.DropZone.MaxFileBytes <= 0 {
		return errors.New("dropzone.max_file_bytes must be positive")
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	return nil
}

// HTTPClientConfig maps the [http] table onto the transport settings.
func (c *Config) HTTPClientConfig() *client.Config {
	cfg := client.DefaultConfig()
	if c.HTTP.DialTimeoutSeconds > 0 {
		cfg.DialTimeout = time.Duration(c.HTTP.DialTimeoutSeconds) * time.Second
	}
	if c.HTTP.MaxIdleConns > 0 {
		cfg.MaxIdleConns = c.HTTP.MaxIdleConns
	}
	cfg.RequestTimeout = time.Duration(c.HTTP.RequestTimeoutSeconds) * time.Second
	return cfg
}

// Example returns a commented example configuration holding the defaults.
func Example() string {
	return `# secagg configuration (~/.secagg/config.toml)

# Base URL of the aggregation backend.
endpoint = "` + DefaultEndpoint + `"

# Log to stderr (or to secagg.log in the TUI).
verbose = false

[http]
dial_timeout_seconds = 5
# 0 waits for the backend as long as it takes.
request_timeout_seconds = 0
max_idle_conns = 16

[export]
file_name = "security_aggregator.csv"
compress = false

[dropzone]
# Files created here are merged into the TUI domain list. Empty disables it.
dir = ""
max_file_bytes = 4194304

[metrics]
# Serve Prometheus metrics on this port. 0 disables.
port = 0
`
}
