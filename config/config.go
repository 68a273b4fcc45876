// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config holds the static configuration for a home server or
// client process: bind address, the configured neighbourhood, key
// material location, and the ambient logging/metrics/health knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a server process.
type Config struct {
	Environment   string         `yaml:"environment" json:"environment"`
	Server        ServerConfig   `yaml:"server" json:"server"`
	Neighbourhood []string       `yaml:"neighbourhood" json:"neighbourhood"` // configured peer host:port list
	KeyStore      KeyStoreConfig `yaml:"keystore" json:"keystore"`
	Files         FilesConfig    `yaml:"files" json:"files"`
	Logging       LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig  `yaml:"metrics" json:"metrics"`
	Health        HealthConfig   `yaml:"health" json:"health"`
}

// ServerConfig is the bind address shared by the WebSocket and HTTP surfaces.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// Address returns the host:port this server binds and advertises to peers.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// KeyStoreConfig points at the long-term RSA key pair for this identity.
type KeyStoreConfig struct {
	PrivateKeyPath string `yaml:"private_key_path" json:"private_key_path"`
	PublicKeyPath  string `yaml:"public_key_path" json:"public_key_path"`
}

// FilesConfig configures the file transfer endpoint (§4.7).
type FilesConfig struct {
	UploadDir  string `yaml:"upload_dir" json:"upload_dir"`
	PublicBase string `yaml:"public_base" json:"public_base"` // e.g. http://host:port
}

// LoggingConfig configures the ambient structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "json" for one-line JSON entries; any other value gives indented JSON
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig configures the liveness/readiness endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a YAML file, applying environment
// variable substitution and defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	SubstituteEnvVarsInConfig(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile writes configuration to a YAML file.
func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.DialTimeout == 0 {
		cfg.Server.DialTimeout = 10 * time.Second
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 60 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.KeyStore.PrivateKeyPath == "" {
		cfg.KeyStore.PrivateKeyPath = "identity.key.pem"
	}
	if cfg.KeyStore.PublicKeyPath == "" {
		cfg.KeyStore.PublicKeyPath = "identity.pub.pem"
	}
	if cfg.Files.UploadDir == "" {
		cfg.Files.UploadDir = "uploads"
	}
	if cfg.Files.PublicBase == "" {
		cfg.Files.PublicBase = fmt.Sprintf("http://%s", cfg.Server.Address())
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
}
