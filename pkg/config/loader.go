// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Entrypoints []EntrypointConfig `yaml:"entrypoints"`
	Transport   TransportConfig    `yaml:"transport"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Session     SessionConfig      `yaml:"session"`
	Storage     StorageConfig      `yaml:"storage"`
	Settings    SettingsConfig     `yaml:"settings"`
	Sinks       []SinkConfig       `yaml:"sinks"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
	Geo         []GeoRange         `yaml:"geo"`
}

type ServerConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type EntrypointConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Port int    `yaml:"port"`
}

type TransportConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

type MetricsConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	Retention      time.Duration `yaml:"retention"`
	DiskPath       string        `yaml:"disk_path"`
	ProcPath       string        `yaml:"proc_path"`
}

type SessionConfig struct {
	ReapInterval time.Duration `yaml:"reap_interval"`
}

type StorageConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

type SettingsConfig struct {
	Driver    string            `yaml:"driver"`
	Redis     RedisConfig       `yaml:"redis"`
	Overrides map[string]string `yaml:"overrides"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type SinkConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	Insecure     bool   `yaml:"insecure"`
}

type GeoRange struct {
	CIDR      string  `yaml:"cidr"`
	Country   string  `yaml:"country"`
	City      string  `yaml:"city"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Entrypoints) == 0 {
		c.Entrypoints = []EntrypointConfig{
			{Name: "hubs", Type: "websocket", Port: 5000},
			{Name: "api", Type: "http_api", Port: 5001},
		}
	}
	if c.Transport.QueueSize <= 0 {
		c.Transport.QueueSize = 256
	}
	if c.Transport.MaxMessageBytes <= 0 {
		c.Transport.MaxMessageBytes = 32 << 20
	}
	if c.Transport.PingInterval <= 0 {
		c.Transport.PingInterval = 30 * time.Second
	}
	if c.Transport.WriteTimeout <= 0 {
		c.Transport.WriteTimeout = 10 * time.Second
	}
	if c.Metrics.SampleInterval <= 0 {
		c.Metrics.SampleInterval = 30 * time.Second
	}
	if c.Metrics.Retention <= 0 {
		c.Metrics.Retention = 30 * 24 * time.Hour
	}
	if c.Metrics.DiskPath == "" {
		c.Metrics.DiskPath = "/"
	}
	if c.Metrics.ProcPath == "" {
		c.Metrics.ProcPath = "/proc"
	}
	if c.Session.ReapInterval <= 0 {
		c.Session.ReapInterval = time.Minute
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Settings.Driver == "" {
		c.Settings.Driver = "memory"
	}
	if c.Settings.Redis.KeyPrefix == "" {
		c.Settings.Redis.KeyPrefix = "relay:settings:"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "relay-server"
	}
}

func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, e := range c.Entrypoints {
		if e.Name == "" {
			return fmt.Errorf("entrypoint with type %q has no name", e.Type)
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate entrypoint name %q", e.Name)
		}
		seen[e.Name] = true
		if e.Port <= 0 || e.Port > 65535 {
			return fmt.Errorf("entrypoint %q: invalid port %d", e.Name, e.Port)
		}
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage: postgres driver requires dsn")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	switch c.Settings.Driver {
	case "memory":
	case "redis":
		if c.Settings.Redis.Addr == "" {
			return fmt.Errorf("settings: redis driver requires addr")
		}
	default:
		return fmt.Errorf("settings: unknown driver %q", c.Settings.Driver)
	}
	for _, g := range c.Geo {
		if _, err := netip.ParsePrefix(g.CIDR); err != nil {
			return fmt.Errorf("geo: invalid cidr %q: %w", g.CIDR, err)
		}
	}
	return nil
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
