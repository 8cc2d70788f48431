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
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: text
entrypoints:
  - name: hubs
    type: websocket
    port: 5000
  - name: events
    type: sse
    port: 5002
transport:
  queue_size: 64
  ping_interval: 15s
sinks:
  - name: kafka-main
    type: kafka
    config:
      brokers: "localhost:9092"
      topic: relay.events
settings:
  overrides:
    ClientTimeoutMinutes: "10"
geo:
  - cidr: 10.0.0.0/8
    country: BR
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Entrypoints) != 2 || cfg.Entrypoints[1].Type != "sse" {
		t.Fatalf("unexpected entrypoints: %+v", cfg.Entrypoints)
	}
	if cfg.Transport.QueueSize != 64 || cfg.Transport.PingInterval != 15*time.Second {
		t.Fatalf("unexpected transport: %+v", cfg.Transport)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].Config["topic"] != "relay.events" {
		t.Fatalf("unexpected sinks: %+v", cfg.Sinks)
	}
	if cfg.Settings.Overrides["ClientTimeoutMinutes"] != "10" {
		t.Fatalf("unexpected overrides: %v", cfg.Settings.Overrides)
	}
	if len(cfg.Geo) != 1 || cfg.Geo[0].Country != "BR" {
		t.Fatalf("unexpected geo: %+v", cfg.Geo)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Entrypoints) != 2 {
		t.Fatalf("expected default entrypoints, got %+v", cfg.Entrypoints)
	}
	if cfg.Transport.MaxMessageBytes != 32<<20 {
		t.Fatalf("expected 32MiB frame limit, got %d", cfg.Transport.MaxMessageBytes)
	}
	if cfg.Storage.Driver != "memory" || cfg.Settings.Driver != "memory" {
		t.Fatalf("expected memory drivers, got %s/%s", cfg.Storage.Driver, cfg.Settings.Driver)
	}
	if cfg.Metrics.Retention != 30*24*time.Hour || cfg.Metrics.SampleInterval != 30*time.Second {
		t.Fatalf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
	if cfg.Logging.Format != "json" || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Logging, cfg.Server)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "duplicate entrypoint",
			content: "entrypoints:\n  - {name: a, type: sse, port: 1}\n  - {name: a, type: sse, port: 2}\n",
			wantErr: "duplicate entrypoint",
		},
		{
			name:    "bad port",
			content: "entrypoints:\n  - {name: a, type: sse, port: 70000}\n",
			wantErr: "invalid port",
		},
		{
			name:    "postgres without dsn",
			content: "storage:\n  driver: postgres\n",
			wantErr: "requires dsn",
		},
		{
			name:    "unknown settings driver",
			content: "settings:\n  driver: etcd\n",
			wantErr: "unknown driver",
		},
		{
			name:    "bad cidr",
			content: "geo:\n  - {cidr: 10.0.0.0/99, country: BR}\n",
			wantErr: "invalid cidr",
		},
		{
			name:    "malformed yaml",
			content: "entrypoints: [",
			wantErr: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
