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

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oliacesso/relay-server/internal/fanout"
	"github.com/oliacesso/relay-server/internal/geo"
	"github.com/oliacesso/relay-server/internal/hostprobe"
	"github.com/oliacesso/relay-server/internal/logging"
	"github.com/oliacesso/relay-server/internal/metrics"
	"github.com/oliacesso/relay-server/internal/monitoring"
	"github.com/oliacesso/relay-server/internal/reporting"
	"github.com/oliacesso/relay-server/internal/session"
	"github.com/oliacesso/relay-server/internal/settings"
	"github.com/oliacesso/relay-server/internal/signaling"
	"github.com/oliacesso/relay-server/internal/storage"
	"github.com/oliacesso/relay-server/internal/telemetry"
	"github.com/oliacesso/relay-server/pkg/config"
	"github.com/oliacesso/relay-server/pkg/core"
	"github.com/oliacesso/relay-server/pkg/plugins"
	"github.com/oliacesso/relay-server/pkg/plugins/httpapi"
	"github.com/oliacesso/relay-server/pkg/plugins/jms"
	"github.com/oliacesso/relay-server/pkg/plugins/kafka"
	"github.com/oliacesso/relay-server/pkg/plugins/mqtt5"
	"github.com/oliacesso/relay-server/pkg/plugins/rabbitmq"
	"github.com/oliacesso/relay-server/pkg/plugins/solace"
	"github.com/oliacesso/relay-server/pkg/plugins/sse"
	"github.com/oliacesso/relay-server/pkg/plugins/ws"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/etc/relay/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(os.Stdout, config.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persist, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}

	settingsStore, err := openSettings(ctx, cfg.Settings, persist)
	if err != nil {
		logger.Error("failed to open settings", "driver", cfg.Settings.Driver, "error", err)
		os.Exit(1)
	}
	if _, err := config.ApplyOverrides(ctx, settingsStore, cfg.Settings.Overrides, nil); err != nil {
		logger.Warn("settings overrides partially applied", "error", err)
	}
	watcher := config.NewWatcher(configPath, settingsStore, logger)
	watcher.Prime(cfg)
	go watcher.Watch(ctx)

	store := session.NewStore(persist, logger.With("component", "sessions"))
	if err := store.Restore(ctx, time.Now().UTC().Add(-cfg.Metrics.Retention)); err != nil {
		logger.Warn("session history restore failed", "error", err)
	}

	provider, err := telemetry.NewProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.Insecure)
	if err != nil {
		logger.Error("failed to create meter provider", "error", err)
		os.Exit(1)
	}
	provider.SetGlobal()
	instruments, err := telemetry.NewInstruments(provider.MeterProvider)
	if err != nil {
		logger.Error("failed to create instruments", "error", err)
		os.Exit(1)
	}

	locator, err := geo.NewCIDRLocator(cfg.Geo)
	if err != nil {
		logger.Error("failed to build geo table", "error", err)
		os.Exit(1)
	}

	hub := fanout.NewHub(cfg.Transport.QueueSize, logger.With("component", "fanout"))
	engine := signaling.NewEngine(store, hub, settingsStore, logger.With("component", "signaling")).
		WithGeoLocator(locator).
		WithRelayLogger(logging.NewRelayLogger(logger.With("component", "relay"))).
		WithInstruments(instruments)

	probe, err := hostprobe.New(cfg.Metrics.ProcPath, cfg.Metrics.DiskPath)
	if err != nil {
		logger.Error("failed to open host probe", "proc_path", cfg.Metrics.ProcPath, "error", err)
		os.Exit(1)
	}
	aggregator := metrics.NewAggregator(store, probe, persist, cfg.Metrics.Retention, logger.With("component", "metrics"))
	if err := aggregator.Restore(ctx); err != nil {
		logger.Warn("metrics history restore failed", "error", err)
	}
	go aggregator.Run(ctx, cfg.Metrics.SampleInterval, func(_ context.Context, stats core.DashboardStats) {
		hub.Broadcast(core.GroupDashboard, core.NewEnvelope(core.EventDashboardUpdate, stats), "")
	})

	reaper := session.NewReaper(store, settingsStore, cfg.Session.ReapInterval, engine.Expire, logger.With("component", "reaper")).
		WithRetention(cfg.Metrics.Retention)
	go reaper.Run(ctx)

	gauges, err := telemetry.RegisterGauges(provider.MeterProvider, telemetry.Gauges{
		ActiveSessions: func() int64 {
			active, _ := store.Counts()
			return int64(active)
		},
		DroppedEvents: hub.Dropped,
		CPUUsage: func() float64 {
			m, _ := aggregator.Latest()
			return m.CPUUsage
		},
		MemoryUsage: func() float64 {
			m, _ := aggregator.Latest()
			return m.MemoryUsage
		},
	})
	if err != nil {
		logger.Warn("failed to register gauges", "error", err)
	}

	mon := monitoring.NewService(
		store,
		aggregator,
		reporting.NewService(store, aggregator).WithHistory(persist),
		probe,
		settingsStore,
		engine,
		logger.With("component", "monitoring"),
	)

	registry := plugins.NewRegistry(logger)
	registerEntrypoints(cfg, registry, logger)
	registerSinks(cfg, registry, logger)

	if attached := registry.AttachSinks(ctx, hub, cfg.Transport.QueueSize); attached < len(cfg.Sinks) {
		logger.Warn("some sinks are unavailable", "attached", attached, "configured", len(cfg.Sinks))
	}

	registry.StartEntrypoints(ctx, core.Services{
		Signaling:  engine,
		Monitoring: mon,
		Events:     hub,
	})

	logger.Info("relay server started", "config", configPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down relay server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	registry.StopAll(shutdownCtx)
	hub.DetachSinks(shutdownCtx)
	hub.Shutdown()
	if gauges != nil {
		_ = gauges.Unregister()
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("meter provider shutdown failed", "error", err)
	}
	if err := settingsStore.Close(); err != nil {
		logger.Warn("settings close failed", "error", err)
	}
	if err := persist.Close(); err != nil {
		logger.Warn("storage close failed", "error", err)
	}

	logger.Info("relay server stopped")
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (core.Persistence, error) {
	if cfg.Driver != "postgres" {
		return storage.NewMemory(), nil
	}
	if cfg.Migrate {
		if err := storage.Migrate(cfg.DSN); err != nil {
			return nil, err
		}
	}
	return storage.OpenPostgres(ctx, cfg.DSN)
}

func openSettings(ctx context.Context, cfg config.SettingsConfig, persist core.Persistence) (core.SettingsStore, error) {
	if cfg.Driver != "redis" {
		return settings.NewMemoryStore(ctx, persist)
	}
	r := cfg.Redis
	return settings.NewRedisStore(ctx, r.Addr, r.Password, r.DB, r.KeyPrefix)
}

func registerEntrypoints(cfg *config.Config, reg *plugins.Registry, logger *slog.Logger) {
	opts := ws.Options{
		MaxMessageBytes: cfg.Transport.MaxMessageBytes,
		PingInterval:    cfg.Transport.PingInterval,
		WriteTimeout:    cfg.Transport.WriteTimeout,
	}
	for _, e := range cfg.Entrypoints {
		switch e.Type {
		case "websocket":
			reg.RegisterEntrypoint(ws.New(e.Name, e.Port, opts, logger))
		case "sse":
			reg.RegisterEntrypoint(sse.New(e.Name, e.Port, logger))
		case "http_api":
			reg.RegisterEntrypoint(httpapi.New(e.Name, e.Port, logger))
		default:
			logger.Warn("unknown entrypoint type", "name", e.Name, "type", e.Type)
		}
	}
}

func registerSinks(cfg *config.Config, reg *plugins.Registry, logger *slog.Logger) {
	for _, s := range cfg.Sinks {
		c := s.Config
		switch s.Type {
		case "kafka":
			reg.RegisterSink(kafka.New(s.Name, strings.Split(c["brokers"], ","), c["topic"], logger))
		case "rabbitmq":
			reg.RegisterSink(rabbitmq.New(s.Name, c["url"], c["queue"], logger))
		case "mqtt5":
			reg.RegisterSink(mqtt5.New(s.Name, c["broker_url"], c["topic_prefix"], logger))
		case "jms":
			reg.RegisterSink(jms.New(s.Name, c["url"], c["queue"], logger))
		case "solace":
			reg.RegisterSink(solace.New(
				s.Name,
				c["host"], c["vpn"],
				c["username"], c["password"],
				c["topic_prefix"],
				logger,
			))
		default:
			logger.Warn("unknown sink type", "name", s.Name, "type", s.Type)
		}
	}
}
