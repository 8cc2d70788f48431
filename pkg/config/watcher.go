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
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/oliacesso/relay-server/pkg/core"
)

const ModifiedByConfigFile = "config-file"

// Watcher polls the config file and pushes changed setting overrides into
// the live settings store.
type Watcher struct {
	path     string
	store    core.SettingsStore
	interval time.Duration
	logger   *slog.Logger
	lastMod  time.Time
	applied  map[string]string
}

func NewWatcher(path string, store core.SettingsStore, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		store:    store,
		interval: 5 * time.Second,
		logger:   logger,
		applied:  make(map[string]string),
	}
}

// Prime records the overrides already applied at startup so the first poll
// does not rewrite them.
func (w *Watcher) Prime(cfg *Config) {
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}
	for k, v := range cfg.Settings.Overrides {
		w.applied[k] = v
	}
}

func (w *Watcher) Watch(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config stat failed", "path", w.path, "error", err)
		return
	}

	if !info.ModTime().After(w.lastMod) {
		return
	}

	w.lastMod = info.ModTime()

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed", "path", w.path, "error", err)
		return
	}

	changed, err := ApplyOverrides(ctx, w.store, cfg.Settings.Overrides, w.applied)
	if err != nil {
		w.logger.Error("settings reload failed", "path", w.path, "error", err)
	}
	if changed > 0 {
		w.logger.Info("settings reloaded", "changed", changed)
	}
}

// ApplyOverrides writes every override whose value differs from prev and
// updates prev in place. It returns how many settings were written.
func ApplyOverrides(ctx context.Context, store core.SettingsStore, overrides, prev map[string]string) (int, error) {
	changed := 0
	var errs []error
	for key, value := range overrides {
		if old, ok := prev[key]; ok && old == value {
			continue
		}
		s, err := store.Get(ctx, key)
		if err != nil && !errors.Is(err, core.ErrSettingNotFound) {
			errs = append(errs, err)
			continue
		}
		s.Key = key
		s.Value = value
		s.LastModified = time.Now().UTC()
		s.ModifiedBy = ModifiedByConfigFile
		if err := store.Set(ctx, s); err != nil {
			errs = append(errs, err)
			continue
		}
		if prev != nil {
			prev[key] = value
		}
		changed++
	}
	return changed, errors.Join(errs...)
}
