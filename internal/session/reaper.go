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

package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/oliacesso/relay-server/internal/settings"
	"github.com/oliacesso/relay-server/pkg/core"
)

// ExpireFunc tears down one idle session.
type ExpireFunc func(ctx context.Context, s core.Session)

// Reaper periodically hands sessions idle for longer than the
// ClientTimeoutMinutes setting to an ExpireFunc.
type Reaper struct {
	store    *Store
	settings core.SettingsReader
	interval time.Duration
	expire   ExpireFunc
	logger   *slog.Logger

	retention time.Duration
}

func NewReaper(store *Store, settings core.SettingsReader, interval time.Duration, expire ExpireFunc, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		store:    store,
		settings: settings,
		interval: interval,
		expire:   expire,
		logger:   logger,
	}
}

// WithRetention makes each tick evict closed history older than d from the
// store. Reports reach it through persistence afterwards.
func (r *Reaper) WithRetention(d time.Duration) *Reaper {
	r.retention = d
	return r
}

func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("idle session reaper started", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("idle session reaper stopped")
			return
		case <-ticker.C:
			now := time.Now().UTC()
			r.Sweep(ctx, now)
			r.Evict(now)
		}
	}
}

// Sweep expires idle sessions as of now and returns how many it found. A
// timeout of zero or less disables reaping.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) int {
	minutes := settings.Int(ctx, r.settings, core.SettingClientTimeoutMinutes, 30)
	if minutes <= 0 {
		return 0
	}
	deadline := now.Add(-time.Duration(minutes) * time.Minute)

	idle := r.store.Select(func(s core.Session) bool {
		return s.Active() && s.LastActivityAt.Before(deadline)
	})
	if len(idle) == 0 {
		return 0
	}

	r.logger.Info("expiring idle sessions", "count", len(idle), "timeout_minutes", minutes)
	for _, s := range idle {
		r.logger.Info("expiring idle session",
			"session_id", s.ID,
			"client_id", s.ClientID,
			"last_activity_at", s.LastActivityAt.Format(time.RFC3339),
		)
		r.expire(ctx, s)
	}
	return len(idle)
}

// Evict trims resident history to the retention window ending at now.
func (r *Reaper) Evict(now time.Time) (sessions, attempts int) {
	if r.retention <= 0 {
		return 0, 0
	}
	return r.store.Evict(now.Add(-r.retention))
}
