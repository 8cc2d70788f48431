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

// Package monitoring is the operator-facing read and control surface.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/oliacesso/relay-server/internal/metrics"
	"github.com/oliacesso/relay-server/internal/reporting"
	"github.com/oliacesso/relay-server/internal/session"
	"github.com/oliacesso/relay-server/pkg/core"
)

const defaultModifiedBy = "admin"

// Disconnector closes a live session on the server side.
type Disconnector interface {
	ForceDisconnect(ctx context.Context, sessionID string) (bool, error)
}

type Service struct {
	store      *session.Store
	aggregator *metrics.Aggregator
	reports    *reporting.Service
	probe      core.HostProbe
	settings   core.SettingsStore
	engine     Disconnector
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(
	store *session.Store,
	aggregator *metrics.Aggregator,
	reports *reporting.Service,
	probe core.HostProbe,
	settings core.SettingsStore,
	engine Disconnector,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:      store,
		aggregator: aggregator,
		reports:    reports,
		probe:      probe,
		settings:   settings,
		engine:     engine,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

var _ core.Monitoring = (*Service)(nil)

func (s *Service) DashboardStats(ctx context.Context) (core.DashboardStats, error) {
	return s.aggregator.DashboardStats(ctx)
}

func (s *Service) SystemInfo(ctx context.Context) (core.SystemInfo, error) {
	return s.probe.SystemInfo(ctx), nil
}

func (s *Service) ActiveConnections(_ context.Context) []core.Session {
	return s.store.ListActive()
}

func (s *Service) ConnectionHistory(_ context.Context, page, pageSize int) []core.Session {
	return s.store.ListHistory(page, pageSize)
}

func (s *Service) ForceDisconnect(ctx context.Context, sessionID string) (bool, error) {
	ok, err := s.engine.ForceDisconnect(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Info("force disconnect ignored", "session_id", sessionID)
	}
	return ok, nil
}

func (s *Service) MetricsInRange(_ context.Context, from, to time.Time) ([]core.MetricsSample, error) {
	if err := reporting.ValidateRange(from, to); err != nil {
		return nil, err
	}
	return s.aggregator.MetricsInRange(from, to), nil
}

func (s *Service) Statistics(ctx context.Context, from, to time.Time) (core.Statistics, error) {
	return s.reports.Statistics(ctx, from, to)
}

// WriteReport renders one of the available reports to w.
func (s *Service) WriteReport(ctx context.Context, w io.Writer, report, format string, from, to time.Time) error {
	format = strings.ToLower(strings.TrimSpace(format))
	switch report {
	case reporting.ReportConnections:
		if format != reporting.FormatCSV {
			return fmt.Errorf("%w: %s for %s", core.ErrUnsupportedFormat, format, report)
		}
		return s.reports.WriteConnectionsCSV(ctx, w, from, to)
	case reporting.ReportSystemMetrics:
		if format != reporting.FormatCSV {
			return fmt.Errorf("%w: %s for %s", core.ErrUnsupportedFormat, format, report)
		}
		return s.reports.WriteMetricsCSV(w, from, to)
	case reporting.ReportStatistics:
		if format != "" && format != reporting.FormatJSON {
			return fmt.Errorf("%w: %s for %s", core.ErrUnsupportedFormat, format, report)
		}
		st, err := s.reports.Statistics(ctx, from, to)
		if err != nil {
			return err
		}
		return json.NewEncoder(w).Encode(st)
	default:
		return fmt.Errorf("%w: unknown report %q", core.ErrInvalidRequest, report)
	}
}

func (s *Service) AvailableReports() []core.ReportDescriptor {
	return s.reports.Available()
}

func (s *Service) Settings(ctx context.Context) ([]core.Setting, error) {
	return s.settings.List(ctx)
}

// UpdateSetting changes the value of an existing key. Unknown keys are
// rejected rather than created.
func (s *Service) UpdateSetting(ctx context.Context, key, value, modifiedBy string) (core.Setting, error) {
	cur, err := s.settings.Get(ctx, key)
	if err != nil {
		return core.Setting{}, err
	}
	if modifiedBy == "" {
		modifiedBy = defaultModifiedBy
	}
	cur.Value = value
	cur.ModifiedBy = modifiedBy
	cur.LastModified = s.now()
	if err := s.settings.Set(ctx, cur); err != nil {
		s.logger.Error("update setting failed", "key", key, "error", err)
		return core.Setting{}, err
	}
	s.logger.Info("setting updated", "key", key, "modified_by", modifiedBy)
	return cur, nil
}
