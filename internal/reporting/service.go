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

package reporting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oliacesso/relay-server/internal/metrics"
	"github.com/oliacesso/relay-server/internal/session"
	"github.com/oliacesso/relay-server/pkg/core"
)

const (
	ReportConnections   = "connections"
	ReportSystemMetrics = "system-metrics"
	ReportStatistics    = "statistics"

	FormatCSV  = "csv"
	FormatJSON = "json"

	topCountriesReport = 10
	dayLayout          = "2006-01-02"
)

// SampleSource yields stored metrics samples, oldest first.
type SampleSource interface {
	MetricsInRange(from, to time.Time) []core.MetricsSample
}

// Service builds read-only statistics and extracts over sessions, attempts
// and metrics samples.
type Service struct {
	store   *session.Store
	samples SampleSource
	history core.Persistence
}

func NewService(store *session.Store, samples SampleSource) *Service {
	return &Service{store: store, samples: samples}
}

// WithHistory serves ranges older than the store's horizon from persist.
func (s *Service) WithHistory(persist core.Persistence) *Service {
	s.history = persist
	return s
}

func ValidateRange(from, to time.Time) error {
	if !from.Before(to) {
		return fmt.Errorf("%w: from=%s to=%s", core.ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return nil
}

// sessionsIn returns sessions connected in [from, to]. Resident records win
// over persisted copies of the same session.
func (s *Service) sessionsIn(ctx context.Context, from, to time.Time) ([]core.Session, error) {
	conns := s.store.Select(func(c core.Session) bool {
		return !c.ConnectedAt.Before(from) && !c.ConnectedAt.After(to)
	})
	if !s.needsHistory(from) {
		return conns, nil
	}

	stored, err := s.history.LoadSessions(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("load sessions since %s: %w", from.Format(time.RFC3339), err)
	}
	seen := make(map[string]struct{}, len(conns))
	for _, c := range conns {
		seen[c.ID] = struct{}{}
	}
	for _, c := range stored {
		if _, ok := seen[c.ID]; ok || c.ConnectedAt.After(to) {
			continue
		}
		conns = append(conns, c)
	}
	return conns, nil
}

func (s *Service) attemptsIn(ctx context.Context, from, to time.Time) ([]core.SignalingAttempt, error) {
	attempts := s.store.Attempts(from, to)
	if !s.needsHistory(from) {
		return attempts, nil
	}

	stored, err := s.history.LoadAttempts(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("load attempts since %s: %w", from.Format(time.RFC3339), err)
	}
	seen := make(map[string]struct{}, len(attempts))
	for _, a := range attempts {
		seen[a.ID] = struct{}{}
	}
	for _, a := range stored {
		if _, ok := seen[a.ID]; ok || a.AttemptTime.After(to) {
			continue
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

func (s *Service) needsHistory(from time.Time) bool {
	return s.history != nil && from.Before(s.store.Horizon())
}

func (s *Service) Statistics(ctx context.Context, from, to time.Time) (core.Statistics, error) {
	var st core.Statistics
	if err := ValidateRange(from, to); err != nil {
		return st, err
	}
	st.Period.From = from
	st.Period.To = to

	conns, err := s.sessionsIn(ctx, from, to)
	if err != nil {
		return st, err
	}
	var minutes float64
	completed := 0
	byDay := make(map[string]int)
	for _, c := range conns {
		if c.State == core.StateConnected || c.DisconnectedAt != nil {
			st.Connections.Successful++
		}
		if c.DisconnectedAt != nil {
			minutes += c.Duration().Minutes()
			completed++
		}
		st.Connections.TotalBytesTransferred += c.BytesTransferred()
		byDay[c.ConnectedAt.UTC().Format(dayLayout)]++
	}
	st.Connections.Total = len(conns)
	st.Connections.SuccessRate = percent(st.Connections.Successful, st.Connections.Total)
	if completed > 0 {
		st.Connections.AverageSessionMinutes = metrics.Round2(minutes / float64(completed))
	}

	attempts, err := s.attemptsIn(ctx, from, to)
	if err != nil {
		return st, err
	}
	for _, a := range attempts {
		if a.Success {
			st.Attempts.Successful++
		}
	}
	st.Attempts.Total = len(attempts)
	st.Attempts.SuccessRate = percent(st.Attempts.Successful, st.Attempts.Total)

	st.Geography.TopCountries = metrics.RankCountries(conns, topCountriesReport)
	st.Geography.UniqueCountries = len(st.Geography.TopCountries)

	st.Timeline.ConnectionsByDay = make([]core.DayCount, 0, len(byDay))
	for day, n := range byDay {
		st.Timeline.ConnectionsByDay = append(st.Timeline.ConnectionsByDay, core.DayCount{Date: day, Count: n})
	}
	sort.Slice(st.Timeline.ConnectionsByDay, func(i, j int) bool {
		return st.Timeline.ConnectionsByDay[i].Date < st.Timeline.ConnectionsByDay[j].Date
	})

	samples := s.samples.MetricsInRange(from, to)
	if len(samples) > 0 {
		var cpu, mem float64
		for _, m := range samples {
			cpu += m.CPUUsage
			mem += m.MemoryUsage
			if m.ActiveConnections > st.Performance.MaxConcurrentConnections {
				st.Performance.MaxConcurrentConnections = m.ActiveConnections
			}
		}
		st.Performance.AverageCPUUsage = metrics.Round2(cpu / float64(len(samples)))
		st.Performance.AverageMemoryUsage = metrics.Round2(mem / float64(len(samples)))
	}
	return st, nil
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func (s *Service) Available() []core.ReportDescriptor {
	return []core.ReportDescriptor{
		{
			ID:          ReportConnections,
			Name:        "Connections report",
			Description: "Every client connection in the period",
			Formats:     []string{FormatCSV},
			Endpoint:    "/api/reports/connections",
		},
		{
			ID:          ReportSystemMetrics,
			Name:        "System metrics report",
			Description: "Host resource usage and connection counts over time",
			Formats:     []string{FormatCSV},
			Endpoint:    "/api/reports/system-metrics",
		},
		{
			ID:          ReportStatistics,
			Name:        "Statistics",
			Description: "Consolidated connection, attempt and performance figures",
			Formats:     []string{FormatJSON},
			Endpoint:    "/api/reports/statistics",
		},
	}
}

// FileName is the download name of an extract.
func FileName(report, format string, from, to time.Time) string {
	name := report
	if report == ReportConnections || report == ReportSystemMetrics {
		name += "_report"
	}
	return fmt.Sprintf("%s_%s_%s.%s", strings.ReplaceAll(name, "-", "_"), from.UTC().Format("20060102"), to.UTC().Format("20060102"), format)
}
