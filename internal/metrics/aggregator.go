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

package metrics

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/oliacesso/relay-server/internal/session"
	"github.com/oliacesso/relay-server/pkg/core"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultRetention = 30 * 24 * time.Hour

	topCountriesDashboard = 5
)

// SampleFunc is called after every periodic sample with fresh dashboard
// stats.
type SampleFunc func(ctx context.Context, stats core.DashboardStats)

// Aggregator keeps the host metrics series and derives dashboard figures
// from it and from the session store.
type Aggregator struct {
	store     *session.Store
	probe     core.HostProbe
	persist   core.Persistence
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	samples []core.MetricsSample
}

func NewAggregator(store *session.Store, probe core.HostProbe, persist core.Persistence, retention time.Duration, logger *slog.Logger) *Aggregator {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Aggregator{
		store:     store,
		probe:     probe,
		persist:   persist,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SampleNow records one sample. Probe failures are recorded as zero so a
// broken sensor never stops the series.
func (a *Aggregator) SampleNow(ctx context.Context) (core.MetricsSample, error) {
	now := a.now()
	active, total := a.store.Counts()
	s := core.MetricsSample{
		Timestamp:         now,
		CPUUsage:          a.readPct("cpu", a.probe.CPUUsage),
		MemoryUsage:       a.readPct("memory", a.probe.MemoryUsage),
		DiskUsage:         a.readPct("disk", a.probe.DiskUsage),
		ActiveConnections: active,
		TotalConnections:  total,
	}
	if ifaces, err := a.probe.NetworkInterfaces(); err != nil {
		a.logger.Warn("network probe failed", "error", err)
	} else {
		for _, ni := range ifaces {
			s.NetworkIn += ni.BytesIn
			s.NetworkOut += ni.BytesOut
		}
	}

	cutoff := now.Add(-a.retention)
	a.mu.Lock()
	a.samples = append(a.samples, s)
	purged := a.purgeLocked(cutoff)
	a.mu.Unlock()

	if a.persist != nil {
		if err := a.persist.SaveSample(ctx, s); err != nil {
			a.logger.Error("persist metrics sample failed", "error", err)
		}
		if n, err := a.persist.PurgeSamples(ctx, cutoff); err != nil {
			a.logger.Error("purge persisted samples failed", "error", err)
		} else if n > 0 {
			a.logger.Debug("purged persisted samples", "count", n)
		}
	}
	if purged > 0 {
		a.logger.Debug("purged expired samples", "count", purged, "before", cutoff.Format(time.RFC3339))
	}
	return s, nil
}

func (a *Aggregator) readPct(name string, read func() (float64, error)) float64 {
	v, err := read()
	if err != nil {
		a.logger.Warn("host probe failed", "metric", name, "error", err)
		return 0
	}
	return v
}

// purgeLocked drops samples older than cutoff. Samples are appended in time
// order so the expired ones form a prefix.
func (a *Aggregator) purgeLocked(cutoff time.Time) int {
	i := sort.Search(len(a.samples), func(i int) bool {
		return !a.samples[i].Timestamp.Before(cutoff)
	})
	if i == 0 {
		return 0
	}
	a.samples = append(a.samples[:0:0], a.samples[i:]...)
	return i
}

// Run samples every interval until ctx is done. onSample may be nil.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration, onSample SampleFunc) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	a.logger.Info("metrics aggregator started", "interval", interval.String(), "retention", a.retention.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("metrics aggregator stopped")
			return
		case <-ticker.C:
			if _, err := a.SampleNow(ctx); err != nil {
				a.logger.Error("metrics sample failed", "error", err)
				continue
			}
			if onSample == nil {
				continue
			}
			stats, err := a.DashboardStats(ctx)
			if err != nil {
				a.logger.Error("dashboard stats failed", "error", err)
				continue
			}
			onSample(ctx, stats)
		}
	}
}

// Latest returns the newest sample, if any.
func (a *Aggregator) Latest() (core.MetricsSample, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.samples) == 0 {
		return core.MetricsSample{}, false
	}
	return a.samples[len(a.samples)-1], true
}

// MetricsInRange returns samples in [from, to], oldest first.
func (a *Aggregator) MetricsInRange(from, to time.Time) []core.MetricsSample {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]core.MetricsSample, 0)
	for _, s := range a.samples {
		if s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (a *Aggregator) DashboardStats(ctx context.Context) (core.DashboardStats, error) {
	now := a.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := today.AddDate(0, 0, -7)
	monthStart := today.AddDate(0, -1, 0)

	recent := a.store.Select(func(s core.Session) bool {
		return !s.ConnectedAt.Before(monthStart)
	})

	active, _ := a.store.Counts()
	stats := core.DashboardStats{
		ActiveConnections: active,
		ConnectionsByHour: make([]core.HourCount, 24),
	}
	for h := range stats.ConnectionsByHour {
		stats.ConnectionsByHour[h].Hour = h
	}

	var week []core.Session
	for _, s := range recent {
		stats.TotalConnectionsMonth++
		if !s.ConnectedAt.Before(weekStart) {
			stats.TotalConnectionsWeek++
			week = append(week, s)
		}
		if !s.ConnectedAt.Before(today) {
			stats.TotalConnectionsToday++
			stats.ConnectionsByHour[s.ConnectedAt.UTC().Hour()].Count++
		}
	}

	top := RankCountries(week, topCountriesDashboard)
	sum := 0
	for _, c := range top {
		sum += c.Count
	}
	stats.TopCountries = make([]core.CountryShare, 0, len(top))
	for _, c := range top {
		// Floored to hundredths so the shares never add up past 100.
		hundredths := c.Count * 10000 / sum
		stats.TopCountries = append(stats.TopCountries, core.CountryShare{
			Country:    c.Country,
			Count:      c.Count,
			Percentage: float64(hundredths) / 100,
		})
	}

	// The sampler owns the CPU baseline; read it live only before the first sample.
	if last, ok := a.Latest(); ok {
		stats.CPUUsage = last.CPUUsage
		stats.MemoryUsage = last.MemoryUsage
	} else {
		stats.CPUUsage = a.readPct("cpu", a.probe.CPUUsage)
		stats.MemoryUsage = a.readPct("memory", a.probe.MemoryUsage)
	}
	if ifaces, err := a.probe.NetworkInterfaces(); err == nil {
		for _, ni := range ifaces {
			stats.NetworkUsage += ni.BytesIn + ni.BytesOut
		}
	}
	return stats, nil
}

// Restore loads persisted samples still inside the retention window.
func (a *Aggregator) Restore(ctx context.Context) error {
	if a.persist == nil {
		return nil
	}
	since := a.now().Add(-a.retention)
	samples, err := a.persist.LoadSamples(ctx, since)
	if err != nil {
		return err
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })

	a.mu.Lock()
	a.samples = append(samples, a.samples...)
	a.mu.Unlock()
	a.logger.Info("metrics history restored", "samples", len(samples))
	return nil
}

// RankCountries counts sessions per country, most frequent first, and keeps
// at most n entries. Sessions without a country are skipped.
func RankCountries(sessions []core.Session, n int) []core.CountryCount {
	counts := make(map[string]int)
	for _, s := range sessions {
		if c := s.Country(); c != "" {
			counts[c]++
		}
	}
	out := make([]core.CountryCount, 0, len(counts))
	for c, k := range counts {
		out = append(out, core.CountryCount{Country: c, Count: k})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Country < out[j].Country
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
