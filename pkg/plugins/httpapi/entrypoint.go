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

// Package httpapi serves the dashboard, report and settings REST surface.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oliacesso/relay-server/internal/reporting"
	"github.com/oliacesso/relay-server/internal/session"
	"github.com/oliacesso/relay-server/pkg/core"
)

const (
	defaultMetricsWindow = 24 * time.Hour
	defaultReportWindow  = 30 * 24 * time.Hour
)

type Entrypoint struct {
	name     string
	port     int
	services core.Services
	server   *http.Server
	logger   *slog.Logger
	now      func() time.Time
}

func New(name string, port int, logger *slog.Logger) *Entrypoint {
	return &Entrypoint{
		name:   name,
		port:   port,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *Entrypoint) Name() string { return e.name }
func (e *Entrypoint) Type() string { return "http_api" }

func (e *Entrypoint) Handler(services core.Services) http.Handler {
	e.services = services
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", e.handleHealth)

	mux.HandleFunc("GET /api/dashboard/stats", e.handleStats)
	mux.HandleFunc("GET /api/dashboard/system-info", e.handleSystemInfo)
	mux.HandleFunc("GET /api/dashboard/active-connections", e.handleActiveConnections)
	mux.HandleFunc("GET /api/dashboard/connection-history", e.handleHistory)
	mux.HandleFunc("POST /api/dashboard/disconnect/{sessionId}", e.handleDisconnect)
	mux.HandleFunc("GET /api/dashboard/metrics", e.handleMetrics)

	mux.HandleFunc("GET /api/reports/connections", e.handleReport(reporting.ReportConnections))
	mux.HandleFunc("GET /api/reports/system-metrics", e.handleReport(reporting.ReportSystemMetrics))
	mux.HandleFunc("GET /api/reports/statistics", e.handleStatistics)
	mux.HandleFunc("GET /api/reports/available", e.handleAvailable)

	mux.HandleFunc("GET /api/settings", e.handleSettings)
	mux.HandleFunc("PUT /api/settings/{key}", e.handleUpdateSetting)
	return mux
}

func (e *Entrypoint) Start(ctx context.Context, services core.Services) error {
	e.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", e.port),
		Handler:           e.Handler(services),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.server.Shutdown(shutdownCtx)
	}()

	e.logger.Info("http_api entrypoint starting", "name", e.name, "port", e.port)
	if err := e.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (e *Entrypoint) Stop(ctx context.Context) error {
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

func (e *Entrypoint) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (e *Entrypoint) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := e.services.Monitoring.DashboardStats(r.Context())
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (e *Entrypoint) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	info, err := e.services.Monitoring.SystemInfo(r.Context())
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (e *Entrypoint) handleActiveConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, e.services.Monitoring.ActiveConnections(r.Context()))
}

type historyPage struct {
	Data     []core.Session `json:"data"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

func (e *Entrypoint) handleHistory(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", session.DefaultPageSize)
	page, pageSize = session.ClampPage(page, pageSize)
	writeJSON(w, http.StatusOK, historyPage{
		Data:     e.services.Monitoring.ConnectionHistory(r.Context(), page, pageSize),
		Page:     page,
		PageSize: pageSize,
	})
}

func (e *Entrypoint) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	ok, err := e.services.Monitoring.ForceDisconnect(r.Context(), id)
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": id, "disconnected": ok})
}

func (e *Entrypoint) handleMetrics(w http.ResponseWriter, r *http.Request) {
	from, to, err := e.rangeOf(r, defaultMetricsWindow)
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	samples, err := e.services.Monitoring.MetricsInRange(r.Context(), from, to)
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// handleReport streams a CSV extract as a file download.
func (e *Entrypoint) handleReport(report string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := e.rangeOf(r, defaultReportWindow)
		if err != nil {
			e.writeError(w, r, err)
			return
		}
		format := r.URL.Query().Get("format")
		if format == "" {
			format = reporting.FormatCSV
		}
		if format != reporting.FormatCSV {
			e.writeError(w, r, fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, format))
			return
		}

		var buf bytes.Buffer
		if err := e.services.Monitoring.WriteReport(r.Context(), &buf, report, format, from, to); err != nil {
			e.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reporting.FileName(report, format, from, to)))
		w.WriteHeader(http.StatusOK)
		if _, err := buf.WriteTo(w); err != nil {
			e.logger.Warn("report write failed", "report", report, "error", err)
		}
	}
}

func (e *Entrypoint) handleStatistics(w http.ResponseWriter, r *http.Request) {
	from, to, err := e.rangeOf(r, defaultReportWindow)
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	st, err := e.services.Monitoring.Statistics(r.Context(), from, to)
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (e *Entrypoint) handleAvailable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, e.services.Monitoring.AvailableReports())
}

func (e *Entrypoint) handleSettings(w http.ResponseWriter, r *http.Request) {
	list, err := e.services.Monitoring.Settings(r.Context())
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type settingUpdate struct {
	Value      *string `json:"value"`
	ModifiedBy string  `json:"modifiedBy"`
}

func (e *Entrypoint) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	var body settingUpdate
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		e.writeError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err))
		return
	}
	if body.Value == nil {
		e.writeError(w, r, fmt.Errorf("%w: value is required", core.ErrInvalidRequest))
		return
	}
	s, err := e.services.Monitoring.UpdateSetting(r.Context(), r.PathValue("key"), *body.Value, body.ModifiedBy)
	if err != nil {
		e.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// rangeOf reads from/to. A missing to is now and a missing from is window
// before to.
func (e *Entrypoint) rangeOf(r *http.Request, window time.Duration) (time.Time, time.Time, error) {
	q := r.URL.Query()
	to := e.now()
	if v := q.Get("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: to: %v", core.ErrInvalidRequest, err)
		}
		to = t
	}
	from := to.Add(-window)
	if v := q.Get("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: from: %v", core.ErrInvalidRequest, err)
		}
		from = t
	}
	return from, to, nil
}

func parseTime(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", v)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func statusOf(cat core.ErrorCategory) int {
	switch cat {
	case core.CategoryValidation:
		return http.StatusBadRequest
	case core.CategoryNotFound:
		return http.StatusNotFound
	case core.CategoryGone:
		return http.StatusGone
	case core.CategoryUnreachable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error core.Failure `json:"error"`
}

func (e *Entrypoint) writeError(w http.ResponseWriter, r *http.Request, err error) {
	f := core.FailureOf(err)
	if f.Category == core.CategoryInternal {
		e.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, statusOf(f.Category), errorBody{Error: f})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
