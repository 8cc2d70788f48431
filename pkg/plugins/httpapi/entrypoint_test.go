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

package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/oliacesso/relay-server/pkg/core"
)

type stubMonitoring struct {
	core.Monitoring

	historyPage, historySize int
	disconnected             []string
	reportFrom, reportTo     time.Time
}

func (m *stubMonitoring) DashboardStats(context.Context) (core.DashboardStats, error) {
	return core.DashboardStats{ActiveConnections: 2}, nil
}

func (m *stubMonitoring) ConnectionHistory(_ context.Context, page, pageSize int) []core.Session {
	m.historyPage, m.historySize = page, pageSize
	return []core.Session{{ID: "s-1"}}
}

func (m *stubMonitoring) ForceDisconnect(_ context.Context, id string) (bool, error) {
	m.disconnected = append(m.disconnected, id)
	return id == "s-1", nil
}

func (m *stubMonitoring) Statistics(_ context.Context, from, to time.Time) (core.Statistics, error) {
	if !from.Before(to) {
		return core.Statistics{}, core.ErrInvalidRange
	}
	return core.Statistics{}, nil
}

func (m *stubMonitoring) WriteReport(_ context.Context, w io.Writer, report, format string, from, to time.Time) error {
	m.reportFrom, m.reportTo = from, to
	_, err := fmt.Fprintf(w, "header\n%s,%s\n", report, format)
	return err
}

func (m *stubMonitoring) UpdateSetting(_ context.Context, key, value, modifiedBy string) (core.Setting, error) {
	if key != core.SettingClientTimeoutMinutes {
		return core.Setting{}, fmt.Errorf("%w: %s", core.ErrSettingNotFound, key)
	}
	return core.Setting{Key: key, Value: value, ModifiedBy: modifiedBy}, nil
}

func (m *stubMonitoring) Settings(context.Context) ([]core.Setting, error) {
	return nil, fmt.Errorf("redis down")
}

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T) (*httptest.Server, *stubMonitoring) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	mon := &stubMonitoring{}
	ep := New("api", 0, logger)
	ep.now = func() time.Time { return fixedNow }
	srv := httptest.NewServer(ep.Handler(core.Services{Monitoring: mon}))
	t.Cleanup(srv.Close)
	return srv, mon
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decode[map[string]string](t, resp); body["status"] != "healthy" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestDashboardStats(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/api/dashboard/stats")
	if err != nil {
		t.Fatal(err)
	}
	if stats := decode[core.DashboardStats](t, resp); stats.ActiveConnections != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestConnectionHistoryClampsPaging(t *testing.T) {
	srv, mon := newServer(t)
	resp, err := http.Get(srv.URL + "/api/dashboard/connection-history?page=0&pageSize=1000")
	if err != nil {
		t.Fatal(err)
	}
	body := decode[historyPage](t, resp)
	if body.Page != 1 || body.PageSize != 100 || len(body.Data) != 1 {
		t.Fatalf("unexpected page: %+v", body)
	}
	if mon.historyPage != 1 || mon.historySize != 100 {
		t.Fatalf("monitoring saw page=%d size=%d", mon.historyPage, mon.historySize)
	}
}

func TestForceDisconnect(t *testing.T) {
	srv, mon := newServer(t)
	resp, err := http.Post(srv.URL+"/api/dashboard/disconnect/s-1", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	body := decode[map[string]any](t, resp)
	if body["disconnected"] != true || body["sessionId"] != "s-1" {
		t.Fatalf("unexpected body: %v", body)
	}

	resp, err = http.Post(srv.URL+"/api/dashboard/disconnect/gone", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if body := decode[map[string]any](t, resp); body["disconnected"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(mon.disconnected) != 2 {
		t.Fatalf("expected two calls, got %v", mon.disconnected)
	}
}

func TestStatisticsRange(t *testing.T) {
	srv, _ := newServer(t)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"default window", "", http.StatusOK},
		{"explicit dates", "?from=2025-03-01&to=2025-03-02", http.StatusOK},
		{"inverted", "?from=2025-03-02&to=2025-03-01", http.StatusBadRequest},
		{"equal", "?from=2025-03-02T00:00:00Z&to=2025-03-02T00:00:00Z", http.StatusBadRequest},
		{"unparseable", "?from=yesterday", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/reports/statistics" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestConnectionsReportDownload(t *testing.T) {
	srv, mon := newServer(t)
	resp, err := http.Get(srv.URL + "/api/reports/connections")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("unexpected content type %q", ct)
	}
	want := `attachment; filename="connections_report_20250208_20250310.csv"`
	if cd := resp.Header.Get("Content-Disposition"); cd != want {
		t.Fatalf("unexpected disposition %q", cd)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasSuffix(string(body), "connections,csv\n") {
		t.Fatalf("unexpected body %q", body)
	}
	if !mon.reportTo.Equal(fixedNow) || !mon.reportFrom.Equal(fixedNow.Add(-defaultReportWindow)) {
		t.Fatalf("unexpected default range %s..%s", mon.reportFrom, mon.reportTo)
	}
}

func TestReportRejectsFormat(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/api/reports/system-metrics?format=xlsx")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode[errorBody](t, resp)
	if body.Error.Category != core.CategoryValidation {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestUpdateSetting(t *testing.T) {
	srv, _ := newServer(t)

	put := func(key, payload string) *http.Response {
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/settings/"+key, strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := put(core.SettingClientTimeoutMinutes, `{"value":"5","modifiedBy":"ops"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if s := decode[core.Setting](t, resp); s.Value != "5" || s.ModifiedBy != "ops" {
		t.Fatalf("unexpected setting: %+v", s)
	}

	resp = put("NoSuchKey", `{"value":"1"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp = put(core.SettingClientTimeoutMinutes, `{"modifiedBy":"ops"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without value, got %d", resp.StatusCode)
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/api/settings")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	body := decode[errorBody](t, resp)
	if strings.Contains(body.Error.Message, "redis") {
		t.Fatalf("internal detail leaked: %q", body.Error.Message)
	}
}
