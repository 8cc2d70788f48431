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

package sse

import (
	"bufio"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/oliacesso/relay-server/internal/fanout"
	"github.com/oliacesso/relay-server/pkg/core"
)

type stubMonitoring struct {
	core.Monitoring
}

func (stubMonitoring) DashboardStats(context.Context) (core.DashboardStats, error) {
	return core.DashboardStats{ActiveConnections: 4}, nil
}

func TestStreamsDashboardGroup(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := fanout.NewHub(16, logger)
	ep := New("dash", 0, logger)
	srv := httptest.NewServer(ep.Handler(core.Services{Monitoring: stubMonitoring{}, Events: hub}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+PathEvents, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	readFrame := func() map[string]string {
		f := make(map[string]string)
		for lines.Scan() {
			line := lines.Text()
			if line == "" {
				return f
			}
			k, v, _ := strings.Cut(line, ": ")
			f[k] = v
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return nil
	}

	first := readFrame()
	if first["event"] != core.EventDashboardUpdate || !strings.Contains(first["data"], `"activeConnections":4`) {
		t.Fatalf("unexpected snapshot frame: %v", first)
	}

	hub.Broadcast(core.GroupPeers, core.NewEnvelope(core.EventClientConnected, core.ClientConnected{ClientID: "hidden"}), "")
	hub.Broadcast(core.GroupDashboard, core.NewEnvelope(core.EventConnectionUpdate, core.ConnectionUpdate{Change: "connected", ClientID: "c1"}), "")

	second := readFrame()
	if second["event"] != core.EventConnectionUpdate || second["id"] == "" || !strings.Contains(second["data"], `"clientId":"c1"`) {
		t.Fatalf("unexpected frame: %v", second)
	}
}
