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

package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oliacesso/relay-server/internal/fanout"
	"github.com/oliacesso/relay-server/internal/metrics"
	"github.com/oliacesso/relay-server/internal/monitoring"
	"github.com/oliacesso/relay-server/internal/reporting"
	"github.com/oliacesso/relay-server/internal/session"
	"github.com/oliacesso/relay-server/internal/settings"
	"github.com/oliacesso/relay-server/internal/signaling"
	"github.com/oliacesso/relay-server/internal/storage"
	"github.com/oliacesso/relay-server/pkg/core"
)

type nopProbe struct{}

func (nopProbe) CPUUsage() (float64, error)                          { return 0, nil }
func (nopProbe) MemoryUsage() (float64, error)                       { return 0, nil }
func (nopProbe) DiskUsage() (float64, error)                         { return 0, nil }
func (nopProbe) NetworkInterfaces() ([]core.NetworkInterface, error) { return nil, nil }
func (nopProbe) SystemInfo(context.Context) core.SystemInfo          { return core.SystemInfo{ServerName: "test"} }

type frame struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *core.Failure   `json:"error"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

type testServer struct {
	srv   *httptest.Server
	store *session.Store
	hub   *fanout.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := context.Background()
	persist := storage.NewMemory()
	cfg, err := settings.NewMemoryStore(ctx, persist)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	store := session.NewStore(persist, logger)
	hub := fanout.NewHub(64, logger)
	engine := signaling.NewEngine(store, hub, cfg, logger)
	agg := metrics.NewAggregator(store, nopProbe{}, persist, 0, logger)
	mon := monitoring.NewService(store, agg, reporting.NewService(store, agg), nopProbe{}, cfg, engine, logger)

	ep := New("hubs", 0, Options{PingInterval: time.Second}, logger)
	srv := httptest.NewServer(ep.Handler(core.Services{Signaling: engine, Monitoring: mon, Events: hub}))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store, hub: hub}
}

type client struct {
	*websocket.Conn
	backlog []frame
}

func (s *testServer) dial(t *testing.T, path string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + path
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { c.Close() })
	return &client{Conn: c}
}

func call(t *testing.T, c *client, id, method string, params any) {
	t.Helper()
	raw, _ := json.Marshal(params)
	if err := c.WriteJSON(request{ID: id, Method: method, Params: raw}); err != nil {
		t.Fatalf("write %s: %v", method, err)
	}
}

// next returns the first frame satisfying match. Frames read past are kept
// for later calls, since replies and events interleave.
func next(t *testing.T, c *client, match func(frame) bool) frame {
	t.Helper()
	for i, f := range c.backlog {
		if match(f) {
			c.backlog = append(c.backlog[:i], c.backlog[i+1:]...)
			return f
		}
	}
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f frame
		if err := c.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(f) {
			return f
		}
		c.backlog = append(c.backlog, f)
	}
}

func reply(t *testing.T, c *client, id string) frame {
	t.Helper()
	return next(t, c, func(f frame) bool { return f.Event == "" && f.ID == id })
}

func event(t *testing.T, c *client, name string) frame {
	t.Helper()
	return next(t, c, func(f frame) bool { return f.Event == name })
}

func register(t *testing.T, c *client, clientID string) core.Registration {
	t.Helper()
	call(t, c, "reg", "RegisterClient", core.RegisterRequest{ClientID: clientID, Name: clientID + "-pc"})
	f := reply(t, c, "reg")
	if f.Error != nil {
		t.Fatalf("register %s: %+v", clientID, f.Error)
	}
	var reg core.Registration
	json.Unmarshal(f.Result, &reg)
	return reg
}

func TestConnectionHandshakeAndRelay(t *testing.T) {
	s := newTestServer(t)
	host := s.dial(t, PathRemote)
	viewer := s.dial(t, PathRemote)

	register(t, host, "host-1")
	register(t, viewer, "viewer-1")
	event(t, host, core.EventClientConnected)

	call(t, viewer, "1", "RequestConnection", core.ConnectionRequest{TargetClientID: "host-1"})
	if f := reply(t, viewer, "1"); string(f.Result) != `{"delivered":true}` {
		t.Fatalf("unexpected request result: %s", f.Result)
	}
	req := event(t, host, core.EventConnectionRequest)
	var notice core.ConnectionRequestNotice
	json.Unmarshal(req.Data, &notice)
	if notice.RequesterID != "viewer-1" || notice.RequesterName != "viewer-1-pc" {
		t.Fatalf("unexpected request notice: %+v", notice)
	}

	call(t, host, "2", "RespondToConnectionRequest", core.ConnectionResponse{RequesterID: "viewer-1", Approved: true})
	reply(t, host, "2")
	event(t, viewer, core.EventConnectionApproved)

	call(t, host, "", "SendScreenData", map[string]any{"targetId": "viewer-1", "screenData": "AAEC", "width": 2, "height": 1})
	frameEvt := event(t, viewer, core.EventScreenDataReceived)
	var screen core.ScreenDataReceived
	json.Unmarshal(frameEvt.Data, &screen)
	if screen.SourceID != "host-1" || len(screen.ScreenData) != 3 {
		t.Fatalf("unexpected screen payload: %+v", screen)
	}

	call(t, viewer, "3", "SendInputEvent", map[string]any{"targetId": "host-1", "eventType": "mousemove", "eventData": map[string]int{"x": 1, "y": 2}})
	reply(t, viewer, "3")
	in := event(t, host, core.EventInputEventReceived)
	var input core.InputEventReceived
	json.Unmarshal(in.Data, &input)
	if input.EventType != "mousemove" || string(input.EventData) != `{"x":1,"y":2}` {
		t.Fatalf("unexpected input payload: %+v", input)
	}
}

func TestRequestToOfflineTarget(t *testing.T) {
	s := newTestServer(t)
	viewer := s.dial(t, PathRemote)
	register(t, viewer, "viewer-1")

	call(t, viewer, "1", "RequestConnection", core.ConnectionRequest{TargetClientID: "nobody"})
	if f := reply(t, viewer, "1"); string(f.Result) != `{"delivered":false}` {
		t.Fatalf("unexpected result: %s", f.Result)
	}
	event(t, viewer, core.EventConnectionRequestFailed)
}

func TestErrorsAreStructured(t *testing.T) {
	s := newTestServer(t)
	c := s.dial(t, PathRemote)

	call(t, c, "1", "SendScreenData", map[string]any{"targetId": "x"})
	f := reply(t, c, "1")
	if f.Error == nil || f.Error.Category != core.CategoryValidation {
		t.Fatalf("expected validation error before registration, got %+v", f)
	}

	call(t, c, "", "Bogus", nil)
	e := event(t, c, core.EventError)
	var ev core.ErrorEvent
	json.Unmarshal(e.Data, &ev)
	if ev.Method != "Bogus" || ev.Category != core.CategoryValidation {
		t.Fatalf("unexpected error event: %+v", ev)
	}
}

func TestCloseDisconnectsSession(t *testing.T) {
	s := newTestServer(t)
	a := s.dial(t, PathRemote)
	b := s.dial(t, PathRemote)
	register(t, a, "a")
	reg := register(t, b, "b")

	b.Close()
	evt := event(t, a, core.EventClientDisconnected)
	var cd core.ClientDisconnected
	json.Unmarshal(evt.Data, &cd)
	if cd.SessionID != reg.Session.ID {
		t.Fatalf("unexpected disconnect payload: %+v", cd)
	}
	got, _ := s.store.Get(reg.Session.ID)
	if got.State != core.StateDisconnected || got.DisconnectedAt == nil {
		t.Fatalf("expected closed session, got %+v", got)
	}
}

func TestMonitoringForceDisconnect(t *testing.T) {
	s := newTestServer(t)
	peer := s.dial(t, PathRemote)
	reg := register(t, peer, "peer")

	mon := s.dial(t, PathMonitoring)
	call(t, mon, "1", "JoinDashboard", nil)
	reply(t, mon, "1")

	call(t, mon, "2", "DisconnectClient", map[string]string{"sessionId": reg.Session.ID})
	if f := reply(t, mon, "2"); string(f.Result) != `{"disconnected":true}` {
		t.Fatalf("unexpected result: %s", f.Result)
	}
	event(t, mon, core.EventConnectionUpdate)

	event(t, peer, core.EventForceDisconnect)
	peer.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := peer.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected server close, got %v", err)
	}

	call(t, mon, "3", "RequestSystemInfo", nil)
	info := event(t, mon, core.EventSystemInfo)
	if !strings.Contains(string(info.Data), `"serverName":"test"`) {
		t.Fatalf("unexpected system info: %s", info.Data)
	}
}
