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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oliacesso/relay-server/pkg/core"
)

const PathEvents = "/events"

// Entrypoint streams dashboard events to read-only observers.
type Entrypoint struct {
	name     string
	port     int
	services core.Services
	server   *http.Server
	logger   *slog.Logger
	streams  sync.Map
}

func New(name string, port int, logger *slog.Logger) *Entrypoint {
	return &Entrypoint{name: name, port: port, logger: logger}
}

func (e *Entrypoint) Name() string { return e.name }
func (e *Entrypoint) Type() string { return "sse" }

func (e *Entrypoint) Handler(services core.Services) http.Handler {
	e.services = services
	mux := http.NewServeMux()
	mux.HandleFunc(PathEvents, e.handleSSE)
	return mux
}

func (e *Entrypoint) Start(ctx context.Context, services core.Services) error {
	e.server = &http.Server{Addr: fmt.Sprintf(":%d", e.port), Handler: e.Handler(services)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.server.Shutdown(shutdownCtx)
	}()

	e.logger.Info("sse entrypoint starting", "name", e.name, "port", e.port)
	if err := e.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (e *Entrypoint) Stop(ctx context.Context) error {
	e.streams.Range(func(key, _ any) bool {
		e.services.Events.Unsubscribe(key.(string))
		return true
	})
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

func (e *Entrypoint) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	caller := core.NewCaller(r)
	sub := e.services.Events.Subscribe(caller.SubscriberID, core.GroupDashboard)
	e.streams.Store(caller.SubscriberID, struct{}{})
	defer func() {
		e.streams.Delete(caller.SubscriberID)
		e.services.Events.Unsubscribe(caller.SubscriberID)
		e.logger.Info("sse client disconnected", "subscriber_id", caller.SubscriberID)
	}()

	e.logger.Info("sse client connected", "subscriber_id", caller.SubscriberID, "remote_address", caller.RemoteAddress)

	if stats, err := e.services.Monitoring.DashboardStats(r.Context()); err == nil {
		e.services.Events.Send(caller.SubscriberID, core.NewEnvelope(core.EventDashboardUpdate, stats))
	} else {
		e.logger.Warn("initial dashboard snapshot failed", "error", err)
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case evt := <-sub.Events():
			if err := writeEvent(w, evt); err != nil {
				e.logger.Error("marshal sse event failed", "event", evt.Name, "error", err)
				continue
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, evt core.Envelope) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Name, data)
	return err
}
