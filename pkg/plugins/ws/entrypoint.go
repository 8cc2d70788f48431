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
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oliacesso/relay-server/pkg/core"
)

const (
	PathRemote     = "/hubs/remote"
	PathMonitoring = "/hubs/monitoring"
)

type Options struct {
	MaxMessageBytes int64
	PingInterval    time.Duration
	WriteTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 32 << 20
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// Entrypoint serves the peer hub and the monitoring hub over websocket.
type Entrypoint struct {
	name     string
	port     int
	opts     Options
	upgrader websocket.Upgrader
	services core.Services
	server   *http.Server
	logger   *slog.Logger
	conns    sync.Map
}

func New(name string, port int, opts Options, logger *slog.Logger) *Entrypoint {
	return &Entrypoint{
		name: name,
		port: port,
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (e *Entrypoint) Name() string { return e.name }
func (e *Entrypoint) Type() string { return "websocket" }

// Handler binds the entrypoint to services and returns its routes.
func (e *Entrypoint) Handler(services core.Services) http.Handler {
	e.services = services
	mux := http.NewServeMux()
	mux.HandleFunc(PathRemote, func(w http.ResponseWriter, r *http.Request) {
		e.handleConnection(w, r, hubRemote)
	})
	mux.HandleFunc(PathMonitoring, func(w http.ResponseWriter, r *http.Request) {
		e.handleConnection(w, r, hubMonitoring)
	})
	return mux
}

func (e *Entrypoint) Start(ctx context.Context, services core.Services) error {
	e.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", e.port),
		Handler: e.Handler(services),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.server.Shutdown(shutdownCtx)
	}()

	e.logger.Info("websocket entrypoint starting", "name", e.name, "port", e.port)
	if err := e.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop closes every open connection, which runs each one's disconnect
// path, then shuts the listener down.
func (e *Entrypoint) Stop(ctx context.Context) error {
	e.conns.Range(func(_, val any) bool {
		val.(*conn).ws.Close()
		return true
	})
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

func (e *Entrypoint) handleConnection(w http.ResponseWriter, r *http.Request, kind hubKind) {
	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Error("ws upgrade failed", "path", r.URL.Path, "error", err)
		return
	}

	caller := core.NewCaller(r)
	c := &conn{
		ep:     e,
		ws:     ws,
		kind:   kind,
		caller: caller,
		sub:    e.services.Events.Subscribe(caller.SubscriberID),
		logger: e.logger.With("subscriber_id", caller.SubscriberID, "hub", kind.String()),
	}
	e.conns.Store(caller.SubscriberID, c)

	c.logger.Info("ws client connected", "remote_address", caller.RemoteAddress)

	go c.writePump()
	c.readPump(context.WithoutCancel(r.Context()))

	e.conns.Delete(caller.SubscriberID)
	c.logger.Info("ws client disconnected", "client_id", c.caller.ClientID)
}
