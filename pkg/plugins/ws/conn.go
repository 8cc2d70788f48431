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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oliacesso/relay-server/pkg/core"
)

type hubKind int

const (
	hubRemote hubKind = iota
	hubMonitoring
)

func (k hubKind) String() string {
	if k == hubMonitoring {
		return "monitoring"
	}
	return "remote"
}

type request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	ID     string        `json:"id"`
	Result any           `json:"result,omitempty"`
	Error  *core.Failure `json:"error,omitempty"`
}

type eventFrame struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// conn is one websocket connection. caller is only touched by the read
// pump; writes from both pumps go through writeMu.
type conn struct {
	ep     *Entrypoint
	ws     *websocket.Conn
	kind   hubKind
	caller core.Caller
	sub    core.Subscription
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *conn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.ep.opts.WriteTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *conn) writeEvent(evt core.Envelope) error {
	return c.writeJSON(eventFrame{Event: evt.Name, Data: evt.Data, Timestamp: evt.Timestamp})
}

// writePump drains the subscription onto the socket and keeps it alive
// with pings. When the subscription is closed by the server, events still
// queued are flushed before the socket is closed.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.ep.opts.PingInterval)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case evt := <-c.sub.Events():
			if err := c.writeEvent(evt); err != nil {
				c.logger.Debug("ws write failed", "event", evt.Name, "error", err)
				return
			}
		case <-c.sub.Done():
			c.flush()
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closed by server"))
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ws ping failed", "error", err)
				return
			}
		}
	}
}

func (c *conn) flush() {
	for {
		select {
		case evt := <-c.sub.Events():
			if err := c.writeEvent(evt); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) readPump(ctx context.Context) {
	defer c.close(ctx)

	pongWait := 2 * c.ep.opts.PingInterval
	c.ws.SetReadLimit(c.ep.opts.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws read error", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var req request
		if err := json.Unmarshal(payload, &req); err != nil || req.Method == "" {
			c.respond(req, nil, fmt.Errorf("%w: malformed frame", core.ErrInvalidRequest))
			continue
		}

		var result any
		if c.kind == hubMonitoring {
			result, err = c.dispatchMonitoring(ctx, req)
		} else {
			result, err = c.dispatchRemote(ctx, req)
		}
		c.respond(req, result, err)
	}
}

// respond answers a request that carried an id. Requests without one are
// notifications: they get no reply and a failure comes back as an Error
// event.
func (c *conn) respond(req request, result any, err error) {
	if err != nil {
		f := core.FailureOf(err)
		if f.Category == core.CategoryInternal {
			c.logger.Error("hub method failed", "method", req.Method, "error", err)
		} else {
			c.logger.Debug("hub method rejected", "method", req.Method, "category", string(f.Category), "error", err)
		}
		if req.ID == "" {
			c.push(core.EventError, core.ErrorEvent{Method: req.Method, Failure: f})
			return
		}
		if werr := c.writeJSON(response{ID: req.ID, Error: &f}); werr != nil {
			c.logger.Debug("ws reply failed", "error", werr)
		}
		return
	}
	if req.ID == "" {
		return
	}
	if werr := c.writeJSON(response{ID: req.ID, Result: result}); werr != nil {
		c.logger.Debug("ws reply failed", "error", werr)
	}
}

// push queues an event for this connection behind anything already queued.
func (c *conn) push(name string, data any) {
	if err := c.ep.services.Events.Send(c.caller.SubscriberID, core.NewEnvelope(name, data)); err != nil {
		c.logger.Debug("push to self failed", "event", name, "error", err)
	}
}

// close runs the disconnect path once, whichever side ended the connection.
func (c *conn) close(ctx context.Context) {
	c.closeOnce.Do(func() {
		if c.kind == hubRemote {
			c.ep.services.Signaling.Disconnect(ctx, c.caller)
		}
		c.ep.services.Events.Unsubscribe(c.caller.SubscriberID)
		c.ws.Close()
	})
}
