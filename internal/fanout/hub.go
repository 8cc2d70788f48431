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

package fanout

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/oliacesso/relay-server/pkg/core"
)

const DefaultQueueSize = 256

type binding struct {
	clientID  string
	sessionID string
}

// Hub routes envelopes to subscribers by id, by bound client and by group,
// and mirrors group broadcasts to the configured sinks.
type Hub struct {
	subs      sync.Map
	queueSize int

	mu        sync.RWMutex
	groups    map[string]map[string]struct{}
	bindings  map[string]binding
	byClient  map[string]map[string]struct{}
	bySession map[string]string

	sinks   *sinkSet
	dropped atomic.Int64
	closed  atomic.Bool
	logger  *slog.Logger
}

func NewHub(queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		queueSize: queueSize,
		groups:    make(map[string]map[string]struct{}),
		bindings:  make(map[string]binding),
		byClient:  make(map[string]map[string]struct{}),
		bySession: make(map[string]string),
		sinks:     newSinkSet(logger),
		logger:    logger,
	}
}

var (
	_ core.Transport = (*Hub)(nil)
	_ core.EventHub  = (*Hub)(nil)
)

// Subscribe opens a queue for id and joins it to groups. Subscribing an id
// that is already open replaces the old subscription.
func (h *Hub) Subscribe(id string, groups ...string) core.Subscription {
	sub := newSubscription(id, h.queueSize)
	if h.closed.Load() {
		sub.close()
		return sub
	}
	if prev, loaded := h.subs.Swap(id, sub); loaded {
		prev.(*Subscription).close()
	}
	for _, g := range groups {
		h.Join(id, g)
	}
	h.logger.Debug("subscriber added", "subscriber_id", id, "groups", groups)
	return sub
}

// Unsubscribe drops every group membership and binding of id and closes
// its queue.
func (h *Hub) Unsubscribe(id string) {
	v, ok := h.subs.LoadAndDelete(id)

	h.mu.Lock()
	for g, members := range h.groups {
		delete(members, id)
		if len(members) == 0 {
			delete(h.groups, g)
		}
	}
	h.unbindLocked(id)
	h.mu.Unlock()

	if ok {
		v.(*Subscription).close()
		h.logger.Debug("subscriber removed", "subscriber_id", id)
	}
}

// Close ends a subscription from the server side. The transport notices
// through Done and tears the connection down.
func (h *Hub) Close(subscriberID string) {
	if v, ok := h.subs.Load(subscriberID); ok {
		v.(*Subscription).close()
	}
}

func (h *Hub) Join(subscriberID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	members[subscriberID] = struct{}{}
}

func (h *Hub) Leave(subscriberID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[group]; ok {
		delete(members, subscriberID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

// Bind attaches a registered client session to a subscriber so addressed
// delivery can find it.
func (h *Hub) Bind(subscriberID, clientID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unbindLocked(subscriberID)

	h.bindings[subscriberID] = binding{clientID: clientID, sessionID: sessionID}
	ids, ok := h.byClient[clientID]
	if !ok {
		ids = make(map[string]struct{})
		h.byClient[clientID] = ids
	}
	ids[subscriberID] = struct{}{}
	h.bySession[sessionID] = subscriberID
}

func (h *Hub) Unbind(subscriberID string) {
	h.mu.Lock()
	h.unbindLocked(subscriberID)
	h.mu.Unlock()
}

func (h *Hub) unbindLocked(subscriberID string) {
	b, ok := h.bindings[subscriberID]
	if !ok {
		return
	}
	delete(h.bindings, subscriberID)
	if ids, ok := h.byClient[b.clientID]; ok {
		delete(ids, subscriberID)
		if len(ids) == 0 {
			delete(h.byClient, b.clientID)
		}
	}
	if h.bySession[b.sessionID] == subscriberID {
		delete(h.bySession, b.sessionID)
	}
}

func (h *Hub) SubscriberForSession(sessionID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.bySession[sessionID]
	return id, ok
}

func (h *Hub) lookup(id string) (*Subscription, bool) {
	v, ok := h.subs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Subscription), true
}

// Send delivers evt to one subscriber. A full queue drops the event and
// is not reported as an error.
func (h *Hub) Send(subscriberID string, evt core.Envelope) error {
	if h.closed.Load() {
		return core.ErrHubClosed
	}
	sub, ok := h.lookup(subscriberID)
	if !ok {
		return fmt.Errorf("%w: id=%s", core.ErrNoSubscriber, subscriberID)
	}
	if h.deliver(sub, evt) == closed {
		return fmt.Errorf("%w: id=%s", core.ErrNoSubscriber, subscriberID)
	}
	return nil
}

// SendToClient delivers evt to every subscriber bound to clientID and
// returns how many accepted it.
func (h *Hub) SendToClient(clientID string, evt core.Envelope) (int, error) {
	if h.closed.Load() {
		return 0, core.ErrHubClosed
	}

	h.mu.RLock()
	ids := make([]string, 0, len(h.byClient[clientID]))
	for id := range h.byClient[clientID] {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, id := range ids {
		sub, ok := h.lookup(id)
		if !ok {
			continue
		}
		if h.deliver(sub, evt) == enqueued {
			delivered++
		}
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: client=%s", core.ErrNoSubscriber, clientID)
	}
	return delivered, nil
}

// Broadcast delivers evt to every member of group except one subscriber
// and hands a copy to each sink. Relay payloads never reach sinks.
func (h *Hub) Broadcast(group string, evt core.Envelope, exceptSubscriberID string) {
	if h.closed.Load() {
		return
	}

	h.mu.RLock()
	ids := make([]string, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		if id != exceptSubscriberID {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range ids {
		if sub, ok := h.lookup(id); ok {
			h.deliver(sub, evt)
		}
	}

	if !evt.IsRelay() {
		h.sinks.offer(evt)
	}
}

func (h *Hub) deliver(sub *Subscription, evt core.Envelope) enqueueResult {
	res := sub.offer(evt)
	if res == dropped {
		n := h.dropped.Add(1)
		h.logger.Warn("subscriber queue full, event dropped",
			"subscriber_id", sub.ID(),
			"event", evt.Name,
			"dropped_total", n,
		)
	}
	return res
}

// Dropped returns how many events were discarded on full queues.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// SubscriberCount returns the number of open subscriptions.
func (h *Hub) SubscriberCount() int {
	n := 0
	h.subs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Shutdown closes every subscription. Later sends fail with ErrHubClosed.
func (h *Hub) Shutdown() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.subs.Range(func(_, v any) bool {
		v.(*Subscription).close()
		return true
	})
	h.logger.Info("event hub closed", "dropped_total", h.dropped.Load())
}
