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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oliacesso/relay-server/pkg/core"
)

const sinkPublishTimeout = 5 * time.Second

type sinkWorker struct {
	sink   core.EventSink
	queue  chan core.Envelope
	cancel context.CancelFunc
	done   chan struct{}
}

type sinkSet struct {
	mu      sync.RWMutex
	workers []*sinkWorker
	logger  *slog.Logger
}

func newSinkSet(logger *slog.Logger) *sinkSet {
	return &sinkSet{logger: logger}
}

// AttachSink connects sink and starts its publisher. Broadcasts from then on
// are mirrored to it through a queue of queueSize envelopes.
func (h *Hub) AttachSink(ctx context.Context, sink core.EventSink, queueSize int) error {
	if err := sink.Connect(ctx); err != nil {
		return fmt.Errorf("connect sink %s: %w", sink.Name(), err)
	}
	if queueSize <= 0 {
		queueSize = h.queueSize
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	w := &sinkWorker{
		sink:   sink,
		queue:  make(chan core.Envelope, queueSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s := h.sinks
	s.mu.Lock()
	s.workers = append(s.workers, w)
	s.mu.Unlock()

	go s.run(workerCtx, w)

	h.logger.Info("event sink attached", "name", sink.Name(), "type", sink.Type(), "queue_size", queueSize)
	return nil
}

func (s *sinkSet) run(ctx context.Context, w *sinkWorker) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-w.queue:
			err := s.publish(ctx, w, evt)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("sink publish failed",
					"sink", w.sink.Name(),
					"event", evt.Name,
					"error", err,
				)
			}
		}
	}
}

// publish delivers one event. A panicking sink loses that event only.
func (s *sinkSet) publish(ctx context.Context, w *sinkWorker, evt core.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sink publisher panic recovered", "sink", w.sink.Name(), "event", evt.Name, "error", r)
			err = nil
		}
	}()
	pubCtx, cancel := context.WithTimeout(ctx, sinkPublishTimeout)
	defer cancel()
	return w.sink.Publish(pubCtx, evt)
}

func (s *sinkSet) offer(evt core.Envelope) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.workers {
		select {
		case w.queue <- evt:
		default:
			s.logger.Warn("sink queue full, event dropped", "sink", w.sink.Name(), "event", evt.Name)
		}
	}
}

// DetachSinks stops every sink publisher and disconnects the sinks.
func (h *Hub) DetachSinks(ctx context.Context) {
	s := h.sinks
	s.mu.Lock()
	workers := s.workers
	s.workers = nil
	s.mu.Unlock()

	for _, w := range workers {
		w.cancel()
		<-w.done
		if err := w.sink.Disconnect(ctx); err != nil {
			h.logger.Error("sink disconnect failed", "sink", w.sink.Name(), "error", err)
		}
	}
}
