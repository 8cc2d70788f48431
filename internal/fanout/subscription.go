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
	"sync"

	"github.com/oliacesso/relay-server/pkg/core"
)

type enqueueResult int

const (
	enqueued enqueueResult = iota
	dropped
	closed
)

// Subscription is one transport connection's bounded outbound queue.
type Subscription struct {
	id   string
	ch   chan core.Envelope
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newSubscription(id string, size int) *Subscription {
	if size <= 0 {
		size = 1
	}
	return &Subscription{
		id:   id,
		ch:   make(chan core.Envelope, size),
		done: make(chan struct{}),
	}
}

func (s *Subscription) ID() string                   { return s.id }
func (s *Subscription) Events() <-chan core.Envelope { return s.ch }
func (s *Subscription) Done() <-chan struct{}        { return s.done }

// offer never blocks. Events already queued stay readable after close.
func (s *Subscription) offer(evt core.Envelope) enqueueResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return closed
	}
	select {
	case s.ch <- evt:
		return enqueued
	default:
		return dropped
	}
}

func (s *Subscription) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)
	return true
}
