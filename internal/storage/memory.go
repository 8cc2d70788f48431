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

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oliacesso/relay-server/pkg/core"
)

// Memory is the non-durable persistence backend. It is the default driver
// and the backend tests run against.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]core.Session
	attempts []core.SignalingAttempt
	samples  []core.MetricsSample
	settings map[string]core.Setting
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]core.Session),
		settings: make(map[string]core.Setting),
	}
}

func (m *Memory) SaveSession(_ context.Context, s core.Session) error {
	if s.Geo != nil {
		g := *s.Geo
		s.Geo = &g
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) SaveAttempt(_ context.Context, a core.SignalingAttempt) error {
	m.mu.Lock()
	m.attempts = append(m.attempts, a)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SaveSample(_ context.Context, s core.MetricsSample) error {
	m.mu.Lock()
	m.samples = append(m.samples, s)
	m.mu.Unlock()
	return nil
}

func (m *Memory) PurgeSamples(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.samples[:0]
	var purged int64
	for _, s := range m.samples {
		if s.Timestamp.Before(before) {
			purged++
			continue
		}
		kept = append(kept, s)
	}
	m.samples = kept
	return purged, nil
}

func (m *Memory) SaveSetting(_ context.Context, s core.Setting) error {
	m.mu.Lock()
	m.settings[s.Key] = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadSessions(_ context.Context, since time.Time) ([]core.Session, error) {
	m.mu.RLock()
	out := make([]core.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !s.ConnectedAt.Before(since) {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out, nil
}

func (m *Memory) LoadAttempts(_ context.Context, since time.Time) ([]core.SignalingAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.SignalingAttempt
	for _, a := range m.attempts {
		if !a.AttemptTime.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) LoadSamples(_ context.Context, since time.Time) ([]core.MetricsSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.MetricsSample
	for _, s := range m.samples {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) LoadSettings(_ context.Context) ([]core.Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Setting, 0, len(m.settings))
	for _, s := range m.settings {
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
