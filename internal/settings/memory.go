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

package settings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oliacesso/relay-server/pkg/core"
)

// MemoryStore keeps settings in process. When a persistence backend is
// given every write goes through to it and the store is loaded from it.
type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]core.Setting
	persist  core.Persistence
}

func NewMemoryStore(ctx context.Context, persist core.Persistence) (*MemoryStore, error) {
	m := &MemoryStore{
		settings: make(map[string]core.Setting),
		persist:  persist,
	}
	if persist != nil {
		loaded, err := persist.LoadSettings(ctx)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		for _, s := range loaded {
			m.settings[s.Key] = s
		}
	}
	for _, s := range core.DefaultSettings(time.Now().UTC()) {
		if _, ok := m.settings[s.Key]; ok {
			continue
		}
		if err := m.Set(ctx, s); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (core.Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[key]
	if !ok {
		return core.Setting{}, fmt.Errorf("%w: key=%s", core.ErrSettingNotFound, key)
	}
	return s, nil
}

func (m *MemoryStore) List(_ context.Context) ([]core.Setting, error) {
	m.mu.RLock()
	out := make([]core.Setting, 0, len(m.settings))
	for _, s := range m.settings {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, s core.Setting) error {
	if s.Key == "" {
		return fmt.Errorf("%w: empty setting key", core.ErrInvalidRequest)
	}
	if s.LastModified.IsZero() {
		s.LastModified = time.Now().UTC()
	}
	if m.persist != nil {
		if err := m.persist.SaveSetting(ctx, s); err != nil {
			return fmt.Errorf("save setting %s: %w", s.Key, err)
		}
	}
	m.mu.Lock()
	m.settings[s.Key] = s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
