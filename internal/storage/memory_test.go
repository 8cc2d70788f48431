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
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/oliacesso/relay-server/pkg/core"
)

var _ core.Persistence = (*Memory)(nil)
var _ core.Persistence = (*Postgres)(nil)

func TestMemoryPurgeSamples(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()
	m.SaveSample(ctx, core.MetricsSample{Timestamp: now.Add(-31 * 24 * time.Hour)})
	m.SaveSample(ctx, core.MetricsSample{Timestamp: now.Add(-29 * 24 * time.Hour)})
	m.SaveSample(ctx, core.MetricsSample{Timestamp: now})

	purged, err := m.PurgeSamples(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
	left, _ := m.LoadSamples(ctx, time.Time{})
	if len(left) != 2 {
		t.Fatalf("expected 2 samples left, got %d", len(left))
	}
}

func TestMemorySessionUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()
	s := core.Session{ID: "s1", ClientID: "a", ConnectedAt: now, State: core.StateConnected}
	m.SaveSession(ctx, s)
	s.BytesSent = 42
	m.SaveSession(ctx, s)

	got, _ := m.LoadSessions(ctx, now.Add(-time.Minute))
	if len(got) != 1 || got[0].BytesSent != 42 {
		t.Fatalf("expected one upserted session, got %+v", got)
	}
	got, _ = m.LoadSessions(ctx, now.Add(time.Minute))
	if len(got) != 0 {
		t.Fatalf("expected since filter to exclude session, got %d", len(got))
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var up, down int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			up++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			down++
		}
	}
	if up == 0 || up != down {
		t.Fatalf("expected paired up/down migrations, got up=%d down=%d", up, down)
	}
}

func TestMigrateEmptyDSN(t *testing.T) {
	if err := Migrate(""); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
