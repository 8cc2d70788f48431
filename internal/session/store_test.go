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

package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oliacesso/relay-server/internal/storage"
	"github.com/oliacesso/relay-server/pkg/core"
)

type failingPersistence struct {
	*storage.Memory
	sessionErr error
	attemptErr error
}

func (f *failingPersistence) SaveSession(ctx context.Context, s core.Session) error {
	if f.sessionErr != nil {
		return f.sessionErr
	}
	return f.Memory.SaveSession(ctx, s)
}

func (f *failingPersistence) SaveAttempt(ctx context.Context, a core.SignalingAttempt) error {
	if f.attemptErr != nil {
		return f.attemptErr
	}
	return f.Memory.SaveAttempt(ctx, a)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// steppingClock advances one second per call so ordering is deterministic.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore() *Store {
	s := NewStore(storage.NewMemory(), testLogger())
	s.now = steppingClock(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	return s
}

func register(t *testing.T, s *Store, clientID string) core.Session {
	t.Helper()
	sess, err := s.Register(context.Background(), RegisterParams{ClientID: clientID, DisplayName: clientID, RemoteAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("register %s: %v", clientID, err)
	}
	return sess
}

func TestRegister(t *testing.T) {
	s := newTestStore()
	sess := register(t, s, "A")

	if sess.State != core.StateConnected {
		t.Fatalf("expected Connected, got %s", sess.State)
	}
	if sess.Role != core.RoleHost {
		t.Fatalf("expected Host role, got %s", sess.Role)
	}
	if sess.DisconnectedAt != nil {
		t.Fatal("new session must not have disconnectedAt")
	}
	if sess.BytesSent != 0 || sess.BytesReceived != 0 || sess.ScreenUpdateCount != 0 || sess.InputEventCount != 0 {
		t.Fatal("expected zeroed counters")
	}
	if active, total := s.Counts(); active != 1 || total != 1 {
		t.Fatalf("expected 1/1, got %d/%d", active, total)
	}
}

func TestRegisterUniqueIDs(t *testing.T) {
	s := newTestStore()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		sess := register(t, s, "same-client")
		if seen[sess.ID] {
			t.Fatalf("duplicate session id %s", sess.ID)
		}
		seen[sess.ID] = true
	}
	if active, _ := s.Counts(); active != 50 {
		t.Fatalf("expected 50 concurrent sessions for one client, got %d", active)
	}
}

func TestRegisterAttachRunsBeforeVisible(t *testing.T) {
	s := newTestStore()
	var attached core.Session
	onlineDuringAttach := true
	sess, err := s.Register(context.Background(), RegisterParams{
		ClientID: "A",
		Attach: func(c core.Session) {
			attached = c
			onlineDuringAttach = s.IsClientOnline("A")
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attached.ID != sess.ID {
		t.Fatalf("expected attach with %s, got %q", sess.ID, attached.ID)
	}
	if onlineDuringAttach {
		t.Fatal("client must not be online before attach returns")
	}
	if !s.IsClientOnline("A") {
		t.Fatal("expected client online after register")
	}
}

func TestRegisterAttachSkippedOnPersistenceFailure(t *testing.T) {
	persist := &failingPersistence{Memory: storage.NewMemory(), sessionErr: errors.New("disk full")}
	s := NewStore(persist, testLogger())

	called := false
	_, err := s.Register(context.Background(), RegisterParams{ClientID: "A", Attach: func(core.Session) { called = true }})
	if err == nil || called {
		t.Fatalf("expected failure without attach, got err=%v called=%v", err, called)
	}
}

func TestRegisterPersistenceFailureIsFatal(t *testing.T) {
	persist := &failingPersistence{Memory: storage.NewMemory(), sessionErr: errors.New("disk full")}
	s := NewStore(persist, testLogger())

	_, err := s.Register(context.Background(), RegisterParams{ClientID: "A"})
	if err == nil {
		t.Fatal("expected registration to fail")
	}
	if s.IsClientOnline("A") {
		t.Fatal("failed registration must not leave the client online")
	}
	if _, total := s.Counts(); total != 0 {
		t.Fatalf("expected no sessions, got %d", total)
	}
}

func TestIsClientOnline(t *testing.T) {
	s := newTestStore()
	first := register(t, s, "A")
	second := register(t, s, "A")

	if !s.IsClientOnline("A") {
		t.Fatal("expected A online")
	}
	s.MarkDisconnected(context.Background(), first.ID)
	if !s.IsClientOnline("A") {
		t.Fatal("second session must keep A online")
	}
	s.MarkDisconnected(context.Background(), second.ID)
	if s.IsClientOnline("A") {
		t.Fatal("expected A offline after both sessions closed")
	}
	if s.IsClientOnline("never") {
		t.Fatal("unknown client reported online")
	}
}

func TestMarkDisconnectedIdempotent(t *testing.T) {
	s := newTestStore()
	sess := register(t, s, "A")

	final, ok := s.MarkDisconnected(context.Background(), sess.ID)
	if !ok {
		t.Fatal("expected first disconnect to apply")
	}
	if final.State != core.StateDisconnected || final.DisconnectedAt == nil {
		t.Fatalf("disconnectedAt must be set iff Disconnected: %+v", final)
	}

	if _, ok := s.MarkDisconnected(context.Background(), sess.ID); ok {
		t.Fatal("second disconnect must be a no-op")
	}
	again, _ := s.Get(sess.ID)
	if !again.DisconnectedAt.Equal(*final.DisconnectedAt) {
		t.Fatal("second disconnect changed disconnectedAt")
	}

	if _, ok := s.MarkDisconnected(context.Background(), "unknown"); ok {
		t.Fatal("unknown session must be a no-op")
	}
}

func TestAccumulate(t *testing.T) {
	s := newTestStore()
	sess := register(t, s, "A")

	if !s.Accumulate(sess.ID, core.Traffic{BytesIn: 10, BytesOut: 20}) {
		t.Fatal("expected accumulate on live session")
	}
	s.Accumulate(sess.ID, core.Traffic{BytesOut: -5})
	got, _ := s.Get(sess.ID)
	if got.BytesReceived != 10 || got.BytesSent != 20 {
		t.Fatalf("unexpected counters: in=%d out=%d", got.BytesReceived, got.BytesSent)
	}

	s.MarkDisconnected(context.Background(), sess.ID)
	if s.Accumulate(sess.ID, core.Traffic{BytesOut: 100}) {
		t.Fatal("accumulate after disconnect must be a no-op")
	}
	got, _ = s.Get(sess.ID)
	if got.BytesSent != 20 {
		t.Fatalf("terminal session mutated: %d", got.BytesSent)
	}
	if s.Accumulate("unknown", core.Traffic{BytesIn: 1}) {
		t.Fatal("unknown session must be a no-op")
	}
}

func TestAccumulateConcurrent(t *testing.T) {
	s := newTestStore()
	sess := register(t, s, "A")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Accumulate(sess.ID, core.Traffic{BytesOut: 3, ScreenUpdates: 1})
		}()
		go func() {
			defer wg.Done()
			s.Accumulate(sess.ID, core.Traffic{BytesIn: 1})
		}()
	}
	wg.Wait()

	got, _ := s.Get(sess.ID)
	if got.BytesSent != 300 || got.BytesReceived != 100 || got.ScreenUpdateCount != 100 {
		t.Fatalf("lost updates: %+v", got)
	}
}

func TestListActiveNewestFirst(t *testing.T) {
	s := newTestStore()
	a := register(t, s, "A")
	b := register(t, s, "B")
	c := register(t, s, "C")
	s.MarkDisconnected(context.Background(), b.ID)

	active := s.ListActive()
	if len(active) != 2 {
		t.Fatalf("expected 2 active, got %d", len(active))
	}
	if active[0].ID != c.ID || active[1].ID != a.ID {
		t.Fatalf("expected newest first, got %s then %s", active[0].ClientID, active[1].ClientID)
	}
}

func TestListHistoryPagination(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 120; i++ {
		register(t, s, "client")
	}

	if got := len(s.ListHistory(1, 200)); got != 100 {
		t.Fatalf("pageSize 200 should clamp to 100, got %d", got)
	}
	page0 := s.ListHistory(0, 10)
	page1 := s.ListHistory(1, 10)
	if len(page0) != 10 || page0[0].ID != page1[0].ID {
		t.Fatal("page 0 should behave as page 1")
	}
	if got := len(s.ListHistory(1, 0)); got != 1 {
		t.Fatalf("pageSize 0 should clamp to 1, got %d", got)
	}
	if got := len(s.ListHistory(2, 100)); got != 20 {
		t.Fatalf("expected 20 on the last page, got %d", got)
	}
	if got := s.ListHistory(5, 100); len(got) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(got))
	}

	all := s.ListHistory(1, 100)
	for i := 1; i < len(all); i++ {
		if all[i].ConnectedAt.After(all[i-1].ConnectedAt) {
			t.Fatal("history not ordered newest first")
		}
	}
}

func TestRecordAttemptNeverFails(t *testing.T) {
	persist := &failingPersistence{Memory: storage.NewMemory(), attemptErr: errors.New("audit table locked")}
	s := NewStore(persist, testLogger())

	s.RecordAttempt(context.Background(), core.SignalingAttempt{RequesterID: "B", TargetID: "A", Success: true})

	got := s.Attempts(time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if len(got) != 1 {
		t.Fatalf("expected attempt kept in memory, got %d", len(got))
	}
	if got[0].ID == "" || got[0].AttemptTime.IsZero() {
		t.Fatal("expected id and time to be filled in")
	}
}

func TestSetGeoOnce(t *testing.T) {
	s := newTestStore()
	sess := register(t, s, "A")

	if err := s.SetGeo(sess.ID, core.Geo{Country: "BR", City: "Recife"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.SetGeo(sess.ID, core.Geo{Country: "PT"})
	if !errors.Is(err, core.ErrGeoAlreadySet) {
		t.Fatalf("expected ErrGeoAlreadySet, got %v", err)
	}
	got, _ := s.Get(sess.ID)
	if got.Country() != "BR" {
		t.Fatalf("geo mutated to %s", got.Country())
	}
	if err := s.SetGeo("unknown", core.Geo{}); !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRestoreClosesStaleSessions(t *testing.T) {
	ctx := context.Background()
	persist := storage.NewMemory()
	connected := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	persist.SaveSession(ctx, core.Session{
		ID: "stale", ClientID: "A", ConnectedAt: connected,
		LastActivityAt: connected.Add(10 * time.Minute), State: core.StateConnected,
	})
	persist.SaveAttempt(ctx, core.SignalingAttempt{ID: "x", AttemptTime: connected, Success: true})

	s := NewStore(persist, testLogger())
	if err := s.Restore(ctx, connected.Add(-time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := s.Get("stale")
	if !ok {
		t.Fatal("expected restored session")
	}
	if got.State != core.StateDisconnected || got.DisconnectedAt == nil {
		t.Fatal("stale session must be closed on restore")
	}
	if !got.DisconnectedAt.Equal(connected.Add(10 * time.Minute)) {
		t.Fatalf("expected close at last activity, got %s", got.DisconnectedAt)
	}
	if s.IsClientOnline("A") {
		t.Fatal("restored session must not be online")
	}
	if _, total := s.Counts(); total != 1 {
		t.Fatalf("expected total 1, got %d", total)
	}
	if len(s.Attempts(connected, connected)) != 1 {
		t.Fatal("expected restored attempt")
	}
}

func TestRestoreSetsHorizon(t *testing.T) {
	since := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(storage.NewMemory(), testLogger())
	if !s.Horizon().IsZero() {
		t.Fatal("expected zero horizon before restore")
	}
	if err := s.Restore(context.Background(), since); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Horizon().Equal(since) {
		t.Fatalf("expected horizon %s, got %s", since, s.Horizon())
	}
}

func TestEvictKeepsActiveSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	closed := register(t, s, "A")
	open := register(t, s, "B")
	s.MarkDisconnected(ctx, closed.ID)
	s.RecordAttempt(ctx, core.SignalingAttempt{RequesterID: "B", TargetID: "A"})

	cutoff := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	sessions, attempts := s.Evict(cutoff)
	if sessions != 1 || attempts != 1 {
		t.Fatalf("expected 1 session and 1 attempt evicted, got %d/%d", sessions, attempts)
	}
	if _, ok := s.Get(closed.ID); ok {
		t.Fatal("closed session should be evicted")
	}
	if _, ok := s.Get(open.ID); !ok || !s.IsClientOnline("B") {
		t.Fatal("active session must survive eviction")
	}
	if active, total := s.Counts(); active != 1 || total != 1 {
		t.Fatalf("expected 1/1 after eviction, got %d/%d", active, total)
	}
	if !s.Horizon().Equal(cutoff) {
		t.Fatalf("expected horizon %s, got %s", cutoff, s.Horizon())
	}

	// The horizon never moves back.
	s.Evict(cutoff.Add(-time.Hour))
	if !s.Horizon().Equal(cutoff) {
		t.Fatalf("horizon moved back to %s", s.Horizon())
	}
}
