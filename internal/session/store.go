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
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oliacesso/relay-server/pkg/core"
)

const (
	DefaultPageSize = 50
	maxPageSize     = 100
)

type record struct {
	mu sync.RWMutex
	s  core.Session
}

func (r *record) snapshot() core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copySession(r.s)
}

type RegisterParams struct {
	ClientID        string
	DisplayName     string
	RemoteAddress   string
	UserAgent       string
	OperatingSystem string
	Version         string
	Role            core.Role

	// Attach runs after the session is persisted and before it is visible
	// to IsClientOnline or any listing. It must not call back into the Store.
	Attach func(core.Session)
}

// Store is the authoritative set of sessions and signaling attempts. Writes
// lock a single record, so traffic on one session never waits on another.
type Store struct {
	records sync.Map

	idxMu    sync.RWMutex
	byClient map[string]map[string]struct{}

	attemptsMu sync.RWMutex
	attempts   []core.SignalingAttempt

	horizonMu sync.RWMutex
	horizon   time.Time

	total   atomic.Int64
	persist core.Persistence
	logger  *slog.Logger
	now     func() time.Time
}

func NewStore(persist core.Persistence, logger *slog.Logger) *Store {
	return &Store{
		byClient: make(map[string]map[string]struct{}),
		persist:  persist,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a Connected session. The persistence write is part of
// the operation: if it fails nothing is indexed and the error is returned.
func (s *Store) Register(ctx context.Context, p RegisterParams) (core.Session, error) {
	now := s.now()
	sess := core.Session{
		ID:              uuid.New().String(),
		ClientID:        p.ClientID,
		DisplayName:     p.DisplayName,
		RemoteAddress:   p.RemoteAddress,
		UserAgent:       p.UserAgent,
		OperatingSystem: p.OperatingSystem,
		Version:         p.Version,
		ConnectedAt:     now,
		LastActivityAt:  now,
		State:           core.StateConnected,
		Role:            p.Role,
	}

	if s.persist != nil {
		if err := s.persist.SaveSession(ctx, sess); err != nil {
			return core.Session{}, fmt.Errorf("register client %s: %w", p.ClientID, err)
		}
	}

	if p.Attach != nil {
		p.Attach(copySession(sess))
	}
	s.records.Store(sess.ID, &record{s: sess})
	s.index(sess.ClientID, sess.ID)
	s.total.Add(1)

	s.logger.Info("session registered",
		"session_id", sess.ID,
		"client_id", sess.ClientID,
		"remote_address", sess.RemoteAddress,
	)
	return copySession(sess), nil
}

func (s *Store) index(clientID, sessionID string) {
	s.idxMu.Lock()
	ids, ok := s.byClient[clientID]
	if !ok {
		ids = make(map[string]struct{})
		s.byClient[clientID] = ids
	}
	ids[sessionID] = struct{}{}
	s.idxMu.Unlock()
}

func (s *Store) unindex(clientID, sessionID string) {
	s.idxMu.Lock()
	if ids, ok := s.byClient[clientID]; ok {
		delete(ids, sessionID)
		if len(ids) == 0 {
			delete(s.byClient, clientID)
		}
	}
	s.idxMu.Unlock()
}

func (s *Store) IsClientOnline(clientID string) bool {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	return len(s.byClient[clientID]) > 0
}

func (s *Store) load(sessionID string) (*record, bool) {
	v, ok := s.records.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*record), true
}

// MarkDisconnected closes a live session. Unknown and already closed
// sessions report false and are left untouched.
func (s *Store) MarkDisconnected(ctx context.Context, sessionID string) (core.Session, bool) {
	rec, ok := s.load(sessionID)
	if !ok {
		return core.Session{}, false
	}

	rec.mu.Lock()
	if rec.s.State == core.StateDisconnected {
		rec.mu.Unlock()
		return core.Session{}, false
	}
	now := s.now()
	rec.s.State = core.StateDisconnected
	rec.s.DisconnectedAt = &now
	rec.s.LastActivityAt = now
	final := copySession(rec.s)
	rec.mu.Unlock()

	s.unindex(final.ClientID, final.ID)

	if s.persist != nil {
		if err := s.persist.SaveSession(ctx, final); err != nil {
			s.logger.Error("persist disconnected session failed", "session_id", final.ID, "error", err)
		}
	}

	s.logger.Info("session disconnected",
		"session_id", final.ID,
		"client_id", final.ClientID,
		"duration", final.Duration().String(),
		"bytes_transferred", final.BytesTransferred(),
	)
	return final, true
}

// Accumulate applies a counter delta to a live session and reports whether
// it was applied.
func (s *Store) Accumulate(sessionID string, t core.Traffic) bool {
	rec, ok := s.load(sessionID)
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.s.State != core.StateConnected {
		return false
	}
	rec.s.BytesReceived += nonNegative(t.BytesIn)
	rec.s.BytesSent += nonNegative(t.BytesOut)
	rec.s.ScreenUpdateCount += nonNegative(t.ScreenUpdates)
	rec.s.InputEventCount += nonNegative(t.InputEvents)
	rec.s.LastActivityAt = s.now()
	return true
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Touch marks activity on a live session without changing counters.
func (s *Store) Touch(sessionID string) bool {
	return s.Accumulate(sessionID, core.Traffic{})
}

func (s *Store) SetGeo(sessionID string, g core.Geo) error {
	rec, ok := s.load(sessionID)
	if !ok {
		return fmt.Errorf("%w: id=%s", core.ErrSessionNotFound, sessionID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.s.Geo != nil {
		return fmt.Errorf("%w: id=%s", core.ErrGeoAlreadySet, sessionID)
	}
	if rec.s.State == core.StateDisconnected {
		return fmt.Errorf("%w: id=%s", core.ErrSessionGone, sessionID)
	}
	rec.s.Geo = &g
	return nil
}

func (s *Store) Get(sessionID string) (core.Session, bool) {
	rec, ok := s.load(sessionID)
	if !ok {
		return core.Session{}, false
	}
	return rec.snapshot(), true
}

// Select returns copies of every session matching pred.
func (s *Store) Select(pred func(core.Session) bool) []core.Session {
	out := make([]core.Session, 0)
	s.records.Range(func(_, v any) bool {
		snap := v.(*record).snapshot()
		if pred == nil || pred(snap) {
			out = append(out, snap)
		}
		return true
	})
	return out
}

func (s *Store) ListActive() []core.Session {
	out := s.Select(core.Session.Active)
	sortNewestFirst(out)
	return out
}

// ListHistory pages through every session, newest first. page is 1-indexed
// and clamped to at least 1, pageSize is clamped to [1,100].
func (s *Store) ListHistory(page, pageSize int) []core.Session {
	page, pageSize = ClampPage(page, pageSize)
	all := s.Select(nil)
	sortNewestFirst(all)

	start := (page - 1) * pageSize
	if start >= len(all) {
		return []core.Session{}
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func sortNewestFirst(ss []core.Session) {
	sort.SliceStable(ss, func(i, j int) bool { return ss[i].ConnectedAt.After(ss[j].ConnectedAt) })
}

// Counts returns the number of live sessions and of sessions ever held.
func (s *Store) Counts() (active, total int) {
	s.idxMu.RLock()
	for _, ids := range s.byClient {
		active += len(ids)
	}
	s.idxMu.RUnlock()
	return active, int(s.total.Load())
}

// RecordAttempt appends to the audit trail. It never fails: a persistence
// error is logged and the in-memory record is kept.
func (s *Store) RecordAttempt(ctx context.Context, a core.SignalingAttempt) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.AttemptTime.IsZero() {
		a.AttemptTime = s.now()
	}

	s.attemptsMu.Lock()
	s.attempts = append(s.attempts, a)
	s.attemptsMu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveAttempt(ctx, a); err != nil {
			s.logger.Error("persist signaling attempt failed",
				"requester_id", a.RequesterID,
				"target_id", a.TargetID,
				"error", err,
			)
		}
	}
}

// Attempts returns the attempts in [from, to].
func (s *Store) Attempts(from, to time.Time) []core.SignalingAttempt {
	s.attemptsMu.RLock()
	defer s.attemptsMu.RUnlock()
	var out []core.SignalingAttempt
	for _, a := range s.attempts {
		if a.AttemptTime.Before(from) || a.AttemptTime.After(to) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Horizon is the instant from which the store holds every session and
// attempt. Older history lives only in persistence. Zero means everything.
func (s *Store) Horizon() time.Time {
	s.horizonMu.RLock()
	defer s.horizonMu.RUnlock()
	return s.horizon
}

func (s *Store) raiseHorizon(t time.Time) {
	s.horizonMu.Lock()
	if t.After(s.horizon) {
		s.horizon = t
	}
	s.horizonMu.Unlock()
}

// Evict drops disconnected sessions and attempts older than before and
// moves the horizon up to it. Active sessions are kept whatever their age.
func (s *Store) Evict(before time.Time) (sessions, attempts int) {
	s.raiseHorizon(before)

	s.records.Range(func(key, value any) bool {
		sess := value.(*record).snapshot()
		if !sess.Active() && sess.ConnectedAt.Before(before) {
			s.records.Delete(key)
			s.total.Add(-1)
			sessions++
		}
		return true
	})

	s.attemptsMu.Lock()
	kept := s.attempts[:0:0]
	for _, a := range s.attempts {
		if a.AttemptTime.Before(before) {
			attempts++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	s.attemptsMu.Unlock()

	if sessions > 0 || attempts > 0 {
		s.logger.Info("session history evicted",
			"before", before.Format(time.RFC3339),
			"sessions", sessions,
			"attempts", attempts,
		)
	}
	return sessions, attempts
}

// Restore loads persisted history. Sessions still marked Connected belong
// to a previous process and are closed at their last recorded activity.
func (s *Store) Restore(ctx context.Context, since time.Time) error {
	if s.persist == nil {
		return nil
	}
	sessions, err := s.persist.LoadSessions(ctx, since)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	closed := 0
	for _, sess := range sessions {
		if _, exists := s.records.Load(sess.ID); exists {
			continue
		}
		if sess.State != core.StateDisconnected {
			at := sess.LastActivityAt
			if at.IsZero() || at.Before(sess.ConnectedAt) {
				at = sess.ConnectedAt
			}
			sess.State = core.StateDisconnected
			sess.DisconnectedAt = &at
			if err := s.persist.SaveSession(ctx, sess); err != nil {
				s.logger.Error("persist recovered session failed", "session_id", sess.ID, "error", err)
			}
			closed++
		}
		s.records.Store(sess.ID, &record{s: sess})
		s.total.Add(1)
	}

	attempts, err := s.persist.LoadAttempts(ctx, since)
	if err != nil {
		return fmt.Errorf("restore attempts: %w", err)
	}
	s.attemptsMu.Lock()
	s.attempts = append(attempts, s.attempts...)
	s.attemptsMu.Unlock()
	s.raiseHorizon(since)

	s.logger.Info("session history restored",
		"sessions", len(sessions),
		"closed_stale", closed,
		"attempts", len(attempts),
	)
	return nil
}

func copySession(s core.Session) core.Session {
	if s.DisconnectedAt != nil {
		t := *s.DisconnectedAt
		s.DisconnectedAt = &t
	}
	if s.Geo != nil {
		g := *s.Geo
		s.Geo = &g
	}
	return s
}
