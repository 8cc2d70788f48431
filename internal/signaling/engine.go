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

package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oliacesso/relay-server/internal/logging"
	"github.com/oliacesso/relay-server/internal/session"
	"github.com/oliacesso/relay-server/internal/settings"
	"github.com/oliacesso/relay-server/internal/telemetry"
	"github.com/oliacesso/relay-server/pkg/core"
)

const (
	defaultRejectReason  = "connection rejected by user"
	reasonAdminRequest   = "disconnected by administrator"
	reasonIdleTimeout    = "idle timeout"
	changeConnected      = "connected"
	changeDisconnected   = "disconnected"
	defaultMaxConcurrent = 1000
	defaultUpdateMs      = 100
)

// Engine runs the peer signaling protocol on top of the session store and
// delivers its events through a Transport.
type Engine struct {
	store     *session.Store
	transport core.Transport
	settings  core.SettingsReader
	geo       core.GeoLocator
	relayLog  *logging.RelayLogger
	metrics   *telemetry.Instruments
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(store *session.Store, transport core.Transport, settings core.SettingsReader, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		transport: transport,
		settings:  settings,
		metrics:   telemetry.Noop(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ core.Signaling = (*Engine)(nil)

// WithGeoLocator resolves each new session's remote address once.
func (e *Engine) WithGeoLocator(l core.GeoLocator) *Engine {
	e.geo = l
	return e
}

func (e *Engine) WithRelayLogger(l *logging.RelayLogger) *Engine {
	e.relayLog = l
	return e
}

func (e *Engine) WithInstruments(in *telemetry.Instruments) *Engine {
	if in != nil {
		e.metrics = in
	}
	return e
}

func (e *Engine) RegisterClient(ctx context.Context, caller core.Caller, req core.RegisterRequest) (core.Registration, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		return core.Registration{}, fmt.Errorf("%w: clientId is required", core.ErrInvalidRequest)
	}
	if caller.SessionID != "" {
		if s, ok := e.store.Get(caller.SessionID); ok && s.Active() {
			return core.Registration{}, fmt.Errorf("%w: session=%s", core.ErrAlreadyRegistered, caller.SessionID)
		}
	}

	name := req.Name
	if name == "" {
		name = req.ClientID
	}
	sess, err := e.store.Register(ctx, session.RegisterParams{
		ClientID:        req.ClientID,
		DisplayName:     name,
		RemoteAddress:   caller.RemoteAddress,
		UserAgent:       caller.UserAgent,
		OperatingSystem: req.OperatingSystem,
		Version:         req.Version,
		Role:            core.ParseRole(req.Role),
		// Bound before the client shows as online, so a request racing
		// the registration always finds a subscriber.
		Attach: func(s core.Session) {
			e.transport.Bind(caller.SubscriberID, s.ClientID, s.ID)
		},
	})
	if err != nil {
		return core.Registration{}, err
	}
	e.metrics.Registrations.Add(ctx, 1)

	e.transport.Join(caller.SubscriberID, core.GroupPeers)

	if e.geo != nil {
		if g, ok := e.geo.Locate(caller.RemoteAddress); ok {
			if err := e.store.SetGeo(sess.ID, g); err != nil {
				e.logger.Warn("set geo location failed", "session_id", sess.ID, "error", err)
			} else {
				sess.Geo = &g
			}
		}
	}

	e.transport.Broadcast(core.GroupPeers, core.NewEnvelope(core.EventClientConnected, core.ClientConnected{
		SessionID:   sess.ID,
		ClientID:    sess.ClientID,
		ClientName:  sess.DisplayName,
		ConnectedAt: sess.ConnectedAt,
		IPAddress:   sess.RemoteAddress,
	}), caller.SubscriberID)

	active, _ := e.store.Counts()
	e.transport.Broadcast(core.GroupDashboard, core.NewEnvelope(core.EventConnectionUpdate, core.ConnectionUpdate{
		Change:            changeConnected,
		SessionID:         sess.ID,
		ClientID:          sess.ClientID,
		ActiveConnections: active,
	}), "")

	if limit := settings.Int(ctx, e.settings, core.SettingMaxConcurrentConnections, defaultMaxConcurrent); limit > 0 && active > limit {
		e.logger.Warn("active connections above configured maximum",
			"active", active,
			"max", limit,
			"client_id", sess.ClientID,
		)
	}

	return core.Registration{
		Session:                sess,
		ScreenUpdateIntervalMs: settings.Int(ctx, e.settings, core.SettingScreenUpdateIntervalMs, defaultUpdateMs),
	}, nil
}

// RequestConnection forwards a connection request to the target client. An
// offline target is reported to the caller only and returns false.
func (e *Engine) RequestConnection(ctx context.Context, caller core.Caller, req core.ConnectionRequest) (bool, error) {
	if req.TargetClientID == "" {
		return false, fmt.Errorf("%w: targetClientId is required", core.ErrInvalidRequest)
	}
	requesterID := req.RequesterID
	if requesterID == "" {
		requesterID = caller.ClientID
	}
	requesterName := req.RequesterName
	if requesterName == "" {
		if s, ok := e.store.Get(caller.SessionID); ok {
			requesterName = s.DisplayName
		}
	}

	if !e.store.IsClientOnline(req.TargetClientID) {
		e.metrics.ConnectionRequest(ctx, "offline")
		if err := e.transport.Send(caller.SubscriberID, core.NewEnvelope(core.EventConnectionRequestFailed, core.ConnectionRequestFailed{
			TargetID: req.TargetClientID,
			Message:  core.ErrTargetUnreachable.Error(),
		})); err != nil {
			e.logger.Debug("request failure notice not delivered", "subscriber_id", caller.SubscriberID, "error", err)
		}
		return false, nil
	}

	attempt := core.SignalingAttempt{
		RequesterID:   requesterID,
		TargetID:      req.TargetClientID,
		RemoteAddress: caller.RemoteAddress,
		AttemptTime:   e.now(),
		Type:          core.AttemptDirect,
	}

	_, err := e.transport.SendToClient(req.TargetClientID, core.NewEnvelope(core.EventConnectionRequest, core.ConnectionRequestNotice{
		RequesterID:   requesterID,
		RequesterName: requesterName,
		TargetID:      req.TargetClientID,
		RequestTime:   attempt.AttemptTime,
	}))
	if err != nil {
		attempt.ErrorMessage = err.Error()
		e.store.RecordAttempt(ctx, attempt)
		e.metrics.ConnectionRequest(ctx, "failed")
		e.logger.Warn("connection request delivery failed",
			"requester_id", requesterID,
			"target_id", req.TargetClientID,
			"error", err,
		)
		return false, fmt.Errorf("deliver connection request to %s: %w", req.TargetClientID, err)
	}

	attempt.Success = true
	e.store.RecordAttempt(ctx, attempt)
	e.metrics.ConnectionRequest(ctx, "delivered")
	e.logger.Info("connection request sent",
		"requester_id", requesterID,
		"target_id", req.TargetClientID,
	)
	return true, nil
}

func (e *Engine) RespondToConnectionRequest(ctx context.Context, caller core.Caller, resp core.ConnectionResponse) error {
	if caller.ClientID == "" {
		return core.ErrNotRegistered
	}
	if resp.RequesterID == "" {
		return fmt.Errorf("%w: requesterId is required", core.ErrInvalidRequest)
	}

	now := e.now()
	if !resp.Approved {
		reason := resp.Reason
		if reason == "" {
			reason = defaultRejectReason
		}
		e.logger.Info("connection rejected", "requester_id", resp.RequesterID, "target_id", caller.ClientID, "reason", reason)
		return e.sendToRequester(resp.RequesterID, core.NewEnvelope(core.EventConnectionRejected, core.ConnectionRejected{
			RequesterID: resp.RequesterID,
			TargetID:    caller.ClientID,
			Reason:      reason,
			RejectedAt:  now,
		}))
	}

	evt := core.NewEnvelope(core.EventConnectionApproved, core.ConnectionApproved{
		RequesterID: resp.RequesterID,
		TargetID:    caller.ClientID,
		ApprovedAt:  now,
	})
	e.logger.Info("connection approved", "requester_id", resp.RequesterID, "target_id", caller.ClientID)
	if err := e.sendToRequester(resp.RequesterID, evt); err != nil {
		return err
	}
	if _, err := e.transport.SendToClient(caller.ClientID, evt); err != nil {
		e.logger.Debug("approval echo not delivered", "client_id", caller.ClientID, "error", err)
	}
	return nil
}

func (e *Engine) sendToRequester(requesterID string, evt core.Envelope) error {
	_, err := e.transport.SendToClient(requesterID, evt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrNoSubscriber):
		return fmt.Errorf("%w: requester=%s", core.ErrTargetUnreachable, requesterID)
	default:
		return fmt.Errorf("deliver %s to %s: %w", evt.Name, requesterID, err)
	}
}

// liveSession returns the caller's session if it can still relay.
func (e *Engine) liveSession(caller core.Caller) (core.Session, error) {
	if caller.SessionID == "" {
		return core.Session{}, core.ErrNotRegistered
	}
	s, ok := e.store.Get(caller.SessionID)
	if !ok || !s.Active() {
		return core.Session{}, fmt.Errorf("%w: id=%s", core.ErrSessionGone, caller.SessionID)
	}
	return s, nil
}

// relay delivers an addressed payload. No recipient is not an error.
func (e *Engine) relay(targetID string, evt core.Envelope) (int, error) {
	n, err := e.transport.SendToClient(targetID, evt)
	if errors.Is(err, core.ErrNoSubscriber) {
		return 0, nil
	}
	return n, err
}

func (e *Engine) SendScreenData(ctx context.Context, caller core.Caller, frame core.ScreenFrame) error {
	src, err := e.liveSession(caller)
	if err != nil {
		return err
	}
	if frame.TargetID == "" {
		return fmt.Errorf("%w: targetId is required", core.ErrInvalidRequest)
	}

	now := e.now()
	n, err := e.relay(frame.TargetID, core.NewEnvelope(core.EventScreenDataReceived, core.ScreenDataReceived{
		SourceID:   src.ClientID,
		TargetID:   frame.TargetID,
		ScreenData: frame.Data,
		Width:      frame.Width,
		Height:     frame.Height,
		Timestamp:  now,
	}))
	if err != nil {
		return fmt.Errorf("relay screen data: %w", err)
	}

	e.store.Accumulate(src.ID, core.Traffic{BytesOut: int64(len(frame.Data)), ScreenUpdates: 1})
	e.metrics.Frame(ctx, core.EventScreenDataReceived, len(frame.Data))
	e.logRelay(ctx, logging.Frame{
		Event:      core.EventScreenDataReceived,
		SessionID:  src.ID,
		SourceID:   src.ClientID,
		TargetID:   frame.TargetID,
		Size:       len(frame.Data),
		Recipients: n,
		Direction:  logging.DirectionDownstream,
		Timestamp:  now,
	})
	return nil
}

func (e *Engine) SendInputEvent(ctx context.Context, caller core.Caller, in core.InputEvent) error {
	src, err := e.liveSession(caller)
	if err != nil {
		return err
	}
	if in.TargetID == "" {
		return fmt.Errorf("%w: targetId is required", core.ErrInvalidRequest)
	}
	if in.Type == "" && in.Payload == nil {
		return fmt.Errorf("%w: input payload is required", core.ErrInvalidRequest)
	}
	eventType, data, err := in.Wire()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}

	now := e.now()
	n, err := e.relay(in.TargetID, core.NewEnvelope(core.EventInputEventReceived, core.InputEventReceived{
		SourceID:  src.ClientID,
		TargetID:  in.TargetID,
		EventType: eventType,
		EventData: data,
		Timestamp: now,
	}))
	if err != nil {
		return fmt.Errorf("relay input event: %w", err)
	}

	// Input traffic only refreshes activity, it is not counted.
	e.store.Touch(src.ID)
	e.metrics.Frame(ctx, core.EventInputEventReceived, 0)
	e.logRelay(ctx, logging.Frame{
		Event:      core.EventInputEventReceived,
		SessionID:  src.ID,
		SourceID:   src.ClientID,
		TargetID:   in.TargetID,
		Size:       len(data),
		Recipients: n,
		Direction:  logging.DirectionUpstream,
		Timestamp:  now,
	})
	return nil
}

func (e *Engine) logRelay(ctx context.Context, f logging.Frame) {
	if e.relayLog == nil {
		return
	}
	if !settings.Bool(ctx, e.settings, core.SettingEnableLogging, true) {
		return
	}
	e.relayLog.Log(f)
}

// Disconnect tears down the caller's connection. It is safe to call more
// than once; only the first call announces the departure.
func (e *Engine) Disconnect(ctx context.Context, caller core.Caller) {
	e.transport.Leave(caller.SubscriberID, core.GroupPeers)
	e.transport.Unbind(caller.SubscriberID)
	if caller.SessionID == "" {
		return
	}
	e.teardown(ctx, caller.SessionID, caller.SubscriberID)
}

func (e *Engine) teardown(ctx context.Context, sessionID, subscriberID string) bool {
	final, ok := e.store.MarkDisconnected(ctx, sessionID)
	if !ok {
		return false
	}
	e.metrics.Disconnects.Add(ctx, 1)

	e.transport.Broadcast(core.GroupPeers, core.NewEnvelope(core.EventClientDisconnected, core.ClientDisconnected{
		SessionID:      final.ID,
		ClientID:       final.ClientID,
		DisconnectedAt: *final.DisconnectedAt,
	}), subscriberID)

	active, _ := e.store.Counts()
	e.transport.Broadcast(core.GroupDashboard, core.NewEnvelope(core.EventConnectionUpdate, core.ConnectionUpdate{
		Change:            changeDisconnected,
		SessionID:         final.ID,
		ClientID:          final.ClientID,
		ActiveConnections: active,
	}), "")
	return true
}

// ForceDisconnect closes a live session from the server side. Unknown and
// already closed sessions return false.
func (e *Engine) ForceDisconnect(ctx context.Context, sessionID string) (bool, error) {
	return e.forceDisconnect(ctx, sessionID, reasonAdminRequest)
}

// Expire is the idle reaper's teardown.
func (e *Engine) Expire(ctx context.Context, s core.Session) {
	if _, err := e.forceDisconnect(ctx, s.ID, reasonIdleTimeout); err != nil {
		e.logger.Error("expire idle session failed", "session_id", s.ID, "error", err)
	}
}

func (e *Engine) forceDisconnect(ctx context.Context, sessionID, reason string) (bool, error) {
	if sessionID == "" {
		return false, fmt.Errorf("%w: sessionId is required", core.ErrInvalidRequest)
	}
	s, ok := e.store.Get(sessionID)
	if !ok || !s.Active() {
		return false, nil
	}

	subscriberID, bound := e.transport.SubscriberForSession(sessionID)
	if bound {
		if err := e.transport.Send(subscriberID, core.NewEnvelope(core.EventForceDisconnect, core.ForceDisconnect{
			SessionID: sessionID,
			Reason:    reason,
		})); err != nil {
			e.logger.Debug("force disconnect notice not delivered", "session_id", sessionID, "error", err)
		}
		e.transport.Leave(subscriberID, core.GroupPeers)
		e.transport.Unbind(subscriberID)
		e.transport.Close(subscriberID)
	}

	closed := e.teardown(ctx, sessionID, subscriberID)
	e.logger.Info("session force disconnected",
		"session_id", sessionID,
		"client_id", s.ClientID,
		"reason", reason,
		"bound", bound,
	)
	return closed, nil
}
