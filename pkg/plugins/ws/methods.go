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

	"github.com/oliacesso/relay-server/pkg/core"
)

type ack struct {
	OK bool `json:"ok"`
}

type requestResult struct {
	Delivered bool `json:"delivered"`
}

type disconnectResult struct {
	Disconnected bool `json:"disconnected"`
}

type inputParams struct {
	TargetID  string          `json:"targetId"`
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData"`
}

type disconnectParams struct {
	SessionID string `json:"sessionId"`
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: params required", core.ErrInvalidRequest)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	return nil
}

func (c *conn) dispatchRemote(ctx context.Context, req request) (any, error) {
	sig := c.ep.services.Signaling
	switch req.Method {
	case "RegisterClient":
		var p core.RegisterRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		reg, err := sig.RegisterClient(ctx, c.caller, p)
		if err != nil {
			return nil, err
		}
		c.caller.SessionID = reg.Session.ID
		c.caller.ClientID = reg.Session.ClientID
		return reg, nil

	case "RequestConnection":
		var p core.ConnectionRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		delivered, err := sig.RequestConnection(ctx, c.caller, p)
		if err != nil {
			return nil, err
		}
		return requestResult{Delivered: delivered}, nil

	case "RespondToConnectionRequest":
		var p core.ConnectionResponse
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := sig.RespondToConnectionRequest(ctx, c.caller, p); err != nil {
			return nil, err
		}
		return ack{OK: true}, nil

	case "SendScreenData":
		var p core.ScreenFrame
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := sig.SendScreenData(ctx, c.caller, p); err != nil {
			return nil, err
		}
		return ack{OK: true}, nil

	case "SendInputEvent":
		var p inputParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.EventType == "" {
			return nil, fmt.Errorf("%w: eventType is required", core.ErrInvalidRequest)
		}
		err := sig.SendInputEvent(ctx, c.caller, core.NewInputEvent(p.TargetID, p.EventType, p.EventData))
		if err != nil {
			return nil, err
		}
		return ack{OK: true}, nil
	}
	return nil, fmt.Errorf("%w: unknown method %q", core.ErrInvalidRequest, req.Method)
}

// dispatchMonitoring answers dashboard methods. Requested data is pushed
// as an event, the way dashboard clients listen for it.
func (c *conn) dispatchMonitoring(ctx context.Context, req request) (any, error) {
	mon := c.ep.services.Monitoring
	events := c.ep.services.Events
	switch req.Method {
	case "JoinDashboard":
		events.Join(c.caller.SubscriberID, core.GroupDashboard)
		c.logger.Info("dashboard joined")
		return ack{OK: true}, nil

	case "LeaveDashboard":
		events.Leave(c.caller.SubscriberID, core.GroupDashboard)
		c.logger.Info("dashboard left")
		return ack{OK: true}, nil

	case "RequestDashboardUpdate":
		stats, err := mon.DashboardStats(ctx)
		if err != nil {
			return nil, err
		}
		c.push(core.EventDashboardUpdate, stats)
		return ack{OK: true}, nil

	case "RequestSystemInfo":
		info, err := mon.SystemInfo(ctx)
		if err != nil {
			return nil, err
		}
		c.push(core.EventSystemInfo, info)
		return ack{OK: true}, nil

	case "RequestActiveConnections":
		c.push(core.EventActiveConnections, mon.ActiveConnections(ctx))
		return ack{OK: true}, nil

	case "DisconnectClient":
		var p disconnectParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		ok, err := mon.ForceDisconnect(ctx, p.SessionID)
		if err != nil {
			return nil, err
		}
		return disconnectResult{Disconnected: ok}, nil
	}
	return nil, fmt.Errorf("%w: unknown method %q", core.ErrInvalidRequest, req.Method)
}
