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

package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	GroupPeers     = "peers"
	GroupDashboard = "dashboard"
)

const (
	EventClientConnected         = "ClientConnected"
	EventClientDisconnected      = "ClientDisconnected"
	EventConnectionUpdate        = "ConnectionUpdate"
	EventConnectionRequest       = "ConnectionRequest"
	EventConnectionRequestFailed = "ConnectionRequestFailed"
	EventConnectionApproved      = "ConnectionApproved"
	EventConnectionRejected      = "ConnectionRejected"
	EventScreenDataReceived      = "ScreenDataReceived"
	EventInputEventReceived      = "InputEventReceived"
	EventForceDisconnect         = "ForceDisconnect"
	EventDashboardUpdate         = "DashboardUpdate"
	EventSystemInfo              = "SystemInfo"
	EventActiveConnections       = "ActiveConnections"
	EventError                   = "Error"
)

// Envelope is one named event on its way to a subscriber or sink.
type Envelope struct {
	ID        string    `json:"id"`
	Name      string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEnvelope(name string, data any) Envelope {
	return Envelope{
		ID:        uuid.New().String(),
		Name:      name,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// IsRelay reports whether the envelope carries peer-to-peer payload that must
// only ever be addressed, never broadcast or bridged.
func (e Envelope) IsRelay() bool {
	return e.Name == EventScreenDataReceived || e.Name == EventInputEventReceived
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

type ClientConnected struct {
	SessionID   string    `json:"sessionId"`
	ClientID    string    `json:"clientId"`
	ClientName  string    `json:"clientName"`
	ConnectedAt time.Time `json:"connectedAt"`
	IPAddress   string    `json:"ipAddress"`
}

type ClientDisconnected struct {
	SessionID      string    `json:"sessionId"`
	ClientID       string    `json:"clientId"`
	DisconnectedAt time.Time `json:"disconnectedAt"`
}

type ConnectionUpdate struct {
	Change            string `json:"change"`
	SessionID         string `json:"sessionId"`
	ClientID          string `json:"clientId"`
	ActiveConnections int    `json:"activeConnections"`
}

type ConnectionRequestNotice struct {
	RequesterID   string    `json:"requesterId"`
	RequesterName string    `json:"requesterName"`
	TargetID      string    `json:"targetId"`
	RequestTime   time.Time `json:"requestTime"`
}

type ConnectionRequestFailed struct {
	TargetID string `json:"targetId"`
	Message  string `json:"message"`
}

type ConnectionApproved struct {
	RequesterID string    `json:"requesterId"`
	TargetID    string    `json:"targetId"`
	ApprovedAt  time.Time `json:"approvedAt"`
}

type ConnectionRejected struct {
	RequesterID string    `json:"requesterId"`
	TargetID    string    `json:"targetId"`
	Reason      string    `json:"reason"`
	RejectedAt  time.Time `json:"rejectedAt"`
}

type ScreenDataReceived struct {
	SourceID   string    `json:"sourceId"`
	TargetID   string    `json:"targetId"`
	ScreenData []byte    `json:"screenData"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Timestamp  time.Time `json:"timestamp"`
}

type InputEventReceived struct {
	SourceID  string          `json:"sourceId"`
	TargetID  string          `json:"targetId"`
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData"`
	Timestamp time.Time       `json:"timestamp"`
}

type ForceDisconnect struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type ErrorEvent struct {
	Method string `json:"method,omitempty"`
	Failure
}
