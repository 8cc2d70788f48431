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
	"context"
	"io"
	"time"
)

// Entrypoint accepts inbound connections and drives the services with them.
type Entrypoint interface {
	Name() string
	Type() string
	Start(ctx context.Context, services Services) error
	Stop(ctx context.Context) error
}

// EventSink mirrors group broadcasts to an external broker.
type EventSink interface {
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Publish(ctx context.Context, evt Envelope) error
	Disconnect(ctx context.Context) error
}

// Services is everything an entrypoint may call.
type Services struct {
	Signaling  Signaling
	Monitoring Monitoring
	Events     EventHub
}

// Caller identifies the transport connection an operation arrived on.
// SessionID and ClientID are empty until the connection registers.
type Caller struct {
	SubscriberID  string
	SessionID     string
	ClientID      string
	RemoteAddress string
	UserAgent     string
}

type RegisterRequest struct {
	ClientID        string `json:"clientId"`
	Name            string `json:"clientName"`
	OperatingSystem string `json:"operatingSystem"`
	Version         string `json:"version"`
	Role            string `json:"connectionType"`
}

type Registration struct {
	Session                Session `json:"session"`
	ScreenUpdateIntervalMs int     `json:"screenUpdateIntervalMs"`
}

type ConnectionRequest struct {
	TargetClientID string `json:"targetClientId"`
	RequesterID    string `json:"requesterId"`
	RequesterName  string `json:"requesterName"`
}

type ConnectionResponse struct {
	RequesterID string `json:"requesterId"`
	Approved    bool   `json:"approved"`
	Reason      string `json:"reason"`
}

type ScreenFrame struct {
	TargetID string `json:"targetId"`
	Data     []byte `json:"screenData"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type Signaling interface {
	RegisterClient(ctx context.Context, caller Caller, req RegisterRequest) (Registration, error)
	RequestConnection(ctx context.Context, caller Caller, req ConnectionRequest) (bool, error)
	RespondToConnectionRequest(ctx context.Context, caller Caller, resp ConnectionResponse) error
	SendScreenData(ctx context.Context, caller Caller, frame ScreenFrame) error
	SendInputEvent(ctx context.Context, caller Caller, evt InputEvent) error
	Disconnect(ctx context.Context, caller Caller)
}

type Monitoring interface {
	DashboardStats(ctx context.Context) (DashboardStats, error)
	SystemInfo(ctx context.Context) (SystemInfo, error)
	ActiveConnections(ctx context.Context) []Session
	ConnectionHistory(ctx context.Context, page, pageSize int) []Session
	ForceDisconnect(ctx context.Context, sessionID string) (bool, error)
	MetricsInRange(ctx context.Context, from, to time.Time) ([]MetricsSample, error)
	Statistics(ctx context.Context, from, to time.Time) (Statistics, error)
	WriteReport(ctx context.Context, w io.Writer, report, format string, from, to time.Time) error
	AvailableReports() []ReportDescriptor
	Settings(ctx context.Context) ([]Setting, error)
	UpdateSetting(ctx context.Context, key, value, modifiedBy string) (Setting, error)
}

// Transport is the delivery surface the signaling engine writes to.
type Transport interface {
	Send(subscriberID string, evt Envelope) error
	SendToClient(clientID string, evt Envelope) (int, error)
	Broadcast(group string, evt Envelope, exceptSubscriberID string)
	Join(subscriberID, group string)
	Leave(subscriberID, group string)
	Bind(subscriberID, clientID, sessionID string)
	Unbind(subscriberID string)
	SubscriberForSession(sessionID string) (string, bool)
	Close(subscriberID string)
}

// Subscription is one transport connection's outbound queue.
type Subscription interface {
	ID() string
	Events() <-chan Envelope
	Done() <-chan struct{}
}

// EventHub is the subscription side of the fan-out used by entrypoints.
type EventHub interface {
	Subscribe(id string, groups ...string) Subscription
	Unsubscribe(id string)
	Join(subscriberID, group string)
	Leave(subscriberID, group string)
	Send(subscriberID string, evt Envelope) error
}

// Persistence is the durable record of sessions, attempts, samples and
// settings. Loads are used to recover state on startup.
type Persistence interface {
	SaveSession(ctx context.Context, s Session) error
	SaveAttempt(ctx context.Context, a SignalingAttempt) error
	SaveSample(ctx context.Context, m MetricsSample) error
	PurgeSamples(ctx context.Context, before time.Time) (int64, error)
	SaveSetting(ctx context.Context, s Setting) error
	LoadSessions(ctx context.Context, since time.Time) ([]Session, error)
	LoadAttempts(ctx context.Context, since time.Time) ([]SignalingAttempt, error)
	LoadSamples(ctx context.Context, since time.Time) ([]MetricsSample, error)
	LoadSettings(ctx context.Context) ([]Setting, error)
	Close() error
}

type HostProbe interface {
	CPUUsage() (float64, error)
	MemoryUsage() (float64, error)
	DiskUsage() (float64, error)
	NetworkInterfaces() ([]NetworkInterface, error)
	SystemInfo(ctx context.Context) SystemInfo
}

type SettingsReader interface {
	Get(ctx context.Context, key string) (Setting, error)
}

type SettingsStore interface {
	SettingsReader
	List(ctx context.Context) ([]Setting, error)
	Set(ctx context.Context, s Setting) error
	Close() error
}

type GeoLocator interface {
	Locate(remoteAddress string) (Geo, bool)
}
