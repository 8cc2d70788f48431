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

import "time"

type SessionState int

const (
	StateConnecting SessionState = iota
	StateConnected
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionState) UnmarshalText(b []byte) error {
	*s = ParseSessionState(string(b))
	return nil
}

func ParseSessionState(s string) SessionState {
	switch s {
	case "Connecting":
		return StateConnecting
	case "Disconnected":
		return StateDisconnected
	default:
		return StateConnected
	}
}

type Role int

const (
	RoleHost Role = iota
	RoleViewer
)

func (r Role) String() string {
	if r == RoleViewer {
		return "Viewer"
	}
	return "Host"
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	*r = ParseRole(string(b))
	return nil
}

// ParseRole defaults to RoleHost for anything it does not recognise.
func ParseRole(s string) Role {
	if s == "Viewer" || s == "viewer" {
		return RoleViewer
	}
	return RoleHost
}

type AttemptType int

const (
	AttemptDirect AttemptType = iota
	AttemptInvitation
	AttemptAuto
)

func (a AttemptType) String() string {
	switch a {
	case AttemptInvitation:
		return "Invitation"
	case AttemptAuto:
		return "Auto"
	default:
		return "Direct"
	}
}

func (a AttemptType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AttemptType) UnmarshalText(b []byte) error {
	*a = ParseAttemptType(string(b))
	return nil
}

func ParseAttemptType(s string) AttemptType {
	switch s {
	case "Invitation":
		return AttemptInvitation
	case "Auto":
		return AttemptAuto
	default:
		return AttemptDirect
	}
}

type Geo struct {
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Session is one registered peer's connection record. Once State is
// StateDisconnected the record never changes again.
type Session struct {
	ID                string       `json:"sessionId"`
	ClientID          string       `json:"clientId"`
	DisplayName       string       `json:"clientName"`
	RemoteAddress     string       `json:"ipAddress"`
	UserAgent         string       `json:"userAgent"`
	OperatingSystem   string       `json:"operatingSystem,omitempty"`
	Version           string       `json:"version,omitempty"`
	ConnectedAt       time.Time    `json:"connectedAt"`
	DisconnectedAt    *time.Time   `json:"disconnectedAt,omitempty"`
	LastActivityAt    time.Time    `json:"lastActivityAt"`
	State             SessionState `json:"status"`
	Role              Role         `json:"connectionType"`
	BytesReceived     int64        `json:"bytesReceived"`
	BytesSent         int64        `json:"bytesSent"`
	ScreenUpdateCount int64        `json:"screenUpdateCount"`
	InputEventCount   int64        `json:"inputEventCount"`
	Geo               *Geo         `json:"geo,omitempty"`
}

func (s Session) Active() bool {
	return s.State == StateConnected
}

// Duration is zero while the session is still open.
func (s Session) Duration() time.Duration {
	if s.DisconnectedAt == nil {
		return 0
	}
	return s.DisconnectedAt.Sub(s.ConnectedAt)
}

func (s Session) BytesTransferred() int64 {
	return s.BytesReceived + s.BytesSent
}

func (s Session) Country() string {
	if s.Geo == nil {
		return ""
	}
	return s.Geo.Country
}

// Traffic is a counter delta applied to a live session.
type Traffic struct {
	BytesIn       int64
	BytesOut      int64
	ScreenUpdates int64
	InputEvents   int64
}

type SignalingAttempt struct {
	ID            string      `json:"id"`
	RequesterID   string      `json:"requesterId"`
	TargetID      string      `json:"targetId"`
	RemoteAddress string      `json:"ipAddress"`
	AttemptTime   time.Time   `json:"attemptTime"`
	Success       bool        `json:"success"`
	ErrorMessage  string      `json:"errorMessage,omitempty"`
	Type          AttemptType `json:"attemptType"`
}

type MetricsSample struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUUsage          float64   `json:"cpuUsage"`
	MemoryUsage       float64   `json:"memoryUsage"`
	DiskUsage         float64   `json:"diskUsage"`
	NetworkIn         int64     `json:"networkIn"`
	NetworkOut        int64     `json:"networkOut"`
	ActiveConnections int       `json:"activeConnections"`
	TotalConnections  int       `json:"totalConnections"`
}

type Setting struct {
	Key          string    `json:"key"`
	Value        string    `json:"value"`
	Description  string    `json:"description"`
	LastModified time.Time `json:"lastModified"`
	ModifiedBy   string    `json:"modifiedBy"`
}

const (
	SettingMaxConcurrentConnections = "MaxConcurrentConnections"
	SettingClientTimeoutMinutes     = "ClientTimeoutMinutes"
	SettingScreenUpdateIntervalMs   = "ScreenUpdateIntervalMs"
	SettingEnableLogging            = "EnableLogging"
)

// DefaultSettings is the seed applied to an empty settings store.
func DefaultSettings(now time.Time) []Setting {
	return []Setting{
		{Key: SettingMaxConcurrentConnections, Value: "1000", Description: "Maximum number of simultaneous connections", LastModified: now, ModifiedBy: "system"},
		{Key: SettingClientTimeoutMinutes, Value: "30", Description: "Idle minutes before a client is disconnected", LastModified: now, ModifiedBy: "system"},
		{Key: SettingScreenUpdateIntervalMs, Value: "100", Description: "Screen update interval hint in milliseconds", LastModified: now, ModifiedBy: "system"},
		{Key: SettingEnableLogging, Value: "true", Description: "Log relay traffic", LastModified: now, ModifiedBy: "system"},
	}
}

type NetworkInterface struct {
	Name     string `json:"name"`
	IP       string `json:"ipAddress"`
	BytesIn  int64  `json:"bytesReceived"`
	BytesOut int64  `json:"bytesSent"`
	Active   bool   `json:"isActive"`
}

type SystemInfo struct {
	ServerName        string             `json:"serverName"`
	OperatingSystem   string             `json:"operatingSystem"`
	Architecture      string             `json:"architecture"`
	RuntimeVersion    string             `json:"runtimeVersion"`
	ProcessorCount    int                `json:"processorCount"`
	CPUUsage          float64            `json:"cpuUsage"`
	MemoryUsage       float64            `json:"memoryUsage"`
	DiskUsage         float64            `json:"diskUsage"`
	UptimeSeconds     int64              `json:"uptimeSeconds"`
	StartedAt         time.Time          `json:"startedAt"`
	NetworkInterfaces []NetworkInterface `json:"networkInterfaces"`
}

type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type CountryShare struct {
	Country    string  `json:"country"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type DashboardStats struct {
	ActiveConnections     int            `json:"activeConnections"`
	TotalConnectionsToday int            `json:"totalConnectionsToday"`
	TotalConnectionsWeek  int            `json:"totalConnectionsWeek"`
	TotalConnectionsMonth int            `json:"totalConnectionsMonth"`
	CPUUsage              float64        `json:"cpuUsage"`
	MemoryUsage           float64        `json:"memoryUsage"`
	NetworkUsage          int64          `json:"networkUsage"`
	ConnectionsByHour     []HourCount    `json:"connectionsByHour"`
	TopCountries          []CountryShare `json:"topCountries"`
}

type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Statistics struct {
	Period struct {
		From time.Time `json:"from"`
		To   time.Time `json:"to"`
	} `json:"period"`
	Connections struct {
		Total                 int     `json:"total"`
		Successful            int     `json:"successful"`
		SuccessRate           float64 `json:"successRate"`
		AverageSessionMinutes float64 `json:"avgSessionDuration"`
		TotalBytesTransferred int64   `json:"totalDataTransferred"`
	} `json:"connections"`
	Attempts struct {
		Total       int     `json:"total"`
		Successful  int     `json:"successful"`
		SuccessRate float64 `json:"successRate"`
	} `json:"attempts"`
	Geography struct {
		TopCountries    []CountryCount `json:"topCountries"`
		UniqueCountries int            `json:"uniqueCountries"`
	} `json:"geography"`
	Timeline struct {
		ConnectionsByDay []DayCount `json:"connectionsByDay"`
	} `json:"timeline"`
	Performance struct {
		AverageCPUUsage          float64 `json:"avgCpuUsage"`
		AverageMemoryUsage       float64 `json:"avgMemoryUsage"`
		MaxConcurrentConnections int     `json:"maxConcurrentConnections"`
	} `json:"performance"`
}

type ReportDescriptor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Formats     []string `json:"formats"`
	Endpoint    string   `json:"endpoint"`
}
