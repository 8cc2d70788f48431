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

package logging

import (
	"log/slog"
	"time"
)

const (
	DirectionUpstream   = "upstream"
	DirectionDownstream = "downstream"
)

// Frame describes one relayed payload.
type Frame struct {
	Event      string
	SessionID  string
	SourceID   string
	TargetID   string
	Size       int
	Recipients int
	Direction  string
	Timestamp  time.Time
}

type RelayLogger struct {
	logger *slog.Logger
}

func NewRelayLogger(logger *slog.Logger) *RelayLogger {
	return &RelayLogger{logger: logger}
}

func (r *RelayLogger) Log(f Frame) {
	r.logger.Info("relay",
		"event", f.Event,
		"session_id", f.SessionID,
		"source_id", f.SourceID,
		"target_id", f.TargetID,
		"payload_size", f.Size,
		"recipients", f.Recipients,
		"direction", f.Direction,
		"timestamp", f.Timestamp,
	)
}
