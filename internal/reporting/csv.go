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

package reporting

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	connectionsHeader = []string{"ID", "ClientID", "ClientName", "IPAddress", "Country", "ConnectionType", "ConnectedAt", "DisconnectedAt", "Duration", "BytesReceived", "BytesSent", "Status"}
	metricsHeader     = []string{"Timestamp", "CpuUsage", "MemoryUsage", "DiskUsage", "NetworkIn", "NetworkOut", "ActiveConnections", "TotalConnections"}
)

// WriteConnectionsCSV writes sessions connected in [from, to], newest first.
func (s *Service) WriteConnectionsCSV(ctx context.Context, w io.Writer, from, to time.Time) error {
	if err := ValidateRange(from, to); err != nil {
		return err
	}
	conns, err := s.sessionsIn(ctx, from, to)
	if err != nil {
		return err
	}
	sort.SliceStable(conns, func(i, j int) bool { return conns[i].ConnectedAt.After(conns[j].ConnectedAt) })

	cw := csv.NewWriter(w)
	if err := cw.Write(connectionsHeader); err != nil {
		return err
	}
	for _, c := range conns {
		disconnected, duration := "", "N/A"
		if c.DisconnectedAt != nil {
			disconnected = c.DisconnectedAt.UTC().Format(timeLayout)
			duration = formatDuration(c.Duration())
		}
		row := []string{
			c.ID,
			c.ClientID,
			c.DisplayName,
			c.RemoteAddress,
			c.Country(),
			c.Role.String(),
			c.ConnectedAt.UTC().Format(timeLayout),
			disconnected,
			duration,
			strconv.FormatInt(c.BytesReceived, 10),
			strconv.FormatInt(c.BytesSent, 10),
			c.State.String(),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMetricsCSV writes samples taken in [from, to], oldest first.
func (s *Service) WriteMetricsCSV(w io.Writer, from, to time.Time) error {
	if err := ValidateRange(from, to); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(metricsHeader); err != nil {
		return err
	}
	for _, m := range s.samples.MetricsInRange(from, to) {
		row := []string{
			m.Timestamp.UTC().Format(timeLayout),
			strconv.FormatFloat(m.CPUUsage, 'f', -1, 64),
			strconv.FormatFloat(m.MemoryUsage, 'f', -1, 64),
			strconv.FormatFloat(m.DiskUsage, 'f', -1, 64),
			strconv.FormatInt(m.NetworkIn, 10),
			strconv.FormatInt(m.NetworkOut, 10),
			strconv.Itoa(m.ActiveConnections),
			strconv.Itoa(m.TotalConnections),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatDuration renders d as hh:mm:ss. Hours are not wrapped at a day.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}
