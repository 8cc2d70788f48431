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
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oliacesso/relay-server/pkg/core"
)

type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects through the pgx database/sql driver and verifies the
// connection before returning.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Postgres{db: db}, nil
}

const upsertSession = `
INSERT INTO client_sessions (
    id, client_id, client_name, ip_address, user_agent, operating_system, version,
    connected_at, disconnected_at, last_activity_at, status, connection_type,
    bytes_received, bytes_sent, screen_update_count, input_event_count,
    country, city, latitude, longitude
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (id) DO UPDATE SET
    disconnected_at = EXCLUDED.disconnected_at,
    last_activity_at = EXCLUDED.last_activity_at,
    status = EXCLUDED.status,
    bytes_received = EXCLUDED.bytes_received,
    bytes_sent = EXCLUDED.bytes_sent,
    screen_update_count = EXCLUDED.screen_update_count,
    input_event_count = EXCLUDED.input_event_count,
    country = COALESCE(client_sessions.country, EXCLUDED.country),
    city = COALESCE(client_sessions.city, EXCLUDED.city),
    latitude = COALESCE(client_sessions.latitude, EXCLUDED.latitude),
    longitude = COALESCE(client_sessions.longitude, EXCLUDED.longitude)
WHERE client_sessions.status <> 'Disconnected'`

func (p *Postgres) SaveSession(ctx context.Context, s core.Session) error {
	var (
		disconnectedAt sql.NullTime
		country, city  sql.NullString
		lat, lon       sql.NullFloat64
	)
	if s.DisconnectedAt != nil {
		disconnectedAt = sql.NullTime{Time: *s.DisconnectedAt, Valid: true}
	}
	if s.Geo != nil {
		country = sql.NullString{String: s.Geo.Country, Valid: true}
		city = sql.NullString{String: s.Geo.City, Valid: true}
		lat = sql.NullFloat64{Float64: s.Geo.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: s.Geo.Longitude, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, upsertSession,
		s.ID, s.ClientID, s.DisplayName, s.RemoteAddress, s.UserAgent, s.OperatingSystem, s.Version,
		s.ConnectedAt, disconnectedAt, s.LastActivityAt, s.State.String(), s.Role.String(),
		s.BytesReceived, s.BytesSent, s.ScreenUpdateCount, s.InputEventCount,
		country, city, lat, lon,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

func (p *Postgres) SaveAttempt(ctx context.Context, a core.SignalingAttempt) error {
	var msg sql.NullString
	if a.ErrorMessage != "" {
		msg = sql.NullString{String: a.ErrorMessage, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
INSERT INTO signaling_attempts (id, requester_id, target_id, ip_address, attempt_time, success, error_message, attempt_type)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.RequesterID, a.TargetID, a.RemoteAddress, a.AttemptTime, a.Success, msg, a.Type.String(),
	)
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

func (p *Postgres) SaveSample(ctx context.Context, m core.MetricsSample) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO metrics_samples (sampled_at, cpu_usage, memory_usage, disk_usage, network_in, network_out, active_connections, total_connections)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.Timestamp, m.CPUUsage, m.MemoryUsage, m.DiskUsage, m.NetworkIn, m.NetworkOut, m.ActiveConnections, m.TotalConnections,
	)
	if err != nil {
		return fmt.Errorf("save sample: %w", err)
	}
	return nil
}

func (p *Postgres) PurgeSamples(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM metrics_samples WHERE sampled_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge samples: %w", err)
	}
	return res.RowsAffected()
}

func (p *Postgres) SaveSetting(ctx context.Context, s core.Setting) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO server_configuration (key, value, description, last_modified, modified_by)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (key) DO UPDATE SET
    value = EXCLUDED.value,
    description = CASE WHEN EXCLUDED.description = '' THEN server_configuration.description ELSE EXCLUDED.description END,
    last_modified = EXCLUDED.last_modified,
    modified_by = EXCLUDED.modified_by`,
		s.Key, s.Value, s.Description, s.LastModified, s.ModifiedBy,
	)
	if err != nil {
		return fmt.Errorf("save setting %s: %w", s.Key, err)
	}
	return nil
}

func (p *Postgres) LoadSessions(ctx context.Context, since time.Time) ([]core.Session, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, client_id, client_name, ip_address, user_agent, operating_system, version,
       connected_at, disconnected_at, last_activity_at, status, connection_type,
       bytes_received, bytes_sent, screen_update_count, input_event_count,
       country, city, latitude, longitude
FROM client_sessions WHERE connected_at >= $1 ORDER BY connected_at`, since)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	var out []core.Session
	for rows.Next() {
		var (
			s              core.Session
			disconnectedAt sql.NullTime
			status, role   string
			country, city  sql.NullString
			lat, lon       sql.NullFloat64
		)
		if err := rows.Scan(
			&s.ID, &s.ClientID, &s.DisplayName, &s.RemoteAddress, &s.UserAgent, &s.OperatingSystem, &s.Version,
			&s.ConnectedAt, &disconnectedAt, &s.LastActivityAt, &status, &role,
			&s.BytesReceived, &s.BytesSent, &s.ScreenUpdateCount, &s.InputEventCount,
			&country, &city, &lat, &lon,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.State = core.ParseSessionState(status)
		s.Role = core.ParseRole(role)
		if disconnectedAt.Valid {
			t := disconnectedAt.Time
			s.DisconnectedAt = &t
		}
		if country.Valid {
			s.Geo = &core.Geo{Country: country.String, City: city.String, Latitude: lat.Float64, Longitude: lon.Float64}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) LoadAttempts(ctx context.Context, since time.Time) ([]core.SignalingAttempt, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, requester_id, target_id, ip_address, attempt_time, success, error_message, attempt_type
FROM signaling_attempts WHERE attempt_time >= $1 ORDER BY attempt_time`, since)
	if err != nil {
		return nil, fmt.Errorf("load attempts: %w", err)
	}
	defer rows.Close()

	var out []core.SignalingAttempt
	for rows.Next() {
		var (
			a   core.SignalingAttempt
			msg sql.NullString
			typ string
		)
		if err := rows.Scan(&a.ID, &a.RequesterID, &a.TargetID, &a.RemoteAddress, &a.AttemptTime, &a.Success, &msg, &typ); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.ErrorMessage = msg.String
		a.Type = core.ParseAttemptType(typ)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) LoadSamples(ctx context.Context, since time.Time) ([]core.MetricsSample, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT sampled_at, cpu_usage, memory_usage, disk_usage, network_in, network_out, active_connections, total_connections
FROM metrics_samples WHERE sampled_at >= $1 ORDER BY sampled_at`, since)
	if err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	defer rows.Close()

	var out []core.MetricsSample
	for rows.Next() {
		var m core.MetricsSample
		if err := rows.Scan(&m.Timestamp, &m.CPUUsage, &m.MemoryUsage, &m.DiskUsage, &m.NetworkIn, &m.NetworkOut, &m.ActiveConnections, &m.TotalConnections); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) LoadSettings(ctx context.Context) ([]core.Setting, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key, value, description, last_modified, modified_by FROM server_configuration`)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	var out []core.Setting
	for rows.Next() {
		var s core.Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.Description, &s.LastModified, &s.ModifiedBy); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
