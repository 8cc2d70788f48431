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

package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/oliacesso/relay-server"

// Instruments are the counters the signaling engine records into.
type Instruments struct {
	Registrations      metric.Int64Counter
	Disconnects        metric.Int64Counter
	ConnectionRequests metric.Int64Counter
	RelayFrames        metric.Int64Counter
	RelayBytes         metric.Int64Counter
}

func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	m := mp.Meter(meterName)
	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}

	in := &Instruments{
		Registrations:      counter("relay.sessions.registered", "Client sessions registered", "{session}"),
		Disconnects:        counter("relay.sessions.disconnected", "Client sessions closed", "{session}"),
		ConnectionRequests: counter("relay.connection_requests", "Connection requests by outcome", "{request}"),
		RelayFrames:        counter("relay.frames", "Relayed screen and input frames", "{frame}"),
		RelayBytes:         counter("relay.bytes", "Relayed screen payload bytes", "By"),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return in, nil
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	in, _ := NewInstruments(noop.NewMeterProvider())
	return in
}

func (in *Instruments) ConnectionRequest(ctx context.Context, outcome string) {
	in.ConnectionRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (in *Instruments) Frame(ctx context.Context, event string, bytes int) {
	attrs := metric.WithAttributes(attribute.String("event", event))
	in.RelayFrames.Add(ctx, 1, attrs)
	if bytes > 0 {
		in.RelayBytes.Add(ctx, int64(bytes), attrs)
	}
}

// Gauges registers observable gauges for values owned by other components.
// The callbacks run on each collection.
type Gauges struct {
	ActiveSessions func() int64
	DroppedEvents  func() int64
	CPUUsage       func() float64
	MemoryUsage    func() float64
}

func RegisterGauges(mp metric.MeterProvider, g Gauges) (metric.Registration, error) {
	m := mp.Meter(meterName)
	active, err := m.Int64ObservableGauge("relay.sessions.active", metric.WithDescription("Live client sessions"))
	if err != nil {
		return nil, err
	}
	dropped, err := m.Int64ObservableCounter("relay.events.dropped", metric.WithDescription("Events dropped on full subscriber queues"))
	if err != nil {
		return nil, err
	}
	cpu, err := m.Float64ObservableGauge("relay.host.cpu_usage", metric.WithUnit("%"))
	if err != nil {
		return nil, err
	}
	mem, err := m.Float64ObservableGauge("relay.host.memory_usage", metric.WithUnit("%"))
	if err != nil {
		return nil, err
	}

	return m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if g.ActiveSessions != nil {
			o.ObserveInt64(active, g.ActiveSessions())
		}
		if g.DroppedEvents != nil {
			o.ObserveInt64(dropped, g.DroppedEvents())
		}
		if g.CPUUsage != nil {
			o.ObserveFloat64(cpu, g.CPUUsage())
		}
		if g.MemoryUsage != nil {
			o.ObserveFloat64(mem, g.MemoryUsage())
		}
		return nil
	}, active, dropped, cpu, mem)
}
