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

package solace

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"solace.dev/go/messaging"
	"solace.dev/go/messaging/pkg/solace"
	"solace.dev/go/messaging/pkg/solace/config"
	"solace.dev/go/messaging/pkg/solace/resource"

	"github.com/oliacesso/relay-server/pkg/core"
)

const terminateGrace = 5 * time.Second

// Sink publishes each event to <topicPrefix>/<event name> with a single
// long-lived direct publisher.
type Sink struct {
	name        string
	host        string
	vpn         string
	username    string
	password    string
	topicPrefix string
	service     solace.MessagingService
	publisher   solace.DirectMessagePublisher
	mu          sync.Mutex
	logger      *slog.Logger
}

func New(name, host, vpn, username, password, topicPrefix string, logger *slog.Logger) *Sink {
	return &Sink{
		name:        name,
		host:        host,
		vpn:         vpn,
		username:    username,
		password:    password,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		logger:      logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "solace" }

func (s *Sink) Connect(ctx context.Context) error {
	var err error
	s.service, err = messaging.NewMessagingServiceBuilder().
		FromConfigurationProvider(config.ServicePropertyMap{
			config.TransportLayerPropertyHost:                s.host,
			config.ServicePropertyVPNName:                    s.vpn,
			config.AuthenticationPropertySchemeBasicUserName: s.username,
			config.AuthenticationPropertySchemeBasicPassword: s.password,
		}).Build()
	if err != nil {
		return fmt.Errorf("solace build: %w", err)
	}
	if err = s.service.Connect(); err != nil {
		return fmt.Errorf("solace connect: %w", err)
	}
	s.publisher, err = s.service.CreateDirectMessagePublisherBuilder().Build()
	if err != nil {
		s.service.Disconnect()
		return fmt.Errorf("solace publisher build: %w", err)
	}
	if err = s.publisher.Start(); err != nil {
		s.service.Disconnect()
		return fmt.Errorf("solace publisher start: %w", err)
	}
	s.logger.Info("solace sink connected", "name", s.name, "host", s.host)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.publisher != nil {
		s.publisher.Terminate(terminateGrace)
	}
	if s.service != nil {
		return s.service.Disconnect()
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, evt core.Envelope) error {
	if s.publisher == nil {
		return nil
	}
	payload, err := evt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", evt.Name, err)
	}
	msg, err := s.service.MessageBuilder().
		WithApplicationMessageType(evt.Name).
		WithApplicationMessageID(evt.ID).
		BuildWithByteArrayPayload(payload)
	if err != nil {
		return err
	}
	topic := evt.Name
	if s.topicPrefix != "" {
		topic = s.topicPrefix + "/" + evt.Name
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publisher.Publish(msg, resource.TopicOf(topic))
}
