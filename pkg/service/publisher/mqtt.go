// Copyright 2024 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/binkynet/ADCWorker/pkg/sampler"
)

const (
	mqttConnectTimeout = time.Second * 5
	mqttPublishTimeout = time.Millisecond * 200
	mqttQosDefault     = 0
)

// Config of the MQTT publisher.
type Config struct {
	// Broker address (host:port)
	Broker   string
	ClientID string
	// Topic readings are published on
	Topic string
}

// Publisher publishes raw payloads on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MQTT publishes readings to an MQTT broker.
type MQTT struct {
	Config
	log zerolog.Logger

	mutex  sync.Mutex
	client mqttapi.Client
}

var _ Publisher = &MQTT{}

// NewMQTT creates a new MQTT publisher. It is not connected yet.
func NewMQTT(cfg Config, log zerolog.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	return &MQTT{
		Config: cfg,
		log:    log.With().Str("component", "mqtt-publisher").Logger(),
	}, nil
}

// Connect to the broker.
func (p *MQTT) Connect(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.client != nil {
		return nil
	}
	opts := mqttapi.NewClientOptions().
		AddBroker("tcp://" + p.Broker).
		SetClientID(p.ClientID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(c mqttapi.Client, err error) {
		p.log.Warn().Err(err).Msg("Lost connection to MQTT broker")
	})

	client := mqttapi.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to mqtt: %w", err)
		}
	case <-time.After(mqttConnectTimeout):
		return errors.Errorf("connect to mqtt broker %s timed out", p.Broker)
	case <-ctx.Done():
		return ctx.Err()
	}
	p.client = client
	p.log.Info().Str("broker", p.Broker).Msg("Connected to MQTT broker")
	return nil
}

// Publish the given payload on the given topic.
func (p *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mutex.Lock()
	client := p.client
	p.mutex.Unlock()

	if client == nil {
		return errors.New("not connected")
	}
	token := client.Publish(topic, mqttQosDefault, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			publishErrorsTotal.Inc()
			return errors.Wrapf(err, "publish on '%s' failed", topic)
		}
	case <-time.After(mqttPublishTimeout):
		publishErrorsTotal.Inc()
		return errors.Errorf("failed to deliver message on '%s' in time", topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	publishedTotal.Inc()
	return nil
}

// PublishReading publishes the given reading as JSON on the configured topic.
func (p *MQTT) PublishReading(ctx context.Context, r sampler.Reading) error {
	encoded, err := json.Marshal(r.Message())
	if err != nil {
		return errors.Wrap(err, "failed to encode reading")
	}
	return p.Publish(ctx, p.Topic, encoded)
}

// Close disconnects from the broker.
func (p *MQTT) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.client != nil {
		p.client.Disconnect(250)
		p.client = nil
	}
}
