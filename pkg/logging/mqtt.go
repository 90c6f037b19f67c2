// Copyright 2018 Ewout Prangsma
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

package logging

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type MQTTWriter interface {
	io.Writer
	Enable(enable bool)
	SetDestination(topic string, publisher Publisher)
}

type mqttLogger struct {
	mutex     sync.Mutex
	queue     chan []byte
	topic     string
	publisher Publisher
	enable    bool
}

const (
	mqttQueueSize        = 512
	mqttMaxWriteAttempts = 10
)

// NewMQTTWriter creates a new MQTT output for logs.
// The MQTT sender is closed when the given context is canceled.
func NewMQTTWriter(ctx context.Context) MQTTWriter {
	l := &mqttLogger{
		queue: make(chan []byte, mqttQueueSize),
	}
	go l.run(ctx)
	return l
}

// Write queues a copy of p for publication.
// When the queue is full, the oldest queued messages are dropped to
// make room; Write never blocks on the broker.
func (l *mqttLogger) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	// Caller may reuse p
	msg := append([]byte(nil), p...)
	for attempt := 0; attempt < mqttMaxWriteAttempts; attempt++ {
		select {
		case l.queue <- msg:
			queueLengthGauge.Set(float64(len(l.queue)))
			return len(p), nil
		default:
		}
		l.dropOldest()
	}
	// Other writers keep filling the queue; lose this message instead
	droppedLogMessagesTotal.Inc()
	return len(p), nil
}

// dropOldest removes the oldest queued message (if any).
func (l *mqttLogger) dropOldest() {
	select {
	case <-l.queue:
		droppedLogMessagesTotal.Inc()
	default:
		// Drained by the sender in the meantime
	}
}

func (l *mqttLogger) Enable(enable bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.enable = enable
}

func (l *mqttLogger) SetDestination(topic string, publisher Publisher) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.topic = topic
	l.publisher = publisher
}

type logMsg struct {
	Message string `json:"message"`
}

func (l *mqttLogger) run(ctx context.Context) {
	for {
		l.mutex.Lock()
		publisher := l.publisher
		topic := l.topic
		enabled := l.enable
		l.mutex.Unlock()

		if enabled && topic != "" && publisher != nil {
			select {
			case msg := <-l.queue:
				queueLengthGauge.Set(float64(len(l.queue)))
				if encoded, err := json.Marshal(logMsg{Message: string(msg)}); err == nil {
					// Ignore errors; there is nowhere to log them
					publisher.Publish(ctx, topic, encoded)
				}
			case <-ctx.Done():
				return
			}
		} else {
			select {
			case <-time.After(time.Second):
				// Continue
			case <-ctx.Done():
				return
			}
		}
	}
}
