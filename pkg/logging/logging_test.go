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

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mutex    sync.Mutex
	topics   []string
	payloads [][]byte
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.payloads)
}

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	w := NewMultiWriter(&a, &b)
	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", a.String())
	assert.Equal(t, "hello", b.String())
}

func TestMQTTWriterPublishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := &recordingPublisher{}
	w := NewMQTTWriter(ctx)
	w.SetDestination("/adc/log", pub)
	w.Enable(true)

	buf := []byte("first line")
	_, err := w.Write(buf)
	require.NoError(t, err)
	// Writer must not keep a reference to the caller's buffer
	copy(buf, "XXXXXXXXXX")

	require.Eventually(t, func() bool { return pub.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	pub.mutex.Lock()
	defer pub.mutex.Unlock()
	assert.Equal(t, "/adc/log", pub.topics[0])
	var msg logMsg
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, "first line", msg.Message)
}

func TestMQTTWriterDropsOldestWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Not enabled, so nothing is drained
	w := NewMQTTWriter(ctx)
	droppedBefore := testutil.ToFloat64(droppedLogMessagesTotal)
	for i := 0; i < mqttQueueSize+10; i++ {
		n, err := w.Write([]byte(fmt.Sprintf("line %d", i)))
		require.NoError(t, err)
		assert.Greater(t, n, 0)
	}
	l := w.(*mqttLogger)
	assert.Equal(t, mqttQueueSize, len(l.queue))
	assert.Equal(t, float64(mqttQueueSize), testutil.ToFloat64(queueLengthGauge))
	assert.Equal(t, float64(10), testutil.ToFloat64(droppedLogMessagesTotal)-droppedBefore)

	// The oldest lines were dropped
	assert.Equal(t, "line 10", string(<-l.queue))
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, assert.AnError
}

func TestMultiWriterAddAndErrors(t *testing.T) {
	var a, b bytes.Buffer
	w := NewMultiWriter(&a, failingWriter{})
	w.Add(&b)
	n, err := w.Write([]byte("x"))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, n)
	// Output after the failing writer is still written
	assert.Equal(t, "x", b.String())
	assert.Equal(t, "x", a.String())
}
