//    Copyright 2024 Ewout Prangsma
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binkynet/ADCWorker/pkg/sampler"
	"github.com/binkynet/ADCWorker/pkg/service/bridge"
)

type recordingPublisher struct {
	mutex    sync.Mutex
	readings []sampler.Reading
}

func (p *recordingPublisher) PublishReading(ctx context.Context, r sampler.Reading) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.readings = append(p.readings, r)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.readings)
}

func newTestService(t *testing.T, cfg Config, pub ReadingPublisher) Service {
	br, err := bridge.NewVirtualBridge(bridge.VirtualConfig{
		Address: 0x48,
		Source:  func() uint16 { return 0x0abc },
	})
	require.NoError(t, err)
	if cfg.Address == 0 {
		cfg.Address = 0x48
	}
	cfg.Sampler.SettleDelay = time.Millisecond
	deps := Dependencies{
		Logger: zerolog.Nop(),
		Bridge: br,
	}
	if pub != nil {
		deps.Publisher = pub
	}
	s, err := NewService(cfg, deps)
	require.NoError(t, err)
	return s
}

func TestServiceSample(t *testing.T) {
	s := newTestService(t, Config{}, nil)
	ctx := context.Background()

	_, found := s.LastReading()
	assert.False(t, found)

	r, err := s.Sample(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xabc0), r.Average)
	assert.Equal(t, sampler.PackedResult{0xc0, 0xab, 0x00, 0x00}, r.Packed)
	assert.Equal(t, sampler.BatchSize, r.Samples)

	last, found := s.LastReading()
	require.True(t, found)
	assert.Equal(t, r, last)

	packed, err := s.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, r.Packed, packed)
}

func TestServiceDeviceFile(t *testing.T) {
	s := newTestService(t, Config{}, nil)
	f := s.Device().Open(context.Background())
	defer f.Close()

	buf := make([]byte, 8)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, sampler.PackedSize, n)
	assert.Equal(t, []byte{0xc0, 0xab, 0x00, 0x00}, buf[:n])
	assert.Equal(t, 1, s.Device().OpenCount())
}

func TestServiceSubscribe(t *testing.T) {
	s := newTestService(t, Config{}, nil)

	var mutex sync.Mutex
	var received []sampler.Reading
	cancel := s.Subscribe(func(r sampler.Reading) {
		mutex.Lock()
		defer mutex.Unlock()
		received = append(received, r)
	})
	defer cancel()

	_, err := s.Sample(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(received) == 1
	}, time.Second*5, time.Millisecond*10)
}

func TestServiceUnsubscribeLeavesOthers(t *testing.T) {
	s := newTestService(t, Config{}, nil)

	var mutex sync.Mutex
	counts := map[string]int{}
	subscriber := func(name string) func(sampler.Reading) {
		return func(sampler.Reading) {
			mutex.Lock()
			defer mutex.Unlock()
			counts[name]++
		}
	}
	count := func(name string) int {
		mutex.Lock()
		defer mutex.Unlock()
		return counts[name]
	}
	cancelA := s.Subscribe(subscriber("a"))
	cancelB := s.Subscribe(subscriber("b"))
	defer cancelB()
	cancelA()

	_, err := s.Sample(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return count("b") == 1 }, time.Second*5, time.Millisecond*10)
	assert.Equal(t, 0, count("a"))

	// Unsubscribing twice is harmless
	cancelA()
	_, err = s.Sample(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return count("b") == 2 }, time.Second*5, time.Millisecond*10)
	assert.Equal(t, 0, count("a"))
}

func TestServiceDetectDevices(t *testing.T) {
	s := newTestService(t, Config{}, nil)
	assert.Equal(t, []string{"0x48"}, s.DetectDevices())
}

func TestServiceRunMonitorPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, Config{PollInterval: time.Millisecond * 5}, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- s.Run(ctx)
	}()

	require.Eventually(t, func() bool { return pub.count() >= 2 }, time.Second*10, time.Millisecond*10)
	_, found := s.LastReading()
	assert.True(t, found)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second * 10):
		t.Fatal("Run did not return")
	}

	// Engine is closed after Run
	_, err := s.Sample(context.Background())
	assert.True(t, errors.Is(err, sampler.ErrClosed))
}

func TestServiceRunFailsWithoutConverter(t *testing.T) {
	s := newTestService(t, Config{Address: 0x49}, nil)
	err := s.Run(context.Background())
	assert.Error(t, err)
}
