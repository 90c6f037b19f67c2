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

package sampler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedConverter returns a fixed list of responses (cycled) and
// records all commands it receives.
type scriptedConverter struct {
	mutex      sync.Mutex
	responses  [][2]byte
	next       int
	starts     int
	reads      int
	powerDowns int
	// If set, called before every command; a non-nil error fails it.
	hook func(step Step, call int) error
}

func (c *scriptedConverter) StartConversion(ctx context.Context) error {
	c.mutex.Lock()
	c.starts++
	call, hook := c.starts, c.hook
	c.mutex.Unlock()
	if hook != nil {
		return hook(StepStart, call)
	}
	return nil
}

func (c *scriptedConverter) ReadConversion(ctx context.Context) ([2]byte, error) {
	c.mutex.Lock()
	c.reads++
	call, hook := c.reads, c.hook
	c.mutex.Unlock()
	if hook != nil {
		if err := hook(StepReceive, call); err != nil {
			return [2]byte{}, err
		}
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	r := c.responses[c.next%len(c.responses)]
	c.next++
	return r, nil
}

func (c *scriptedConverter) PowerDown(ctx context.Context) error {
	c.mutex.Lock()
	c.powerDowns++
	call, hook := c.powerDowns, c.hook
	c.mutex.Unlock()
	if hook != nil {
		return hook(StepPowerDown, call)
	}
	return nil
}

func (c *scriptedConverter) counts() (int, int, int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.starts, c.reads, c.powerDowns
}

var noWait = WaitFunc(func(ctx context.Context) error { return ctx.Err() })

func newTestEngine(t *testing.T, cfg Config, conv Converter, wait WaitStrategy) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, Dependencies{
		Log:       zerolog.Nop(),
		Converter: conv,
		Wait:      wait,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestAcquireConstantSamples(t *testing.T) {
	conv := &scriptedConverter{responses: [][2]byte{{0x01, 0x00}}}
	e := newTestEngine(t, Config{}, conv, noWait)

	r, err := e.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(256), r.Average)
	assert.Equal(t, PackedResult{0x00, 0x01, 0x00, 0x00}, r.Packed)
	assert.Equal(t, BatchSize, r.Samples)

	starts, reads, powerDowns := conv.counts()
	assert.Equal(t, BatchSize, starts)
	assert.Equal(t, BatchSize, reads)
	assert.Equal(t, BatchSize, powerDowns)
}

func TestAcquireAlternatingSamples(t *testing.T) {
	conv := &scriptedConverter{responses: [][2]byte{{0x00, 0xFF}, {0x01, 0x00}}}
	e := newTestEngine(t, Config{}, conv, noWait)

	p, err := e.Acquire(context.Background())
	require.NoError(t, err)
	// 10 x 255 + 10 x 256 = 5110, 5110 / 20 = 255 (truncated)
	assert.Equal(t, PackedResult{0xFF, 0x00, 0x00, 0x00}, p)
	assert.Equal(t, uint32(255), p.Value())
}

func TestAcquireIsTruncatedAverage(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		samples := make([]uint16, BatchSize)
		for j := range samples {
			samples[j] = uint16(rnd.Intn(1 << 16))
		}
		responses := lo.Map(samples, func(s uint16, _ int) [2]byte {
			return [2]byte{byte(s >> 8), byte(s)}
		})
		sum := lo.SumBy(samples, func(s uint16) uint32 { return uint32(s) })

		conv := &scriptedConverter{responses: responses}
		e := newTestEngine(t, Config{}, conv, noWait)
		p, err := e.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Pack(sum/BatchSize), p, "samples %v", samples)
	}
}

func TestAcquireIsIdempotent(t *testing.T) {
	responses := [][2]byte{{0x0A, 0xB0}, {0x0A, 0xC0}, {0x0B, 0x00}, {0x09, 0xF0}}
	conv := &scriptedConverter{responses: responses}
	e := newTestEngine(t, Config{}, conv, noWait)

	first, err := e.Acquire(context.Background())
	require.NoError(t, err)
	second, err := e.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	starts, _, powerDowns := conv.counts()
	assert.Equal(t, 2*BatchSize, starts)
	assert.Equal(t, 2*BatchSize, powerDowns)
}

func TestAcquireRetriesFailedCycle(t *testing.T) {
	conv := &scriptedConverter{responses: [][2]byte{{0x01, 0x00}}}
	conv.hook = func(step Step, call int) error {
		if step == StepReceive && call == 4 {
			return errors.New("nack")
		}
		return nil
	}
	e := newTestEngine(t, Config{}, conv, noWait)

	p, err := e.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PackedResult{0x00, 0x01, 0x00, 0x00}, p)

	// One extra cycle; the failed receive is followed by a power-down.
	starts, reads, powerDowns := conv.counts()
	assert.Equal(t, BatchSize+1, starts)
	assert.Equal(t, BatchSize+1, reads)
	assert.Equal(t, BatchSize+1, powerDowns)
}

func TestAcquireAbortsAfterMaxAttempts(t *testing.T) {
	busErr := errors.New("bus stuck")
	conv := &scriptedConverter{responses: [][2]byte{{0x01, 0x00}}}
	conv.hook = func(step Step, call int) error {
		if step == StepStart && call > 5 {
			return busErr
		}
		return nil
	}
	e := newTestEngine(t, Config{MaxCycleAttempts: 2}, conv, noWait)

	_, err := e.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, busErr)
	assert.True(t, IsTransportFailure(err))

	var ae *AcquisitionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 5, ae.Completed)
	assert.Equal(t, StepStart, ae.Last.Step)
	assert.Equal(t, 5, ae.Last.Cycle)
	assert.Equal(t, 2, ae.Last.Attempt)

	starts, reads, powerDowns := conv.counts()
	assert.Equal(t, 7, starts)
	assert.Equal(t, 5, reads)
	assert.Equal(t, 5, powerDowns)
}

func TestAcquireFailedPowerDownIsRetried(t *testing.T) {
	conv := &scriptedConverter{responses: [][2]byte{{0x00, 0x10}}}
	conv.hook = func(step Step, call int) error {
		if step == StepPowerDown && call == 1 {
			return errors.New("nack")
		}
		return nil
	}
	e := newTestEngine(t, Config{}, conv, noWait)

	r, err := e.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(0x10), r.Average)
	_, reads, _ := conv.counts()
	assert.Equal(t, BatchSize+1, reads)
}

func TestAcquireRejectsOverlap(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	conv := &scriptedConverter{responses: [][2]byte{{0x01, 0x00}}}
	conv.hook = func(step Step, call int) error {
		if step == StepStart && call == 1 {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	}
	e := newTestEngine(t, Config{Overlap: OverlapReject}, conv, noWait)

	done := make(chan error, 1)
	go func() {
		_, err := e.Acquire(context.Background())
		done <- err
	}()
	<-entered

	_, err := e.Acquire(context.Background())
	assert.True(t, IsBusy(err))

	close(release)
	require.NoError(t, <-done)

	// Engine is available again
	_, err = e.Acquire(context.Background())
	assert.NoError(t, err)
}

func TestAcquireAfterCloseWithRejectOverlap(t *testing.T) {
	conv := &scriptedConverter{responses: [][2]byte{{0x01, 0x00}}}
	e := newTestEngine(t, Config{Overlap: OverlapReject}, conv, noWait)
	require.NoError(t, e.Close())

	// Close holds the engine lock; that must not look like a busy engine
	err := e.lock(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
	assert.False(t, IsBusy(err))

	_, err = e.Acquire(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
	assert.False(t, IsBusy(err))
	starts, _, _ := conv.counts()
	assert.Equal(t, 0, starts)
}

func TestAcquireSerializesOverlap(t *testing.T) {
	var active, maxActive int
	var mutex sync.Mutex
	wait := WaitFunc(func(ctx context.Context) error {
		mutex.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mutex.Unlock()
		time.Sleep(time.Millisecond)
		mutex.Lock()
		active--
		mutex.Unlock()
		return nil
	})
	conv := &scriptedConverter{responses: [][2]byte{{0x02, 0x00}}}
	e := newTestEngine(t, Config{}, conv, wait)

	var wg sync.WaitGroup
	results := make([]PackedResult, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := e.Acquire(context.Background())
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	for _, p := range results {
		assert.Equal(t, PackedResult{0x00, 0x02, 0x00, 0x00}, p)
	}
	starts, _, _ := conv.counts()
	assert.Equal(t, 3*BatchSize, starts)
}

func TestFixedDelayHoldsBackReceive(t *testing.T) {
	const delay = 5 * time.Millisecond
	var lastStart time.Time
	var gaps []time.Duration
	conv := &scriptedConverter{responses: [][2]byte{{0x01, 0x00}}}
	conv.hook = func(step Step, call int) error {
		switch step {
		case StepStart:
			lastStart = time.Now()
		case StepReceive:
			gaps = append(gaps, time.Since(lastStart))
		}
		return nil
	}
	e := newTestEngine(t, Config{SettleDelay: delay}, conv, nil)

	_, err := e.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, gaps, BatchSize)
	for _, gap := range gaps {
		assert.GreaterOrEqual(t, gap, delay)
	}
}

func TestCloseAbortsRunningAcquisition(t *testing.T) {
	conv := &scriptedConverter{responses: [][2]byte{{0x01, 0x00}}}
	e := newTestEngine(t, Config{SettleDelay: time.Hour}, conv, nil)

	done := make(chan error, 1)
	go func() {
		_, err := e.Acquire(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool {
		starts, _, _ := conv.counts()
		return starts == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, e.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("acquisition not aborted by Close")
	}

	// Converter left powered down, nothing was received
	_, reads, powerDowns := conv.counts()
	assert.Equal(t, 0, reads)
	assert.Equal(t, 1, powerDowns)

	_, err := e.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAcquireHonoursContext(t *testing.T) {
	conv := &scriptedConverter{responses: [][2]byte{{0x01, 0x00}}}
	e := newTestEngine(t, Config{SettleDelay: time.Hour}, conv, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := e.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsTransportFailure(err))

	starts, _, _ := conv.counts()
	assert.Equal(t, 1, starts)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxCycleAttempts, cfg.MaxCycleAttempts)
	assert.Equal(t, OverlapSerialize, cfg.Overlap)

	assert.Error(t, (&Config{SettleDelay: -time.Second}).Validate())
	assert.Error(t, (&Config{MaxCycleAttempts: -1}).Validate())
	assert.Error(t, (&Config{Overlap: "queue"}).Validate())
}
