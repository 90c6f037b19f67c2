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
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Converter is the command protocol of the sampled ADC.
type Converter interface {
	// StartConversion sends the start-conversion command.
	StartConversion(ctx context.Context) error
	// ReadConversion receives the 2 raw bytes of a conversion, MSB first.
	ReadConversion(ctx context.Context) ([2]byte, error)
	// PowerDown sends the power-down command.
	PowerDown(ctx context.Context) error
}

// OverlapPolicy decides what happens to an acquisition request while
// another acquisition is running.
type OverlapPolicy string

const (
	// OverlapSerialize queues the request until the running acquisition is done.
	OverlapSerialize OverlapPolicy = "serialize"
	// OverlapReject fails the request with ErrBusy.
	OverlapReject OverlapPolicy = "reject"
)

const (
	DefaultSettleDelay      = time.Second
	DefaultMaxCycleAttempts = 3

	// Time allowed for the power-down command that follows a failed cycle.
	powerDownAfterFailureTimeout = time.Second
)

// Config of the sampling engine.
type Config struct {
	// Settling delay between starting a conversion and reading it.
	// Only used when no WaitStrategy is given.
	SettleDelay time.Duration
	// Maximum number of attempts of a single conversion cycle
	// before the acquisition is aborted.
	MaxCycleAttempts int
	// What to do with overlapping acquisition requests
	Overlap OverlapPolicy
}

// Validate the config, filling in defaults.
func (c *Config) Validate() error {
	if c.SettleDelay < 0 {
		return errors.Errorf("settle delay must be >= 0, got %s", c.SettleDelay)
	}
	if c.MaxCycleAttempts == 0 {
		c.MaxCycleAttempts = DefaultMaxCycleAttempts
	} else if c.MaxCycleAttempts < 0 {
		return errors.Errorf("max cycle attempts must be > 0, got %d", c.MaxCycleAttempts)
	}
	switch c.Overlap {
	case "":
		c.Overlap = OverlapSerialize
	case OverlapSerialize, OverlapReject:
		// Valid
	default:
		return errors.Errorf("unknown overlap policy '%s'", c.Overlap)
	}
	return nil
}

// Dependencies of the sampling engine.
type Dependencies struct {
	Log       zerolog.Logger
	Converter Converter
	// Optional wait strategy. Defaults to a FixedDelay of Config.SettleDelay.
	Wait WaitStrategy
}

// Engine performs averaged acquisitions on a converter.
type Engine struct {
	config Config
	log    zerolog.Logger
	conv   Converter
	wait   WaitStrategy

	sem         *semaphore.Weighted
	closeCtx    context.Context
	closeCancel context.CancelFunc
	closeOnce   sync.Once
}

// NewEngine creates a new sampling engine.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, maskAny(err)
	}
	if deps.Converter == nil {
		return nil, errors.New("converter is required")
	}
	log := deps.Log.With().Str("component", "sampler").Logger()
	wait := deps.Wait
	if wait == nil {
		wait = NewFixedDelay(cfg.SettleDelay, log)
	}
	closeCtx, closeCancel := context.WithCancel(context.Background())
	return &Engine{
		config:      cfg,
		log:         log,
		conv:        deps.Converter,
		wait:        wait,
		sem:         semaphore.NewWeighted(1),
		closeCtx:    closeCtx,
		closeCancel: closeCancel,
	}, nil
}

// Acquire performs a complete averaged acquisition and returns the
// packed result.
func (e *Engine) Acquire(ctx context.Context) (PackedResult, error) {
	r, err := e.Sample(ctx)
	if err != nil {
		return PackedResult{}, err
	}
	return r.Packed, nil
}

// Sample performs a complete averaged acquisition:
// BatchSize conversion cycles (start, wait, receive, power-down),
// averaged with truncating integer division.
func (e *Engine) Sample(ctx context.Context) (Reading, error) {
	if e.closeCtx.Err() != nil {
		return Reading{}, maskAny(ErrClosed)
	}

	// Abort when the engine is closed
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.closeCtx, cancel)
	defer stop()

	if err := e.lock(ctx); err != nil {
		if e.closeCtx.Err() != nil {
			return Reading{}, maskAny(ErrClosed)
		}
		return Reading{}, err
	}
	defer e.sem.Release(1)

	acquisitionsTotal.Inc()
	start := time.Now()
	var acc uint32
	for cycle := 0; cycle < BatchSize; cycle++ {
		sample, err := e.runCycleWithRetry(ctx, cycle)
		if err != nil {
			acquisitionErrorsTotal.Inc()
			if e.closeCtx.Err() != nil {
				return Reading{}, maskAny(ErrClosed)
			}
			return Reading{}, err
		}
		acc += uint32(sample)
	}
	avg := acc / BatchSize
	e.log.Debug().Msgf("avg = %x", avg)

	completed := time.Now()
	duration := completed.Sub(start)
	acquisitionDuration.Observe(duration.Seconds())
	lastAverageGauge.Set(float64(avg))
	return Reading{
		Average:    avg,
		Packed:     Pack(avg),
		Samples:    BatchSize,
		AcquiredAt: completed,
		Duration:   duration,
	}, nil
}

// Close the engine.
// Pending timer expirations are canceled first, a running acquisition is
// aborted and waited for.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeCancel()
		e.wait.Cancel()
		// Wait for a running acquisition to finish.
		// The semaphore is never released again.
		e.sem.Acquire(context.Background(), 1)
	})
	return nil
}

// lock the engine for a single acquisition.
func (e *Engine) lock(ctx context.Context) error {
	if e.config.Overlap == OverlapReject {
		if !e.sem.TryAcquire(1) {
			if e.closeCtx.Err() != nil {
				// Held by Close, not by another acquisition
				return maskAny(ErrClosed)
			}
			acquisitionsRejectedTotal.Inc()
			return maskAny(ErrBusy)
		}
		return nil
	}
	return e.sem.Acquire(ctx, 1)
}

// runCycleWithRetry runs a conversion cycle until it succeeds or
// the maximum number of attempts has been reached.
func (e *Engine) runCycleWithRetry(ctx context.Context, cycle int) (RawSample, error) {
	var last *CycleError
	for attempt := 1; attempt <= e.config.MaxCycleAttempts; attempt++ {
		sample, step, err := e.runCycle(ctx)
		if err == nil {
			return sample, nil
		}
		last = &CycleError{
			Cycle:   cycle,
			Attempt: attempt,
			Step:    step,
			Err:     err,
		}
		cycleErrorsTotal.WithLabelValues(string(step)).Inc()
		if ctx.Err() != nil {
			// No point in retrying
			break
		}
		e.log.Warn().Err(err).
			Int("cycle", cycle).
			Int("attempt", attempt).
			Str("step", string(step)).
			Msg("conversion cycle failed")
	}
	return 0, &AcquisitionError{Completed: cycle, Last: last}
}

// runCycle runs a single conversion cycle.
// On failure, the step that failed is returned.
func (e *Engine) runCycle(ctx context.Context) (RawSample, Step, error) {
	if err := e.conv.StartConversion(ctx); err != nil {
		return 0, StepStart, err
	}
	if err := e.wait.WaitReady(ctx); err != nil {
		e.powerDownAfterFailure(ctx)
		return 0, StepWait, err
	}
	raw, err := e.conv.ReadConversion(ctx)
	if err != nil {
		e.powerDownAfterFailure(ctx)
		return 0, StepReceive, err
	}
	if err := e.conv.PowerDown(ctx); err != nil {
		return 0, StepPowerDown, err
	}
	return RawSampleFromBytes(raw), "", nil
}

// powerDownAfterFailure tries to leave the converter powered down after
// a failed cycle. Failures are only logged.
func (e *Engine) powerDownAfterFailure(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), powerDownAfterFailureTimeout)
	defer cancel()
	if err := e.conv.PowerDown(ctx); err != nil {
		e.log.Debug().Err(err).Msg("power-down after failed cycle failed")
	}
}
