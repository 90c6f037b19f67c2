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
	"time"

	"github.com/rs/zerolog"
)

// WaitStrategy decides when a started conversion is ready to be read.
type WaitStrategy interface {
	// WaitReady blocks until the conversion is ready or ctx is canceled.
	WaitReady(ctx context.Context) error
	// Cancel any pending wait. Used during teardown.
	Cancel()
}

// WaitFunc adapts a plain function to a WaitStrategy.
type WaitFunc func(ctx context.Context) error

// WaitReady calls f.
func (f WaitFunc) WaitReady(ctx context.Context) error {
	return f(ctx)
}

// Cancel is a no-op.
func (f WaitFunc) Cancel() {}

// FixedDelay waits a fixed settling delay using a ConversionTimer.
// It does not look at the converter at all.
type FixedDelay struct {
	log   zerolog.Logger
	delay time.Duration
	timer ConversionTimer
}

// NewFixedDelay creates a fixed delay wait strategy.
func NewFixedDelay(delay time.Duration, log zerolog.Logger) *FixedDelay {
	return &FixedDelay{
		log:   log,
		delay: delay,
	}
}

// Delay returns the configured settling delay.
func (w *FixedDelay) Delay() time.Duration {
	return w.delay
}

// WaitReady blocks until the settling delay has expired.
func (w *FixedDelay) WaitReady(ctx context.Context) error {
	expired := make(chan struct{})
	w.timer.Start(w.delay, func() {
		w.log.Debug().Dur("delay", w.delay).Msg("conversion timer expired")
		close(expired)
	})
	select {
	case <-expired:
		return nil
	case <-ctx.Done():
		w.timer.Cancel()
		return ctx.Err()
	}
}

// Cancel the pending expiration (if any).
func (w *FixedDelay) Cancel() {
	w.timer.Cancel()
}
