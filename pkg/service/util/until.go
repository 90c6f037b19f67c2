// Copyright 2021 Ewout Prangsma
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

package util

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxRetryDelay = time.Second * 5
)

// UntilCanceled calls the given callback every interval
// until the given context is canceled.
// After a failure the callback is retried sooner, with a delay growing
// from 10ms up to the smaller of 5s and the interval.
func UntilCanceled(ctx context.Context, log zerolog.Logger, description string, interval time.Duration, cb func(context.Context) error) error {
	minDelay := time.Millisecond * 10
	maxDelay := maxRetryDelay
	if interval < maxDelay {
		maxDelay = interval
	}
	retryDelay := minDelay
	for {
		if ctx.Err() != nil {
			// Context canceled
			return nil
		}
		delay := interval
		if err := cb(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msgf("%s failed", description)
			delay = retryDelay
			retryDelay = time.Duration(float64(retryDelay) * 1.5)
			if retryDelay > maxDelay {
				retryDelay = maxDelay
			}
		} else {
			retryDelay = minDelay
		}
		select {
		case <-ctx.Done():
			// Context canceled
			log.Info().Msgf("Stopping %s; context canceled", description)
			return nil
		case <-time.After(delay):
			// Continue
		}
	}
}
