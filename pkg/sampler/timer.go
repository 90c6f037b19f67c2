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
	"sync"
	"time"
)

// ConversionTimer is a restartable one-shot timer.
//
// The expiration callback runs with the timer lock held, so once Cancel
// (or a new Start) returns, a previously scheduled callback can no longer
// run.
type ConversionTimer struct {
	mutex      sync.Mutex
	timer      *time.Timer
	generation uint64
}

// Start schedules a single expiration after the given duration.
// A pending expiration is canceled first.
func (t *ConversionTimer) Start(d time.Duration, onExpire func()) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.stopLocked()
	gen := t.generation
	t.timer = time.AfterFunc(d, func() {
		t.mutex.Lock()
		defer t.mutex.Unlock()

		if t.generation != gen {
			// Canceled or restarted
			return
		}
		t.generation++
		t.timer = nil
		if onExpire != nil {
			onExpire()
		}
	})
}

// Cancel the pending expiration (if any).
// Returns true if an expiration was pending.
func (t *ConversionTimer) Cancel() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.stopLocked()
}

// stopLocked invalidates the current expiration.
// Must be called with the lock held.
func (t *ConversionTimer) stopLocked() bool {
	if t.timer == nil {
		return false
	}
	t.timer.Stop()
	t.timer = nil
	t.generation++
	return true
}
