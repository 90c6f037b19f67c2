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
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrBusy is returned when an acquisition is requested while another
	// one is running and the engine is configured to reject overlaps.
	ErrBusy = errors.New("acquisition already in progress")
	// ErrClosed is returned when the engine has been closed.
	ErrClosed = errors.New("sampling engine closed")

	maskAny = errors.WithStack
)

// Step identifies a step of a conversion cycle.
type Step string

const (
	StepStart     Step = "start"
	StepWait      Step = "wait"
	StepReceive   Step = "receive"
	StepPowerDown Step = "power-down"
)

// CycleError is a failure of a single conversion cycle.
type CycleError struct {
	// Cycle index (0...BatchSize-1)
	Cycle int
	// Attempt number of the cycle (1...)
	Attempt int
	// Step that failed
	Step Step
	Err  error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle %d (attempt %d) failed at %s: %v", e.Cycle, e.Attempt, e.Step, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// AcquisitionError is returned when an acquisition is aborted because a
// cycle kept failing.
type AcquisitionError struct {
	// Number of samples accumulated before the abort
	Completed int
	// Last cycle failure
	Last *CycleError
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquisition aborted after %d of %d samples: %v", e.Completed, BatchSize, e.Last)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Last
}

// IsBusy returns true if the given error is (or wraps) ErrBusy.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsTransportFailure returns true if the given error is caused by a failed
// bus transaction.
func IsTransportFailure(err error) bool {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Step != StepWait
	}
	return false
}
