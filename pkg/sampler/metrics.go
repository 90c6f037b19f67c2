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

package sampler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/binkynet/ADCWorker/pkg/metrics"
)

const (
	subSystem = "sampler"
)

var (
	// Total number of acquisitions started
	acquisitionsTotal = metrics.MustRegisterCounter(subSystem,
		"acquisitions_total",
		"Total number of acquisitions started")
	// Total number of acquisitions that failed
	acquisitionErrorsTotal = metrics.MustRegisterCounter(subSystem,
		"acquisition_errors_total",
		"Total number of acquisitions that failed")
	// Total number of acquisitions rejected because another one was running
	acquisitionsRejectedTotal = metrics.MustRegisterCounter(subSystem,
		"acquisitions_rejected_total",
		"Total number of acquisitions rejected because another one was running")
	// Total number of failed conversion cycles per step
	cycleErrorsTotal = metrics.MustRegisterCounterVec(subSystem,
		"cycle_errors_total",
		"Total number of failed conversion cycles",
		"step")
	// Duration of a complete acquisition
	acquisitionDuration = metrics.MustRegisterHistogram(subSystem,
		"acquisition_duration_seconds",
		"Duration of a complete acquisition",
		prometheus.ExponentialBuckets(0.01, 2, 14))
	// Last averaged reading
	lastAverageGauge = metrics.MustRegisterGauge(subSystem,
		"last_average",
		"Last averaged reading")
)
