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
	"github.com/binkynet/ADCWorker/pkg/metrics"
)

const (
	subSystem = "logging"
)

var (
	// Total number of log messages dropped because the queue was full
	droppedLogMessagesTotal = metrics.MustRegisterCounter(subSystem,
		"dropped_messages_total",
		"Total number of log messages dropped because the queue was full")
	// Number of log messages waiting to be published
	queueLengthGauge = metrics.MustRegisterGauge(subSystem,
		"queue_length",
		"Number of log messages waiting to be published")
)
