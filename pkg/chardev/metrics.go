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

package chardev

import (
	"github.com/binkynet/ADCWorker/pkg/metrics"
)

const (
	subSystem = "chardev"
)

var (
	// Number of open files
	openFilesGauge = metrics.MustRegisterGauge(subSystem,
		"open_files",
		"Number of open files")
	// Total number of Read calls
	readsTotal = metrics.MustRegisterCounter(subSystem,
		"reads_total",
		"Total number of Read calls")
	// Total number of results that did not fit the read buffer
	boundaryCopyErrorsTotal = metrics.MustRegisterCounter(subSystem,
		"boundary_copy_errors_total",
		"Total number of results that did not fit the read buffer")
)
