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

package publisher

import (
	"github.com/binkynet/ADCWorker/pkg/metrics"
)

const (
	subSystem = "publisher"
)

var (
	// Total number of published messages
	publishedTotal = metrics.MustRegisterCounter(subSystem,
		"published_total",
		"Total number of published messages")
	// Total number of failed publications
	publishErrorsTotal = metrics.MustRegisterCounter(subSystem,
		"publish_errors_total",
		"Total number of failed publications")
)
