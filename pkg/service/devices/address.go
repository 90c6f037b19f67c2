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

package devices

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// Highest valid 7-bit I2C address
	maxAddress = 0x77
	// Lowest valid 7-bit I2C address
	minAddress = 0x03
)

// ParseAddress parses a string containing a numeric 7-bit I2C address.
// Both decimal and 0x prefixed hexadecimal notations are accepted.
func ParseAddress(addr string) (uint8, error) {
	addr = strings.TrimSpace(addr)
	base := 10
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		addr = addr[2:]
		base = 16
	}
	result, err := strconv.ParseUint(addr, base, 8)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid address '%s'", addr)
	}
	if result < minAddress || result > maxAddress {
		return 0, errors.Errorf("address 0x%02x out of range", result)
	}
	return uint8(result), nil
}
