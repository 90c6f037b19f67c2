//    Copyright 2018 Ewout Prangsma
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

package environment

import (
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	BridgeTypeRaspberryPi = "rpi"
	BridgeTypeVirtual     = "virtual"
)

// AutoDetectBridgeType detects the default bridge type based on the environment.
// A Raspberry Pi bridge is only selected on an ARM machine that has
// a read/write accessible I2C bus device at the given path.
func AutoDetectBridgeType(log zerolog.Logger, busPath string) string {
	var name unix.Utsname
	if err := unix.Uname(&name); err != nil {
		log.Warn().Err(err).Msg("Uname failed, using virtual bridge")
		return BridgeTypeVirtual
	}
	machine := utsString(name.Machine[:])
	if !IsARMMachine(machine) {
		log.Info().Str("machine", machine).Msg("Not an ARM machine, using virtual bridge")
		return BridgeTypeVirtual
	}
	if err := unix.Access(busPath, unix.R_OK|unix.W_OK); err != nil {
		log.Info().Err(err).Str("bus", busPath).Msg("I2C bus not accessible, using virtual bridge")
		return BridgeTypeVirtual
	}
	return BridgeTypeRaspberryPi
}

// IsARMMachine returns true if the given uname machine name is an ARM variant.
func IsARMMachine(machine string) bool {
	machine = strings.ToLower(machine)
	return strings.HasPrefix(machine, "arm") || strings.HasPrefix(machine, "aarch64")
}

// utsString converts a zero terminated uname field into a string.
func utsString(field []byte) string {
	if idx := strings.IndexByte(string(field), 0); idx >= 0 {
		field = field[:idx]
	}
	return strings.TrimSpace(string(field))
}
