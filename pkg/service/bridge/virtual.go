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

package bridge

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// VirtualConfig configures the virtual bridge.
type VirtualConfig struct {
	// Address of the simulated converter
	Address uint8
	// Source of 12-bit conversion results.
	// If nil, a slow sine wave around mid-scale is used.
	Source func() uint16
}

// VirtualStats contains counters of the traffic seen by the virtual bus.
type VirtualStats struct {
	Writes int
	Reads  int
}

type virtualBridge struct {
	mutex  sync.Mutex
	config VirtualConfig
	stats  VirtualStats
	// Conversion result latched by the last power-up command
	latched uint16
}

// NewVirtualBridge implements the bridge for a worker without hardware.
// Its I2C bus has a single simulated 12-bit converter on it that
// answers the start-conversion/power-down command protocol.
func NewVirtualBridge(cfg VirtualConfig) (API, error) {
	if cfg.Source == nil {
		started := time.Now()
		cfg.Source = func() uint16 {
			phase := time.Since(started).Seconds() / 30 * 2 * math.Pi
			return uint16(2048 + 1500*math.Sin(phase))
		}
	}
	return &virtualBridge{config: cfg}, nil
}

// Turn Green status led on/off
func (p *virtualBridge) SetGreenLED(on bool) error {
	return nil
}

// Turn Red status led on/off
func (p *virtualBridge) SetRedLED(on bool) error {
	return nil
}

// Blink Green status led with given duration between on/off
func (p *virtualBridge) BlinkGreenLED(delay time.Duration) error {
	return nil
}

// Blink Red status led with given duration between on/off
func (p *virtualBridge) BlinkRedLED(delay time.Duration) error {
	return nil
}

// Open the I2C bus
func (p *virtualBridge) I2CBus() (I2CBus, error) {
	return p, nil
}

func (p *virtualBridge) Close() error {
	return nil
}

// Stats returns the traffic counters of the virtual bus.
func (p *virtualBridge) Stats() VirtualStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.stats
}

// Execute an operation on the bus.
func (p *virtualBridge) Execute(ctx context.Context, address uint8, op func(ctx context.Context, dev I2CDevice) error) error {
	if address != p.config.Address {
		return fmt.Errorf("device %0x not found", address)
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return op(ctx, (*virtualDevice)(p))
}

// DetectSlaveAddresses probes the bus to detect available addresses.
func (p *virtualBridge) DetectSlaveAddresses() []byte {
	return []byte{p.config.Address}
}

// virtualDevice is the device view on the virtual bridge.
// It is only used while the bridge mutex is held.
type virtualDevice virtualBridge

const (
	// Power-down selection bits of the command byte
	virtualPowerMask = 0x0c
)

// Probe the device with an SMBus quick command.
func (d *virtualDevice) DetectDevice() error {
	return nil
}

// WriteDevice accepts a single command byte.
// When the command powers up the converter, a new conversion is latched.
func (d *virtualDevice) WriteDevice(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("expected 1 command byte, got %d", len(data))
	}
	d.stats.Writes++
	if data[0]&virtualPowerMask == virtualPowerMask {
		d.latched = d.config.Source() & 0x0fff
	}
	return nil
}

// ReadDevice returns the latched conversion, 12 bits left-justified, MSB first.
func (d *virtualDevice) ReadDevice(data []byte) error {
	if len(data) != 2 {
		return fmt.Errorf("expected to read 2 bytes, got request for %d", len(data))
	}
	d.stats.Reads++
	value := d.latched << 4
	data[0] = byte(value >> 8)
	data[1] = byte(value)
	return nil
}
