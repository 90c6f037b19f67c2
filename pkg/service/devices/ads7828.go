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
	"context"

	"github.com/pkg/errors"

	"github.com/binkynet/ADCWorker/pkg/service/bridge"
)

const (
	// Command byte bits
	ADS7828_CMD_SD_SINGLE = 0x80 ///< Single-ended input

	ADS7828_CMD_CH_MASK = 0x70 ///< Channel select mask (C2-C0)
	ADS7828_CMD_CH_1    = 0x10 ///< C2-C0 = 001

	ADS7828_CMD_PD_MASK       = 0x0C ///< Power-down select mask (PD1-PD0)
	ADS7828_CMD_PD_OFF        = 0x00 ///< Power down between conversions
	ADS7828_CMD_PD_REF_ON     = 0x08 ///< Internal reference on, converter off
	ADS7828_CMD_PD_ADC_ON     = 0x04 ///< Internal reference off, converter on
	ADS7828_CMD_PD_REF_ADC_ON = 0x0C ///< Internal reference on, converter on
)

const (
	// StartConversionCommand powers up reference and converter and
	// starts a single-ended conversion of channel 1 (0x9c).
	StartConversionCommand byte = ADS7828_CMD_SD_SINGLE | ADS7828_CMD_CH_1 | ADS7828_CMD_PD_REF_ADC_ON
	// PowerDownCommand powers the converter down between conversions (0x90).
	PowerDownCommand byte = ADS7828_CMD_SD_SINGLE | ADS7828_CMD_CH_1 | ADS7828_CMD_PD_OFF

	// Default bus address of the converter
	DefaultADS7828Address = 0x48
)

// ADS7828 is a 12-bit I2C converter driven with single command bytes.
type ADS7828 struct {
	onActive func()
	bus      bridge.I2CBus
	address  uint8
}

var _ Device = &ADS7828{}

// NewADS7828 creates a converter at the given address on the given bus.
// The onActive callback (if any) is called on every bus transaction.
func NewADS7828(bus bridge.I2CBus, address uint8, onActive func()) (*ADS7828, error) {
	if bus == nil {
		return nil, errors.New("bus is required")
	}
	if onActive == nil {
		onActive = func() {}
	}
	return &ADS7828{
		onActive: onActive,
		bus:      bus,
		address:  address,
	}, nil
}

// Address returns the bus address of the converter.
func (d *ADS7828) Address() uint8 {
	return d.address
}

// Configure probes the converter by powering it down.
// A device that does not acknowledge its address fails here.
func (d *ADS7828) Configure(ctx context.Context) error {
	if err := d.sendCommand(ctx, PowerDownCommand); err != nil {
		return errors.Wrapf(err, "probe of converter at 0x%02x failed", d.address)
	}
	return nil
}

// Close brings the converter back to its power-down state.
func (d *ADS7828) Close(ctx context.Context) error {
	return d.PowerDown(ctx)
}

// StartConversion sends the start-conversion command.
func (d *ADS7828) StartConversion(ctx context.Context) error {
	return d.sendCommand(ctx, StartConversionCommand)
}

// PowerDown sends the power-down command.
func (d *ADS7828) PowerDown(ctx context.Context) error {
	return d.sendCommand(ctx, PowerDownCommand)
}

// ReadConversion receives the 2 raw bytes of the last conversion,
// in the order the converter sends them (MSB first).
func (d *ADS7828) ReadConversion(ctx context.Context) ([2]byte, error) {
	var buf [2]byte
	d.onActive()
	if err := d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		return dev.ReadDevice(buf[:])
	}); err != nil {
		return [2]byte{}, errors.Wrapf(err, "read conversion from 0x%02x failed", d.address)
	}
	return buf, nil
}

// send a single command byte
func (d *ADS7828) sendCommand(ctx context.Context, cmd byte) error {
	d.onActive()
	buf := [1]byte{cmd}
	if err := d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		return dev.WriteDevice(buf[:])
	}); err != nil {
		return errors.Wrapf(err, "send command 0x%02x to 0x%02x failed", cmd, d.address)
	}
	return nil
}
