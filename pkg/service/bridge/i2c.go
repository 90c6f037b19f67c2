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

package bridge

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/ecc1/gpio"
	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
)

type I2CBus interface {
	// Execute an operation on the bus.
	// Operations are executed one at a time, in the order they are received.
	Execute(ctx context.Context, address uint8, op func(ctx context.Context, dev I2CDevice) error) error
	// DetectSlaveAddresses probes the bus to detect available addresses.
	DetectSlaveAddresses() []byte
	// Close the bus and all devices on it
	Close() error
}

// I2CDevice communicates with a device on the I2C Bus that has a specific address.
type I2CDevice interface {
	// Probe the device with an SMBus quick command.
	DetectDevice() error
	// Read a block of data directly from the device (/dev/...)
	ReadDevice(data []byte) (err error)
	// Write a block of data directly to the device (/dev/...)
	WriteDevice(data []byte) (err error)
}

type i2cBus struct {
	BusConfig
	devices map[uint8]*i2cDevice
	queue   chan func()
	// Canceled when the bus is closed
	ctx    context.Context
	cancel context.CancelFunc
}

const (
	I2C_RECOVER_NUM_CLOCKS = 10    /* # clock cycles for recovery  */
	I2C_RECOVER_CLOCK_FREQ = 50000 /* clock frequency for recovery */

	I2C_RECOVER_CLOCK_DELAY_US = (1000000 / (2 * I2C_RECOVER_CLOCK_FREQ))

	// Number of times an operation is attempted before Execute gives up.
	i2cExecuteAttempts = 2
)

// ErrBusClosed is returned when using a closed bus.
var ErrBusClosed = errors.New("i2c bus closed")

// NewI2CBus returns accessors the the I2C bus described by the given config.
func NewI2CBus(cfg BusConfig) (I2CBus, error) {
	if _, err := os.Stat(cfg.Location); err != nil {
		return nil, fmt.Errorf("i2c bus %s not available: %w", cfg.Location, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &i2cBus{
		BusConfig: cfg,
		devices:   make(map[uint8]*i2cDevice),
		queue:     make(chan func()),
		ctx:       ctx,
		cancel:    cancel,
	}
	go b.queueProcessor(ctx)
	if b.canRecover() {
		if err := b.recoverFromLockup(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to recover bus at startup: %w", err)
		}
		time.Sleep(time.Second * 2)
	}
	return b, nil
}

// Execute an operation on the bus.
func (b *i2cBus) Execute(ctx context.Context, address uint8, op func(context.Context, I2CDevice) error) error {
	result := make(chan error, 1)
	req := func() {
		result <- b.execute(ctx, address, op)
	}

	// Put request in queue
	select {
	case b.queue <- req:
		// Request is on the queue
	case <-ctx.Done():
		// Context canceled
		return ctx.Err()
	case <-b.ctx.Done():
		return ErrBusClosed
	}

	// The request is running; wait for it even when ctx is canceled,
	// so the device is never left half-way a transaction.
	return <-result
}

// Process bus requests from the queue until the given context is canceled.
func (b *i2cBus) queueProcessor(ctx context.Context) {
	// Ensure we're always using the same OS thread
	runtime.LockOSThread()

	// Process the queue
	for {
		if ctx.Err() != nil {
			// Closed; never pick up another request
			return
		}
		select {
		case req := <-b.queue:
			// Execute the given request
			req()
		case <-ctx.Done():
			// Context canceled
			return
		}
	}
}

// Execute an operation on the bus.
func (b *i2cBus) execute(ctx context.Context, address uint8, op func(context.Context, I2CDevice) error) error {
	addrLabel := strconv.Itoa(int(address))
	i2cExecuteCounters.WithLabelValues(addrLabel).Inc()

	var err error
	for attempt := 0; attempt < i2cExecuteAttempts; attempt++ {
		// Open device
		var dev *i2cDevice
		dev, err = b.openDevice(address)
		if err != nil {
			i2cExecuteErrorCounters.WithLabelValues(addrLabel).Inc()
			return fmt.Errorf("openDevice(%d) failed: %w", address, err)
		}

		// Execute operation
		err = op(ctx, dev)
		if err == nil {
			// Success
			return nil
		}
		if ctx.Err() != nil {
			break
		}

		// Device call failed, close all devices
		b.closeDevices()

		// Perform recovery (if configured)
		if b.canRecover() {
			i2cRecoveryAttemptsTotal.Inc()
			if err := b.recoverFromLockup(); err != nil {
				i2cRecoveryFailedTotal.Inc()
				i2cExecuteErrorCounters.WithLabelValues(addrLabel).Inc()
				return fmt.Errorf("i2c recovery failed: %w", err)
			}
			i2cRecoverySucceededTotal.Inc()
		} else {
			i2cRecoverySkippedTotal.Inc()
		}
	}
	// Return error
	i2cExecuteErrorCounters.WithLabelValues(addrLabel).Inc()
	return fmt.Errorf("execute operation in i2c bus failed: %w", err)
}

// Open a connection to a device at the given address.
func (b *i2cBus) openDevice(address uint8) (*i2cDevice, error) {
	// Did we already open the device?
	if d, found := b.devices[address]; found {
		return d, nil
	}

	// Open new device
	d, err := newI2CDevice(b.Location, address)
	if err != nil {
		return nil, err
	}

	// Register device
	b.devices[address] = d

	return d, nil
}

// closeDevices closes all open devices.
// Must be called from the queue processor.
func (b *i2cBus) closeDevices() error {
	var ae aerr.AggregateError
	for addr, d := range b.devices {
		if err := d.closeFile(); err != nil {
			ae.Add(err)
		}
		delete(b.devices, addr)
	}
	return ae.AsError()
}

// DetectSlaveAddresses probes the bus to detect available addresses.
func (b *i2cBus) DetectSlaveAddresses() []byte {
	result := make(chan []byte, 1)
	if !b.enqueue(func() {
		var found []byte
		for addr := uint8(1); addr < 128; addr++ {
			if d, err := newI2CDevice(b.Location, addr); err == nil {
				if err := d.DetectDevice(); err == nil {
					found = append(found, addr)
				}
				d.closeFile()
			}
		}
		result <- found
	}) {
		return nil
	}
	return <-result
}

// Close the bus and all devices on it.
// Closing a closed bus is a no-op.
func (b *i2cBus) Close() error {
	result := make(chan error, 1)
	if !b.enqueue(func() {
		err := b.closeDevices()
		// Stop the processor before the caller continues
		b.cancel()
		result <- err
	}) {
		return nil
	}
	return <-result
}

// enqueue puts the given request on the queue.
// Returns false when the bus is closed.
func (b *i2cBus) enqueue(req func()) bool {
	select {
	case b.queue <- req:
		return true
	case <-b.ctx.Done():
		return false
	}
}

// canRecover returns true when lockup recovery is configured.
func (b *i2cBus) canRecover() bool {
	return b.RecoverFromLockup && b.SclPin >= 0
}

// Try to recover the i2c bus from lockup by clocking SCL.
func (b *i2cBus) recoverFromLockup() error {
	activeLow := true
	initialValue := true
	scl, err := gpio.Output(b.SclPin, activeLow, initialValue)
	if err != nil {
		return fmt.Errorf("failed to set scl pin to output: %w", err)
	}
	for i := 0; i < I2C_RECOVER_NUM_CLOCKS; i++ {
		time.Sleep(time.Microsecond * I2C_RECOVER_CLOCK_DELAY_US)
		if err := scl.Write(false); err != nil {
			return fmt.Errorf("failed to lower scl during i2c recovery: %w", err)
		}
		time.Sleep(time.Microsecond * I2C_RECOVER_CLOCK_DELAY_US)
		if err := scl.Write(true); err != nil {
			return fmt.Errorf("failed to raise scl during i2c recovery: %w", err)
		}
	}
	// Reset pin to be input
	if _, err := gpio.Input(b.SclPin, activeLow); err != nil {
		return fmt.Errorf("failed to reset scl pin to input: %w", err)
	}
	// Unexport the pin
	unexportPath := "/sys/class/gpio/unexport"
	unexportContent := strconv.Itoa(b.SclPin)
	if err := os.WriteFile(unexportPath, []byte(unexportContent), 0644); err != nil {
		return fmt.Errorf("failed to unexport scl pin to input: %w", err)
	}
	return nil
}
