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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualBusConversion(t *testing.T) {
	next := uint16(0x100)
	br, err := NewVirtualBridge(VirtualConfig{
		Address: 0x48,
		Source: func() uint16 {
			next++
			return next
		},
	})
	require.NoError(t, err)
	bus, err := br.I2CBus()
	require.NoError(t, err)
	ctx := context.Background()

	read := func() [2]byte {
		var buf [2]byte
		require.NoError(t, bus.Execute(ctx, 0x48, func(ctx context.Context, dev I2CDevice) error {
			return dev.ReadDevice(buf[:])
		}))
		return buf
	}
	write := func(cmd byte) {
		require.NoError(t, bus.Execute(ctx, 0x48, func(ctx context.Context, dev I2CDevice) error {
			return dev.WriteDevice([]byte{cmd})
		}))
	}

	write(0x9c)
	assert.Equal(t, [2]byte{0x10, 0x10}, read())
	// Power-down does not start a new conversion
	write(0x90)
	assert.Equal(t, [2]byte{0x10, 0x10}, read())
	write(0x9c)
	assert.Equal(t, [2]byte{0x10, 0x20}, read())

	stats := br.(*virtualBridge).Stats()
	assert.Equal(t, 3, stats.Writes)
	assert.Equal(t, 3, stats.Reads)
}

func TestVirtualBusRejectsUnknownAddress(t *testing.T) {
	br, err := NewVirtualBridge(VirtualConfig{Address: 0x48})
	require.NoError(t, err)
	bus, err := br.I2CBus()
	require.NoError(t, err)

	err = bus.Execute(context.Background(), 0x49, func(ctx context.Context, dev I2CDevice) error {
		return nil
	})
	assert.Error(t, err)
	assert.Equal(t, []byte{0x48}, bus.DetectSlaveAddresses())
}

func TestVirtualBusRejectsInvalidTransfers(t *testing.T) {
	br, err := NewVirtualBridge(VirtualConfig{Address: 0x48})
	require.NoError(t, err)
	bus, err := br.I2CBus()
	require.NoError(t, err)

	err = bus.Execute(context.Background(), 0x48, func(ctx context.Context, dev I2CDevice) error {
		return dev.WriteDevice([]byte{0x9c, 0x00})
	})
	assert.Error(t, err)
	err = bus.Execute(context.Background(), 0x48, func(ctx context.Context, dev I2CDevice) error {
		return dev.ReadDevice(make([]byte, 4))
	})
	assert.Error(t, err)
}
