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

package sampler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRawSampleFromBytes(t *testing.T) {
	assert.Equal(t, RawSample(0x0100), RawSampleFromBytes([2]byte{0x01, 0x00}))
	assert.Equal(t, RawSample(0x00FF), RawSampleFromBytes([2]byte{0x00, 0xFF}))
	assert.Equal(t, RawSample(0xABCD), RawSampleFromBytes([2]byte{0xAB, 0xCD}))
}

func TestPack(t *testing.T) {
	tests := []struct {
		avg      uint32
		expected PackedResult
	}{
		{0, PackedResult{0x00, 0x00, 0x00, 0x00}},
		{256, PackedResult{0x00, 0x01, 0x00, 0x00}},
		{127, PackedResult{0x7F, 0x00, 0x00, 0x00}},
		{0x12345678, PackedResult{0x78, 0x56, 0x34, 0x12}},
		{0xFFFFFFFF, PackedResult{0xFF, 0xFF, 0xFF, 0xFF}},
	}
	for _, test := range tests {
		p := Pack(test.avg)
		assert.Equal(t, test.expected, p)
		assert.Len(t, p[:], PackedSize)
		assert.Equal(t, test.avg, p.Value())
	}
	assert.Equal(t, "00010000", Pack(256).String())
}

func TestReadingMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := Reading{
		Average:    0x0abc,
		Packed:     Pack(0x0abc),
		Samples:    BatchSize,
		AcquiredAt: at,
		Duration:   1500 * time.Millisecond,
	}
	msg := r.Message()
	assert.Equal(t, uint32(0x0abc), msg.Value)
	assert.Equal(t, "bc0a0000", msg.Packed)
	assert.Equal(t, BatchSize, msg.Samples)
	assert.Equal(t, at, msg.AcquiredAt)
	assert.Equal(t, int64(1500), msg.DurationMs)
}
