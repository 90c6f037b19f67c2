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
	"encoding/binary"
	"encoding/hex"
	"time"
)

const (
	// BatchSize is the number of conversion cycles averaged per acquisition.
	BatchSize = 20
	// PackedSize is the length of a PackedResult in bytes.
	PackedSize = 4
)

// RawSample is a single conversion result as received from the converter.
type RawSample uint16

// RawSampleFromBytes reconstructs a sample from the two received bytes.
// The first byte is the most significant one.
func RawSampleFromBytes(b [2]byte) RawSample {
	return RawSample(binary.BigEndian.Uint16(b[:]))
}

// PackedResult is the little-endian wire encoding of an averaged reading.
type PackedResult [PackedSize]byte

// Pack encodes the given average, least significant byte first.
func Pack(avg uint32) PackedResult {
	var p PackedResult
	binary.LittleEndian.PutUint32(p[:], avg)
	return p
}

// Value decodes the packed average.
func (p PackedResult) Value() uint32 {
	return binary.LittleEndian.Uint32(p[:])
}

// String returns the packed bytes in hex, in wire order.
func (p PackedResult) String() string {
	return hex.EncodeToString(p[:])
}

// Reading is the full result of a single acquisition.
type Reading struct {
	// Averaged value of all samples
	Average uint32
	// Wire encoding of Average
	Packed PackedResult
	// Number of samples the average is computed from
	Samples int
	// Time the acquisition completed
	AcquiredAt time.Time
	// Duration of the acquisition
	Duration time.Duration
}

// ReadingMessage is the JSON representation of a Reading.
type ReadingMessage struct {
	Value      uint32    `json:"value"`
	Packed     string    `json:"packed"`
	Samples    int       `json:"samples"`
	AcquiredAt time.Time `json:"acquired_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Message converts the reading into its JSON representation.
func (r Reading) Message() ReadingMessage {
	return ReadingMessage{
		Value:      r.Average,
		Packed:     r.Packed.String(),
		Samples:    r.Samples,
		AcquiredAt: r.AcquiredAt,
		DurationMs: r.Duration.Milliseconds(),
	}
}
