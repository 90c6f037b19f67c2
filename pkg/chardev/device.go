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

package chardev

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/binkynet/ADCWorker/pkg/sampler"
)

var (
	// ErrBoundaryCopy is returned by Read when the acquired result cannot
	// be copied into the caller's buffer.
	ErrBoundaryCopy = errors.New("cannot copy result into buffer")
	// ErrFileClosed is returned when using a closed file.
	ErrFileClosed = errors.New("file already closed")
)

// Acquirer performs a single acquisition.
type Acquirer interface {
	Acquire(ctx context.Context) (sampler.PackedResult, error)
}

// Device exposes acquisitions through a file like read interface.
type Device struct {
	log      zerolog.Logger
	acquirer Acquirer

	mutex     sync.Mutex
	openCount int
}

// NewDevice creates a new device on top of the given acquirer.
func NewDevice(acquirer Acquirer, log zerolog.Logger) *Device {
	return &Device{
		log:      log.With().Str("component", "chardev").Logger(),
		acquirer: acquirer,
	}
}

// Open the device.
// All acquisitions done through the returned file use the given context.
func (d *Device) Open(ctx context.Context) *File {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.openCount++
	openFilesGauge.Set(float64(d.openCount))
	return &File{ctx: ctx, dev: d}
}

// OpenCount returns the number of open files.
func (d *Device) OpenCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.openCount
}

// release is called when a file is closed.
func (d *Device) release() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.openCount--
	openFilesGauge.Set(float64(d.openCount))
}

// File is an open handle on a Device.
type File struct {
	ctx    context.Context
	dev    *Device
	mutex  sync.Mutex
	closed bool
}

var _ io.ReadWriteCloser = &File{}

// Read performs a complete acquisition and copies the packed result
// into p. Every call starts a new acquisition; there is no file offset.
// When p is too small, ErrBoundaryCopy is returned after the
// acquisition has been done.
func (f *File) Read(p []byte) (int, error) {
	if f.isClosed() {
		return 0, ErrFileClosed
	}
	readsTotal.Inc()
	result, err := f.dev.acquirer.Acquire(f.ctx)
	if err != nil {
		return 0, err
	}
	if len(p) < sampler.PackedSize {
		boundaryCopyErrorsTotal.Inc()
		f.dev.log.Info().
			Int("buffer-size", len(p)).
			Msg("result does not fit in read buffer")
		return 0, errors.Wrapf(ErrBoundaryCopy, "need %d bytes, got %d", sampler.PackedSize, len(p))
	}
	return copy(p, result[:]), nil
}

// Write accepts all data without effect.
func (f *File) Write(p []byte) (int, error) {
	if f.isClosed() {
		return 0, ErrFileClosed
	}
	return len(p), nil
}

// Close the file.
func (f *File) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.closed {
		return ErrFileClosed
	}
	f.closed = true
	f.dev.release()
	return nil
}

func (f *File) isClosed() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.closed
}
