//    Copyright 2017-2024 Ewout Prangsma
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

package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/mattn/go-pubsub"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/binkynet/ADCWorker/pkg/chardev"
	"github.com/binkynet/ADCWorker/pkg/sampler"
	"github.com/binkynet/ADCWorker/pkg/service/bridge"
	"github.com/binkynet/ADCWorker/pkg/service/devices"
	"github.com/binkynet/ADCWorker/pkg/service/util"
)

var (
	maskAny = errors.WithStack
)

const (
	closeTimeout = time.Second * 5
)

// Service is the ADC worker: it owns the converter, the sampling
// engine and the device file on top of it.
type Service interface {
	// Run the worker until the given context is cancelled.
	// All hardware is brought back to a safe state before returning.
	Run(ctx context.Context) error

	// Acquire performs a single acquisition and returns the packed result.
	Acquire(ctx context.Context) (sampler.PackedResult, error)
	// Sample performs a single acquisition and returns the full reading.
	Sample(ctx context.Context) (sampler.Reading, error)
	// LastReading returns the most recent successful reading, if any.
	LastReading() (sampler.Reading, bool)
	// Subscribe registers a callback that is called (asynchronously) for
	// every successful reading. Call the returned function to unsubscribe;
	// other subscriptions are not affected.
	Subscribe(cb func(sampler.Reading)) context.CancelFunc
	// Device returns the device file interface on top of the engine.
	Device() *chardev.Device
	// DetectDevices scans the bus and returns the addresses of all
	// devices found on it.
	DetectDevices() []string
}

// ReadingPublisher publishes readings to an external system.
type ReadingPublisher interface {
	PublishReading(ctx context.Context, r sampler.Reading) error
}

// Config of the service.
type Config struct {
	// Bus address of the converter
	Address uint8
	// Configuration of the sampling engine
	Sampler sampler.Config
	// Interval between acquisitions of the monitor. 0 disables the monitor.
	PollInterval time.Duration
}

// Dependencies of the service.
type Dependencies struct {
	Logger zerolog.Logger
	Bridge bridge.API
	// Optional publisher of readings
	Publisher ReadingPublisher
}

type service struct {
	Config
	Dependencies

	bus    bridge.I2CBus
	adc    *devices.ADS7828
	engine *sampler.Engine
	device *chardev.Device

	readings    *pubsub.PubSub
	activeCount uint32
	errorCount  uint32

	mutex       sync.Mutex
	lastReading *sampler.Reading
	subscribers map[int]func(sampler.Reading)
	lastSubID   int
}

// NewService creates a Service instance and returns it.
// The I2C bus of the bridge is opened, the converter is not touched
// until Run is called.
func NewService(conf Config, deps Dependencies) (Service, error) {
	if deps.Bridge == nil {
		return nil, errors.New("bridge is required")
	}
	deps.Logger = deps.Logger.With().Str("component", "service").Logger()
	bus, err := deps.Bridge.I2CBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open I2C bus")
	}
	s := &service{
		Config:       conf,
		Dependencies: deps,
		bus:          bus,
		readings:     pubsub.New(),
		subscribers:  make(map[int]func(sampler.Reading)),
	}
	s.readings.Sub(s.dispatchReading)
	s.adc, err = devices.NewADS7828(bus, conf.Address, s.onActive)
	if err != nil {
		return nil, maskAny(err)
	}
	s.engine, err = sampler.NewEngine(conf.Sampler, sampler.Dependencies{
		Log:       deps.Logger,
		Converter: s.adc,
	})
	if err != nil {
		return nil, maskAny(err)
	}
	s.device = chardev.NewDevice(s, deps.Logger)
	return s, nil
}

// Run the service until the given context is canceled.
func (s *service) Run(ctx context.Context) error {
	log := s.Logger.With().Str("address", fmt.Sprintf("0x%02x", s.Address)).Logger()
	defer s.close()

	s.Bridge.BlinkGreenLED(time.Millisecond * 250)
	s.Bridge.SetRedLED(false)

	// Probe the converter
	log.Debug().Msg("configuring converter...")
	if err := s.adc.Configure(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to configure converter")
		s.Bridge.SetRedLED(true)
		return maskAny(err)
	}
	log.Info().Msg("Configured converter")
	s.Bridge.BlinkGreenLED(time.Second)

	if s.Publisher != nil {
		cancel := s.Subscribe(func(r sampler.Reading) {
			if err := s.Publisher.PublishReading(ctx, r); err != nil {
				log.Warn().Err(err).Msg("Failed to publish reading")
			}
		})
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runActiveNotify(ctx) })
	if s.PollInterval > 0 {
		g.Go(func() error { return s.runMonitor(ctx, log) })
	} else {
		log.Info().Msg("Monitor disabled")
	}
	return g.Wait()
}

// close the engine and bring the hardware back to a safe state.
func (s *service) close() {
	var ae aerr.AggregateError
	// Abort & wait for running acquisitions first
	if err := s.engine.Close(); err != nil {
		ae.Add(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.adc.Close(ctx); err != nil {
		ae.Add(err)
	}
	if err := s.Bridge.Close(); err != nil {
		ae.Add(err)
	}
	if err := ae.AsError(); err != nil {
		s.Logger.Warn().Err(err).Msg("Close failed")
	} else {
		s.Logger.Info().Msg("Closed")
	}
}

// Acquire performs a single acquisition and returns the packed result.
func (s *service) Acquire(ctx context.Context) (sampler.PackedResult, error) {
	r, err := s.Sample(ctx)
	if err != nil {
		return sampler.PackedResult{}, err
	}
	return r.Packed, nil
}

// Sample performs a single acquisition and returns the full reading.
func (s *service) Sample(ctx context.Context) (sampler.Reading, error) {
	r, err := s.engine.Sample(ctx)
	if err != nil {
		if !sampler.IsBusy(err) {
			atomic.AddUint32(&s.errorCount, 1)
		}
		return sampler.Reading{}, err
	}
	s.mutex.Lock()
	s.lastReading = &r
	s.mutex.Unlock()
	s.readings.Pub(r)
	return r, nil
}

// LastReading returns the most recent successful reading, if any.
func (s *service) LastReading() (sampler.Reading, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.lastReading == nil {
		return sampler.Reading{}, false
	}
	return *s.lastReading, true
}

// Subscribe registers a callback for every successful reading.
func (s *service) Subscribe(cb func(sampler.Reading)) context.CancelFunc {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastSubID++
	id := s.lastSubID
	s.subscribers[id] = cb
	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		delete(s.subscribers, id)
	}
}

// dispatchReading passes a published reading to all current subscribers.
// It is the only subscriber of the readings pubsub.
func (s *service) dispatchReading(r sampler.Reading) {
	s.mutex.Lock()
	callbacks := make([]func(sampler.Reading), 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		callbacks = append(callbacks, cb)
	}
	s.mutex.Unlock()
	for _, cb := range callbacks {
		cb(r)
	}
}

// Device returns the device file interface on top of the engine.
func (s *service) Device() *chardev.Device {
	return s.device
}

// DetectDevices scans the bus and returns the addresses of all
// devices found on it.
func (s *service) DetectDevices() []string {
	addrs := s.bus.DetectSlaveAddresses()
	result := lo.Map(addrs, func(addr byte, _ int) string {
		return fmt.Sprintf("0x%02x", addr)
	})
	s.Logger.Info().Strs("addresses", result).Msg("Detected addresses")
	return result
}

// runMonitor performs an acquisition every poll interval.
func (s *service) runMonitor(ctx context.Context, log zerolog.Logger) error {
	log.Info().Dur("interval", s.PollInterval).Msg("Starting monitor")
	return util.UntilCanceled(ctx, log, "monitor acquisition", s.PollInterval, func(ctx context.Context) error {
		r, err := s.Sample(ctx)
		if err != nil {
			monitorErrorsTotal.Inc()
			return err
		}
		monitorReadingsTotal.Inc()
		log.Debug().Uint32("value", r.Average).Str("packed", r.Packed.String()).Msg("Monitor reading")
		return nil
	})
}

// onActive is called on every transaction with the converter.
func (s *service) onActive() {
	atomic.AddUint32(&s.activeCount, 1)
}

// runActiveNotify updates the blinking status of the LEDs.
// Green blinks fast while the converter is active,
// red blinks for a while after a failed acquisition.
func (s *service) runActiveNotify(ctx context.Context) error {
	lastActiveCount := atomic.LoadUint32(&s.activeCount)
	lastErrorCount := atomic.LoadUint32(&s.errorCount)
	activeIdle, errorIdle := 0, 0
	for {
		select {
		case <-ctx.Done():
			// Context canceled
			return nil
		case <-time.After(time.Second / 10):
			newActiveCount := atomic.LoadUint32(&s.activeCount)
			if newActiveCount != lastActiveCount {
				lastActiveCount = newActiveCount
				if activeIdle > 0 {
					s.Bridge.BlinkGreenLED(time.Second / 10)
				}
				activeIdle = 0
			} else if activeIdle < 20 {
				activeIdle++
			} else if activeIdle == 20 {
				activeIdle++
				s.Bridge.BlinkGreenLED(time.Second)
			}
			newErrorCount := atomic.LoadUint32(&s.errorCount)
			if newErrorCount != lastErrorCount {
				lastErrorCount = newErrorCount
				s.Bridge.BlinkRedLED(time.Second / 10)
				errorIdle = 0
			} else if errorIdle < 50 {
				errorIdle++
			} else if errorIdle == 50 {
				errorIdle++
				s.Bridge.SetRedLED(false)
			}
		}
	}
}
