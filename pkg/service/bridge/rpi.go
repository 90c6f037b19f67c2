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
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	greenLedPin = 23
	redLedPin   = 24
)

type piBridge struct {
	mutex    sync.Mutex
	busCfg   BusConfig
	greenLed *statusLed
	redLed   *statusLed
	bus      I2CBus
}

// NewRaspberryPiBridge implements the bridge for Raspberry PI's.
// The bus is opened on first use.
func NewRaspberryPiBridge(busCfg BusConfig) (API, error) {
	greenLed, err := newStatusLed("green", greenLedPin)
	if err != nil {
		return nil, err
	}
	redLed, err := newStatusLed("red", redLedPin)
	if err != nil {
		return nil, err
	}
	return &piBridge{
		busCfg:   busCfg,
		greenLed: greenLed,
		redLed:   redLed,
	}, nil
}

func (p *piBridge) SetGreenLED(on bool) error { return p.greenLed.Set(on) }
func (p *piBridge) SetRedLED(on bool) error { return p.redLed.Set(on) }
func (p *piBridge) BlinkGreenLED(delay time.Duration) error { return p.greenLed.Blink(delay) }
func (p *piBridge) BlinkRedLED(delay time.Duration) error { return p.redLed.Blink(delay) }

// I2CBus opens the I2C bus
func (p *piBridge) I2CBus() (I2CBus, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.bus == nil {
		bus, err := NewI2CBus(p.busCfg)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open bus %s", p.busCfg.Location)
		}
		p.bus = bus
	}
	return p.bus, nil
}

// Close turns off the leds and closes the bus (if open).
func (p *piBridge) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.greenLed.Set(false)
	p.redLed.Set(false)
	if bus := p.bus; bus != nil {
		p.bus = nil
		if err := bus.Close(); err != nil {
			return errors.Wrap(err, "failed to close bus")
		}
	}
	return nil
}
