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

	"github.com/ecc1/gpio"
	"github.com/pkg/errors"
)

// statusLed is a GPIO driven LED that can be set or blinked.
type statusLed struct {
	name  string
	mutex sync.Mutex
	pin   gpio.OutputPin
	// Set while blinking
	stop chan struct{}
	done chan struct{}
}

// newStatusLed configures the given (active low) pin as an LED output
// that is initially off.
func newStatusLed(name string, pinNr int) (*statusLed, error) {
	pin, err := gpio.Output(pinNr, true, false)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to configure %s led on pin %d", name, pinNr)
	}
	return &statusLed{name: name, pin: pin}, nil
}

// Set turns the led on/off, stopping any blinking.
func (l *statusLed) Set(on bool) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.stopBlinkLocked()
	if err := l.pin.Write(on); err != nil {
		return errors.Wrapf(err, "failed to set %s led", l.name)
	}
	return nil
}

// Blink the led, toggling it every delay.
func (l *statusLed) Blink(delay time.Duration) error {
	if delay <= 0 {
		return errors.Errorf("invalid blink delay %s", delay)
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.stopBlinkLocked()
	stop, done := make(chan struct{}), make(chan struct{})
	l.stop, l.done = stop, done
	go func() {
		defer close(done)
		ticker := time.NewTicker(delay)
		defer ticker.Stop()
		value := true
		for {
			l.pin.Write(value)
			value = !value
			select {
			case <-ticker.C:
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// stopBlinkLocked stops a blinking goroutine and waits until it no
// longer touches the pin.
func (l *statusLed) stopBlinkLocked() {
	if l.stop == nil {
		return
	}
	close(l.stop)
	<-l.done
	l.stop, l.done = nil, nil
}
