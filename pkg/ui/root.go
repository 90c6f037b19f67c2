// Copyright 2023 Ewout Prangsma
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

package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/binkynet/ADCWorker/pkg/sampler"
)

// Service is the part of the worker used by the UI.
type Service interface {
	Sample(ctx context.Context) (sampler.Reading, error)
	LastReading() (sampler.Reading, bool)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	valueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle  = lipgloss.NewStyle().Faint(true)
)

const (
	reloadInterval = time.Second
)

type Root struct {
	ctx     context.Context
	service Service
	term    string
	width   int
	height  int

	spinner   spinner.Model
	acquiring bool
	reading   sampler.Reading
	found     bool
	lastErr   error
}

var _ tea.Model = Root{}

// NewRoot creates the root model for a single session.
// Acquisitions started from the UI are canceled with the given context.
func NewRoot(ctx context.Context, service Service, term string) Root {
	return Root{
		ctx:     ctx,
		service: service,
		term:    term,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

// Init is the first function that will be called. It returns an optional
// initial command. To not perform an initial command return nil.
func (r Root) Init() tea.Cmd {
	return tea.Batch(r.spinner.Tick, doLoadLastReading(r.service, 0))
}

// Update is called when a message is received. Use it to inspect messages
// and, in response, update the model and/or send a command.
func (r Root) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case lastReadingMsg:
		if msg.found {
			r.reading = msg.reading
			r.found = true
		}
		return r, doLoadLastReading(r.service, reloadInterval)
	case acquiredMsg:
		r.acquiring = false
		r.lastErr = msg.err
		if msg.err == nil {
			r.reading = msg.reading
			r.found = true
		}
		return r, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		r.spinner, cmd = r.spinner.Update(msg)
		return r, cmd
	case tea.WindowSizeMsg:
		r.height = msg.Height
		r.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return r, tea.Quit
		case "a":
			if !r.acquiring {
				r.acquiring = true
				r.lastErr = nil
				return r, doAcquire(r.ctx, r.service)
			}
		}
	}
	return r, nil
}

// View renders the program's UI, which is just a string. The view is
// rendered after every Update.
func (r Root) View() string {
	s := r.headerView()
	if r.found {
		s += fmt.Sprintf("Value:    %s (0x%04x)\n", valueStyle.Render(fmt.Sprintf("%d", r.reading.Average)), r.reading.Average)
		s += fmt.Sprintf("Packed:   %s\n", r.reading.Packed.String())
		s += fmt.Sprintf("Acquired: %s in %s\n", humanize.Time(r.reading.AcquiredAt), r.reading.Duration.Round(time.Millisecond))
	} else {
		s += "No reading yet\n"
	}
	if r.acquiring {
		s += r.spinner.View() + " Acquiring...\n"
	} else if r.lastErr != nil {
		s += errorStyle.Render("Acquisition failed: "+r.lastErr.Error()) + "\n"
	}
	s += "\n" + helpStyle.Render(`a - Acquire now
q - Disconnect`) + "\n"
	return s
}

func (r Root) headerView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Welcome to BinkyNet ADC worker!"),
		"",
	) + "\n"
}

type lastReadingMsg struct {
	reading sampler.Reading
	found   bool
}

type acquiredMsg struct {
	reading sampler.Reading
	err     error
}

// doLoadLastReading fetches the last reading after the given delay.
func doLoadLastReading(service Service, delay time.Duration) tea.Cmd {
	load := func(time.Time) tea.Msg {
		r, found := service.LastReading()
		return lastReadingMsg{reading: r, found: found}
	}
	if delay == 0 {
		return func() tea.Msg { return load(time.Now()) }
	}
	return tea.Tick(delay, load)
}

// doAcquire performs an acquisition.
func doAcquire(ctx context.Context, service Service) tea.Cmd {
	return func() tea.Msg {
		r, err := service.Sample(ctx)
		return acquiredMsg{reading: r, err: err}
	}
}
