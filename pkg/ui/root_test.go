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

package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binkynet/ADCWorker/pkg/sampler"
)

type fakeService struct {
	reading sampler.Reading
	found   bool
	err     error
	samples int
}

func (s *fakeService) Sample(ctx context.Context) (sampler.Reading, error) {
	s.samples++
	if s.err != nil {
		return sampler.Reading{}, s.err
	}
	return s.reading, nil
}

func (s *fakeService) LastReading() (sampler.Reading, bool) {
	return s.reading, s.found
}

func keyMsg(key string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

func testReading() sampler.Reading {
	return sampler.Reading{
		Average:    0x0123,
		Packed:     sampler.Pack(0x0123),
		Samples:    sampler.BatchSize,
		AcquiredAt: time.Now(),
		Duration:   time.Second * 20,
	}
}

func TestRootShowsLastReading(t *testing.T) {
	svc := &fakeService{reading: testReading(), found: true}
	root := NewRoot(context.Background(), svc, "xterm")
	assert.Contains(t, root.View(), "No reading yet")

	msg := doLoadLastReading(svc, 0)()
	m, cmd := root.Update(msg)
	assert.NotNil(t, cmd)
	view := m.View()
	assert.Contains(t, view, "0x0123")
	assert.Contains(t, view, "23010000")
}

func TestRootAcquireKey(t *testing.T) {
	svc := &fakeService{reading: testReading()}
	root := NewRoot(context.Background(), svc, "xterm")

	m, cmd := root.Update(keyMsg("a"))
	require.NotNil(t, cmd)
	assert.True(t, m.(Root).acquiring)
	assert.Contains(t, m.View(), "Acquiring")

	// A second request while acquiring is ignored
	m, second := m.Update(keyMsg("a"))
	assert.Nil(t, second)

	m, _ = m.Update(cmd())
	assert.Equal(t, 1, svc.samples)
	assert.False(t, m.(Root).acquiring)
	assert.Contains(t, m.View(), "0x0123")
}

func TestRootAcquireFailure(t *testing.T) {
	svc := &fakeService{err: errors.New("bus failure")}
	root := NewRoot(context.Background(), svc, "xterm")

	m, cmd := root.Update(keyMsg("a"))
	require.NotNil(t, cmd)
	m, _ = m.Update(cmd())
	assert.Contains(t, m.View(), "bus failure")
	assert.Contains(t, m.View(), "No reading yet")
}

func TestRootQuit(t *testing.T) {
	root := NewRoot(context.Background(), &fakeService{}, "xterm")
	_, cmd := root.Update(keyMsg("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
