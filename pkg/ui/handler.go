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
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
)

// Handler creates a UI for every SSH session.
type Handler struct {
	service Service
}

// NewHandler creates a new UI handler on top of the given service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// TeaHandler creates the model of a new SSH session.
func (h *Handler) TeaHandler(s ssh.Session) (tea.Model, []tea.ProgramOption) {
	pty, _, _ := s.Pty()
	return NewRoot(s.Context(), h.service, pty.Term), []tea.ProgramOption{tea.WithAltScreen()}
}
