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

package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/binkynet/ADCWorker/pkg/chardev"
	"github.com/binkynet/ADCWorker/pkg/sampler"
)

// Config for the HTTP server.
type Config struct {
	// Host interface to listen on
	Host string
	// Port to listen on for HTTP requests
	HTTPPort int
	// Port to listen on for SSH requests. 0 disables SSH.
	SSHPort int
	// Path of the SSH host key. Created when it does not exist.
	SSHHostKeyPath string
}

// Server runs the HTTP & SSH servers for the service.
type Server struct {
	Config
	log     zerolog.Logger
	ui      UI
	service Service
}

type UI interface {
	// You can wire any Bubble Tea model up to the middleware with a function that
	// handles the incoming ssh.Session.
	TeaHandler(s ssh.Session) (tea.Model, []tea.ProgramOption)
}

// Service is the part of the worker served by the server.
type Service interface {
	// Sample performs a single acquisition and returns the full reading.
	Sample(ctx context.Context) (sampler.Reading, error)
	// LastReading returns the most recent successful reading, if any.
	LastReading() (sampler.Reading, bool)
	// Device returns the device file interface.
	Device() *chardev.Device
}

// New configures a new Server.
func New(cfg Config, log zerolog.Logger, ui UI, service Service) (*Server, error) {
	return &Server{
		Config:  cfg,
		log:     log.With().Str("component", "server").Logger(),
		ui:      ui,
		service: service,
	}, nil
}

// Run the server until the given context is canceled.
func (s *Server) Run(ctx context.Context) error {
	// Prepare HTTP listener
	log := s.log
	httpAddr := net.JoinHostPort(s.Host, strconv.Itoa(s.HTTPPort))
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on address %s: %w", httpAddr, err)
	}

	// Prepare HTTP server
	httpSrv := http.Server{
		Handler: s.newRouter(),
	}

	// Prepare SSH server
	var sshServer *ssh.Server
	var sshAddr string
	if s.SSHPort > 0 && s.ui != nil {
		sshAddr = net.JoinHostPort(s.Host, strconv.Itoa(s.SSHPort))
		sshServer, err = wish.NewServer(
			// The address the server will listen to.
			wish.WithAddress(sshAddr),

			// The SSH server need its own keys, this will create a keypair in the
			// given path if it doesn't exist yet.
			// By default, it will create an ED25519 key.
			wish.WithHostKeyPath(s.SSHHostKeyPath),

			// Middlewares do something on a ssh.Session, and then call the next
			// middleware in the stack.
			wish.WithMiddleware(
				bubbletea.Middleware(s.ui.TeaHandler),
				// The last item in the chain is the first to be called.
				activeterm.Middleware(),
				logging.Middleware(),
			),
		)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("could not start SSH server: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	// Serve apis
	log.Debug().Str("address", httpAddr).Msg("Serving HTTP")
	g.Go(func() error {
		if err := httpSrv.Serve(httpLis); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to serve HTTP server: %w", err)
		}
		log.Debug().Str("address", httpAddr).Msg("Done Serving HTTP")
		return nil
	})
	// Serve UI
	if sshServer != nil {
		log.Debug().Str("address", sshAddr).Msg("Serving SSH")
		g.Go(func() error {
			if err := sshServer.ListenAndServe(); err != nil && err != ssh.ErrServerClosed {
				return fmt.Errorf("failed to serve SSH server: %w", err)
			}
			log.Debug().Str("address", sshAddr).Msg("Done Serving SSH")
			return nil
		})
	}

	// Wait until context closed
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Closing servers")
		httpSrv.Shutdown(context.Background())
		if sshServer != nil {
			sshServer.Shutdown(context.Background())
		}
		return nil
	})
	return g.Wait()
}

// newRouter creates the HTTP request router.
func (s *Server) newRouter() *echo.Echo {
	httpRouter := echo.New()
	httpRouter.HideBanner = true
	httpRouter.HidePort = true
	httpRouter.GET("/health", echo.WrapHandler(http.HandlerFunc(healthHandler)))
	httpRouter.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	httpRouter.GET("/debug/pprof/*", echo.WrapHandler(http.HandlerFunc(pprof.Index)))
	httpRouter.GET("/v1/reading", s.handleGetReading)
	httpRouter.PUT("/v1/reading", s.handlePutReading)
	httpRouter.GET("/v1/reading/last", s.handleGetLastReading)
	return httpRouter
}

// handleGetReading performs a single acquisition.
// The packed result is returned, or a JSON reading when format=json.
func (s *Server) handleGetReading(c echo.Context) error {
	ctx := c.Request().Context()
	if c.QueryParam("format") == "json" {
		r, err := s.service.Sample(ctx)
		if err != nil {
			return s.acquisitionError(err)
		}
		return c.JSON(http.StatusOK, r.Message())
	}

	f := s.service.Device().Open(ctx)
	defer f.Close()
	buf := make([]byte, sampler.PackedSize)
	n, err := f.Read(buf)
	if err != nil {
		return s.acquisitionError(err)
	}
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, buf[:n])
}

// handlePutReading accepts data without effect.
func (s *Server) handlePutReading(c echo.Context) error {
	f := s.service.Device().Open(c.Request().Context())
	defer f.Close()
	if _, err := io.Copy(f, c.Request().Body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// handleGetLastReading returns the last successful reading.
func (s *Server) handleGetLastReading(c echo.Context) error {
	r, found := s.service.LastReading()
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "no reading available")
	}
	return c.JSON(http.StatusOK, r.Message())
}

// acquisitionError converts a failed acquisition into an HTTP error.
func (s *Server) acquisitionError(err error) error {
	if sampler.IsBusy(err) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	s.log.Warn().Err(err).Msg("Acquisition failed")
	return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "OK")
}
