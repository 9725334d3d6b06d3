// Package api exposes a running supervisor over HTTP. Lifecycle events are
// streamed to WebSocket clients at /api/v1/events.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/lestrrat-go/supervisor"
	"github.com/lestrrat-go/supervisor/internal/config"
	"github.com/pkg/errors"
)

const gracefulShutdownTimeout = 5 * time.Second

// Controller is the part of the supervisor the API drives.
type Controller interface {
	Status() supervisor.Stats
	Start(force bool) error
	Stop()
	Restart() error
	SetTimeout(d time.Duration, force bool)
	ClearTimeout()
	SetInterval(d time.Duration, force bool)
	ClearInterval()
	Send(v interface{}) error
}

type supervisorController struct {
	s *supervisor.Supervisor
}

// FromSupervisor adapts s to Controller.
func FromSupervisor(s *supervisor.Supervisor) Controller {
	return supervisorController{s: s}
}

func (c supervisorController) Status() supervisor.Stats { return c.s.Status() }
func (c supervisorController) Start(force bool) error   { return c.s.Start(force) }
func (c supervisorController) Stop()                    { c.s.Stop() }
func (c supervisorController) Restart() error           { return c.s.Restart() }
func (c supervisorController) ClearTimeout()            { c.s.ClearTimeout() }
func (c supervisorController) ClearInterval()           { c.s.ClearInterval() }
func (c supervisorController) Send(v interface{}) error { return c.s.Send(v) }

func (c supervisorController) SetTimeout(d time.Duration, force bool) {
	c.s.SetTimeout(d, force)
}

func (c supervisorController) SetInterval(d time.Duration, force bool) {
	c.s.SetInterval(d, force)
}

type Server struct {
	cfg      config.APIConfig
	ctl      Controller
	logger   supervisor.Logger
	hub      *Hub
	server   *http.Server
	listener net.Listener
}

func New(cfg config.APIConfig, ctl Controller, logger supervisor.Logger) *Server {
	return &Server{
		cfg:    cfg,
		ctl:    ctl,
		logger: logger,
		hub:    NewHub(logger),
	}
}

// Hub returns the hub events should be broadcast to.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listen address and serves in the background. Errors
// binding the address are returned; later serve errors are logged.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	s.listener = l

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		s.logger.Info("API server listening", "address", l.Addr().String())
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr is the bound address, useful when the configured port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close disconnects event stream clients and shuts the server down.
func (s *Server) Close() error {
	s.hub.Close()
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	return errors.Wrap(s.server.Shutdown(ctx), "failed to shut down API server")
}
