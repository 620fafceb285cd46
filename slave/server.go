// Copyright 2025 Edgeo SCADA
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

package slave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edgeo-scada/plc-bridge/buffer"
	"github.com/edgeo-scada/plc-bridge/modbus"
)

const (
	// retryDelayBase is the wait before the second bind attempt; each
	// further failure multiplies the wait by 1.5 up to retryDelayMax.
	// A successful bind resets the wait to the base.
	retryDelayBase = 2 * time.Second
	retryDelayMax  = 30 * time.Second

	// DefaultStartTimeout bounds how long Start waits for the first
	// bind attempt to report before giving up on a synchronous answer.
	DefaultStartTimeout = 5 * time.Second
)

// ErrStartTimeout is returned by Start when the first bind attempt
// does not report within the start timeout. The server keeps retrying
// in the background.
var ErrStartTimeout = errors.New("slave: start timed out")

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger       *slog.Logger
	startTimeout time.Duration
	maxConns     int
}

func defaultServerOptions() serverOptions {
	return serverOptions{
		logger:       slog.Default(),
		startTimeout: DefaultStartTimeout,
		maxConns:     0, // wire server default
	}
}

// WithLogger sets the logger for the server and its request handling.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStartTimeout bounds how long Start blocks for the first bind
// attempt's outcome.
func WithStartTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		if d > 0 {
			o.startTimeout = d
		}
	}
}

// WithMaxConnections limits concurrent client connections.
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		if n > 0 {
			o.maxConns = n
		}
	}
}

// Server exposes the process image on a Modbus TCP endpoint and keeps
// the endpoint alive: a failed bind or a died listener is retried
// forever with capped exponential backoff until Stop is called.
type Server struct {
	addr    string
	handler modbus.Handler
	opts    serverOptions

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	boundAddr net.Addr
}

// NewServer builds the slave endpoint for a process image and mapping.
func NewServer(addr string, mem buffer.SharedMemory, mapping Mapping, opts ...ServerOption) *Server {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(&options)
	}

	layout := NewLayout(mapping)
	blocks := NewDataBlocks(mem, layout, options.logger)

	return &Server{
		addr:    addr,
		handler: NewHandler(blocks),
		opts:    options,
	}
}

// Start launches the supervisor and reports the outcome of the first
// bind attempt: nil when the endpoint came up, the bind error when it
// did not, or ErrStartTimeout when no outcome arrived in time. In all
// three cases the supervisor keeps running until Stop. Starting an
// already running server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.opts.logger.Warn("slave server already running", "addr", s.addr)
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	first := make(chan error, 1)
	go s.run(ctx, done, first)

	select {
	case err := <-first:
		return err
	case <-time.After(s.opts.startTimeout):
		return fmt.Errorf("%w after %s (addr %s)", ErrStartTimeout, s.opts.startTimeout, s.addr)
	}
}

// Stop shuts the endpoint down and waits for the supervisor to exit.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done
}

// Addr returns the bound listener address, or nil while the endpoint
// is down.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

func (s *Server) run(ctx context.Context, done chan struct{}, first chan<- error) {
	defer close(done)

	backoff := retryDelayBase
	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			first <- err
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		listener, err := net.Listen("tcp", s.addr)
		if err != nil {
			report(err)
			s.opts.logger.Error("slave bind failed",
				"addr", s.addr,
				"retry_in", backoff,
				"error", err)
		} else {
			backoff = retryDelayBase

			s.mu.Lock()
			s.boundAddr = listener.Addr()
			s.mu.Unlock()
			report(nil)
			s.opts.logger.Info("slave server listening", "addr", listener.Addr().String())

			err = s.serve(ctx, listener)

			s.mu.Lock()
			s.boundAddr = nil
			s.mu.Unlock()

			if ctx.Err() != nil {
				s.opts.logger.Info("slave server stopped", "addr", s.addr)
				return
			}
			s.opts.logger.Error("slave server exited",
				"addr", s.addr,
				"retry_in", backoff,
				"error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// serve runs one wire server on an established listener until the
// context is canceled or the listener dies.
func (s *Server) serve(ctx context.Context, listener net.Listener) error {
	srvOpts := []modbus.ServerOption{modbus.WithServerLogger(s.opts.logger)}
	if s.opts.maxConns > 0 {
		srvOpts = append(srvOpts, modbus.WithMaxConnections(s.opts.maxConns))
	}
	srv := modbus.NewServer(s.handler, srvOpts...)

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			srv.Close()
		case <-watchDone:
		}
	}()
	err := srv.Serve(listener)
	close(watchDone)
	return err
}

// nextBackoff grows a retry delay by half, capped at retryDelayMax.
func nextBackoff(d time.Duration) time.Duration {
	d += d / 2
	if d > retryDelayMax {
		d = retryDelayMax
	}
	return d
}
