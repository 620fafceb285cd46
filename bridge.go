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

// Package plcbridge connects an IEC 61131-3 process image to Modbus
// TCP in both directions. A Bridge runs a master engine that polls
// remote devices into the image and a slave server that exposes the
// image's regions as coils and registers, all over one shared memory
// and its write journal.
package plcbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgeo-scada/plc-bridge/buffer"
	"github.com/edgeo-scada/plc-bridge/config"
	"github.com/edgeo-scada/plc-bridge/master"
	"github.com/edgeo-scada/plc-bridge/slave"
)

// Option configures a Bridge.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	mem          buffer.SharedMemory
	startTimeout time.Duration
}

// WithLogger sets the logger shared by the bridge and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMemory supplies the process image the bridge operates on. The
// host runtime passes its own shared memory here; when omitted the
// bridge owns a fresh image.
func WithMemory(mem buffer.SharedMemory) Option {
	return func(o *options) {
		if mem != nil {
			o.mem = mem
		}
	}
}

// WithSlaveStartTimeout bounds how long Start waits for the slave
// endpoint's first bind attempt.
func WithSlaveStartTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.startTimeout = d
		}
	}
}

// Bridge wires the master polling engine and the slave server to one
// process image. Both sides run until Stop.
type Bridge struct {
	runID  string
	cfg    *config.Config
	mem    buffer.SharedMemory
	logger *slog.Logger

	engine *master.Engine
	server *slave.Server

	mu      sync.Mutex
	running bool
}

// New assembles a bridge from a loaded configuration. Nothing starts
// until Start is called.
func New(cfg *config.Config, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		return nil, errors.New("plcbridge: nil config")
	}

	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)

	mem := o.mem
	if mem == nil {
		mem = buffer.NewImage()
	}

	slaveOpts := []slave.ServerOption{slave.WithLogger(logger)}
	if o.startTimeout > 0 {
		slaveOpts = append(slaveOpts, slave.WithStartTimeout(o.startTimeout))
	}

	return &Bridge{
		runID:  runID,
		cfg:    cfg,
		mem:    mem,
		logger: logger,
		engine: master.NewEngine(mem, cfg.Devices, master.WithLogger(logger)),
		server: slave.NewServer(cfg.Slave.Addr(), mem, MappingFromConfig(cfg.Slave), slaveOpts...),
	}, nil
}

// MappingFromConfig translates the loaded slave section into the
// layout mapping the slave server consumes.
func MappingFromConfig(sc config.SlaveConfig) slave.Mapping {
	return slave.Mapping{
		QXBits:    sc.QXBits,
		MXBits:    sc.MXBits,
		IXBits:    sc.IXBits,
		IWCount:   sc.IWCount,
		QWCount:   sc.QWCount,
		MWCount:   sc.MWCount,
		MDCount:   sc.MDCount,
		MLCount:   sc.MLCount,
		WordOrder: sc.WordOrder,
	}
}

// Start launches the master engine and the slave server. A returned
// error from the slave side means its endpoint is not bound yet; bind
// retries continue in the background and the bridge is running, so the
// caller still owns a Stop. Start is a no-op when already running.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		b.logger.Warn("bridge already running")
		return nil
	}

	if len(b.cfg.Devices) > 0 {
		if err := b.engine.Start(); err != nil {
			return fmt.Errorf("start master engine: %w", err)
		}
		b.logger.Info("master engine started", "devices", len(b.cfg.Devices))
	} else {
		b.logger.Info("no master devices configured, polling disabled")
	}

	b.running = true
	if err := b.server.Start(); err != nil {
		return fmt.Errorf("start slave server: %w", err)
	}
	b.logger.Info("slave server started", "addr", b.cfg.Slave.Addr())
	return nil
}

// Stop shuts down both sides. Idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	b.engine.Stop()
	b.server.Stop()
	b.logger.Info("bridge stopped")
}

// RunID identifies this bridge instance in logs.
func (b *Bridge) RunID() string {
	return b.runID
}

// Memory returns the process image the bridge operates on.
func (b *Bridge) Memory() buffer.SharedMemory {
	return b.mem
}

// DeviceStatus reports a snapshot of every master device worker.
func (b *Bridge) DeviceStatus() []master.DeviceStatus {
	return b.engine.Status()
}

// EngineMetrics returns the master engine's polling counters.
func (b *Bridge) EngineMetrics() *master.Metrics {
	return b.engine.Metrics()
}

// SlaveAddr returns the slave endpoint's bound address, or nil while
// unbound.
func (b *Bridge) SlaveAddr() net.Addr {
	return b.server.Addr()
}
