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

// Package master polls remote Modbus TCP devices and moves data
// between them and the local process image. Each configured device is
// driven by its own worker goroutine: pull points (FC 1-4) read from
// the device and stage values into the image's write journal, push
// points (FC 5, 6, 15, 16) read the image and write to the device.
// The Engine supervises the workers and exposes their state.
package master

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/edgeo-scada/plc-bridge/buffer"
	"github.com/edgeo-scada/plc-bridge/config"
	"github.com/edgeo-scada/plc-bridge/modbus"
)

// ErrNoDevices is returned by Start when the engine has nothing to poll.
var ErrNoDevices = errors.New("master: no devices configured")

// minStopTimeout bounds the Stop join even for devices with very short
// socket timeouts.
const minStopTimeout = 5 * time.Second

// DeviceState describes where a device worker is in its lifecycle.
type DeviceState uint8

const (
	// StateConnecting means the worker is dialing the device.
	StateConnecting DeviceState = iota
	// StatePolling means the worker is cycling through its points.
	StatePolling
	// StateReconnecting means the worker lost the connection and is
	// making its single redial attempt.
	StateReconnecting
	// StateStopped means the worker exited because the engine stopped.
	StateStopped
	// StateFailed means the worker exited on an unrecoverable error
	// and the device will not be polled again until restart.
	StateFailed
)

// String returns a human-readable state name.
func (s DeviceState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePolling:
		return "polling"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DeviceStatus is a point-in-time snapshot of one device worker.
type DeviceStatus struct {
	Device      string
	WorkerID    string
	State       DeviceState
	Cycles      uint64
	PointErrors uint64
	Reconnects  uint64
	LastError   error
}

// Metrics holds engine-wide polling counters, aggregated across all
// device workers.
type Metrics struct {
	Cycles      modbus.Counter
	PointErrors modbus.Counter
	Reconnects  modbus.Counter
}

// Collect returns all metrics as a map (compatible with expvar/prometheus).
func (m *Metrics) Collect() map[string]interface{} {
	return map[string]interface{}{
		"poll_cycles":  m.Cycles.Value(),
		"point_errors": m.PointErrors.Value(),
		"reconnects":   m.Reconnects.Value(),
	}
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger used by the engine and its workers.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Engine owns one polling worker per configured device. Workers are
// independent: a device that fails or falls behind never blocks the
// others. The engine only observes them.
type Engine struct {
	acc     *buffer.Accessor
	devices []config.Device
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	workers []*worker
}

// NewEngine creates a polling engine over the shared memory image for
// the given devices. The engine does not start polling until Start is
// called.
func NewEngine(mem buffer.SharedMemory, devices []config.Device, opts ...EngineOption) *Engine {
	o := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return &Engine{
		acc:     buffer.NewAccessor(mem),
		devices: devices,
		logger:  o.logger,
		metrics: &Metrics{},
	}
}

// Metrics returns the engine's aggregated polling counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Start launches one worker goroutine per device. It is a no-op if the
// engine is already running.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.logger.Warn("master engine already running")
		return nil
	}
	if len(e.devices) == 0 {
		return ErrNoDevices
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.workers = make([]*worker, 0, len(e.devices))
	for _, dev := range e.devices {
		w := newWorker(dev, e.acc, e.logger, e.metrics)
		e.workers = append(e.workers, w)
		go w.run(ctx)
		e.logger.Info("device worker started",
			"device", dev.Name,
			"worker_id", w.id,
			"addr", dev.Addr(),
			"points", len(dev.IOPoints),
			"cycle", dev.CycleTime)
	}
	e.running = true
	return nil
}

// Stop cancels all workers and waits for them to exit. The join is
// bounded: a worker blocked in a network call is given its socket
// timeout plus slack, after which Stop returns and reports the
// stragglers. Stop is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	workers := e.workers
	e.mu.Unlock()

	cancel()

	deadline := minStopTimeout
	for _, w := range workers {
		if t := w.device.Timeout + time.Second; t > deadline {
			deadline = t
		}
	}

	expired := time.After(deadline)
	for _, w := range workers {
		select {
		case <-w.done:
		case <-expired:
			for _, rest := range workers {
				select {
				case <-rest.done:
				default:
					e.logger.Warn("device worker did not exit before deadline",
						"device", rest.device.Name, "worker_id", rest.id)
				}
			}
			return
		}
	}
	e.logger.Info("master engine stopped", "devices", len(workers))
}

// Status returns a snapshot of every device worker, in configuration
// order. After Stop the snapshots remain available and report the
// workers' terminal states.
func (e *Engine) Status() []DeviceStatus {
	e.mu.Lock()
	workers := e.workers
	e.mu.Unlock()

	out := make([]DeviceStatus, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.status())
	}
	return out
}
