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

package master

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgeo-scada/plc-bridge/buffer"
	"github.com/edgeo-scada/plc-bridge/config"
	"github.com/edgeo-scada/plc-bridge/iec"
	"github.com/edgeo-scada/plc-bridge/modbus"
)

// boundPoint is an I/O point whose IEC location has been resolved to a
// buffer access. Resolution happens once, before the first cycle.
type boundPoint struct {
	cfg    config.IOPoint
	access buffer.Access
}

// worker polls a single device. It owns its Modbus client and never
// shares it; all cross-goroutine access goes through the shared memory
// image or the status snapshot.
type worker struct {
	id      string
	device  config.Device
	acc     *buffer.Accessor
	logger  *slog.Logger
	metrics *Metrics

	done chan struct{}

	mu         sync.Mutex
	state      DeviceState
	cycles     uint64
	pointErrs  uint64
	reconnects uint64
	lastErr    error
}

func newWorker(device config.Device, acc *buffer.Accessor, logger *slog.Logger, metrics *Metrics) *worker {
	id := uuid.NewString()
	return &worker{
		id:      id,
		device:  device,
		acc:     acc,
		logger:  logger.With("device", device.Name, "worker_id", id),
		metrics: metrics,
		done:    make(chan struct{}),
		state:   StateConnecting,
	}
}

// run is the worker goroutine body. It exits on context cancellation
// (StateStopped) or on an unrecoverable connection failure
// (StateFailed); per-point errors never terminate it.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)

	points := w.bindPoints()
	if len(points) == 0 {
		w.logger.Warn("no usable points, worker exiting")
		w.setState(StateStopped, nil)
		return
	}

	w.setState(StateConnecting, nil)
	client, err := w.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			w.setState(StateStopped, nil)
			return
		}
		w.logger.Error("device connect failed", "addr", w.device.Addr(), "error", err)
		w.setState(StateFailed, err)
		return
	}
	defer func() { client.Close() }()

	w.setState(StatePolling, nil)
	w.logger.Info("device polling started",
		"addr", w.device.Addr(), "points", len(points), "cycle", w.device.CycleTime)

	for {
		start := time.Now()

		for _, p := range points {
			if ctx.Err() != nil {
				w.setState(StateStopped, nil)
				return
			}

			err := w.processPoint(ctx, client, p)
			if err == nil {
				continue
			}

			if isConnectionError(err) {
				if ctx.Err() != nil {
					w.setState(StateStopped, nil)
					return
				}
				w.logger.Warn("connection lost", "error", err)
				w.setState(StateReconnecting, err)
				client.Close()

				next, derr := w.dial(ctx)
				if derr != nil {
					if ctx.Err() != nil {
						w.setState(StateStopped, nil)
						return
					}
					w.logger.Error("reconnect failed, abandoning device", "error", derr)
					w.setState(StateFailed, derr)
					return
				}
				client = next
				w.recordReconnect()
				w.setState(StatePolling, nil)
				w.logger.Info("device reconnected")
				continue
			}

			w.recordPointError(err)
			w.logger.Warn("point failed",
				"fc", p.cfg.FC,
				"location", p.cfg.Location,
				"offset", p.cfg.Offset,
				"error", err)
		}

		w.recordCycle()

		if !w.sleepRemainder(ctx, start) {
			w.setState(StateStopped, nil)
			return
		}
	}
}

// bindPoints resolves every configured point's IEC location. Points
// that do not resolve are logged and dropped; the rest keep their
// configuration order.
func (w *worker) bindPoints() []boundPoint {
	points := make([]boundPoint, 0, len(w.device.IOPoints))
	for i, p := range w.device.IOPoints {
		addr, err := iec.Parse(p.Location)
		if err != nil {
			w.logger.Error("skipping point with bad location",
				"point", i, "location", p.Location, "error", err)
			continue
		}
		dir := buffer.Read
		if p.FC <= 4 {
			dir = buffer.Write
		}
		access, err := buffer.Resolve(addr, dir)
		if err != nil {
			w.logger.Error("skipping point with unresolvable location",
				"point", i, "location", p.Location, "error", err)
			continue
		}
		points = append(points, boundPoint{cfg: p, access: access})
	}
	return points
}

// dial creates a fresh client and connects it. The returned client is
// closed by the caller; on error no client is left open.
func (w *worker) dial(ctx context.Context) (*modbus.Client, error) {
	client, err := modbus.NewClient(w.device.Addr(),
		modbus.WithTimeout(w.device.Timeout),
		modbus.WithLogger(w.logger),
	)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// processPoint executes one I/O point against the device. Pull points
// stage into the write journal; push points read the image under its
// lock and then write to the device with no lock held.
func (w *worker) processPoint(ctx context.Context, client *modbus.Client, p boundPoint) error {
	switch p.cfg.FC {
	case 1, 2:
		var bits []bool
		var err error
		if p.cfg.FC == 1 {
			bits, err = client.ReadCoils(ctx, p.cfg.Offset, p.cfg.Length)
		} else {
			bits, err = client.ReadDiscreteInputs(ctx, p.cfg.Offset, p.cfg.Length)
		}
		if err != nil {
			return err
		}
		return w.storeBits(p, bits)

	case 3, 4:
		qty, err := registerQuantity(p)
		if err != nil {
			return err
		}
		var regs []uint16
		if p.cfg.FC == 3 {
			regs, err = client.ReadHoldingRegisters(ctx, p.cfg.Offset, qty)
		} else {
			regs, err = client.ReadInputRegisters(ctx, p.cfg.Offset, qty)
		}
		if err != nil {
			return err
		}
		values := combineRegisters(regs, p.access.RegistersPerElement(), w.device.WordOrder)
		return w.acc.StageValues(p.access, values)

	case 5:
		state, err := w.localBool(p)
		if err != nil {
			return err
		}
		return client.WriteSingleCoil(ctx, p.cfg.Offset, state)

	case 6:
		if p.access.IsBool() {
			return fmt.Errorf("%s: single register push needs an element location, got bit region %s",
				p.cfg.Location, p.access.Kind)
		}
		raw, err := w.acc.ReadRaw(p.access, 1)
		if err != nil {
			return err
		}
		return client.WriteSingleRegister(ctx, p.cfg.Offset, uint16(raw[0]))

	case 15:
		if !p.access.IsBool() {
			return fmt.Errorf("%s: multiple coil push needs a bit location, got %s",
				p.cfg.Location, p.access.Kind)
		}
		bits, err := w.acc.ReadBits(p.access, int(p.cfg.Length))
		if err != nil {
			return err
		}
		return client.WriteMultipleCoils(ctx, p.cfg.Offset, bits)

	case 16:
		if p.access.IsBool() {
			return fmt.Errorf("%s: register push needs an element location, got bit region %s",
				p.cfg.Location, p.access.Kind)
		}
		values, err := w.acc.ReadRaw(p.access, int(p.cfg.Length))
		if err != nil {
			return err
		}
		regs := splitElements(values, p.access.RegistersPerElement(), w.device.WordOrder)
		return client.WriteMultipleRegisters(ctx, p.cfg.Offset, regs)

	default:
		return fmt.Errorf("unsupported function code %d", p.cfg.FC)
	}
}

// storeBits stages the result of a coil or discrete input read. A bit
// location takes the whole run; an element location takes a single
// coil as 0 or 1.
func (w *worker) storeBits(p boundPoint, bits []bool) error {
	if len(bits) < int(p.cfg.Length) {
		return fmt.Errorf("%s: device returned %d bits, want %d",
			p.cfg.Location, len(bits), p.cfg.Length)
	}
	bits = bits[:p.cfg.Length]

	if p.access.IsBool() {
		return w.acc.StageBits(p.access, bits)
	}
	if p.cfg.Length != 1 {
		return fmt.Errorf("%s: %d coils cannot fill a single %s element",
			p.cfg.Location, p.cfg.Length, p.access.Kind)
	}
	var v uint64
	if bits[0] {
		v = 1
	}
	return w.acc.StageValues(p.access, []uint64{v})
}

// localBool reads the point's local value as a coil state. Element
// locations map any non-zero value to true.
func (w *worker) localBool(p boundPoint) (bool, error) {
	if p.access.IsBool() {
		bits, err := w.acc.ReadBits(p.access, 1)
		if err != nil {
			return false, err
		}
		return bits[0], nil
	}
	raw, err := w.acc.ReadRaw(p.access, 1)
	if err != nil {
		return false, err
	}
	return raw[0] != 0, nil
}

// registerQuantity returns how many 16-bit registers a register pull
// must request to fill Length elements of the point's region.
func registerQuantity(p boundPoint) (uint16, error) {
	if p.access.IsBool() {
		return 0, fmt.Errorf("%s: register transfer needs an element location, got bit region %s",
			p.cfg.Location, p.access.Kind)
	}
	qty := uint32(p.cfg.Length) * uint32(p.access.RegistersPerElement())
	if qty > modbus.MaxQuantityRegisters {
		return 0, fmt.Errorf("%s: %d elements need %d registers, above the request limit %d",
			p.cfg.Location, p.cfg.Length, qty, modbus.MaxQuantityRegisters)
	}
	return uint16(qty), nil
}

// combineRegisters groups raw registers into native element values.
// words is the per-element register count; incomplete trailing groups
// are dropped.
func combineRegisters(regs []uint16, words int, order buffer.WordOrder) []uint64 {
	switch words {
	case 2:
		out := make([]uint64, 0, len(regs)/2)
		for i := 0; i+1 < len(regs); i += 2 {
			out = append(out, uint64(buffer.CombineDWord([2]uint16{regs[i], regs[i+1]}, order)))
		}
		return out
	case 4:
		out := make([]uint64, 0, len(regs)/4)
		for i := 0; i+3 < len(regs); i += 4 {
			out = append(out, buffer.CombineLWord([4]uint16{regs[i], regs[i+1], regs[i+2], regs[i+3]}, order))
		}
		return out
	default:
		out := make([]uint64, len(regs))
		for i, r := range regs {
			out[i] = uint64(r)
		}
		return out
	}
}

// splitElements flattens native element values into wire registers.
func splitElements(values []uint64, words int, order buffer.WordOrder) []uint16 {
	switch words {
	case 2:
		out := make([]uint16, 0, len(values)*2)
		for _, v := range values {
			pair := buffer.SplitDWord(uint32(v), order)
			out = append(out, pair[0], pair[1])
		}
		return out
	case 4:
		out := make([]uint16, 0, len(values)*4)
		for _, v := range values {
			quad := buffer.SplitLWord(v, order)
			out = append(out, quad[0], quad[1], quad[2], quad[3])
		}
		return out
	default:
		out := make([]uint16, len(values))
		for i, v := range values {
			out[i] = uint16(v)
		}
		return out
	}
}

// sleepRemainder pauses until the cycle time has elapsed since start.
// It returns false if the context was cancelled while waiting.
func (w *worker) sleepRemainder(ctx context.Context, start time.Time) bool {
	remain := w.device.CycleTime - time.Since(start)
	if remain <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(remain)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// isConnectionError reports whether err means the TCP session is gone
// and the worker must redial. Remote exceptions and request validation
// errors are point-level and leave the session usable.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return false
	}
	if errors.Is(err, modbus.ErrNotConnected) ||
		errors.Is(err, modbus.ErrConnectionClosed) ||
		errors.Is(err, modbus.ErrMaxRetriesExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (w *worker) setState(s DeviceState, err error) {
	w.mu.Lock()
	w.state = s
	if err != nil {
		w.lastErr = err
	}
	w.mu.Unlock()
}

func (w *worker) recordCycle() {
	w.mu.Lock()
	w.cycles++
	w.mu.Unlock()
	w.metrics.Cycles.Add(1)
}

func (w *worker) recordPointError(err error) {
	w.mu.Lock()
	w.pointErrs++
	w.lastErr = err
	w.mu.Unlock()
	w.metrics.PointErrors.Add(1)
}

func (w *worker) recordReconnect() {
	w.mu.Lock()
	w.reconnects++
	w.mu.Unlock()
	w.metrics.Reconnects.Add(1)
}

func (w *worker) status() DeviceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return DeviceStatus{
		Device:      w.device.Name,
		WorkerID:    w.id,
		State:       w.state,
		Cycles:      w.cycles,
		PointErrors: w.pointErrs,
		Reconnects:  w.reconnects,
		LastError:   w.lastErr,
	}
}
