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
	"log/slog"

	"github.com/edgeo-scada/plc-bridge/buffer"
)

// DataBlocks adapts the process image to Modbus datastore semantics.
// Addresses are 1-based, matching the datastore convention the wire
// handler translates to. Reads outside a table zero-fill and writes
// outside a table are dropped, so a request is never rejected for
// range; each call takes the image lock exactly once and performs all
// of its element access inside that critical section.
//
// Writes go directly to the image rather than through the write
// journal: a multi-register element is assembled by reading its
// current words and merging the written ones, which must observe
// earlier writes from the same request.
type DataBlocks struct {
	mem    buffer.SharedMemory
	layout *Layout
	logger *slog.Logger
}

// NewDataBlocks binds a layout to the process image.
func NewDataBlocks(mem buffer.SharedMemory, layout *Layout, logger *slog.Logger) *DataBlocks {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataBlocks{mem: mem, layout: layout, logger: logger}
}

// Coils reads count coil values starting at a 1-based address.
func (b *DataBlocks) Coils(address, count int) []bool {
	return b.readBits(b.layout.coils, address, count)
}

// DiscreteInputs reads count discrete input values starting at a
// 1-based address.
func (b *DataBlocks) DiscreteInputs(address, count int) []bool {
	return b.readBits(b.layout.discrete, address, count)
}

func (b *DataBlocks) readBits(segs []bitSegment, address, count int) []bool {
	if count <= 0 {
		return nil
	}
	values := make([]bool, count)

	b.mem.Lock()
	defer b.mem.Unlock()

	for i := range values {
		ref, ok := locateBit(segs, address-1+i)
		if !ok {
			continue
		}
		v, err := b.mem.ReadBool(ref.kind, ref.slot, ref.bit)
		if err != nil {
			b.logger.Warn("bit read failed",
				"kind", ref.kind,
				"index", ref.slot,
				"bit", ref.bit,
				"error", err)
			continue
		}
		values[i] = v
	}
	return values
}

// SetCoils writes coil values starting at a 1-based address. Values
// that fall outside the coil table are dropped.
func (b *DataBlocks) SetCoils(address int, values []bool) {
	if len(values) == 0 {
		return
	}

	b.mem.Lock()
	defer b.mem.Unlock()

	for i, v := range values {
		ref, ok := locateBit(b.layout.coils, address-1+i)
		if !ok {
			continue
		}
		if err := b.mem.WriteBool(ref.kind, ref.slot, ref.bit, v); err != nil {
			b.logger.Warn("bit write failed",
				"kind", ref.kind,
				"index", ref.slot,
				"bit", ref.bit,
				"error", err)
		}
	}
}

// InputRegisters reads count input registers starting at a 1-based
// address.
func (b *DataBlocks) InputRegisters(address, count int) []uint16 {
	return b.readRegs(b.layout.inputRegs, address, count)
}

// HoldingRegisters reads count holding registers starting at a
// 1-based address. Addresses inside a 32- or 64-bit element yield the
// selected word of the element's current value.
func (b *DataBlocks) HoldingRegisters(address, count int) []uint16 {
	return b.readRegs(b.layout.holding, address, count)
}

func (b *DataBlocks) readRegs(segs []regSegment, address, count int) []uint16 {
	if count <= 0 {
		return nil
	}
	values := make([]uint16, count)

	b.mem.Lock()
	defer b.mem.Unlock()

	for i := range values {
		ref, ok := locateReg(segs, address-1+i)
		if !ok {
			continue
		}
		v, err := b.readWordLocked(ref)
		if err != nil {
			b.logger.Warn("register read failed",
				"kind", ref.kind,
				"index", ref.index,
				"error", err)
			continue
		}
		values[i] = v
	}
	return values
}

// readWordLocked reads the single register a regRef selects. The
// image lock must be held.
func (b *DataBlocks) readWordLocked(ref regRef) (uint16, error) {
	switch ref.words {
	case 2:
		v, err := b.mem.ReadDWord(ref.kind, ref.index)
		if err != nil {
			return 0, err
		}
		return buffer.SplitDWord(v, b.layout.order)[ref.word], nil
	case 4:
		v, err := b.mem.ReadLWord(ref.kind, ref.index)
		if err != nil {
			return 0, err
		}
		return buffer.SplitLWord(v, b.layout.order)[ref.word], nil
	default:
		return b.mem.ReadWord(ref.kind, ref.index)
	}
}

type pendKey struct {
	kind  buffer.Kind
	index int
}

// SetHoldingRegisters writes register values starting at a 1-based
// address. Values outside the holding table are dropped. Words
// landing in a 32- or 64-bit element are merged into the element's
// current value, so a partial write leaves the untouched words as
// they were; the merged element is written back once per request.
func (b *DataBlocks) SetHoldingRegisters(address int, values []uint16) {
	if len(values) == 0 {
		return
	}

	b.mem.Lock()
	defer b.mem.Unlock()

	var pendD map[pendKey][2]uint16
	var pendL map[pendKey][4]uint16

	for i, v := range values {
		ref, ok := locateReg(b.layout.holding, address-1+i)
		if !ok {
			continue
		}
		switch ref.words {
		case 2:
			if pendD == nil {
				pendD = make(map[pendKey][2]uint16)
			}
			key := pendKey{ref.kind, ref.index}
			words, seeded := pendD[key]
			if !seeded {
				cur, err := b.mem.ReadDWord(ref.kind, ref.index)
				if err != nil {
					b.logger.Warn("register read failed",
						"kind", ref.kind,
						"index", ref.index,
						"error", err)
				}
				words = buffer.SplitDWord(cur, b.layout.order)
			}
			words[ref.word] = v
			pendD[key] = words
		case 4:
			if pendL == nil {
				pendL = make(map[pendKey][4]uint16)
			}
			key := pendKey{ref.kind, ref.index}
			words, seeded := pendL[key]
			if !seeded {
				cur, err := b.mem.ReadLWord(ref.kind, ref.index)
				if err != nil {
					b.logger.Warn("register read failed",
						"kind", ref.kind,
						"index", ref.index,
						"error", err)
				}
				words = buffer.SplitLWord(cur, b.layout.order)
			}
			words[ref.word] = v
			pendL[key] = words
		default:
			if err := b.mem.WriteWord(ref.kind, ref.index, v); err != nil {
				b.logger.Warn("register write failed",
					"kind", ref.kind,
					"index", ref.index,
					"error", err)
			}
		}
	}

	for key, words := range pendD {
		v := buffer.CombineDWord(words, b.layout.order)
		if err := b.mem.WriteDWord(key.kind, key.index, v); err != nil {
			b.logger.Warn("register write failed",
				"kind", key.kind,
				"index", key.index,
				"error", err)
		}
	}
	for key, words := range pendL {
		v := buffer.CombineLWord(words, b.layout.order)
		if err := b.mem.WriteLWord(key.kind, key.index, v); err != nil {
			b.logger.Warn("register write failed",
				"kind", key.kind,
				"index", key.index,
				"error", err)
		}
	}
}
