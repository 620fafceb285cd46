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

// Package slave exposes the controller's process image as a Modbus
// TCP slave. Each Modbus table is partitioned into ordered segments
// backed by buffer regions: coils map to %QX then %MX, discrete
// inputs to %IX, input registers to %IW, and holding registers to
// %QW, %MW, %MD and %ML in that order. 32- and 64-bit elements
// occupy two and four consecutive registers.
package slave

import (
	"github.com/edgeo-scada/plc-bridge/buffer"
)

// Mapping fixes how much of each buffer region the slave exposes.
// Zero-sized segments are omitted from the layout.
type Mapping struct {
	QXBits int // coils backed by bool_output
	MXBits int // coils backed by bool_memory
	IXBits int // discrete inputs backed by bool_input

	IWCount int // input registers backed by int_input
	QWCount int // holding registers backed by int_output
	MWCount int // holding registers backed by int_memory
	MDCount int // 32-bit holding elements backed by dint_memory
	MLCount int // 64-bit holding elements backed by lint_memory

	WordOrder buffer.WordOrder
}

// DefaultMapping mirrors the controller's stock exposure: all output
// and input bits, one full region of each register width, and no
// memory bits.
func DefaultMapping() Mapping {
	return Mapping{
		QXBits:  8192,
		MXBits:  0,
		IXBits:  8192,
		IWCount: 1024,
		QWCount: 1024,
		MWCount: 1024,
		MDCount: 1024,
		MLCount: 1024,
	}
}

// bitSegment is a run of coil or discrete-input addresses backed by
// one boolean region.
type bitSegment struct {
	kind buffer.Kind
	bits int
}

// regSegment is a run of register addresses backed by one region.
// Elements wider than a register span words consecutive addresses.
type regSegment struct {
	kind  buffer.Kind
	count int // native elements
	words int // registers per element
}

// Layout is the immutable segment table built once from a Mapping.
type Layout struct {
	order buffer.WordOrder

	coils     []bitSegment
	discrete  []bitSegment
	inputRegs []regSegment
	holding   []regSegment

	coilBits     int
	discreteBits int
	inputWords   int
	holdingWords int
}

// NewLayout builds the segment table for a mapping.
func NewLayout(m Mapping) *Layout {
	l := &Layout{order: m.WordOrder}

	l.coils = appendBitSegment(l.coils, buffer.BoolOutput, m.QXBits)
	l.coils = appendBitSegment(l.coils, buffer.BoolMemory, m.MXBits)
	l.discrete = appendBitSegment(l.discrete, buffer.BoolInput, m.IXBits)

	l.inputRegs = appendRegSegment(l.inputRegs, buffer.IntInput, m.IWCount, 1)
	l.holding = appendRegSegment(l.holding, buffer.IntOutput, m.QWCount, 1)
	l.holding = appendRegSegment(l.holding, buffer.IntMemory, m.MWCount, 1)
	l.holding = appendRegSegment(l.holding, buffer.DintMemory, m.MDCount, 2)
	l.holding = appendRegSegment(l.holding, buffer.LintMemory, m.MLCount, 4)

	for _, s := range l.coils {
		l.coilBits += s.bits
	}
	for _, s := range l.discrete {
		l.discreteBits += s.bits
	}
	for _, s := range l.inputRegs {
		l.inputWords += s.count * s.words
	}
	for _, s := range l.holding {
		l.holdingWords += s.count * s.words
	}

	return l
}

func appendBitSegment(segs []bitSegment, kind buffer.Kind, bits int) []bitSegment {
	if bits <= 0 {
		return segs
	}
	return append(segs, bitSegment{kind: kind, bits: bits})
}

func appendRegSegment(segs []regSegment, kind buffer.Kind, count, words int) []regSegment {
	if count <= 0 {
		return segs
	}
	return append(segs, regSegment{kind: kind, count: count, words: words})
}

// WordOrder returns the order multi-register elements are split in.
func (l *Layout) WordOrder() buffer.WordOrder { return l.order }

// CoilBits returns the number of exposed coil addresses.
func (l *Layout) CoilBits() int { return l.coilBits }

// DiscreteBits returns the number of exposed discrete input addresses.
func (l *Layout) DiscreteBits() int { return l.discreteBits }

// InputWords returns the number of exposed input register addresses.
func (l *Layout) InputWords() int { return l.inputWords }

// HoldingWords returns the number of exposed holding register addresses.
func (l *Layout) HoldingWords() int { return l.holdingWords }

// bitRef locates one coil or discrete input in its backing region:
// byte slot plus bit within the slot.
type bitRef struct {
	kind buffer.Kind
	slot int
	bit  uint8
}

// regRef locates one register address in its backing region: the
// native element index, which of the element's words the address
// selects, and the element's width in words.
type regRef struct {
	kind  buffer.Kind
	index int
	word  int
	words int
}

// locateBit resolves a zero-based flat bit address against a segment
// table. Out-of-range addresses report ok == false.
func locateBit(segs []bitSegment, flat int) (bitRef, bool) {
	if flat < 0 {
		return bitRef{}, false
	}
	for _, s := range segs {
		if flat < s.bits {
			return bitRef{
				kind: s.kind,
				slot: flat / 8,
				bit:  uint8(flat % 8),
			}, true
		}
		flat -= s.bits
	}
	return bitRef{}, false
}

// locateReg resolves a zero-based flat register address against a
// segment table. Out-of-range addresses report ok == false.
func locateReg(segs []regSegment, flat int) (regRef, bool) {
	if flat < 0 {
		return regRef{}, false
	}
	for _, s := range segs {
		width := s.count * s.words
		if flat < width {
			return regRef{
				kind:  s.kind,
				index: flat / s.words,
				word:  flat % s.words,
				words: s.words,
			}, true
		}
		flat -= width
	}
	return regRef{}, false
}

// SegmentInfo describes one segment of the layout for display.
type SegmentInfo struct {
	Table    string
	Kind     buffer.Kind
	Start    int // first flat address
	End      int // one past the last flat address
	Elements int // native elements in the segment
	Words    int // registers per element, 0 for bit tables
}

// Describe returns the full segment table in address order, used by
// the layout inspection command.
func (l *Layout) Describe() []SegmentInfo {
	var infos []SegmentInfo

	appendBits := func(table string, segs []bitSegment) {
		start := 0
		for _, s := range segs {
			infos = append(infos, SegmentInfo{
				Table:    table,
				Kind:     s.kind,
				Start:    start,
				End:      start + s.bits,
				Elements: s.bits,
			})
			start += s.bits
		}
	}
	appendRegs := func(table string, segs []regSegment) {
		start := 0
		for _, s := range segs {
			width := s.count * s.words
			infos = append(infos, SegmentInfo{
				Table:    table,
				Kind:     s.kind,
				Start:    start,
				End:      start + width,
				Elements: s.count,
				Words:    s.words,
			})
			start += width
		}
	}

	appendBits("coils", l.coils)
	appendBits("discrete_inputs", l.discrete)
	appendRegs("input_registers", l.inputRegs)
	appendRegs("holding_registers", l.holding)
	return infos
}
