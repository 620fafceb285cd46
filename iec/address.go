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

// Package iec parses and represents IEC 61131-3 style addresses
// (%IX2.0, %QW10, %MD5) that locate values in a controller's process
// image. An address names one of three areas (I, Q, M), an element
// size (X, B, W, D, L) and a byte offset, with a mandatory bit suffix
// for bit-sized addresses.
package iec

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Area selects one of the controller's three address spaces.
type Area uint8

const (
	// Input is the %I area: values read from the field.
	Input Area = iota
	// Output is the %Q area: values driven to the field.
	Output
	// Memory is the %M area: internal marker memory.
	Memory
)

// String returns the area name.
func (a Area) String() string {
	switch a {
	case Input:
		return "Input"
	case Output:
		return "Output"
	case Memory:
		return "Memory"
	default:
		return "Unknown"
	}
}

func (a Area) letter() byte {
	switch a {
	case Input:
		return 'I'
	case Output:
		return 'Q'
	default:
		return 'M'
	}
}

// Size selects the element width of an address.
type Size uint8

const (
	// Bit is the X size: a single bit within a byte.
	Bit Size = iota
	// Byte is the B size: 8 bits.
	Byte
	// Word is the W size: 16 bits.
	Word
	// DWord is the D size: 32 bits.
	DWord
	// LWord is the L size: 64 bits.
	LWord
)

// String returns the size name.
func (s Size) String() string {
	switch s {
	case Bit:
		return "Bit"
	case Byte:
		return "Byte"
	case Word:
		return "Word"
	case DWord:
		return "DWord"
	case LWord:
		return "LWord"
	default:
		return "Unknown"
	}
}

func (s Size) letter() byte {
	switch s {
	case Bit:
		return 'X'
	case Byte:
		return 'B'
	case Word:
		return 'W'
	case DWord:
		return 'D'
	default:
		return 'L'
	}
}

// WidthBits returns the element width in bits (1, 8, 16, 32 or 64).
func (s Size) WidthBits() uint8 {
	switch s {
	case Bit:
		return 1
	case Byte:
		return 8
	case Word:
		return 16
	case DWord:
		return 32
	default:
		return 64
	}
}

// Parse errors. Both are fatal to the single address, never to a
// worker processing a list of them.
var (
	// ErrMalformed reports a string that does not match the
	// %<area><size><byte>[.<bit>] grammar.
	ErrMalformed = errors.New("malformed IEC address")

	// ErrBitOutOfRange reports a bit suffix that is missing for a
	// bit-sized address, present on a non-bit address, or outside 0..7.
	ErrBitOutOfRange = errors.New("bit index out of range")
)

// Address is a parsed IEC location. Immutable once parsed; create one
// per I/O point or per request and never mutate it.
type Address struct {
	Area Area
	Size Size

	// ByteOffset is the unscaled offset from the address string.
	ByteOffset uint32

	// BitOffset is the bit within the byte (0..7). Meaningful only
	// when Size is Bit.
	BitOffset uint8

	// BitIndex is the linear bit index (ByteOffset*8 + BitOffset).
	// Meaningful only when Size is Bit.
	BitIndex uint32

	// ByteIndex is ByteOffset scaled by the element width in bytes:
	// W addresses advance two bytes per offset step, D four, L eight.
	ByteIndex uint32

	// WidthBits is the element width: 1, 8, 16, 32 or 64.
	WidthBits uint8
}

var addressPattern = regexp.MustCompile(`(?i)^%([IQM])([XBWDL])([0-9]+)(?:\.([0-9]+))?$`)

// Parse converts an address string such as "%IX2.0" or "%QW10" into an
// Address. Area and size letters are case-insensitive. The bit suffix
// is mandatory for X addresses and rejected everywhere else.
func Parse(s string) (Address, error) {
	m := addressPattern.FindStringSubmatch(s)
	if m == nil {
		return Address{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	var area Area
	switch m[1][0] {
	case 'I', 'i':
		area = Input
	case 'Q', 'q':
		area = Output
	default:
		area = Memory
	}

	var size Size
	switch m[2][0] {
	case 'X', 'x':
		size = Bit
	case 'B', 'b':
		size = Byte
	case 'W', 'w':
		size = Word
	case 'D', 'd':
		size = DWord
	default:
		size = LWord
	}

	off, err := strconv.ParseUint(m[3], 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("%w: byte offset in %q", ErrMalformed, s)
	}

	addr := Address{
		Area:       area,
		Size:       size,
		ByteOffset: uint32(off),
		WidthBits:  size.WidthBits(),
	}

	if size == Bit {
		if m[4] == "" {
			return Address{}, fmt.Errorf("%w: %q requires a .bit suffix", ErrBitOutOfRange, s)
		}
		bit, err := strconv.ParseUint(m[4], 10, 8)
		if err != nil || bit > 7 {
			return Address{}, fmt.Errorf("%w: %q (bit must be 0..7)", ErrBitOutOfRange, s)
		}
		addr.BitOffset = uint8(bit)
		addr.BitIndex = addr.ByteOffset*8 + uint32(bit)
		addr.ByteIndex = addr.ByteOffset
		return addr, nil
	}

	if m[4] != "" {
		return Address{}, fmt.Errorf("%w: %q has a bit suffix on a non-bit size", ErrBitOutOfRange, s)
	}
	addr.ByteIndex = addr.ByteOffset * uint32(addr.WidthBits/8)
	return addr, nil
}

// String renders the canonical upper-case form of the address.
// Parse(a.String()) always reproduces a.
func (a Address) String() string {
	if a.Size == Bit {
		return fmt.Sprintf("%%%c%c%d.%d", a.Area.letter(), a.Size.letter(), a.ByteOffset, a.BitOffset)
	}
	return fmt.Sprintf("%%%c%c%d", a.Area.letter(), a.Size.letter(), a.ByteOffset)
}
