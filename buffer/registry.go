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

package buffer

import (
	"errors"
	"fmt"
	"math"

	"github.com/edgeo-scada/plc-bridge/iec"
)

var (
	// ErrUnsupportedCombination indicates an area/size pair with no
	// backing buffer region.
	ErrUnsupportedCombination = errors.New("unsupported area/size combination")

	// ErrOutOfRange indicates a buffer index or bit position outside
	// the backing region.
	ErrOutOfRange = errors.New("buffer index out of range")
)

// NoBit marks a non-boolean access. It matches the host journal's
// sentinel for entries that carry no bit position.
const NoBit uint8 = 0xFF

// Direction distinguishes reads of the process image from staged
// writes into it.
type Direction uint8

const (
	Read Direction = iota
	Write
)

// String returns "read" or "write".
func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// Access locates one element (or, for bool regions, one bit) inside a
// buffer region. It is the resolved form of an IEC address and the
// unit the Accessor operates on.
type Access struct {
	Kind  Kind
	Index uint16
	Bit   uint8 // NoBit unless Kind is a bool region
}

// IsBool reports whether the access targets a packed bit region.
func (a Access) IsBool() bool {
	return a.Kind.IsBool()
}

// ElemBytes returns the native width of the addressed element.
func (a Access) ElemBytes() uint8 {
	return a.Kind.ElemBytes()
}

// RegistersPerElement returns how many 16-bit Modbus registers one
// element of the region occupies. Byte and word elements take one
// register each.
func (a Access) RegistersPerElement() int {
	if n := a.Kind.ElemBytes(); n > 2 {
		return int(n) / 2
	}
	return 1
}

// Resolve maps an IEC address to the buffer region backing it and the
// element index within that region. Word-sized and larger addresses
// divide the scaled byte index by the element width; bit addresses
// resolve to a byte slot plus a bit position.
//
// Memory-area bit and byte addresses have no backing region and are
// rejected: the host runtime packs %M bits only behind the Modbus
// slave's own coil segment, and allocates no byte-sized memory buffer
// at all.
func Resolve(addr iec.Address, dir Direction) (Access, error) {
	var kind Kind
	switch addr.Size {
	case iec.Bit:
		switch addr.Area {
		case iec.Input:
			kind = BoolInput
		case iec.Output:
			kind = BoolOutput
		default:
			return Access{}, fmt.Errorf("%w: cannot %s %s", ErrUnsupportedCombination, dir, addr)
		}
	case iec.Byte:
		switch addr.Area {
		case iec.Input:
			kind = ByteInput
		case iec.Output:
			kind = ByteOutput
		default:
			return Access{}, fmt.Errorf("%w: cannot %s %s", ErrUnsupportedCombination, dir, addr)
		}
	case iec.Word:
		kind = memoryKind(addr.Area, IntInput, IntOutput, IntMemory)
	case iec.DWord:
		kind = memoryKind(addr.Area, DintInput, DintOutput, DintMemory)
	case iec.LWord:
		kind = memoryKind(addr.Area, LintInput, LintOutput, LintMemory)
	default:
		return Access{}, fmt.Errorf("%w: %s", ErrUnsupportedCombination, addr)
	}

	index := addr.ByteIndex / uint32(kind.ElemBytes())
	if index > math.MaxUint16 {
		return Access{}, fmt.Errorf("%w: %s resolves to element %d", ErrOutOfRange, addr, index)
	}

	a := Access{Kind: kind, Index: uint16(index), Bit: NoBit}
	if addr.Size == iec.Bit {
		a.Bit = addr.BitOffset
	}
	return a, nil
}

func memoryKind(area iec.Area, in, out, mem Kind) Kind {
	switch area {
	case iec.Input:
		return in
	case iec.Output:
		return out
	default:
		return mem
	}
}
