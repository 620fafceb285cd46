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
	"fmt"
	"math"
)

// Accessor provides batch reads and journaled batch writes over a
// SharedMemory. Reads take the image lock once for the whole batch
// and either return every requested element or fail without partial
// results. Writes are converted to journal entries outside any lock,
// then staged through the journal's own synchronization; they become
// visible only when the host scan engine commits.
type Accessor struct {
	mem SharedMemory
}

// NewAccessor returns an Accessor over mem.
func NewAccessor(mem SharedMemory) *Accessor {
	return &Accessor{mem: mem}
}

// ReadBits reads count consecutive bits starting at the bit position
// a addresses. Runs of bits cross byte-slot boundaries naturally. The
// image lock is held once for the whole run.
func (ac *Accessor) ReadBits(a Access, count int) ([]bool, error) {
	if !a.IsBool() {
		return nil, fmt.Errorf("%s is not a bit region", a.Kind)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrOutOfRange, count)
	}

	out := make([]bool, count)
	ac.mem.Lock()
	defer ac.mem.Unlock()
	for i := 0; i < count; i++ {
		bit := uint32(a.Bit) + uint32(i)
		index := int(a.Index) + int(bit/8)
		v, err := ac.mem.ReadBool(a.Kind, index, uint8(bit%8))
		if err != nil {
			return nil, fmt.Errorf("read %s[%d].%d: %w", a.Kind, index, bit%8, err)
		}
		out[i] = v
	}
	return out, nil
}

// ReadRaw reads count consecutive elements at the element's native
// width, widened to uint64. The image lock is held once for the whole
// batch; on any error no values are returned.
func (ac *Accessor) ReadRaw(a Access, count int) ([]uint64, error) {
	if a.IsBool() {
		return nil, fmt.Errorf("%s is a bit region, not element addressed", a.Kind)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrOutOfRange, count)
	}

	out := make([]uint64, count)
	ac.mem.Lock()
	defer ac.mem.Unlock()
	for i := 0; i < count; i++ {
		index := int(a.Index) + i
		v, err := ac.readElem(a.Kind, index)
		if err != nil {
			return nil, fmt.Errorf("read %s[%d]: %w", a.Kind, index, err)
		}
		out[i] = v
	}
	return out, nil
}

func (ac *Accessor) readElem(kind Kind, index int) (uint64, error) {
	switch kind.ElemBytes() {
	case 1:
		v, err := ac.mem.ReadByte(kind, index)
		return uint64(v), err
	case 2:
		v, err := ac.mem.ReadWord(kind, index)
		return uint64(v), err
	case 4:
		v, err := ac.mem.ReadDWord(kind, index)
		return uint64(v), err
	default:
		return ac.mem.ReadLWord(kind, index)
	}
}

// BitEntries converts a run of bit values starting at a into journal
// entries. Conversion happens entirely outside the image lock; every
// entry is bounds-checked against the region before any is staged.
func (ac *Accessor) BitEntries(a Access, values []bool) ([]Entry, error) {
	if !a.IsBool() {
		return nil, fmt.Errorf("%s is not a bit region", a.Kind)
	}

	size := ac.mem.Size(a.Kind)
	entries := make([]Entry, 0, len(values))
	for i, v := range values {
		bit := uint32(a.Bit) + uint32(i)
		index := uint32(a.Index) + bit/8
		if index > math.MaxUint16 || int(index) >= size {
			return nil, fmt.Errorf("%w: %s[%d]", ErrOutOfRange, a.Kind, index)
		}
		e := Entry{Kind: a.Kind, Index: uint16(index), Bit: uint8(bit % 8)}
		if v {
			e.Value = 1
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ValueEntries converts consecutive element values starting at a into
// journal entries. Values wrap to the element width. Conversion
// happens entirely outside the image lock.
func (ac *Accessor) ValueEntries(a Access, values []uint64) ([]Entry, error) {
	if a.IsBool() {
		return nil, fmt.Errorf("%s is a bit region, not element addressed", a.Kind)
	}

	size := ac.mem.Size(a.Kind)
	mask := a.Kind.mask()
	entries := make([]Entry, 0, len(values))
	for i, v := range values {
		index := uint32(a.Index) + uint32(i)
		if index > math.MaxUint16 || int(index) >= size {
			return nil, fmt.Errorf("%w: %s[%d]", ErrOutOfRange, a.Kind, index)
		}
		entries = append(entries, Entry{
			Kind:  a.Kind,
			Index: uint16(index),
			Bit:   NoBit,
			Value: v & mask,
		})
	}
	return entries, nil
}

// Stage appends the entries to the write journal in order. The
// journal synchronizes itself; staging never takes the image lock.
func (ac *Accessor) Stage(entries []Entry) error {
	for _, e := range entries {
		if err := ac.stageOne(e); err != nil {
			return fmt.Errorf("stage %s[%d]: %w", e.Kind, e.Index, err)
		}
	}
	return nil
}

func (ac *Accessor) stageOne(e Entry) error {
	if e.Kind.IsBool() {
		return ac.mem.StageBool(e.Kind, int(e.Index), e.Bit, e.Value != 0)
	}
	switch e.Kind.ElemBytes() {
	case 1:
		return ac.mem.StageByte(e.Kind, int(e.Index), uint8(e.Value))
	case 2:
		return ac.mem.StageWord(e.Kind, int(e.Index), uint16(e.Value))
	case 4:
		return ac.mem.StageDWord(e.Kind, int(e.Index), uint32(e.Value))
	default:
		return ac.mem.StageLWord(e.Kind, int(e.Index), e.Value)
	}
}

// StageBits converts and stages a run of bit values in one step.
func (ac *Accessor) StageBits(a Access, values []bool) error {
	entries, err := ac.BitEntries(a, values)
	if err != nil {
		return err
	}
	return ac.Stage(entries)
}

// StageValues converts and stages consecutive element values in one
// step.
func (ac *Accessor) StageValues(a Access, values []uint64) error {
	entries, err := ac.ValueEntries(a, values)
	if err != nil {
		return err
	}
	return ac.Stage(entries)
}
