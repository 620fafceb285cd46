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
	"sync"
)

const (
	// RegionElems is the element capacity of each region in the
	// reference image, matching the host runtime's allocation.
	RegionElems = 1024

	// JournalCap is the maximum number of staged entries. Staging
	// into a full journal first flushes every pending entry to the
	// image.
	JournalCap = 1024
)

// Image is an in-process implementation of SharedMemory. It backs the
// standalone bridge binary and tests; when the bridge is embedded in
// the controller runtime the host supplies its own SharedMemory over
// the real scan buffers.
//
// Bool regions pack eight bits per byte slot, least significant bit
// first. Journal entries apply in staging order, so the last write to
// an element wins.
type Image struct {
	mu sync.Mutex // guards the regions

	bits   [3][]byte   // BoolInput, BoolOutput, BoolMemory
	bytes  [2][]uint8  // ByteInput, ByteOutput
	words  [3][]uint16 // IntInput, IntOutput, IntMemory
	dwords [3][]uint32 // DintInput, DintOutput, DintMemory
	lwords [3][]uint64 // LintInput, LintOutput, LintMemory

	jmu     sync.Mutex // guards the journal; acquired after mu, never before
	journal []Entry
}

// NewImage allocates an image with RegionElems elements per region
// and an empty journal.
func NewImage() *Image {
	im := &Image{journal: make([]Entry, 0, JournalCap)}
	for i := range im.bits {
		im.bits[i] = make([]byte, RegionElems)
	}
	for i := range im.bytes {
		im.bytes[i] = make([]uint8, RegionElems)
	}
	for i := range im.words {
		im.words[i] = make([]uint16, RegionElems)
	}
	for i := range im.dwords {
		im.dwords[i] = make([]uint32, RegionElems)
	}
	for i := range im.lwords {
		im.lwords[i] = make([]uint64, RegionElems)
	}
	return im
}

// Lock acquires the image lock.
func (im *Image) Lock() { im.mu.Lock() }

// Unlock releases the image lock.
func (im *Image) Unlock() { im.mu.Unlock() }

// Size reports the element capacity of a region.
func (im *Image) Size(kind Kind) int {
	return RegionElems
}

func checkIndex(kind Kind, index, size int) error {
	if index < 0 || index >= size {
		return fmt.Errorf("%w: %s[%d]", ErrOutOfRange, kind, index)
	}
	return nil
}

func checkBit(bit uint8) error {
	if bit > 7 {
		return fmt.Errorf("%w: bit %d", ErrOutOfRange, bit)
	}
	return nil
}

// ReadBool returns one bit of a byte slot. The caller must hold the
// image lock.
func (im *Image) ReadBool(kind Kind, index int, bit uint8) (bool, error) {
	region, err := im.bitRegion(kind)
	if err != nil {
		return false, err
	}
	if err := checkIndex(kind, index, len(region)); err != nil {
		return false, err
	}
	if err := checkBit(bit); err != nil {
		return false, err
	}
	return region[index]&(1<<bit) != 0, nil
}

// ReadByte returns one byte element. The caller must hold the image
// lock.
func (im *Image) ReadByte(kind Kind, index int) (uint8, error) {
	region, err := im.byteRegion(kind)
	if err != nil {
		return 0, err
	}
	if err := checkIndex(kind, index, len(region)); err != nil {
		return 0, err
	}
	return region[index], nil
}

// ReadWord returns one 16-bit element. The caller must hold the image
// lock.
func (im *Image) ReadWord(kind Kind, index int) (uint16, error) {
	region, err := im.wordRegion(kind)
	if err != nil {
		return 0, err
	}
	if err := checkIndex(kind, index, len(region)); err != nil {
		return 0, err
	}
	return region[index], nil
}

// ReadDWord returns one 32-bit element. The caller must hold the
// image lock.
func (im *Image) ReadDWord(kind Kind, index int) (uint32, error) {
	region, err := im.dwordRegion(kind)
	if err != nil {
		return 0, err
	}
	if err := checkIndex(kind, index, len(region)); err != nil {
		return 0, err
	}
	return region[index], nil
}

// ReadLWord returns one 64-bit element. The caller must hold the
// image lock.
func (im *Image) ReadLWord(kind Kind, index int) (uint64, error) {
	region, err := im.lwordRegion(kind)
	if err != nil {
		return 0, err
	}
	if err := checkIndex(kind, index, len(region)); err != nil {
		return 0, err
	}
	return region[index], nil
}

// WriteBool sets or clears one bit of a byte slot, bypassing the
// journal. The caller must hold the image lock.
func (im *Image) WriteBool(kind Kind, index int, bit uint8, value bool) error {
	region, err := im.bitRegion(kind)
	if err != nil {
		return err
	}
	if err := checkIndex(kind, index, len(region)); err != nil {
		return err
	}
	if err := checkBit(bit); err != nil {
		return err
	}
	if value {
		region[index] |= 1 << bit
	} else {
		region[index] &^= 1 << bit
	}
	return nil
}

// WriteByte stores one byte element, bypassing the journal. The
// caller must hold the image lock.
func (im *Image) WriteByte(kind Kind, index int, value uint8) error {
	region, err := im.byteRegion(kind)
	if err != nil {
		return err
	}
	if err := checkIndex(kind, index, len(region)); err != nil {
		return err
	}
	region[index] = value
	return nil
}

// WriteWord stores one 16-bit element, bypassing the journal. The
// caller must hold the image lock.
func (im *Image) WriteWord(kind Kind, index int, value uint16) error {
	region, err := im.wordRegion(kind)
	if err != nil {
		return err
	}
	if err := checkIndex(kind, index, len(region)); err != nil {
		return err
	}
	region[index] = value
	return nil
}

// WriteDWord stores one 32-bit element, bypassing the journal. The
// caller must hold the image lock.
func (im *Image) WriteDWord(kind Kind, index int, value uint32) error {
	region, err := im.dwordRegion(kind)
	if err != nil {
		return err
	}
	if err := checkIndex(kind, index, len(region)); err != nil {
		return err
	}
	region[index] = value
	return nil
}

// WriteLWord stores one 64-bit element, bypassing the journal. The
// caller must hold the image lock.
func (im *Image) WriteLWord(kind Kind, index int, value uint64) error {
	region, err := im.lwordRegion(kind)
	if err != nil {
		return err
	}
	if err := checkIndex(kind, index, len(region)); err != nil {
		return err
	}
	region[index] = value
	return nil
}

// StageBool journals one bit write.
func (im *Image) StageBool(kind Kind, index int, bit uint8, value bool) error {
	if !kind.IsBool() {
		return fmt.Errorf("%s is not a bit region", kind)
	}
	if err := checkIndex(kind, index, RegionElems); err != nil {
		return err
	}
	if err := checkBit(bit); err != nil {
		return err
	}
	var v uint64
	if value {
		v = 1
	}
	im.stage(Entry{Kind: kind, Index: uint16(index), Bit: bit, Value: v})
	return nil
}

// StageByte journals one byte write.
func (im *Image) StageByte(kind Kind, index int, value uint8) error {
	return im.stageElem(kind, index, 1, uint64(value))
}

// StageWord journals one 16-bit write.
func (im *Image) StageWord(kind Kind, index int, value uint16) error {
	return im.stageElem(kind, index, 2, uint64(value))
}

// StageDWord journals one 32-bit write.
func (im *Image) StageDWord(kind Kind, index int, value uint32) error {
	return im.stageElem(kind, index, 4, uint64(value))
}

// StageLWord journals one 64-bit write.
func (im *Image) StageLWord(kind Kind, index int, value uint64) error {
	return im.stageElem(kind, index, 8, value)
}

func (im *Image) stageElem(kind Kind, index int, width uint8, value uint64) error {
	if kind.IsBool() || kind.ElemBytes() != width {
		return fmt.Errorf("%s does not hold %d-byte elements", kind, width)
	}
	if err := checkIndex(kind, index, RegionElems); err != nil {
		return err
	}
	im.stage(Entry{Kind: kind, Index: uint16(index), Bit: NoBit, Value: value})
	return nil
}

// stage appends one entry, flushing the whole journal to the image
// first when it is full.
func (im *Image) stage(e Entry) {
	im.jmu.Lock()
	defer im.jmu.Unlock()
	if len(im.journal) >= JournalCap {
		im.emergencyFlushLocked()
	}
	im.journal = append(im.journal, e)
}

// emergencyFlushLocked applies and clears the journal while honoring
// the image-before-journal lock order: the journal lock is dropped,
// the image lock taken, and the journal lock reacquired before the
// apply. Entries staged by other goroutines during the window are
// flushed along with the rest. The journal lock is held on return.
func (im *Image) emergencyFlushLocked() {
	im.jmu.Unlock()
	im.mu.Lock()
	im.jmu.Lock()
	im.applyLocked()
	im.mu.Unlock()
}

// Commit applies every staged entry to the image in staging order and
// clears the journal. The host scan engine calls this at its cycle
// boundary; the standalone runner drives it from a ticker.
func (im *Image) Commit() {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.jmu.Lock()
	defer im.jmu.Unlock()
	im.applyLocked()
}

// Pending reports the number of staged entries awaiting commit.
func (im *Image) Pending() int {
	im.jmu.Lock()
	defer im.jmu.Unlock()
	return len(im.journal)
}

// applyLocked writes all journal entries to the regions. Both locks
// must be held. Entries were bounds-checked when staged, so failures
// here cannot happen for entries produced by the Stage methods.
func (im *Image) applyLocked() {
	for _, e := range im.journal {
		if e.Kind.IsBool() {
			_ = im.WriteBool(e.Kind, int(e.Index), e.Bit, e.Value != 0)
			continue
		}
		switch e.Kind.ElemBytes() {
		case 1:
			_ = im.WriteByte(e.Kind, int(e.Index), uint8(e.Value))
		case 2:
			_ = im.WriteWord(e.Kind, int(e.Index), uint16(e.Value))
		case 4:
			_ = im.WriteDWord(e.Kind, int(e.Index), uint32(e.Value))
		default:
			_ = im.WriteLWord(e.Kind, int(e.Index), e.Value)
		}
	}
	im.journal = im.journal[:0]
}

func (im *Image) bitRegion(kind Kind) ([]byte, error) {
	if !kind.IsBool() {
		return nil, fmt.Errorf("%s is not a bit region", kind)
	}
	return im.bits[kind-BoolInput], nil
}

func (im *Image) byteRegion(kind Kind) ([]uint8, error) {
	if kind != ByteInput && kind != ByteOutput {
		return nil, fmt.Errorf("%s is not a byte region", kind)
	}
	return im.bytes[kind-ByteInput], nil
}

func (im *Image) wordRegion(kind Kind) ([]uint16, error) {
	if kind < IntInput || kind > IntMemory {
		return nil, fmt.Errorf("%s is not a word region", kind)
	}
	return im.words[kind-IntInput], nil
}

func (im *Image) dwordRegion(kind Kind) ([]uint32, error) {
	if kind < DintInput || kind > DintMemory {
		return nil, fmt.Errorf("%s is not a dword region", kind)
	}
	return im.dwords[kind-DintInput], nil
}

func (im *Image) lwordRegion(kind Kind) ([]uint64, error) {
	if kind < LintInput || kind > LintMemory {
		return nil, fmt.Errorf("%s is not an lword region", kind)
	}
	return im.lwords[kind-LintInput], nil
}
