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
	"testing"
)

func TestAccessor_ReadBitsAcrossSlots(t *testing.T) {
	im := NewImage()
	ac := NewAccessor(im)

	// Bits 6 and 8 set: slot 0 bit 6 and slot 1 bit 0.
	im.Lock()
	if err := im.WriteBool(BoolInput, 0, 6, true); err != nil {
		im.Unlock()
		t.Fatalf("WriteBool failed: %v", err)
	}
	if err := im.WriteBool(BoolInput, 1, 0, true); err != nil {
		im.Unlock()
		t.Fatalf("WriteBool failed: %v", err)
	}
	im.Unlock()

	got, err := ac.ReadBits(Access{Kind: BoolInput, Index: 0, Bit: 6}, 4)
	if err != nil {
		t.Fatalf("ReadBits failed: %v", err)
	}
	want := []bool{true, false, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bit %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestAccessor_ReadBitsAllOrNothing(t *testing.T) {
	im := NewImage()
	ac := NewAccessor(im)

	// Start inside the region but run past its end.
	start := Access{Kind: BoolOutput, Index: RegionElems - 1, Bit: 6}
	values, err := ac.ReadBits(start, 4)
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if values != nil {
		t.Errorf("expected no partial result, got %v", values)
	}
}

func TestAccessor_ReadRaw(t *testing.T) {
	im := NewImage()
	ac := NewAccessor(im)

	im.Lock()
	for i, v := range []uint16{10, 20, 30} {
		if err := im.WriteWord(IntInput, 4+i, v); err != nil {
			im.Unlock()
			t.Fatalf("WriteWord failed: %v", err)
		}
	}
	im.Unlock()

	got, err := ac.ReadRaw(Access{Kind: IntInput, Index: 4, Bit: NoBit}, 3)
	if err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}
	for i, want := range []uint64{10, 20, 30} {
		if got[i] != want {
			t.Errorf("element %d: expected %d, got %d", i, want, got[i])
		}
	}
}

func TestAccessor_ReadRawRejectsBitRegion(t *testing.T) {
	ac := NewAccessor(NewImage())
	if _, err := ac.ReadRaw(Access{Kind: BoolInput, Index: 0, Bit: 0}, 1); err == nil {
		t.Error("expected error reading a bit region as elements")
	}
}

func TestAccessor_BitEntriesAcrossSlots(t *testing.T) {
	ac := NewAccessor(NewImage())

	entries, err := ac.BitEntries(Access{Kind: BoolOutput, Index: 0, Bit: 6}, []bool{true, true, true, true})
	if err != nil {
		t.Fatalf("BitEntries failed: %v", err)
	}
	want := []struct {
		index uint16
		bit   uint8
	}{{0, 6}, {0, 7}, {1, 0}, {1, 1}}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, w := range want {
		if entries[i].Index != w.index || entries[i].Bit != w.bit {
			t.Errorf("entry %d: expected slot %d bit %d, got slot %d bit %d",
				i, w.index, w.bit, entries[i].Index, entries[i].Bit)
		}
		if entries[i].Value != 1 {
			t.Errorf("entry %d: expected value 1, got %d", i, entries[i].Value)
		}
	}
}

func TestAccessor_ValueEntriesWrapToWidth(t *testing.T) {
	ac := NewAccessor(NewImage())

	entries, err := ac.ValueEntries(Access{Kind: IntOutput, Index: 0, Bit: NoBit}, []uint64{70000})
	if err != nil {
		t.Fatalf("ValueEntries failed: %v", err)
	}
	// 70000 wraps modulo 65536.
	if entries[0].Value != 4464 {
		t.Errorf("expected wrapped value 4464, got %d", entries[0].Value)
	}
	if entries[0].Bit != NoBit {
		t.Errorf("expected NoBit, got %d", entries[0].Bit)
	}
}

func TestAccessor_ValueEntriesBounds(t *testing.T) {
	ac := NewAccessor(NewImage())

	a := Access{Kind: DintMemory, Index: RegionElems - 1, Bit: NoBit}
	entries, err := ac.ValueEntries(a, []uint64{1, 2})
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if entries != nil {
		t.Errorf("expected no partial entries, got %d", len(entries))
	}
}

func TestAccessor_StageValuesVisibleAfterCommit(t *testing.T) {
	im := NewImage()
	ac := NewAccessor(im)

	a := Access{Kind: DintOutput, Index: 2, Bit: NoBit}
	if err := ac.StageValues(a, []uint64{0xDEADBEEF}); err != nil {
		t.Fatalf("StageValues failed: %v", err)
	}

	before, err := ac.ReadRaw(a, 1)
	if err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}
	if before[0] != 0 {
		t.Errorf("staged value visible before commit: %#x", before[0])
	}

	im.Commit()
	after, err := ac.ReadRaw(a, 1)
	if err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}
	if after[0] != 0xDEADBEEF {
		t.Errorf("expected 0xDEADBEEF after commit, got %#x", after[0])
	}
}

func TestAccessor_StageBitsVisibleAfterCommit(t *testing.T) {
	im := NewImage()
	ac := NewAccessor(im)

	a := Access{Kind: BoolInput, Index: 10, Bit: 3}
	if err := ac.StageBits(a, []bool{true, false, true}); err != nil {
		t.Fatalf("StageBits failed: %v", err)
	}
	im.Commit()

	got, err := ac.ReadBits(a, 3)
	if err != nil {
		t.Fatalf("ReadBits failed: %v", err)
	}
	want := []bool{true, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bit %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}
