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
	"testing"

	"github.com/edgeo-scada/plc-bridge/buffer"
)

func TestNewLayoutDefaultMapping(t *testing.T) {
	l := NewLayout(DefaultMapping())

	if l.CoilBits() != 8192 {
		t.Errorf("CoilBits: expected 8192, got %d", l.CoilBits())
	}
	if l.DiscreteBits() != 8192 {
		t.Errorf("DiscreteBits: expected 8192, got %d", l.DiscreteBits())
	}
	if l.InputWords() != 1024 {
		t.Errorf("InputWords: expected 1024, got %d", l.InputWords())
	}
	// qw + mw + md*2 + ml*4
	if l.HoldingWords() != 1024+1024+2048+4096 {
		t.Errorf("HoldingWords: expected 8192, got %d", l.HoldingWords())
	}

	// MXBits is zero in the default mapping, so coils hold a single
	// segment.
	if len(l.coils) != 1 {
		t.Fatalf("coils: expected 1 segment, got %d", len(l.coils))
	}
	if l.coils[0].kind != buffer.BoolOutput {
		t.Errorf("coils[0]: expected %v, got %v", buffer.BoolOutput, l.coils[0].kind)
	}
}

func TestNewLayoutHoldingSegmentOrder(t *testing.T) {
	l := NewLayout(Mapping{QWCount: 2, MWCount: 3, MDCount: 4, MLCount: 5})

	expected := []struct {
		kind  buffer.Kind
		count int
		words int
	}{
		{buffer.IntOutput, 2, 1},
		{buffer.IntMemory, 3, 1},
		{buffer.DintMemory, 4, 2},
		{buffer.LintMemory, 5, 4},
	}
	if len(l.holding) != len(expected) {
		t.Fatalf("holding: expected %d segments, got %d", len(expected), len(l.holding))
	}
	for i, e := range expected {
		s := l.holding[i]
		if s.kind != e.kind || s.count != e.count || s.words != e.words {
			t.Errorf("holding[%d]: expected {%v %d %d}, got {%v %d %d}",
				i, e.kind, e.count, e.words, s.kind, s.count, s.words)
		}
	}
	if l.HoldingWords() != 2+3+8+20 {
		t.Errorf("HoldingWords: expected 33, got %d", l.HoldingWords())
	}
}

func TestLocateBit(t *testing.T) {
	l := NewLayout(Mapping{QXBits: 16, MXBits: 8})

	tests := []struct {
		flat int
		ok   bool
		ref  bitRef
	}{
		{0, true, bitRef{buffer.BoolOutput, 0, 0}},
		{7, true, bitRef{buffer.BoolOutput, 0, 7}},
		{10, true, bitRef{buffer.BoolOutput, 1, 2}},
		{15, true, bitRef{buffer.BoolOutput, 1, 7}},
		{16, true, bitRef{buffer.BoolMemory, 0, 0}},
		{23, true, bitRef{buffer.BoolMemory, 0, 7}},
		{24, false, bitRef{}},
		{-1, false, bitRef{}},
	}
	for _, tt := range tests {
		ref, ok := locateBit(l.coils, tt.flat)
		if ok != tt.ok {
			t.Errorf("locateBit(%d): expected ok=%v, got %v", tt.flat, tt.ok, ok)
			continue
		}
		if ok && ref != tt.ref {
			t.Errorf("locateBit(%d): expected %+v, got %+v", tt.flat, tt.ref, ref)
		}
	}
}

func TestLocateReg(t *testing.T) {
	l := NewLayout(Mapping{QWCount: 2, MWCount: 2, MDCount: 2, MLCount: 1})

	tests := []struct {
		flat int
		ok   bool
		ref  regRef
	}{
		{0, true, regRef{buffer.IntOutput, 0, 0, 1}},
		{1, true, regRef{buffer.IntOutput, 1, 0, 1}},
		{2, true, regRef{buffer.IntMemory, 0, 0, 1}},
		{3, true, regRef{buffer.IntMemory, 1, 0, 1}},
		{4, true, regRef{buffer.DintMemory, 0, 0, 2}},
		{5, true, regRef{buffer.DintMemory, 0, 1, 2}},
		{6, true, regRef{buffer.DintMemory, 1, 0, 2}},
		{7, true, regRef{buffer.DintMemory, 1, 1, 2}},
		{8, true, regRef{buffer.LintMemory, 0, 0, 4}},
		{11, true, regRef{buffer.LintMemory, 0, 3, 4}},
		{12, false, regRef{}},
		{-1, false, regRef{}},
	}
	for _, tt := range tests {
		ref, ok := locateReg(l.holding, tt.flat)
		if ok != tt.ok {
			t.Errorf("locateReg(%d): expected ok=%v, got %v", tt.flat, tt.ok, ok)
			continue
		}
		if ok && ref != tt.ref {
			t.Errorf("locateReg(%d): expected %+v, got %+v", tt.flat, tt.ref, ref)
		}
	}
}

func TestLayoutDescribe(t *testing.T) {
	l := NewLayout(Mapping{
		QXBits:  16,
		IXBits:  8,
		IWCount: 4,
		QWCount: 2,
		MDCount: 2,
		MLCount: 1,
	})

	infos := l.Describe()
	expected := []SegmentInfo{
		{Table: "coils", Kind: buffer.BoolOutput, Start: 0, End: 16, Elements: 16},
		{Table: "discrete_inputs", Kind: buffer.BoolInput, Start: 0, End: 8, Elements: 8},
		{Table: "input_registers", Kind: buffer.IntInput, Start: 0, End: 4, Elements: 4, Words: 1},
		{Table: "holding_registers", Kind: buffer.IntOutput, Start: 0, End: 2, Elements: 2, Words: 1},
		{Table: "holding_registers", Kind: buffer.DintMemory, Start: 2, End: 6, Elements: 2, Words: 2},
		{Table: "holding_registers", Kind: buffer.LintMemory, Start: 6, End: 10, Elements: 1, Words: 4},
	}
	if len(infos) != len(expected) {
		t.Fatalf("Describe: expected %d segments, got %d", len(expected), len(infos))
	}
	for i, e := range expected {
		if infos[i] != e {
			t.Errorf("Describe[%d]: expected %+v, got %+v", i, e, infos[i])
		}
	}
}

func TestLayoutSkipsEmptySegments(t *testing.T) {
	l := NewLayout(Mapping{QWCount: 4})

	if len(l.coils) != 0 || len(l.discrete) != 0 || len(l.inputRegs) != 0 {
		t.Errorf("expected only holding segments, got coils=%d discrete=%d input=%d",
			len(l.coils), len(l.discrete), len(l.inputRegs))
	}
	if len(l.holding) != 1 {
		t.Fatalf("holding: expected 1 segment, got %d", len(l.holding))
	}
	if _, ok := locateReg(l.holding, 4); ok {
		t.Error("locateReg(4): expected out of range")
	}
}
