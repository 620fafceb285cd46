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

import "sync"

// Entry is one deferred write to the process image. Entries are
// produced by conversion helpers outside any lock and applied by the
// host scan engine, in staging order, at its commit boundary.
type Entry struct {
	Kind  Kind
	Index uint16
	Bit   uint8 // NoBit for non-boolean entries
	Value uint64
}

// SharedMemory is the boundary to the host runtime's buffer regions.
// It exposes the image lock, bounds-checked element access per native
// width, and the write journal.
//
// The Read and Write methods require the caller to hold the image
// lock; they perform no locking themselves so that a batch of
// elements can be read or written atomically. Direct writes bypass
// the journal and are reserved for read-modify-write cycles that must
// observe their own effects within one critical section.
//
// The Stage methods append to the write journal and are internally
// synchronized; the image lock must not be held when staging.
type SharedMemory interface {
	sync.Locker

	ReadBool(kind Kind, index int, bit uint8) (bool, error)
	ReadByte(kind Kind, index int) (uint8, error)
	ReadWord(kind Kind, index int) (uint16, error)
	ReadDWord(kind Kind, index int) (uint32, error)
	ReadLWord(kind Kind, index int) (uint64, error)

	WriteBool(kind Kind, index int, bit uint8, value bool) error
	WriteByte(kind Kind, index int, value uint8) error
	WriteWord(kind Kind, index int, value uint16) error
	WriteDWord(kind Kind, index int, value uint32) error
	WriteLWord(kind Kind, index int, value uint64) error

	StageBool(kind Kind, index int, bit uint8, value bool) error
	StageByte(kind Kind, index int, value uint8) error
	StageWord(kind Kind, index int, value uint16) error
	StageDWord(kind Kind, index int, value uint32) error
	StageLWord(kind Kind, index int, value uint64) error

	// Size reports the element capacity of a region: byte slots for
	// bool and byte regions, native elements otherwise.
	Size(kind Kind) int
}
