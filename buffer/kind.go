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

// Package buffer mediates access to the controller's shared process
// image. It resolves IEC addresses to one of the fourteen buffer
// regions shared with the host runtime, reads elements directly under
// the image lock, and stages writes as journal entries that the host
// scan engine applies at its commit boundary.
package buffer

// Kind identifies one of the fourteen buffer regions shared with the
// host runtime. The numeric values are the host journal ABI and must
// not be reordered. There is no byte-sized memory region.
type Kind uint8

const (
	BoolInput Kind = iota
	BoolOutput
	BoolMemory
	ByteInput
	ByteOutput
	IntInput
	IntOutput
	IntMemory
	DintInput
	DintOutput
	DintMemory
	LintInput
	LintOutput
	LintMemory

	kindCount = 14
)

var kindNames = [kindCount]string{
	"bool_input", "bool_output", "bool_memory",
	"byte_input", "byte_output",
	"int_input", "int_output", "int_memory",
	"dint_input", "dint_output", "dint_memory",
	"lint_input", "lint_output", "lint_memory",
}

// String returns the host runtime's name for the region.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsBool reports whether the region holds single bits packed into
// byte slots.
func (k Kind) IsBool() bool {
	return k <= BoolMemory
}

// ElemBytes returns the native width of one element in bytes. Bool
// regions are addressed by byte slot and report 1.
func (k Kind) ElemBytes() uint8 {
	switch {
	case k <= ByteOutput:
		return 1
	case k <= IntMemory:
		return 2
	case k <= DintMemory:
		return 4
	default:
		return 8
	}
}

// mask returns the value mask for the region's element width. Staged
// values wrap to the element width rather than being rejected.
func (k Kind) mask() uint64 {
	switch k.ElemBytes() {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	case 4:
		return 0xFFFFFFFF
	default:
		return 0xFFFFFFFFFFFFFFFF
	}
}
