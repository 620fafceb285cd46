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

import "fmt"

// WordOrder controls how multi-register values are split into and
// combined from 16-bit Modbus registers.
type WordOrder uint8

const (
	// HighWordFirst places the most significant word at the lowest
	// register address.
	HighWordFirst WordOrder = iota

	// LowWordFirst places the least significant word at the lowest
	// register address.
	LowWordFirst
)

// ParseWordOrder accepts the configuration names "high_word_first"
// and "low_word_first". The empty string defaults to HighWordFirst.
func ParseWordOrder(s string) (WordOrder, error) {
	switch s {
	case "", "high_word_first":
		return HighWordFirst, nil
	case "low_word_first":
		return LowWordFirst, nil
	default:
		return HighWordFirst, fmt.Errorf("unknown word order %q", s)
	}
}

// String returns the configuration name of the order.
func (w WordOrder) String() string {
	if w == LowWordFirst {
		return "low_word_first"
	}
	return "high_word_first"
}

// SplitDWord splits a 32-bit value into two registers in the given
// word order.
func SplitDWord(v uint32, order WordOrder) [2]uint16 {
	hi, lo := uint16(v>>16), uint16(v)
	if order == LowWordFirst {
		return [2]uint16{lo, hi}
	}
	return [2]uint16{hi, lo}
}

// CombineDWord is the inverse of SplitDWord.
func CombineDWord(words [2]uint16, order WordOrder) uint32 {
	if order == LowWordFirst {
		return uint32(words[1])<<16 | uint32(words[0])
	}
	return uint32(words[0])<<16 | uint32(words[1])
}

// SplitLWord splits a 64-bit value into four registers in the given
// word order.
func SplitLWord(v uint64, order WordOrder) [4]uint16 {
	words := [4]uint16{
		uint16(v >> 48),
		uint16(v >> 32),
		uint16(v >> 16),
		uint16(v),
	}
	if order == LowWordFirst {
		words[0], words[3] = words[3], words[0]
		words[1], words[2] = words[2], words[1]
	}
	return words
}

// CombineLWord is the inverse of SplitLWord.
func CombineLWord(words [4]uint16, order WordOrder) uint64 {
	if order == LowWordFirst {
		words[0], words[3] = words[3], words[0]
		words[1], words[2] = words[2], words[1]
	}
	return uint64(words[0])<<48 |
		uint64(words[1])<<32 |
		uint64(words[2])<<16 |
		uint64(words[3])
}
