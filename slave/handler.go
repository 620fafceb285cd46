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
	"github.com/edgeo-scada/plc-bridge/modbus"
)

// blockHandler serves wire requests from a DataBlocks store. Protocol
// addresses are 0-based and the store is 1-based, so every call shifts
// by one. The store never range-rejects, so no request maps to an
// illegal-address exception; the bridge exposes one logical device and
// the unit identifier is ignored.
type blockHandler struct {
	blocks *DataBlocks
}

// NewHandler returns the Modbus request handler backed by blocks.
func NewHandler(blocks *DataBlocks) modbus.Handler {
	return &blockHandler{blocks: blocks}
}

func (h *blockHandler) ReadCoils(_ modbus.UnitID, addr, qty uint16) ([]bool, error) {
	return h.blocks.Coils(int(addr)+1, int(qty)), nil
}

func (h *blockHandler) ReadDiscreteInputs(_ modbus.UnitID, addr, qty uint16) ([]bool, error) {
	return h.blocks.DiscreteInputs(int(addr)+1, int(qty)), nil
}

func (h *blockHandler) WriteSingleCoil(_ modbus.UnitID, addr uint16, value bool) error {
	h.blocks.SetCoils(int(addr)+1, []bool{value})
	return nil
}

func (h *blockHandler) WriteMultipleCoils(_ modbus.UnitID, addr uint16, values []bool) error {
	h.blocks.SetCoils(int(addr)+1, values)
	return nil
}

func (h *blockHandler) ReadHoldingRegisters(_ modbus.UnitID, addr, qty uint16) ([]uint16, error) {
	return h.blocks.HoldingRegisters(int(addr)+1, int(qty)), nil
}

func (h *blockHandler) ReadInputRegisters(_ modbus.UnitID, addr, qty uint16) ([]uint16, error) {
	return h.blocks.InputRegisters(int(addr)+1, int(qty)), nil
}

func (h *blockHandler) WriteSingleRegister(_ modbus.UnitID, addr, value uint16) error {
	h.blocks.SetHoldingRegisters(int(addr)+1, []uint16{value})
	return nil
}

func (h *blockHandler) WriteMultipleRegisters(_ modbus.UnitID, addr uint16, values []uint16) error {
	h.blocks.SetHoldingRegisters(int(addr)+1, values)
	return nil
}
