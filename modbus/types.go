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

// Package modbus implements the Modbus TCP data function codes used
// by the bridge: coil, discrete input and register reads and writes.
// It provides a client for polling remote devices and a server that
// dispatches requests to a Handler.
package modbus

import "time"

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Supported Modbus function codes.
const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

// Protocol constants.
const (
	// MaxQuantityCoils is the maximum number of coils or discrete
	// inputs per read request.
	MaxQuantityCoils = 2000

	// MaxQuantityWriteCoils is the maximum number of coils per write
	// request.
	MaxQuantityWriteCoils = 1968

	// MaxQuantityRegisters is the maximum number of registers per
	// read request.
	MaxQuantityRegisters = 125

	// MaxQuantityWriteRegisters is the maximum number of registers
	// per write request.
	MaxQuantityWriteRegisters = 123

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// ProtocolID is the Modbus protocol identifier (always 0 for
	// Modbus TCP).
	ProtocolID = 0

	// DefaultTimeout is the default timeout for Modbus operations.
	DefaultTimeout = 5 * time.Second

	// DefaultPort is the default Modbus TCP port.
	DefaultPort = 502
)

// Coil values for write operations.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// Handler processes Modbus data requests on the server side.
// Addresses are zero-based protocol addresses exactly as they appear
// on the wire. Read methods must return exactly qty values or an
// error; a *ModbusError is translated into the corresponding
// exception response, any other error into a server device failure.
type Handler interface {
	ReadCoils(unitID UnitID, addr, qty uint16) ([]bool, error)
	ReadDiscreteInputs(unitID UnitID, addr, qty uint16) ([]bool, error)
	WriteSingleCoil(unitID UnitID, addr uint16, value bool) error
	WriteMultipleCoils(unitID UnitID, addr uint16, values []bool) error

	ReadHoldingRegisters(unitID UnitID, addr, qty uint16) ([]uint16, error)
	ReadInputRegisters(unitID UnitID, addr, qty uint16) ([]uint16, error)
	WriteSingleRegister(unitID UnitID, addr, value uint16) error
	WriteMultipleRegisters(unitID UnitID, addr uint16, values []uint16) error
}

// ConnectionState represents the state of a client connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
