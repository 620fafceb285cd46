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

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/edgeo-scada/plc-bridge/buffer"
)

// Slave endpoint defaults.
const (
	DefaultSlaveHost = "0.0.0.0"
	DefaultSlavePort = 502
)

// ErrInvalidMapping indicates a slave mapping that fails validation.
var ErrInvalidMapping = errors.New("config: invalid slave mapping")

// SlaveConfig fixes the slave endpoint and how much of each buffer
// region it exposes. Counts are capped at the backing region size.
type SlaveConfig struct {
	Host string
	Port int

	QXBits int
	MXBits int
	IXBits int

	IWCount int
	QWCount int
	MWCount int
	MDCount int
	MLCount int

	WordOrder buffer.WordOrder
}

// Addr returns the slave's listen address.
func (c SlaveConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultSlaveConfig is the exposure used when no mapping file is
// given: all input and output regions, no memory segments.
func DefaultSlaveConfig() SlaveConfig {
	cfg, _ := ParseSlaveMapping(nil)
	return cfg
}

type networkJSON struct {
	Host string `json:"host"`
	Port *int   `json:"port"`
}

type slaveJSON struct {
	Network       networkJSON                `json:"network_configuration"`
	BufferMapping map[string]json.RawMessage `json:"buffer_mapping"`
	WordOrder     string                     `json:"word_order"`
}

type segmentedCoilsJSON struct {
	QXBits *int `json:"qx_bits"`
	MXBits *int `json:"mx_bits"`
}

type segmentedDiscreteJSON struct {
	IXBits *int `json:"ix_bits"`
}

type segmentedInputRegsJSON struct {
	IWCount *int `json:"iw_count"`
}

type segmentedHoldingJSON struct {
	QWCount *int `json:"qw_count"`
	MWCount *int `json:"mw_count"`
	MDCount *int `json:"md_count"`
	MLCount *int `json:"ml_count"`
}

type legacyMappingJSON struct {
	MaxCoils            *int `json:"max_coils"`
	MaxDiscreteInputs   *int `json:"max_discrete_inputs"`
	MaxHoldingRegisters *int `json:"max_holding_registers"`
	MaxInputRegisters   *int `json:"max_input_registers"`
}

// ParseSlaveMapping decodes and validates a slave mapping:
//
//	{network_configuration: {host, port},
//	 buffer_mapping: {coils: {qx_bits, mx_bits},
//	                  discrete_inputs: {ix_bits},
//	                  input_registers: {iw_count},
//	                  holding_registers: {qw_count, mw_count, md_count, ml_count}},
//	 word_order: "high_word_first" | "low_word_first"}
//
// The mapping is segmented when holding_registers is an object;
// otherwise the legacy flat form (max_coils, max_discrete_inputs,
// max_holding_registers, max_input_registers) applies, translating to
// segments with no memory exposure and high-word-first order. Counts
// cap at the backing region size; nil or empty input yields all
// defaults.
func ParseSlaveMapping(data []byte) (SlaveConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}

	var raw slaveJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return SlaveConfig{}, fmt.Errorf("config: parse slave mapping: %w", err)
	}

	cfg := SlaveConfig{
		Host: DefaultSlaveHost,
		Port: DefaultSlavePort,
	}
	if raw.Network.Host != "" {
		cfg.Host = raw.Network.Host
	}
	if raw.Network.Port != nil {
		cfg.Port = *raw.Network.Port
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return SlaveConfig{}, fmt.Errorf("%w: port %d out of range", ErrInvalidMapping, cfg.Port)
	}

	if hr, segmented := raw.BufferMapping["holding_registers"]; segmented && isJSONObject(hr) {
		if err := parseSegmented(raw, &cfg); err != nil {
			return SlaveConfig{}, err
		}
	} else {
		if err := parseLegacy(raw.BufferMapping, &cfg); err != nil {
			return SlaveConfig{}, err
		}
	}
	return cfg, nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func parseSegmented(raw slaveJSON, cfg *SlaveConfig) error {
	var (
		coils    segmentedCoilsJSON
		discrete segmentedDiscreteJSON
		inputs   segmentedInputRegsJSON
		holding  segmentedHoldingJSON
	)
	if err := decodeSection(raw.BufferMapping, "coils", &coils); err != nil {
		return err
	}
	if err := decodeSection(raw.BufferMapping, "discrete_inputs", &discrete); err != nil {
		return err
	}
	if err := decodeSection(raw.BufferMapping, "input_registers", &inputs); err != nil {
		return err
	}
	if err := decodeSection(raw.BufferMapping, "holding_registers", &holding); err != nil {
		return err
	}

	cfg.QXBits = capBits(coils.QXBits, 8192)
	cfg.MXBits = capBits(coils.MXBits, 0)
	cfg.IXBits = capBits(discrete.IXBits, 8192)
	cfg.IWCount = capElems(inputs.IWCount, 1024)
	cfg.QWCount = capElems(holding.QWCount, 1024)
	cfg.MWCount = capElems(holding.MWCount, 1024)
	cfg.MDCount = capElems(holding.MDCount, 1024)
	cfg.MLCount = capElems(holding.MLCount, 1024)

	order, err := buffer.ParseWordOrder(raw.WordOrder)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	cfg.WordOrder = order
	return nil
}

// parseLegacy translates the flat form: no memory segments, word
// order fixed high-word-first regardless of the file.
func parseLegacy(mapping map[string]json.RawMessage, cfg *SlaveConfig) error {
	var legacy legacyMappingJSON
	if len(mapping) > 0 {
		buf, err := json.Marshal(mapping)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMapping, err)
		}
		if err := json.Unmarshal(buf, &legacy); err != nil {
			return fmt.Errorf("config: parse slave mapping: %w", err)
		}
	}

	cfg.QXBits = capBits(legacy.MaxCoils, 8192)
	cfg.MXBits = 0
	cfg.IXBits = capBits(legacy.MaxDiscreteInputs, 8192)
	cfg.IWCount = capElems(legacy.MaxInputRegisters, 1024)
	cfg.QWCount = capElems(legacy.MaxHoldingRegisters, 1024)
	cfg.MWCount = 0
	cfg.MDCount = 0
	cfg.MLCount = 0
	cfg.WordOrder = buffer.HighWordFirst
	return nil
}

func decodeSection(mapping map[string]json.RawMessage, key string, dst interface{}) error {
	raw, ok := mapping[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("config: parse slave mapping %s: %w", key, err)
	}
	return nil
}

// capBits clamps an exposed bit count to [0, region bits].
func capBits(v *int, def int) int {
	return clamp(v, def, buffer.RegionElems*8)
}

// capElems clamps an exposed element count to [0, region elements].
func capElems(v *int, def int) int {
	return clamp(v, def, buffer.RegionElems)
}

func clamp(v *int, def, max int) int {
	n := def
	if v != nil {
		n = *v
	}
	if n < 0 {
		n = 0
	}
	if n > max {
		n = max
	}
	return n
}
