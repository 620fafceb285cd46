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
	"errors"
	"testing"
	"time"

	"github.com/edgeo-scada/plc-bridge/buffer"
	"github.com/edgeo-scada/plc-bridge/iec"
)

func TestParseDevices(t *testing.T) {
	data := []byte(`[
		{
			"name": "plc-a",
			"protocol": "MODBUS",
			"config": {
				"type": "SLAVE",
				"host": "10.0.0.5",
				"port": 1502,
				"cycle_time_ms": 250,
				"timeout_ms": 500,
				"io_points": [
					{"fc": 3, "offset": "0", "iec_location": "%IW0", "len": 4},
					{"fc": 15, "offset": 16, "iec_location": "%QX2.0", "len": 8}
				]
			}
		},
		{
			"name": "plc-b",
			"config": {
				"host": "10.0.0.6",
				"word_order": "low_word_first",
				"io_points": [
					{"fc": 4, "offset": "100", "iec_location": "%ID0", "len": 2}
				]
			}
		}
	]`)

	devices, err := ParseDevices(data)
	if err != nil {
		t.Fatalf("ParseDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}

	a := devices[0]
	if a.Name != "plc-a" || a.Host != "10.0.0.5" || a.Port != 1502 {
		t.Errorf("device a: expected plc-a 10.0.0.5:1502, got %s %s:%d", a.Name, a.Host, a.Port)
	}
	if a.CycleTime != 250*time.Millisecond {
		t.Errorf("cycle time: expected 250ms, got %s", a.CycleTime)
	}
	if a.Timeout != 500*time.Millisecond {
		t.Errorf("timeout: expected 500ms, got %s", a.Timeout)
	}
	if a.WordOrder != buffer.HighWordFirst {
		t.Errorf("word order: expected high word first, got %v", a.WordOrder)
	}
	if len(a.IOPoints) != 2 {
		t.Fatalf("expected 2 points, got %d", len(a.IOPoints))
	}
	p := a.IOPoints[0]
	if p.FC != 3 || p.Offset != 0 || p.Location != "%IW0" || p.Length != 4 {
		t.Errorf("point 0: expected {3 0 %%IW0 4}, got %+v", p)
	}
	p = a.IOPoints[1]
	if p.FC != 15 || p.Offset != 16 || p.Location != "%QX2.0" || p.Length != 8 {
		t.Errorf("point 1: expected {15 16 %%QX2.0 8}, got %+v", p)
	}

	b := devices[1]
	if b.Port != DefaultDevicePort {
		t.Errorf("device b port: expected default %d, got %d", DefaultDevicePort, b.Port)
	}
	if b.CycleTime != DefaultCycleTime || b.Timeout != DefaultTimeout {
		t.Errorf("device b timing: expected defaults, got %s %s", b.CycleTime, b.Timeout)
	}
	if b.WordOrder != buffer.LowWordFirst {
		t.Errorf("device b word order: expected low word first, got %v", b.WordOrder)
	}
}

func TestParseDevicesEmpty(t *testing.T) {
	_, err := ParseDevices([]byte(`[]`))
	if !errors.Is(err, ErrNoDevices) {
		t.Errorf("expected ErrNoDevices, got %v", err)
	}
}

func TestParseDevicesBadJSON(t *testing.T) {
	_, err := ParseDevices([]byte(`{not json`))
	if err == nil {
		t.Error("expected parse error")
	}
}

func TestParseDevicesMissingName(t *testing.T) {
	data := []byte(`[{"config": {"io_points": [{"fc": 3, "offset": "0", "iec_location": "%IW0", "len": 1}]}}]`)
	_, err := ParseDevices(data)
	if !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("expected ErrInvalidDevice, got %v", err)
	}
}

func TestParseDevicesUnsupportedProtocol(t *testing.T) {
	data := []byte(`[{"name": "x", "protocol": "PROFINET", "config": {}}]`)
	_, err := ParseDevices(data)
	if !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("expected ErrInvalidDevice, got %v", err)
	}
}

func TestParseDevicesMissingPointFields(t *testing.T) {
	cases := []struct {
		name  string
		point string
	}{
		{"NoFC", `{"offset": "0", "iec_location": "%IW0", "len": 1}`},
		{"NoOffset", `{"fc": 3, "iec_location": "%IW0", "len": 1}`},
		{"NoLocation", `{"fc": 3, "offset": "0", "len": 1}`},
		{"NoLen", `{"fc": 3, "offset": "0", "iec_location": "%IW0"}`},
		{"EmptyOffset", `{"fc": 3, "offset": "", "iec_location": "%IW0", "len": 1}`},
		{"ZeroLen", `{"fc": 3, "offset": "0", "iec_location": "%IW0", "len": 0}`},
		{"ZeroFC", `{"fc": 0, "offset": "0", "iec_location": "%IW0", "len": 1}`},
		{"BadOffset", `{"fc": 3, "offset": "70000", "iec_location": "%IW0", "len": 1}`},
	}
	for _, tc := range cases {
		data := []byte(`[{"name": "x", "config": {"io_points": [` + tc.point + `]}}]`)
		_, err := ParseDevices(data)
		if !errors.Is(err, ErrInvalidPoint) {
			t.Errorf("%s: expected ErrInvalidPoint, got %v", tc.name, err)
		}
	}
}

func TestParseDevicesBadLocation(t *testing.T) {
	data := []byte(`[{"name": "x", "config": {"io_points": [{"fc": 3, "offset": "0", "iec_location": "%Z9", "len": 1}]}}]`)
	_, err := ParseDevices(data)
	if !errors.Is(err, iec.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestParseDevicesUnresolvableLocation(t *testing.T) {
	data := []byte(`[{"name": "x", "config": {"io_points": [{"fc": 3, "offset": "0", "iec_location": "%MB4", "len": 1}]}}]`)
	_, err := ParseDevices(data)
	if !errors.Is(err, buffer.ErrUnsupportedCombination) {
		t.Errorf("expected ErrUnsupportedCombination, got %v", err)
	}
}

func TestParseDevicesDuplicateName(t *testing.T) {
	data := []byte(`[
		{"name": "x", "config": {"host": "10.0.0.1"}},
		{"name": "x", "config": {"host": "10.0.0.2"}}
	]`)
	_, err := ParseDevices(data)
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
}

func TestParseDevicesDuplicateEndpoint(t *testing.T) {
	data := []byte(`[
		{"name": "x", "config": {"host": "10.0.0.1"}},
		{"name": "y", "config": {"host": "10.0.0.1"}}
	]`)
	_, err := ParseDevices(data)
	if !errors.Is(err, ErrDuplicateEndpoint) {
		t.Errorf("expected ErrDuplicateEndpoint, got %v", err)
	}
}

func TestParseDevicesWriteOverlap(t *testing.T) {
	// %QW10 elements 10..13 and %QW12 elements 12..13 collide.
	data := []byte(`[
		{"name": "x", "config": {"host": "10.0.0.1", "io_points": [
			{"fc": 3, "offset": "0", "iec_location": "%QW10", "len": 4}
		]}},
		{"name": "y", "config": {"host": "10.0.0.2", "io_points": [
			{"fc": 4, "offset": "0", "iec_location": "%QW12", "len": 2}
		]}}
	]`)
	_, err := ParseDevices(data)
	if !errors.Is(err, ErrWriteOverlap) {
		t.Errorf("expected ErrWriteOverlap, got %v", err)
	}
}

func TestParseDevicesOverlapWithinDeviceAllowed(t *testing.T) {
	data := []byte(`[
		{"name": "x", "config": {"host": "10.0.0.1", "io_points": [
			{"fc": 3, "offset": "0", "iec_location": "%QW10", "len": 4},
			{"fc": 4, "offset": "50", "iec_location": "%QW12", "len": 2}
		]}}
	]`)
	if _, err := ParseDevices(data); err != nil {
		t.Errorf("points within one device poll in order, expected no error, got %v", err)
	}
}

func TestParseDevicesNoOverlapAcrossKinds(t *testing.T) {
	// Same element indices, different regions.
	data := []byte(`[
		{"name": "x", "config": {"host": "10.0.0.1", "io_points": [
			{"fc": 3, "offset": "0", "iec_location": "%QW10", "len": 4}
		]}},
		{"name": "y", "config": {"host": "10.0.0.2", "io_points": [
			{"fc": 4, "offset": "0", "iec_location": "%IW10", "len": 4}
		]}}
	]`)
	if _, err := ParseDevices(data); err != nil {
		t.Errorf("different regions cannot overlap, expected no error, got %v", err)
	}
}

func TestParseDevicesPushPointsNeverOverlap(t *testing.T) {
	// FC 5/6/15/16 read local memory; identical sources are fine.
	data := []byte(`[
		{"name": "x", "config": {"host": "10.0.0.1", "io_points": [
			{"fc": 16, "offset": "0", "iec_location": "%QW10", "len": 4}
		]}},
		{"name": "y", "config": {"host": "10.0.0.2", "io_points": [
			{"fc": 16, "offset": "0", "iec_location": "%QW10", "len": 4}
		]}}
	]`)
	if _, err := ParseDevices(data); err != nil {
		t.Errorf("push points share sources, expected no error, got %v", err)
	}
}

func TestParseDevicesBitOverlap(t *testing.T) {
	// %QX2.0 len 8 covers bits 16..23; %QX2.7 len 2 covers 23..24.
	data := []byte(`[
		{"name": "x", "config": {"host": "10.0.0.1", "io_points": [
			{"fc": 1, "offset": "0", "iec_location": "%QX2.0", "len": 8}
		]}},
		{"name": "y", "config": {"host": "10.0.0.2", "io_points": [
			{"fc": 1, "offset": "0", "iec_location": "%QX2.7", "len": 2}
		]}}
	]`)
	_, err := ParseDevices(data)
	if !errors.Is(err, ErrWriteOverlap) {
		t.Errorf("expected ErrWriteOverlap, got %v", err)
	}
}

func TestDeviceAddr(t *testing.T) {
	d := Device{Host: "10.1.2.3", Port: 1502}
	if got := d.Addr(); got != "10.1.2.3:1502" {
		t.Errorf("Addr: expected 10.1.2.3:1502, got %s", got)
	}
}

func TestParseDevicesInvalidTiming(t *testing.T) {
	data := []byte(`[{"name": "x", "config": {"cycle_time_ms": 0}}]`)
	_, err := ParseDevices(data)
	if !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("zero cycle: expected ErrInvalidDevice, got %v", err)
	}

	data = []byte(`[{"name": "x", "config": {"timeout_ms": -5}}]`)
	_, err = ParseDevices(data)
	if !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("negative timeout: expected ErrInvalidDevice, got %v", err)
	}
}
