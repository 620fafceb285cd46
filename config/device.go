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
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/edgeo-scada/plc-bridge/buffer"
	"github.com/edgeo-scada/plc-bridge/iec"
)

// Device config defaults.
const (
	DefaultDeviceHost = "127.0.0.1"
	DefaultDevicePort = 502
	DefaultCycleTime  = time.Second
	DefaultTimeout    = time.Second
)

var (
	// ErrNoDevices indicates an empty device list.
	ErrNoDevices = errors.New("config: no devices defined")

	// ErrInvalidDevice indicates a device entry that fails validation.
	ErrInvalidDevice = errors.New("config: invalid device")

	// ErrInvalidPoint indicates an I/O point that fails validation.
	ErrInvalidPoint = errors.New("config: invalid io point")

	// ErrDuplicateName indicates two devices sharing a name.
	ErrDuplicateName = errors.New("config: duplicate device name")

	// ErrDuplicateEndpoint indicates two devices sharing host:port.
	ErrDuplicateEndpoint = errors.New("config: duplicate device endpoint")

	// ErrWriteOverlap indicates points on different devices writing
	// overlapping local ranges. Polling order across devices is
	// unspecified, so such writes race.
	ErrWriteOverlap = errors.New("config: overlapping local write targets")
)

// IOPoint binds one remote Modbus range to one local IEC location.
// FC 1-4 poll the remote range into local memory; FC 5/6/15/16 push
// local memory to the remote range. Length counts local elements
// (bits for bit locations).
type IOPoint struct {
	FC       uint8
	Offset   uint16
	Location string
	Length   uint16
}

// Device is one remote Modbus TCP endpoint polled by a dedicated
// worker.
type Device struct {
	Name      string
	Host      string
	Port      int
	CycleTime time.Duration
	Timeout   time.Duration
	WordOrder buffer.WordOrder
	IOPoints  []IOPoint
}

// Addr returns the device's dial address.
func (d Device) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// flexString accepts a JSON string or number and stores its text.
// Device files in the field write offsets both ways.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type pointJSON struct {
	FC          *int        `json:"fc"`
	Offset      *flexString `json:"offset"`
	IECLocation *string     `json:"iec_location"`
	Len         *int        `json:"len"`
}

type deviceBodyJSON struct {
	Type        string      `json:"type"`
	Host        string      `json:"host"`
	Port        *int        `json:"port"`
	CycleTimeMs *int        `json:"cycle_time_ms"`
	TimeoutMs   *int        `json:"timeout_ms"`
	WordOrder   string      `json:"word_order"`
	IOPoints    []pointJSON `json:"io_points"`
}

type deviceJSON struct {
	Name     string         `json:"name"`
	Protocol string         `json:"protocol"`
	Config   deviceBodyJSON `json:"config"`
}

// ParseDevices decodes and validates the device configuration array:
//
//	[{name, protocol: "MODBUS", config: {host, port, cycle_time_ms,
//	  timeout_ms, io_points: [{fc, offset, iec_location, len}]}}]
//
// Missing device fields take defaults; the four point fields are
// required. The returned devices passed full validation, including
// cross-device overlap of local write targets.
func ParseDevices(data []byte) ([]Device, error) {
	var raw []deviceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse devices: %w", err)
	}

	devices := make([]Device, 0, len(raw))
	for i, rd := range raw {
		dev, err := buildDevice(rd)
		if err != nil {
			return nil, fmt.Errorf("config: device #%d: %w", i+1, err)
		}
		devices = append(devices, dev)
	}

	if err := validateDevices(devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func buildDevice(rd deviceJSON) (Device, error) {
	dev := Device{
		Name:      rd.Name,
		Host:      DefaultDeviceHost,
		Port:      DefaultDevicePort,
		CycleTime: DefaultCycleTime,
		Timeout:   DefaultTimeout,
	}

	if rd.Protocol != "" && rd.Protocol != "MODBUS" {
		return Device{}, fmt.Errorf("%w: unsupported protocol %q", ErrInvalidDevice, rd.Protocol)
	}
	body := rd.Config
	if body.Host != "" {
		dev.Host = body.Host
	}
	if body.Port != nil {
		dev.Port = *body.Port
	}
	if body.CycleTimeMs != nil {
		dev.CycleTime = time.Duration(*body.CycleTimeMs) * time.Millisecond
	}
	if body.TimeoutMs != nil {
		dev.Timeout = time.Duration(*body.TimeoutMs) * time.Millisecond
	}

	order, err := buffer.ParseWordOrder(body.WordOrder)
	if err != nil {
		return Device{}, fmt.Errorf("%w: %v", ErrInvalidDevice, err)
	}
	dev.WordOrder = order

	for j, rp := range body.IOPoints {
		point, err := buildPoint(rp)
		if err != nil {
			return Device{}, fmt.Errorf("point #%d: %w", j+1, err)
		}
		dev.IOPoints = append(dev.IOPoints, point)
	}
	return dev, nil
}

func buildPoint(rp pointJSON) (IOPoint, error) {
	switch {
	case rp.FC == nil:
		return IOPoint{}, fmt.Errorf("%w: missing fc", ErrInvalidPoint)
	case rp.Offset == nil:
		return IOPoint{}, fmt.Errorf("%w: missing offset", ErrInvalidPoint)
	case rp.IECLocation == nil:
		return IOPoint{}, fmt.Errorf("%w: missing iec_location", ErrInvalidPoint)
	case rp.Len == nil:
		return IOPoint{}, fmt.Errorf("%w: missing len", ErrInvalidPoint)
	}

	if *rp.FC <= 0 || *rp.FC > 255 {
		return IOPoint{}, fmt.Errorf("%w: fc %d out of range", ErrInvalidPoint, *rp.FC)
	}
	if *rp.Offset == "" {
		return IOPoint{}, fmt.Errorf("%w: empty offset", ErrInvalidPoint)
	}
	offset, err := strconv.ParseUint(string(*rp.Offset), 10, 16)
	if err != nil {
		return IOPoint{}, fmt.Errorf("%w: offset %q: %v", ErrInvalidPoint, *rp.Offset, err)
	}
	if *rp.IECLocation == "" {
		return IOPoint{}, fmt.Errorf("%w: empty iec_location", ErrInvalidPoint)
	}
	if *rp.Len <= 0 || *rp.Len > 65535 {
		return IOPoint{}, fmt.Errorf("%w: len %d out of range", ErrInvalidPoint, *rp.Len)
	}

	return IOPoint{
		FC:       uint8(*rp.FC),
		Offset:   uint16(offset),
		Location: *rp.IECLocation,
		Length:   uint16(*rp.Len),
	}, nil
}

// pointSpan is the local range an FC 1-4 point writes, in region
// units: bits for bit regions, elements otherwise.
type pointSpan struct {
	device   string
	location string
	kind     buffer.Kind
	start    uint32
	end      uint32 // exclusive
}

func (s pointSpan) overlaps(o pointSpan) bool {
	return s.kind == o.kind && s.start < o.end && o.start < s.end
}

func validateDevices(devices []Device) error {
	if len(devices) == 0 {
		return ErrNoDevices
	}

	names := make(map[string]struct{}, len(devices))
	endpoints := make(map[string]struct{}, len(devices))
	var spans []pointSpan

	for _, dev := range devices {
		if dev.Name == "" {
			return fmt.Errorf("%w: missing name for endpoint %s", ErrInvalidDevice, dev.Addr())
		}
		if dev.Port <= 0 || dev.Port > 65535 {
			return fmt.Errorf("%w: %s: port %d out of range", ErrInvalidDevice, dev.Name, dev.Port)
		}
		if dev.CycleTime <= 0 {
			return fmt.Errorf("%w: %s: cycle time must be positive", ErrInvalidDevice, dev.Name)
		}
		if dev.Timeout <= 0 {
			return fmt.Errorf("%w: %s: timeout must be positive", ErrInvalidDevice, dev.Name)
		}

		if _, dup := names[dev.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, dev.Name)
		}
		names[dev.Name] = struct{}{}
		if _, dup := endpoints[dev.Addr()]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateEndpoint, dev.Addr())
		}
		endpoints[dev.Addr()] = struct{}{}

		for i, point := range dev.IOPoints {
			span, err := validatePoint(dev, point)
			if err != nil {
				return fmt.Errorf("config: device %q point #%d: %w", dev.Name, i+1, err)
			}
			if span != nil {
				spans = append(spans, *span)
			}
		}
	}

	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].device != spans[j].device && spans[i].overlaps(spans[j]) {
				return fmt.Errorf("%w: %q %s and %q %s both write %s",
					ErrWriteOverlap,
					spans[i].device, spans[i].location,
					spans[j].device, spans[j].location,
					spans[i].kind)
			}
		}
	}
	return nil
}

// validatePoint checks that a point's location parses and resolves,
// and returns the local write span for polled (FC 1-4) points.
func validatePoint(dev Device, point IOPoint) (*pointSpan, error) {
	addr, err := iec.Parse(point.Location)
	if err != nil {
		return nil, err
	}

	dir := buffer.Read
	polled := point.FC >= 1 && point.FC <= 4
	if polled {
		dir = buffer.Write
	}
	access, err := buffer.Resolve(addr, dir)
	if err != nil {
		return nil, err
	}

	if !polled {
		return nil, nil
	}

	span := pointSpan{
		device:   dev.Name,
		location: point.Location,
		kind:     access.Kind,
	}
	if access.IsBool() {
		span.start = uint32(access.Index)*8 + uint32(access.Bit)
	} else {
		span.start = uint32(access.Index)
	}
	span.end = span.start + uint32(point.Length)
	return &span, nil
}
