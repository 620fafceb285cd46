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

// Package config loads and validates the bridge configuration: the
// remote devices the master engine polls and the mapping the slave
// server exposes. The two sections reuse the standalone JSON forms
// the controller's plugin files carry, so either can also be parsed
// on its own.
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g.
// PLCBRIDGE_SLAVE_NETWORK_CONFIGURATION_PORT.
const EnvPrefix = "PLCBRIDGE"

// Config is the full bridge configuration.
type Config struct {
	Slave   SlaveConfig
	Devices []Device
}

// Load reads a bridge configuration file (YAML or JSON by extension)
// with a `slave:` mapping section and a `master: devices:` list.
// Either section may be absent: the slave falls back to the default
// exposure and the device list stays empty. Environment variables
// prefixed with PLCBRIDGE override the slave endpoint scalars.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{Slave: DefaultSlaveConfig()}

	if section := v.Get("slave"); section != nil {
		raw, err := json.Marshal(section)
		if err != nil {
			return nil, fmt.Errorf("config: slave section: %w", err)
		}
		slaveCfg, err := ParseSlaveMapping(raw)
		if err != nil {
			return nil, err
		}
		cfg.Slave = slaveCfg
	}

	// Endpoint scalars honor environment overrides, which viper does
	// not merge into section maps.
	if host := v.GetString("slave.network_configuration.host"); host != "" {
		cfg.Slave.Host = host
	}
	if port := v.GetInt("slave.network_configuration.port"); port != 0 {
		cfg.Slave.Port = port
	}
	if cfg.Slave.Port <= 0 || cfg.Slave.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidMapping, cfg.Slave.Port)
	}

	if section := v.Get("master.devices"); section != nil {
		raw, err := json.Marshal(section)
		if err != nil {
			return nil, fmt.Errorf("config: master section: %w", err)
		}
		devices, err := ParseDevices(raw)
		if err != nil {
			return nil, err
		}
		cfg.Devices = devices
	}

	return cfg, nil
}
