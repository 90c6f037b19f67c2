// Copyright 2024 Ewout Prangsma
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
//
// Author Ewout Prangsma
//

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/binkynet/ADCWorker/pkg/sampler"
	"github.com/binkynet/ADCWorker/pkg/service/devices"
)

// Config represents the worker configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Bridge   string         `yaml:"bridge"` // rpi|virtual|auto
	I2C      I2CConfig      `yaml:"i2c"`
	Sampling SamplingConfig `yaml:"sampling"`
	Server   ServerConfig   `yaml:"server"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// I2CConfig contains the bus and converter configuration.
type I2CConfig struct {
	Bus               string `yaml:"bus"`
	Address           string `yaml:"address"`
	SclPin            int    `yaml:"scl_pin"`
	RecoverFromLockup bool   `yaml:"recover_from_lockup"`
}

// SamplingConfig contains the sampling engine configuration.
type SamplingConfig struct {
	SettleDelay      time.Duration `yaml:"settle_delay"`
	MaxCycleAttempts int           `yaml:"max_cycle_attempts"`
	Overlap          string        `yaml:"overlap"`       // serialize|reject
	PollInterval     time.Duration `yaml:"poll_interval"` // 0 disables the monitor
}

// ServerConfig contains the HTTP & SSH server configuration.
type ServerConfig struct {
	Host           string `yaml:"host"`
	HTTPPort       int    `yaml:"http_port"`
	SSHPort        int    `yaml:"ssh_port"` // 0 disables SSH
	SSHHostKeyPath string `yaml:"ssh_host_key_path"`
}

// MQTTConfig contains the MQTT publisher configuration.
// An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // host:port
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	LogTopic string `yaml:"log_topic"`
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Bridge: "auto",
		I2C: I2CConfig{
			Bus:     "/dev/i2c-1",
			Address: fmt.Sprintf("0x%02x", devices.DefaultADS7828Address),
			SclPin:  -1,
		},
		Sampling: SamplingConfig{
			SettleDelay:      sampler.DefaultSettleDelay,
			MaxCycleAttempts: sampler.DefaultMaxCycleAttempts,
			Overlap:          string(sampler.OverlapSerialize),
			PollInterval:     time.Minute,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			HTTPPort:       7130,
			SSHPort:        7131,
			SSHHostKeyPath: ".ssh/id_ed25519",
		},
		MQTT: MQTTConfig{
			ClientID: "adc-worker",
			Topic:    "/adc/reading",
		},
	}
}

// Load loads configuration from a YAML file on top of the defaults.
// If the file doesn't exist, the defaults are returned.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "failed to read config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	return cfg, nil
}

// Validate the configuration.
func (c *Config) Validate() error {
	switch c.Bridge {
	case "rpi", "virtual", "auto":
		// Valid
	default:
		return errors.Errorf("unknown bridge type '%s' (rpi|virtual|auto)", c.Bridge)
	}
	if c.I2C.Bus == "" {
		return errors.New("i2c bus is required")
	}
	if _, err := c.ParsedAddress(); err != nil {
		return err
	}
	if c.Sampling.PollInterval < 0 {
		return errors.Errorf("poll interval must be >= 0, got %s", c.Sampling.PollInterval)
	}
	samplerCfg := c.SamplerConfig()
	if err := samplerCfg.Validate(); err != nil {
		return err
	}
	if c.Server.HTTPPort <= 0 {
		return errors.Errorf("invalid http port %d", c.Server.HTTPPort)
	}
	if c.Server.SSHPort < 0 {
		return errors.Errorf("invalid ssh port %d", c.Server.SSHPort)
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return errors.New("mqtt topic is required when a broker is configured")
	}
	return nil
}

// ParsedAddress returns the converter address.
func (c *Config) ParsedAddress() (uint8, error) {
	return devices.ParseAddress(c.I2C.Address)
}

// SamplerConfig returns the configuration of the sampling engine.
func (c *Config) SamplerConfig() sampler.Config {
	return sampler.Config{
		SettleDelay:      c.Sampling.SettleDelay,
		MaxCycleAttempts: c.Sampling.MaxCycleAttempts,
		Overlap:          sampler.OverlapPolicy(c.Sampling.Overlap),
	}
}
