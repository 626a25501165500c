// Package config loads and validates the controller configuration that
// parameterizes a single driver instance: which serial port to open, at
// what baud rate, the timing constants the protocol state machine runs
// on, and which GCode commands need the long-running timeout.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of a driver configuration file.
type Config struct {
	Name                      string `yaml:"name"`
	SerialPortID              string `yaml:"serial_port_id"`
	AutomaticBaudRateDetection bool  `yaml:"automatic_baud_rate_detection"`
	BaudRate                  int    `yaml:"baud_rate"`
	Simulate                  bool   `yaml:"simulate"`
	AwaitGreetingFromFirmware bool   `yaml:"await_greeting_from_firmware"`

	GCodeHistoryBufferSize int `yaml:"gcode_history_buffer_size"`

	DelayFromGreetingToReadyMS    int `yaml:"delay_from_greeting_to_ready_ms"`
	PollingIntervalMS             int `yaml:"polling_interval_ms"`
	FastCodeTimeoutMS             int `yaml:"fast_code_timeout_ms"`
	LongRunningCodeTimeoutMS       int `yaml:"long_running_code_timeout_ms"`
	SerialConnectionTimeoutMS      int `yaml:"serial_connection_timeout_ms"`
	ResponseTimeoutTickleAttempts uint32 `yaml:"response_timeout_tickle_attempts"`

	LongRunningCodes []string `yaml:"long_running_codes"`
	BlockingCodes    []string `yaml:"blocking_codes"`

	ChecksumTickles bool `yaml:"checksum_tickles"`
	ResetWhenIdle   bool `yaml:"reset_when_idle"`
}

// SupportedBaudRates lists the connection speeds Validate accepts,
// highest first.
var SupportedBaudRates = []int{250000, 230400, 115200, 57600, 38400, 19200, 9600}

// Default returns a Config populated with the driver's baseline
// timing, matching a typical FDM printer over USB-serial at 115200.
func Default() Config {
	return Config{
		Name:                       "printer",
		BaudRate:                   115200,
		AwaitGreetingFromFirmware:  true,
		GCodeHistoryBufferSize:     400,
		DelayFromGreetingToReadyMS: 1000,
		PollingIntervalMS:          2000,
		FastCodeTimeoutMS:          5000,
		LongRunningCodeTimeoutMS:   300000,
		SerialConnectionTimeoutMS:  5000,
		ResponseTimeoutTickleAttempts: 2,
		LongRunningCodes:           []string{"G28", "G29", "M109", "M190"},
		ChecksumTickles:            true,
	}
}

// Load reads and validates a YAML configuration file at path, layering
// it over Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first configuration error found, if any.
func (c Config) Validate() error {
	if c.SerialPortID == "" && !c.Simulate {
		return fmt.Errorf("serial_port_id is required unless simulate is set")
	}

	if !c.AutomaticBaudRateDetection {
		if !isSupportedBaudRate(c.BaudRate) {
			return fmt.Errorf("baud_rate %d is not one of %v", c.BaudRate, SupportedBaudRates)
		}
	}

	if c.GCodeHistoryBufferSize <= 0 {
		return fmt.Errorf("gcode_history_buffer_size must be positive, got %d", c.GCodeHistoryBufferSize)
	}
	if c.GCodeHistoryBufferSize > 400 {
		return fmt.Errorf("gcode_history_buffer_size must be <= 400, got %d", c.GCodeHistoryBufferSize)
	}

	if c.ResponseTimeoutTickleAttempts == 0 {
		return fmt.Errorf("response_timeout_tickle_attempts must be >= 1")
	}

	for _, ms := range []struct {
		name  string
		value int
	}{
		{"delay_from_greeting_to_ready_ms", c.DelayFromGreetingToReadyMS},
		{"polling_interval_ms", c.PollingIntervalMS},
		{"fast_code_timeout_ms", c.FastCodeTimeoutMS},
		{"long_running_code_timeout_ms", c.LongRunningCodeTimeoutMS},
		{"serial_connection_timeout_ms", c.SerialConnectionTimeoutMS},
	} {
		if ms.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", ms.name, ms.value)
		}
	}

	return nil
}

func isSupportedBaudRate(rate int) bool {
	for _, r := range SupportedBaudRates {
		if r == rate {
			return true
		}
	}
	return false
}

// LongRunningCodeSet returns LongRunningCodes as a lookup set, as the
// PSM's Config wants it.
func (c Config) LongRunningCodeSet() map[string]bool {
	set := make(map[string]bool, len(c.LongRunningCodes))
	for _, code := range c.LongRunningCodes {
		set[code] = true
	}
	return set
}

// BlockingCodeSet returns BlockingCodes as a lookup set.
func (c Config) BlockingCodeSet() map[string]bool {
	set := make(map[string]bool, len(c.BlockingCodes))
	for _, code := range c.BlockingCodes {
		set[code] = true
	}
	return set
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// DelayFromGreetingToReady returns the configured delay as a Duration.
func (c Config) DelayFromGreetingToReady() time.Duration { return msToDuration(c.DelayFromGreetingToReadyMS) }

// PollingInterval returns the configured polling cadence as a Duration.
func (c Config) PollingInterval() time.Duration { return msToDuration(c.PollingIntervalMS) }

// FastCodeTimeout returns the configured fast-code timeout as a Duration.
func (c Config) FastCodeTimeout() time.Duration { return msToDuration(c.FastCodeTimeoutMS) }

// LongRunningCodeTimeout returns the configured long-running-code
// timeout as a Duration.
func (c Config) LongRunningCodeTimeout() time.Duration {
	return msToDuration(c.LongRunningCodeTimeoutMS)
}

// SerialConnectionTimeout returns the configured per-baud connection
// attempt budget as a Duration.
func (c Config) SerialConnectionTimeout() time.Duration {
	return msToDuration(c.SerialConnectionTimeoutMS)
}
