// Package log provides structured protocol logging for the driver.
//
// This package defines the Logger interface and Event types for capturing
// events at every layer of the driver: raw GCode lines crossing the serial
// link, effects emitted by the protocol state machine, and machine/task
// state transitions. It is separate from operational logging (slog) -
// protocol capture provides a complete machine-readable event trace for
// debugging and replay.
//
// # Basic Usage
//
// Applications configure logging by passing a Logger implementation to
// driver.New:
//
//	// For development: log to console via slog
//	logger := log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	fileLogger, err := log.NewFileLogger("/var/log/teg-driver/printer-1.mlog")
//
//	// Both: use MultiLogger
//	logger := log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fileLogger)
//
//	d := driver.New(cfg, control, logger)
//
// # Event Types
//
// Events are captured at three layers:
//   - Serial: raw GCode lines sent to or received from firmware (LineEvent)
//   - Control: framed CombinatorMessage/MachineMessage traffic
//   - Driver: PSM effects (EffectEvent) and machine/task transitions (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Log files use CBOR encoding with the .mlog extension. Reader supports
// filtering by machine ID, task ID, layer, category, and time range.
package log
