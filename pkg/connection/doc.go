// Package connection provides connection lifecycle management for the
// driver's serial link.
//
// This package handles:
//   - Exponential backoff for reconnection attempts
//   - Jitter to prevent thundering herd when several printers share a host
//   - Connection state tracking
//   - Automatic reconnection after the serial port is lost (cable pulled,
//     firmware reset, USB re-enumeration)
//   - A descending baud rate candidate sequence for callers that probe
//     baud rates themselves
//
// # Reconnection Strategy
//
// When the serial port is lost, the driver uses exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Continue at 60s until successful
//  5. Reset to 1s on successful reconnection
//
// # Jitter
//
// To prevent every configured printer from retrying in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// # Baud Rate Detection
//
// BaudRateSequence lists the candidate rates in descending order and
// BaudDetector steps through them. The driver does not use them: it
// opens the serial port at the configured baud rate only and performs no
// baud sweep.
package connection
