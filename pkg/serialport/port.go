// Package serialport opens and configures the serial connection the
// driver's PSM exchanges GCode lines over. The real implementation
// wraps raw Linux termios ioctls; SimulatedPort is an in-memory
// loopback used under config.Simulate and in driver tests.
package serialport

import "io"

// Port is everything the driver needs from a serial connection: raw
// byte transport, closeable to force a reconnect.
type Port interface {
	io.ReadWriteCloser
}

// OpenForConfig opens portID at baudRate, or returns a SimulatedPort if
// simulate is set.
func OpenForConfig(simulate bool, portID string, baudRate int) (Port, error) {
	if simulate {
		return NewSimulatedPort(), nil
	}
	return Open(portID, baudRate)
}
