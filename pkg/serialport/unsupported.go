//go:build !linux

package serialport

import "fmt"

// Open is unavailable outside Linux and always returns an error; on
// other platforms only config.Simulate gives the driver a port.
func Open(path string, baud int) (Port, error) {
	return nil, fmt.Errorf("serialport: real serial ports are only supported on linux (requested %s)", path)
}
