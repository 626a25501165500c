package serialport

import (
	"bytes"
	"errors"
	"sync"
)

// ErrClosed is returned by a SimulatedPort once Close has been called.
var ErrClosed = errors.New("serialport: simulated port closed")

// SimulatedPort is an in-memory loopback Port for config.Simulate and
// for driver tests: Feed makes bytes available to Read, as firmware
// output would be, and TakeWritten drains what the driver has sent.
type SimulatedPort struct {
	mu      sync.Mutex
	cond    *sync.Cond
	toRead  bytes.Buffer
	written bytes.Buffer
	closed  bool
}

// NewSimulatedPort returns an empty SimulatedPort.
func NewSimulatedPort() *SimulatedPort {
	p := &SimulatedPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Read blocks until data has been Fed or the port is closed.
func (p *SimulatedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.toRead.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.toRead.Len() == 0 {
		return 0, ErrClosed
	}
	return p.toRead.Read(b)
}

// Write appends to the buffer TakeWritten drains.
func (p *SimulatedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	return p.written.Write(b)
}

// Close unblocks any pending Read with ErrClosed.
func (p *SimulatedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.cond.Broadcast()
	return nil
}

// Feed makes data available to a subsequent Read.
func (p *SimulatedPort) Feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.toRead.Write(data)
	p.cond.Broadcast()
}

// TakeWritten drains and returns everything written so far.
func (p *SimulatedPort) TakeWritten() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]byte, p.written.Len())
	copy(out, p.written.Bytes())
	p.written.Reset()
	return out
}
