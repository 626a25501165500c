//go:build linux

package serialport

import (
	"fmt"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/daedaluz/fdev/poll"
	ioctl "github.com/daedaluz/goioctl"
)

// readPollInterval bounds how long Read waits for input between checks
// of closed, so Close() unblocks a reader goroutine within one interval
// instead of leaving it parked in a blocking read indefinitely.
const readPollInterval = 500 * time.Millisecond

// termios2 mirrors struct termios2 from asm-generic/termbits.h, which
// carries an arbitrary input/output speed instead of the fixed B*
// constants struct termios is limited to.
type termios2 struct {
	Iflag  uint32
	Oflag  uint32
	Cflag  uint32
	Lflag  uint32
	Line   byte
	Cc     [19]byte
	ISpeed uint32
	OSpeed uint32
}

var (
	tcgets2 = ioctl.IOR('T', 0x2A, unsafe.Sizeof(termios2{}))
	tcsets2 = ioctl.IOW('T', 0x2B, unsafe.Sizeof(termios2{}))
)

const (
	cs8    = 0000060
	cread  = 0000200
	clocal = 0004000
	bother = 0010000

	vmin  = 6
	vtime = 5
)

// RealPort is a Linux tty opened raw (no echo, no line discipline,
// 8N1) at a fixed baud rate via TCSETS2/BOTHER so any integer baud is
// accepted, not just the termios B* enumeration.
type RealPort struct {
	fd     int
	closed atomic.Bool
}

// Open opens path as a raw serial device at baud.
func Open(path string, baud int) (*RealPort, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", path, err)
	}

	p := &RealPort{fd: fd}
	if err := p.configure(baud); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	// The port is configured; clear O_NONBLOCK so Read blocks the
	// driver's reader goroutine instead of busy-polling.
	if _, _, errno := syscall.Syscall(syscall.SYS_FCNTL, uintptr(fd), syscall.F_SETFL, 0); errno != 0 {
		syscall.Close(fd)
		return nil, fmt.Errorf("serialport: clear O_NONBLOCK on %s: %w", path, errno)
	}
	return p, nil
}

func (p *RealPort) configure(baud int) error {
	var t termios2
	if err := ioctl.Ioctl(uintptr(p.fd), tcgets2, uintptr(unsafe.Pointer(&t))); err != nil {
		return fmt.Errorf("serialport: TCGETS2: %w", err)
	}

	t.Cflag = cs8 | cread | clocal | bother
	t.Iflag = 0
	t.Oflag = 0
	t.Lflag = 0
	t.ISpeed = uint32(baud)
	t.OSpeed = uint32(baud)
	t.Cc[vmin] = 1
	t.Cc[vtime] = 0

	if err := ioctl.Ioctl(uintptr(p.fd), tcsets2, uintptr(unsafe.Pointer(&t))); err != nil {
		return fmt.Errorf("serialport: TCSETS2: %w", err)
	}
	return nil
}

// Reconfigure changes the baud rate on an already-open port.
func (p *RealPort) Reconfigure(baud int) error {
	return p.configure(baud)
}

func (p *RealPort) Read(b []byte) (int, error) {
	for {
		if p.closed.Load() {
			return 0, syscall.EBADF
		}
		if err := poll.WaitInput(p.fd, readPollInterval); err != nil {
			// Timed out waiting for input; loop back to recheck closed
			// rather than surfacing a timeout as a read error.
			continue
		}
		return syscall.Read(p.fd, b)
	}
}

func (p *RealPort) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, syscall.EBADF
	}
	return syscall.Write(p.fd, b)
}

func (p *RealPort) Close() error {
	if p.closed.Swap(true) {
		return syscall.EBADF
	}
	return syscall.Close(p.fd)
}
