package connection

// BaudRate is a supported serial baud rate.
type BaudRate uint32

const (
	Baud250K BaudRate = 250000
	Baud230K BaudRate = 230400
	Baud115K BaudRate = 115200
	Baud057K BaudRate = 57600
	Baud038K BaudRate = 38400
	Baud019K BaudRate = 19200
	Baud009K BaudRate = 9600
)

// String returns the baud rate as its decimal value.
func (b BaudRate) String() string {
	switch b {
	case Baud250K:
		return "250000"
	case Baud230K:
		return "230400"
	case Baud115K:
		return "115200"
	case Baud057K:
		return "57600"
	case Baud038K:
		return "38400"
	case Baud019K:
		return "19200"
	case Baud009K:
		return "9600"
	default:
		return "unknown"
	}
}

// BaudRateSequence lists the candidates tried during automatic baud rate
// detection, highest first. Most firmware ships configured for 250000;
// trying it first gets the common case connected in one attempt.
func BaudRateSequence() []BaudRate {
	return []BaudRate{
		Baud250K,
		Baud230K,
		Baud115K,
		Baud057K,
		Baud038K,
		Baud019K,
		Baud009K,
	}
}

// BaudDetector walks BaudRateSequence, handing out one candidate per
// call to Next until the sequence is exhausted. Trying a candidate is
// left to the caller.
type BaudDetector struct {
	sequence []BaudRate
	index    int
}

// NewBaudDetector creates a detector over the standard descending sequence.
func NewBaudDetector() *BaudDetector {
	return &BaudDetector{sequence: BaudRateSequence()}
}

// Next returns the next candidate baud rate to try, or false if the
// sequence is exhausted.
func (d *BaudDetector) Next() (BaudRate, bool) {
	if d.index >= len(d.sequence) {
		return 0, false
	}
	rate := d.sequence[d.index]
	d.index++
	return rate, true
}

// Reset restarts the sequence from the beginning.
func (d *BaudDetector) Reset() {
	d.index = 0
}

// Remaining returns the number of untried candidates.
func (d *BaudDetector) Remaining() int {
	return len(d.sequence) - d.index
}
