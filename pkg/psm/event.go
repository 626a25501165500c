package psm

import (
	"github.com/print-spool/teg-driver/pkg/control"
	"github.com/print-spool/teg-driver/pkg/task"
	"github.com/print-spool/teg-driver/pkg/wire"
)

// EventKind identifies the shape of one Event.
type EventKind uint8

const (
	EventSerialConnected EventKind = iota
	EventSerialDisconnected
	EventSerialLine
	EventSpoolTaskRequested
	EventPauseTaskRequested
	EventGCodeLoaded
	EventPollFeedback
	EventTickleSerialPort
	EventConnectSettle
)

// Event is one PSM input. Only the fields relevant to Kind are
// populated.
type Event struct {
	Kind EventKind

	// EventSerialLine. RawLine is the CR/LF-stripped text Response was
	// parsed from; the PSM itself never reads it, but carries it through
	// for the driver's gcode history and feedback-integrator bridging.
	Response wire.Response
	RawLine  string

	// EventSpoolTaskRequested
	SpoolRequest *control.SpoolTask

	// EventPauseTaskRequested
	PauseTaskID string

	// EventGCodeLoaded
	Task *task.Task
}
