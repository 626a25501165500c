// Package psm implements the Protocol State Machine: the connection
// lifecycle, send/receive/retry logic, and despool orchestration that
// maintains the ordered, line-numbered GCode dialogue with firmware.
//
// Consume is as close to the pure (state, event) -> (new_state,
// effects) shape the design favors as Go idiom allows: it mutates the
// Machine receiver in place and returns the effects an outer runner
// must interpret (send bytes, (re)arm timers, persist task events).
// No method blocks; all I/O is described by the returned Effects.
package psm

import (
	"time"

	"github.com/print-spool/teg-driver/pkg/task"
)

// TopState is the driver's top-level connection lifecycle state.
type TopState uint8

const (
	StateDisconnected TopState = iota
	StateConnecting
	StateReady
	StateErrored
	StateStopped
)

func (s TopState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateReady:
		return "Ready"
	case StateErrored:
		return "Errored"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// OnOK is the action the Ready substate performs on the next ok.
type OnOK uint8

const (
	OnOKTransitionToReady OnOK = iota
	OnOKResend
	OnOKIgnoreOK
	OnOKDespool
	OnOKNotAwaitingOk
)

// Polling selects which feedback poll is next in the M105/M114
// rotation.
type Polling uint8

const (
	PollNone Polling = iota
	PollTemperature
	PollPosition
)

// MarkKind is the host-gcode position-mark substate.
type MarkKind uint8

const (
	MarkNone MarkKind = iota
	MarkSet
	MarkWaiting
)

// MarkAxis is one axis's recorded mark position, and (once waiting)
// the direction of required travel.
type MarkAxis struct {
	Address  string
	Position float64
	Forward  bool
}

// Mark is the host-gcode mark/wait-to-reach-mark substate. The mark
// position is the axis's actual position at the moment
// markTargetPosition ran: tracking a separately commanded target
// would require parsing move gcode semantically, which is out of
// scope for this driver.
type Mark struct {
	Kind MarkKind
	Axes []MarkAxis
}

// Config is the subset of controller configuration the PSM consults
// directly.
type Config struct {
	AwaitGreetingFromFirmware     bool
	DelayFromGreetingToReady      time.Duration
	PollingInterval               time.Duration
	MarkPollingInterval           time.Duration
	FastCodeTimeout               time.Duration
	LongRunningCodeTimeout        time.Duration
	ResponseTimeoutTickleAttempts uint32
	LongRunningCodes              map[string]bool
	ChecksumTickles               bool
	ResetWhenIdle                 bool
}

// DefaultMarkPollingInterval is the forced rapid-poll cadence while a
// WaitingToReachMark is outstanding.
const DefaultMarkPollingInterval = 50 * time.Millisecond

// ReadySub is the Ready state's substate, keyed primarily by OnOK (the
// action to take on the next acknowledgement).
type ReadySub struct {
	Mark                 Mark
	PollFor              Polling
	AwaitingPollingDelay bool
	TicklesAttempted     uint32
	LastGCodeSent        string
	LastLineNumber       uint32
	OnOK                 OnOK
	NextSerialLineNumber uint32
	LoadingGCode         bool
}

func newReadySub() ReadySub {
	return ReadySub{
		OnOK:                 OnOKNotAwaitingOk,
		PollFor:              PollNone,
		NextSerialLineNumber: 1,
	}
}

// Machine is the full PSM: top-level state, the Ready substate, the
// task queue it despools, and the axis positions it tracks for
// wait-to-reach-mark resolution.
type Machine struct {
	State TopState
	Ready ReadySub
	Config Config

	Spooler *task.Spooler

	ErrorMessage string
	ErrorAt      time.Time

	// AxisPositions is the last known actual position per axis
	// address, lowercased ("x","y","z","e").
	AxisPositions map[string]float64
}

// New returns a Machine in the Disconnected state, ready to receive
// SerialConnected.
func New(cfg Config, spooler *task.Spooler) *Machine {
	if spooler == nil {
		spooler = task.NewSpooler()
	}
	return &Machine{
		State:         StateDisconnected,
		Ready:         newReadySub(),
		Config:        cfg,
		Spooler:       spooler,
		AxisPositions: make(map[string]float64),
	}
}
