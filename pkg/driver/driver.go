// Package driver wires the Protocol State Machine, Feedback Integrator,
// Task Spooler, and Timer/Effect Engine into the single-threaded
// cooperative event loop that runs one printer connection end to end:
// opening the serial port, serving the already-connected control
// channel handed to New, and ferrying gcode and feedback between them.
package driver

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/print-spool/teg-driver/pkg/config"
	"github.com/print-spool/teg-driver/pkg/connection"
	"github.com/print-spool/teg-driver/pkg/log"
	"github.com/print-spool/teg-driver/pkg/machine"
	"github.com/print-spool/teg-driver/pkg/persistence"
	"github.com/print-spool/teg-driver/pkg/psm"
	"github.com/print-spool/teg-driver/pkg/serialport"
	"github.com/print-spool/teg-driver/pkg/task"
	"github.com/print-spool/teg-driver/pkg/timer"
	"github.com/print-spool/teg-driver/pkg/transport"
)

// defaultHeaters, defaultAxes and defaultSpeeds seed the live view with
// the addresses a typical FDM printer reports; the Feedback Integrator
// only ever updates an address already present as a map key.
var (
	// defaultHeaters matches the bare "T"/"B" tokens a single-extruder
	// Marlin reports (wire.tempTokenRe allows zero digits after T); a
	// multi-extruder printer would need "T0","T1",... configured instead.
	defaultHeaters = []string{"T", "B"}
	defaultAxes    = []string{"x", "y", "z", "e"}
	defaultSpeeds  = []string{"fan0"}
)

// Driver runs one printer connection: it owns the PSM, the feedback
// integrator, the task queue, the timer manager, and the serial and
// control-channel I/O that feed them.
type Driver struct {
	cfg       config.Config
	machineID string

	psm     *psm.Machine
	spooler *task.Spooler
	view    *machine.View
	fi      *machine.FeedbackIntegrator
	repo    *persistence.Store
	timers  *timer.Manager
	conn    *connection.Manager

	portMu sync.Mutex
	port   serialport.Port
	framer *transport.Framer

	logger log.Logger

	events chan psm.Event

	mu            sync.Mutex
	pendingDelays map[string]psm.Event

	exit context.CancelFunc
}

// New constructs a Driver over cfg. control is the already-dialled
// control-channel transport the supervising process exchanges
// CombinatorMessage/MachineMessage frames over; pass nil to run the
// driver headless, as tests do.
func New(cfg config.Config, control io.ReadWriter, logger log.Logger) *Driver {
	if logger == nil {
		logger = log.NoopLogger{}
	}

	view := machine.NewView()
	for _, addr := range defaultHeaters {
		view.Heaters[addr] = &machine.Heater{}
	}
	for _, addr := range defaultAxes {
		view.Axes[addr] = &machine.Axis{}
	}
	for _, addr := range defaultSpeeds {
		view.SpeedControllers[addr] = &machine.SpeedController{}
	}

	repo := persistence.NewStore()
	fi := machine.NewFeedbackIntegrator(view, repo)
	spooler := task.NewSpooler()

	d := &Driver{
		cfg:           cfg,
		machineID:     machineID(cfg),
		psm:           psm.New(psmConfig(cfg), spooler),
		spooler:       spooler,
		view:          view,
		fi:            fi,
		repo:          repo,
		timers:        timer.NewManager(),
		logger:        logger,
		events:        make(chan psm.Event, 64),
		pendingDelays: make(map[string]psm.Event),
	}

	if control != nil {
		d.framer = transport.NewFramer(control)
		d.framer.SetLogger(logger, d.machineID)
	}

	d.conn = connection.NewManager(d.connectSerial)
	d.conn.OnConnected(func() { d.push(psm.Event{Kind: psm.EventSerialConnected}) })
	d.conn.OnDisconnected(func() { d.push(psm.Event{Kind: psm.EventSerialDisconnected}) })

	d.timers.OnFire(d.onTimerFire)
	return d
}

// View returns the live machine view, for a combinator that wants to
// read it directly instead of over the control channel (e.g. a local
// HTTP status endpoint).
func (d *Driver) View() *machine.View {
	return d.view
}

// Port returns the currently open serial port, or nil before the first
// successful connect. Exported for tests driving a SimulatedPort.
func (d *Driver) Port() serialport.Port {
	d.portMu.Lock()
	defer d.portMu.Unlock()
	return d.port
}

// setPort installs the just-opened port. Reconnection opens a new port
// from the connection.Manager's own goroutine, so this is guarded
// separately from mu (which belongs to the timer/pendingDelays bridge).
func (d *Driver) setPort(p serialport.Port) {
	d.portMu.Lock()
	defer d.portMu.Unlock()
	d.port = p
}

func machineID(cfg config.Config) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return uuid.NewString()
}

func psmConfig(cfg config.Config) psm.Config {
	return psm.Config{
		AwaitGreetingFromFirmware:     cfg.AwaitGreetingFromFirmware,
		DelayFromGreetingToReady:      cfg.DelayFromGreetingToReady(),
		PollingInterval:               cfg.PollingInterval(),
		FastCodeTimeout:               cfg.FastCodeTimeout(),
		LongRunningCodeTimeout:        cfg.LongRunningCodeTimeout(),
		ResponseTimeoutTickleAttempts: cfg.ResponseTimeoutTickleAttempts,
		LongRunningCodes:              cfg.LongRunningCodeSet(),
		ChecksumTickles:               cfg.ChecksumTickles,
		ResetWhenIdle:                 cfg.ResetWhenIdle,
	}
}
