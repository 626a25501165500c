// Package machine holds the live machine view and the Feedback Integrator
// (FI) that merges serial-parsed deltas and task-spooler progress into it.
package machine

import "time"

// GCodeHistoryCap bounds the driver-wide gcode_history ring buffer.
const GCodeHistoryCap = 400

// HeaterHistoryCap bounds each heater's temperature sample history.
const HeaterHistoryCap = 60

// HeaterSampleMinInterval is the minimum spacing between recorded
// temperature samples for a single heater.
const HeaterSampleMinInterval = 500 * time.Millisecond

// Status is the machine's top-level status, mirroring the PSM's
// connection/printing state for consumers outside the driver.
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusReady
	StatusPrinting
	StatusErrored
	StatusStopped
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusReady:
		return "Ready"
	case StatusPrinting:
		return "Printing"
	case StatusErrored:
		return "Errored"
	case StatusStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// IsReady reports whether the status is the driver-ready terminal state
// that status-change cascades never implicitly transition away from.
func (s Status) IsReady() bool {
	return s == StatusReady
}

// IsDriverReady reports whether s is one of the statuses a status-change
// cascade treats as "in good standing" (no task-errored cascade applies).
func (s Status) IsDriverReady() bool {
	return s == StatusReady || s == StatusPrinting
}

// PositioningUnits is the active G20/G21 unit mode.
type PositioningUnits uint8

const (
	Millimeters PositioningUnits = iota
	Inches
)

func (u PositioningUnits) String() string {
	if u == Inches {
		return "Inches"
	}
	return "Millimeters"
}

// StatusDetail carries the payload for Printing and Errored statuses.
type StatusDetail struct {
	// TaskID is set when Status == StatusPrinting.
	TaskID string

	// Paused is set when Status == StatusPrinting.
	Paused bool

	// PausedSnapshot is a copy of the view taken the moment PAUSED_STATE
	// was first observed for this pause episode. nil until populated.
	PausedSnapshot *View

	// Message and At are set when Status == StatusErrored.
	Message string
	At      time.Time
}

// TempSample is one recorded heater reading.
type TempSample struct {
	Target    float64
	Actual    float64
	CreatedAt time.Time
}

// Heater tracks one heater's target/actual temperature and bounded history.
type Heater struct {
	TargetTemp *float64
	ActualTemp *float64
	Enabled    bool
	Blocking   bool
	History    []TempSample
}

// recordSample appends a sample if at least HeaterSampleMinInterval has
// elapsed since the last one, trimming to HeaterHistoryCap.
func (h *Heater) recordSample(target, actual float64, at time.Time) {
	if len(h.History) > 0 {
		last := h.History[len(h.History)-1]
		if at.Sub(last.CreatedAt) < HeaterSampleMinInterval {
			return
		}
	}
	h.History = append(h.History, TempSample{Target: target, Actual: actual, CreatedAt: at})
	if len(h.History) > HeaterHistoryCap {
		h.History = h.History[len(h.History)-HeaterHistoryCap:]
	}
}

// Axis tracks one axis's target/actual position and homed state.
type Axis struct {
	TargetPosition *float64
	ActualPosition *float64
	Homed          bool
}

// SpeedController tracks a fan or spindle's target/actual speed.
type SpeedController struct {
	TargetSpeed *float64
	ActualSpeed *float64
	Enabled     bool
}

// HistoryDirection indicates which way a gcode_history entry travelled.
type HistoryDirection uint8

const (
	HistoryRx HistoryDirection = iota
	HistoryTx
)

// GCodeHistoryEntry is one driver-wide record of sent or received gcode.
type GCodeHistoryEntry struct {
	Content   string
	Direction HistoryDirection
	Timestamp time.Time
}

// Flags is the MACHINE_FLAGS bitfield reported by firmware.
type Flags struct {
	AbsolutePositioning bool
	Millimeters         bool
	MotorsEnabled       bool
	PausedState         bool
}

// View is the live, in-memory machine view. Only the single-threaded
// event loop writes it, so it carries no internal locking.
type View struct {
	Status       Status
	StatusDetail StatusDetail

	AbsolutePositioning bool
	PositioningUnits    PositioningUnits
	MotorsEnabled       bool

	Heaters          map[string]*Heater
	Axes             map[string]*Axis
	SpeedControllers map[string]*SpeedController

	GCodeHistory []GCodeHistoryEntry

	HasReceivedFeedback bool
}

// NewView returns an empty machine view in the Disconnected status.
func NewView() *View {
	return &View{
		Status:           StatusDisconnected,
		PositioningUnits: Millimeters,
		Heaters:          make(map[string]*Heater),
		Axes:             make(map[string]*Axis),
		SpeedControllers: make(map[string]*SpeedController),
	}
}

// AppendGCodeHistory records a line crossing the serial link, trimming to
// GCodeHistoryCap.
func (v *View) AppendGCodeHistory(content string, dir HistoryDirection, at time.Time) {
	v.GCodeHistory = append(v.GCodeHistory, GCodeHistoryEntry{Content: content, Direction: dir, Timestamp: at})
	if len(v.GCodeHistory) > GCodeHistoryCap {
		v.GCodeHistory = v.GCodeHistory[len(v.GCodeHistory)-GCodeHistoryCap:]
	}
}

// snapshot returns a deep-enough copy of the view for PausedSnapshot,
// excluding gcode_history per the spec's pause-snapshot contract.
func (v *View) snapshot() *View {
	cp := &View{
		Status:              v.Status,
		StatusDetail:        v.StatusDetail,
		AbsolutePositioning: v.AbsolutePositioning,
		PositioningUnits:    v.PositioningUnits,
		MotorsEnabled:       v.MotorsEnabled,
		Heaters:             make(map[string]*Heater, len(v.Heaters)),
		Axes:                make(map[string]*Axis, len(v.Axes)),
		SpeedControllers:    make(map[string]*SpeedController, len(v.SpeedControllers)),
		HasReceivedFeedback: v.HasReceivedFeedback,
	}
	cp.StatusDetail.PausedSnapshot = nil
	for addr, h := range v.Heaters {
		hCopy := *h
		hCopy.History = append([]TempSample(nil), h.History...)
		cp.Heaters[addr] = &hCopy
	}
	for addr, a := range v.Axes {
		aCopy := *a
		cp.Axes[addr] = &aCopy
	}
	for addr, s := range v.SpeedControllers {
		sCopy := *s
		cp.SpeedControllers[addr] = &sCopy
	}
	return cp
}
