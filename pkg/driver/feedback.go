package driver

import (
	"time"

	"github.com/print-spool/teg-driver/pkg/machine"
	"github.com/print-spool/teg-driver/pkg/task"
	"github.com/print-spool/teg-driver/pkg/wire"
)

// buildFeedback assembles the Feedback snapshot the Feedback Integrator
// consumes and the control channel reports out: task progress always
// comes from the live spooler queue, while heater/axis readings come
// from wireFb when the triggering line carried one. Target temperatures
// and positions and the flags bitfield aren't recoverable from the
// classic M105/M114 report format, so readings carry actuals only and
// flags are carried forward from the current view.
func (d *Driver) buildFeedback(wireFb *wire.Feedback, at time.Time) machine.Feedback {
	fb := machine.Feedback{
		Status:     d.psm.State.String(),
		Error:      d.psm.ErrorMessage,
		ReceivedAt: at,
		Flags: machine.Flags{
			AbsolutePositioning: d.view.AbsolutePositioning,
			Millimeters:         d.view.PositioningUnits == machine.Millimeters,
			MotorsEnabled:       d.view.MotorsEnabled,
		},
	}

	for _, t := range d.spooler.Tasks() {
		fb.TaskProgress = append(fb.TaskProgress, machine.TaskProgress{
			TaskID:              t.ID,
			Status:              taskProgressStatus(t.Status.Code),
			DespooledLineNumber: t.DespooledLineNumber,
			IsPrint:             !t.MachineOverride,
		})
	}

	if wireFb == nil {
		return fb
	}

	switch wireFb.Kind {
	case wire.FeedbackTemperatures:
		for addr, actual := range wireFb.ActualTemperatures {
			fb.Heaters = append(fb.Heaters, machine.HeaterReading{Address: addr, Actual: actual})
		}

	case wire.FeedbackPositions:
		for addr, actual := range wireFb.ActualPositions {
			fb.Axes = append(fb.Axes, machine.AxisReading{
				Address:        addr,
				ActualPosition: actual,
				Homed:          d.axisHomed(addr),
			})
		}
	}

	return fb
}

// axisHomed reads back the view's current homed flag for addr, so a
// position report that carries no homing information doesn't reset it.
func (d *Driver) axisHomed(addr string) bool {
	if a, ok := d.view.Axes[addr]; ok {
		return a.Homed
	}
	return false
}

func taskProgressStatus(c task.StatusCode) machine.TaskProgressStatus {
	switch c {
	case task.Pending:
		return machine.TaskProgressPending
	case task.Running:
		return machine.TaskProgressRunning
	case task.Paused:
		return machine.TaskProgressPaused
	case task.Finished:
		return machine.TaskProgressFinished
	case task.Errored:
		return machine.TaskProgressErrored
	case task.Cancelled:
		return machine.TaskProgressCancelled
	default:
		return machine.TaskProgressPending
	}
}
