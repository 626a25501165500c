package machine

import (
	"fmt"
	"log/slog"
	"time"
)

// TaskRepository is the subset of task persistence the Feedback
// Integrator needs: listing tasks the repository believes are running on
// this machine, and forcing a batch of them into an errored/settled state
// inside one transaction.
type TaskRepository interface {
	// RunningTaskIDs returns the IDs of tasks the repository currently
	// tracks as running on this machine.
	RunningTaskIDs() []string

	// SettleAsErrored marks the given tasks Errored with message and
	// commits the change transactionally. Called both for the
	// reconnect-reconciliation case and for the status-change cascade.
	SettleAsErrored(taskIDs []string, message string, at time.Time) error

	// ApplyProgress updates a single task's despooled_line_number and
	// status. changed reports whether status actually transitioned;
	// settled reports whether the new status is terminal.
	ApplyProgress(taskID string, status TaskProgressStatus, despooledLine uint32, errMessage string, at time.Time) (changed bool, settled bool, isPrint bool, err error)
}

// TaskSettledEvent is emitted whenever ApplyProgress settles a task, so the
// driver can delete the task's ephemeral gcode history and notify
// subscribers.
type TaskSettledEvent struct {
	TaskID string
	Status TaskProgressStatus
}

// FeedbackIntegrator merges Feedback snapshots into a View in the fixed
// order update_tasks, update_heaters, update_axes, update_speed_controllers,
// update_machine.
type FeedbackIntegrator struct {
	view *View
	repo TaskRepository

	onTaskSettled func(TaskSettledEvent)
	onDeleteHistory func(taskID string)
}

// NewFeedbackIntegrator creates an integrator over view, backed by repo.
func NewFeedbackIntegrator(view *View, repo TaskRepository) *FeedbackIntegrator {
	return &FeedbackIntegrator{view: view, repo: repo}
}

// OnTaskSettled sets the callback invoked whenever a task transitions to a
// settled status as a result of Feedback processing.
func (fi *FeedbackIntegrator) OnTaskSettled(fn func(TaskSettledEvent)) {
	fi.onTaskSettled = fn
}

// OnDeleteHistory sets the callback invoked when a task settles or pauses,
// requesting deletion of its ephemeral despool history.
func (fi *FeedbackIntegrator) OnDeleteHistory(fn func(taskID string)) {
	fi.onDeleteHistory = fn
}

// Record applies one Feedback frame to the view in the fixed order the
// spec requires: tasks, heaters, axes, speed controllers, then machine
// status/flags/history. It is always the first feedback that triggers
// reconnect reconciliation (HasReceivedFeedback flips to true here).
func (fi *FeedbackIntegrator) Record(fb Feedback) error {
	firstFeedback := !fi.view.HasReceivedFeedback

	if firstFeedback {
		fi.reconcileTasks(fb)
	}

	fi.updateTasks(fb)
	fi.updateHeaters(fb)
	fi.updateAxes(fb)
	fi.updateSpeedControllers(fb)
	if err := fi.updateMachine(fb); err != nil {
		return err
	}

	fi.view.HasReceivedFeedback = true
	return nil
}

// reconcileTasks runs once, on the first feedback frame after (re)connect.
// Tasks the repository lists as running but that are absent from
// task_progress crashed with the driver; tasks that are present and still
// pending resume as Printing.
func (fi *FeedbackIntegrator) reconcileTasks(fb Feedback) {
	if fi.repo == nil {
		return
	}

	present := make(map[string]TaskProgress, len(fb.TaskProgress))
	for _, p := range fb.TaskProgress {
		present[p.TaskID] = p
	}

	var missing []string
	for _, id := range fi.repo.RunningTaskIDs() {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	for _, id := range missing {
		message := fmt.Sprintf("Task #%s missing from driver, possibly due to driver crash.", id)
		fi.repo.SettleAsErrored([]string{id}, message, fb.ReceivedAt)
		fi.notifySettled(id, TaskProgressErrored)
	}

	for _, p := range present {
		if (p.Status == TaskProgressPending || p.Status == TaskProgressRunning) && p.IsPrint {
			fi.view.Status = StatusPrinting
			fi.view.StatusDetail = StatusDetail{TaskID: p.TaskID, Paused: false}
		}
	}
}

// updateTasks applies per-task progress: despooled line number and status
// transitions, gated so a settled task or a redundant Paused→Paused never
// re-fires.
func (fi *FeedbackIntegrator) updateTasks(fb Feedback) {
	if fi.repo == nil {
		return
	}

	for _, p := range fb.TaskProgress {
		changed, settled, isPrint, err := fi.repo.ApplyProgress(p.TaskID, p.Status, p.DespooledLineNumber, fb.Error, fb.ReceivedAt)
		if err != nil {
			continue
		}

		if changed && settled {
			if fi.view.Status == StatusPrinting && !fi.view.StatusDetail.Paused && fi.view.StatusDetail.TaskID == p.TaskID {
				fi.view.Status = StatusReady
				fi.view.StatusDetail = StatusDetail{}
			}
			fi.notifySettled(p.TaskID, p.Status)
		}

		if changed && (settled || p.Status.IsPaused()) && fi.onDeleteHistory != nil {
			fi.onDeleteHistory(p.TaskID)
		}

		_ = isPrint
	}
}

func (fi *FeedbackIntegrator) notifySettled(taskID string, status TaskProgressStatus) {
	if fi.onTaskSettled != nil {
		fi.onTaskSettled(TaskSettledEvent{TaskID: taskID, Status: status})
	}
}

// updateHeaters merges heater readings, recording a history sample at most
// once per HeaterSampleMinInterval. A reading for an address the view
// does not hold is dropped with a warning.
func (fi *FeedbackIntegrator) updateHeaters(fb Feedback) {
	for _, r := range fb.Heaters {
		h, ok := fi.view.Heaters[r.Address]
		if !ok {
			slog.Warn("feedback for unknown heater address ignored", "address", r.Address)
			continue
		}
		h.recordSample(r.Target, r.Actual, fb.ReceivedAt)
		target, actual := r.Target, r.Actual
		h.TargetTemp = &target
		h.ActualTemp = &actual
	}
}

func (fi *FeedbackIntegrator) updateAxes(fb Feedback) {
	for _, r := range fb.Axes {
		a, ok := fi.view.Axes[r.Address]
		if !ok {
			continue
		}
		target, actual := r.TargetPosition, r.ActualPosition
		a.TargetPosition = &target
		a.ActualPosition = &actual
		a.Homed = r.Homed
	}
}

func (fi *FeedbackIntegrator) updateSpeedControllers(fb Feedback) {
	for _, r := range fb.SpeedControllers {
		s, ok := fi.view.SpeedControllers[r.Address]
		if !ok {
			continue
		}
		target, actual := r.TargetSpeed, r.ActualSpeed
		s.TargetSpeed = &target
		s.ActualSpeed = &actual
		s.Enabled = r.Enabled
	}
}

// updateMachine reconciles reported status against the view, cascades a
// task-desync error when the reported status regresses to a non-ready
// terminal state, and merges the machine flags bitfield.
func (fi *FeedbackIntegrator) updateMachine(fb Feedback) error {
	nextStatus, detail, err := parseReportedStatus(fb)
	if err != nil {
		return err
	}

	if nextStatus != fi.view.Status && !nextStatus.IsDriverReady() {
		message := detail.Message
		if message == "" {
			message = "Task desync. Task not found in driver responses."
		}
		if fi.repo != nil {
			running := fi.repo.RunningTaskIDs()
			if len(running) > 0 {
				if err := fi.repo.SettleAsErrored(running, message, fb.ReceivedAt); err != nil {
					return fmt.Errorf("task desync cascade: %w", err)
				}
				for _, id := range running {
					fi.notifySettled(id, TaskProgressErrored)
				}
			}
		}
	}

	// Never downgrade Printing to Ready implicitly; only explicit task
	// settlement (in updateTasks) does that.
	if fi.view.Status != nextStatus && !(fi.view.Status == StatusPrinting && nextStatus == StatusReady) {
		fi.view.Status = nextStatus
		fi.view.StatusDetail = detail
	}

	fi.mergeFlags(fb.Flags, fb.ReceivedAt)

	for _, entry := range fb.GCodeHistory {
		fi.view.AppendGCodeHistory(entry.Content, entry.Direction, entry.Timestamp)
	}

	return nil
}

func (fi *FeedbackIntegrator) mergeFlags(flags Flags, at time.Time) {
	fi.view.AbsolutePositioning = flags.AbsolutePositioning
	if flags.Millimeters {
		fi.view.PositioningUnits = Millimeters
	} else {
		fi.view.PositioningUnits = Inches
	}
	fi.view.MotorsEnabled = flags.MotorsEnabled

	if flags.PausedState {
		if fi.view.Status == StatusPrinting && fi.view.StatusDetail.Paused && fi.view.StatusDetail.PausedSnapshot == nil {
			fi.view.StatusDetail.PausedSnapshot = fi.view.snapshot()
		} else {
			// PAUSED_STATE received while not waiting for it.
			slog.Warn("PAUSED_STATE flag ignored: not awaiting a pause snapshot", "status", fi.view.Status)
		}
	}
}

// parseReportedStatus translates the reported status string (and error,
// if any) into a Status/StatusDetail pair. The firmware/driver-reported
// status never includes Printing: printing is an overlay the Integrator
// derives from task progress in updateTasks/reconcileTasks, layered on
// top of whatever base status (normally Ready) is reported here.
func parseReportedStatus(fb Feedback) (Status, StatusDetail, error) {
	switch fb.Status {
	case "Errored":
		return StatusErrored, StatusDetail{Message: fb.Error, At: fb.ReceivedAt}, nil
	case "Stopped":
		return StatusStopped, StatusDetail{}, nil
	case "Disconnected":
		return StatusDisconnected, StatusDetail{}, nil
	case "Connecting":
		return StatusConnecting, StatusDetail{}, nil
	case "Ready":
		return StatusReady, StatusDetail{}, nil
	default:
		return 0, StatusDetail{}, fmt.Errorf("invalid machine status: %q", fb.Status)
	}
}
