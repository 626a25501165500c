package driver

import (
	"strings"
	"time"

	"github.com/print-spool/teg-driver/pkg/control"
	"github.com/print-spool/teg-driver/pkg/log"
	"github.com/print-spool/teg-driver/pkg/machine"
	"github.com/print-spool/teg-driver/pkg/psm"
	"github.com/print-spool/teg-driver/pkg/task"
	"github.com/print-spool/teg-driver/pkg/wire"
)

// applyEffects interprets effects in order, reporting whether any of
// them was an EffectControlSend.
func (d *Driver) applyEffects(effects []psm.Effect, wireFb *wire.Feedback, at time.Time) bool {
	sent := false
	for _, e := range effects {
		if e.Kind == psm.EffectControlSend {
			sent = true
		}
		d.applyEffect(e, wireFb, at)
	}
	return sent
}

func (d *Driver) applyEffect(e psm.Effect, wireFb *wire.Feedback, at time.Time) {
	switch e.Kind {
	case psm.EffectSendSerial:
		d.sendSerial(e, at)

	case psm.EffectScheduleDelay:
		d.mu.Lock()
		d.pendingDelays[e.DelayKey] = e.OnFire
		d.mu.Unlock()
		if err := d.timers.ScheduleDelay(e.DelayKey, e.Duration); err != nil {
			d.logError("timer", err)
		}

	case psm.EffectCancelDelay:
		d.mu.Lock()
		delete(d.pendingDelays, e.DelayKey)
		d.mu.Unlock()
		d.timers.CancelDelay(e.DelayKey)

	case psm.EffectLoadGCodeFromFile:
		d.loadGCodeFromFile(e, at)

	case psm.EffectControlSend:
		d.sendFeedback(wireFb, at)

	case psm.EffectExitProcessAfterDelay:
		if err := d.timers.ScheduleDelay(exitDelayKey, exitAfterIdleDelay); err != nil {
			d.logError("timer", err)
		}

	case psm.EffectExitProcess:
		if d.exit != nil {
			d.exit()
		}

	case psm.EffectTaskStarted:
		d.applyTaskProgress(e.Task, machine.TaskProgressRunning, "", at)

	case psm.EffectTaskFinished:
		d.applyTaskProgress(e.Task, machine.TaskProgressFinished, "", at)

	case psm.EffectTaskPaused:
		d.applyTaskProgress(e.Task, machine.TaskProgressPaused, "", at)

	case psm.EffectTaskError:
		if e.Task != nil {
			d.repo.SettleAsErrored([]string{e.Task.ID}, e.ErrorMessage, at)
		}
		d.logTaskError(e)
	}
}

func (d *Driver) sendSerial(e psm.Effect, at time.Time) {
	line := wire.EncodeLine(e.Line, e.LineNumber, e.Checksum)
	port := d.Port()
	if port == nil {
		return
	}
	if _, err := port.Write([]byte(line)); err != nil {
		d.push(psm.Event{Kind: psm.EventSerialDisconnected})
		return
	}

	d.view.AppendGCodeHistory(strings.TrimRight(line, "\r\n"), machine.HistoryTx, at)
	d.logger.Log(log.Event{
		Timestamp: at,
		MachineID: d.machineID,
		Direction: log.DirectionOut,
		Layer:     log.LayerSerial,
		Category:  log.CategoryLine,
		Line:      &log.LineEvent{Content: e.Line, LineNumber: e.LineNumber},
	})
}

// loadGCodeFromFile opens the gcode file named by e, builds a Task over
// it, and re-injects it as EventGCodeLoaded for the PSM to spool. A
// file that cannot be opened settles the task as errored directly,
// mirroring how the PSM itself reports a rejected insertion.
func (d *Driver) loadGCodeFromFile(e psm.Effect, at time.Time) {
	lines, err := task.NewFileLines(e.FilePath)
	if err != nil {
		d.repo.SettleAsErrored([]string{e.TaskID}, err.Error(), at)
		d.logError("load gcode file", err)
		return
	}

	t := task.NewTask(e.TaskID, e.ClientID, lines, e.MachineOverride)
	d.push(psm.Event{Kind: psm.EventGCodeLoaded, Task: t})
}

func (d *Driver) applyTaskProgress(t *task.Task, status machine.TaskProgressStatus, errMessage string, at time.Time) {
	if t == nil {
		return
	}
	d.repo.ApplyProgress(t.ID, status, t.DespooledLineNumber, errMessage, at)
}

func (d *Driver) logError(context string, err error) {
	d.logger.Log(log.Event{
		Timestamp: time.Now(),
		MachineID: d.machineID,
		Direction: log.DirectionOut,
		Layer:     log.LayerDriver,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Layer: log.LayerDriver, Message: err.Error(), Context: context},
	})
}

func (d *Driver) logTaskError(e psm.Effect) {
	taskID := ""
	if e.Task != nil {
		taskID = e.Task.ID
	}
	d.logger.Log(log.Event{
		Timestamp: time.Now(),
		MachineID: d.machineID,
		Direction: log.DirectionOut,
		Layer:     log.LayerDriver,
		Category:  log.CategoryError,
		TaskID:    taskID,
		Error:     &log.ErrorEventData{Layer: log.LayerDriver, Message: e.ErrorMessage},
	})
}

// sendFeedback assembles the current Feedback snapshot and, if a
// control channel is attached, encodes and sends it as a
// MachineMessage. wireFb carries the temperature/position reading that
// triggered this send, if any.
func (d *Driver) sendFeedback(wireFb *wire.Feedback, at time.Time) {
	fb := d.buildFeedback(wireFb, at)
	if err := d.fi.Record(fb); err != nil {
		d.logError("feedback integrator", err)
		return
	}

	if d.framer == nil {
		return
	}

	msg := &control.MachineMessage{Feedback: &fb}
	data, err := control.EncodeMachineMessage(msg)
	if err != nil {
		d.logError("encode machine message", err)
		return
	}
	if err := d.framer.WriteFrame(data); err != nil {
		d.logError("write control frame", err)
	}
}
