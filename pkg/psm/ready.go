package psm

import (
	"fmt"
	"time"

	"github.com/print-spool/teg-driver/pkg/control"
	"github.com/print-spool/teg-driver/pkg/task"
	"github.com/print-spool/teg-driver/pkg/wire"
)

func (m *Machine) consumeReady(event Event, at time.Time) []Effect {
	switch event.Kind {
	case EventSerialDisconnected:
		m.State = StateDisconnected
		return []Effect{
			cancelDelayEffect("tickle_delay"),
			cancelDelayEffect("polling_delay"),
			cancelDelayEffect("connect_delay"),
		}

	case EventSpoolTaskRequested:
		return m.handleSpoolTaskRequested(event.SpoolRequest, at)

	case EventGCodeLoaded:
		return m.handleGCodeLoaded(event.Task, at)

	case EventPauseTaskRequested:
		return m.handlePauseTask(event.PauseTaskID, at)

	case EventPollFeedback:
		m.Ready.PollFor = PollPosition
		if m.Ready.OnOK == OnOKNotAwaitingOk {
			return m.pollFeedback(PollPosition)
		}
		return nil

	case EventTickleSerialPort:
		return m.tickleSerialPort(at)

	case EventSerialLine:
		return m.handleSerialLine(event.Response, at)

	default:
		return nil
	}
}

func (m *Machine) handleSerialLine(resp wire.Response, at time.Time) []Effect {
	switch resp.Kind {
	case wire.ResponseError:
		return m.errorf(at, "%s", resp.Text)

	case wire.ResponseGreeting:
		return m.errorf(at, "Unexpected printer firmware restart.")

	case wire.ResponseOk:
		effects, err := m.applyFeedback(resp.OkFeedback, at)
		if err != nil {
			return m.errorf(at, "%s", err.Error())
		}
		more, err := m.receiveOk(effects, at)
		if err != nil {
			return m.errorf(at, "%s", err.Error())
		}
		return more

	case wire.ResponseFeedback:
		effects, err := m.applyFeedback(resp.Feedback, at)
		if err != nil {
			return m.errorf(at, "%s", err.Error())
		}
		return append(effects, cancelDelayEffect("tickle_delay"))

	case wire.ResponseResend:
		return m.receiveResendRequest(resp.ResendLine, at)

	default:
		// echo/debug/warning/unknown are no-ops.
		return nil
	}
}

// applyFeedback merges one parsed temperature or position report,
// returning effects for the polling cadence (temperatures) or resuming
// a suspended despool chain once a mark is reached (positions).
func (m *Machine) applyFeedback(fb *wire.Feedback, at time.Time) ([]Effect, error) {
	if fb == nil {
		return nil, nil
	}

	switch fb.Kind {
	case wire.FeedbackTemperatures:
		m.Ready.AwaitingPollingDelay = true
		interval := m.Config.PollingInterval
		if m.Ready.Mark.Kind == MarkWaiting {
			interval = m.markPollingInterval()
		}
		return []Effect{
			scheduleDelayEffect("polling_delay", interval, Event{Kind: EventPollFeedback}),
			controlSendEffect("temperature feedback"),
		}, nil

	case wire.FeedbackPositions:
		for addr, val := range fb.ActualPositions {
			m.AxisPositions[addr] = val
		}
		effects := []Effect{controlSendEffect("position feedback")}
		if m.Ready.Mark.Kind == MarkWaiting && m.markReached() {
			m.Ready.Mark = Mark{}
			more, err := m.despoolChain(at)
			if err != nil {
				return nil, err
			}
			return append(effects, more...), nil
		}
		return effects, nil

	default:
		return nil, nil
	}
}

func (m *Machine) markPollingInterval() time.Duration {
	if m.Config.MarkPollingInterval > 0 {
		return m.Config.MarkPollingInterval
	}
	return DefaultMarkPollingInterval
}

// markReached reports whether every axis in a WaitingToReachMark has
// crossed its mark in the required direction.
func (m *Machine) markReached() bool {
	for _, axis := range m.Ready.Mark.Axes {
		actual, ok := m.AxisPositions[axis.Address]
		if !ok {
			return false
		}
		dir := -1.0
		if axis.Forward {
			dir = 1.0
		}
		if dir*(actual-axis.Position) < 0 {
			return false
		}
	}
	return true
}

// receiveOk dispatches on OnOK: resend the last line, absorb the
// resend's own ok, publish Ready, or continue despooling.
func (m *Machine) receiveOk(effects []Effect, at time.Time) ([]Effect, error) {
	switch m.Ready.OnOK {
	case OnOKNotAwaitingOk:
		return effects, nil

	case OnOKResend:
		lineNumber := m.Ready.LastLineNumber
		effects = append(effects,
			sendSerialEffect(m.Ready.LastGCodeSent, &lineNumber, true),
			scheduleDelayEffect("tickle_delay", m.Config.FastCodeTimeout, Event{Kind: EventTickleSerialPort}),
		)
		m.Ready.OnOK = OnOKIgnoreOK
		return effects, nil

	case OnOKIgnoreOK:
		m.Ready.OnOK = OnOKDespool
		return m.receiveOk(effects, at)

	case OnOKTransitionToReady:
		m.State = StateReady
		effects = append(effects, controlSendEffect("connected"))
		m.Ready.OnOK = OnOKDespool
		return m.receiveOk(effects, at)

	case OnOKDespool:
		more, err := m.despoolChain(at)
		if err != nil {
			return nil, err
		}
		return append(effects, more...), nil

	default:
		return effects, nil
	}
}

// despoolChain resolves what to send next: nothing while waiting to
// reach a mark, a feedback poll if one is due, otherwise the next
// queued line.
func (m *Machine) despoolChain(at time.Time) ([]Effect, error) {
	if m.Ready.Mark.Kind == MarkWaiting {
		m.Ready.OnOK = OnOKNotAwaitingOk
		return nil, nil
	}

	if m.Ready.PollFor != PollNone {
		return m.pollFeedback(m.Ready.PollFor), nil
	}

	return m.despoolTask(at)
}

func (m *Machine) pollFeedback(poll Polling) []Effect {
	gcode := "M105"
	if poll == PollPosition {
		gcode = "M114"
	}

	effects := m.sendLine(gcode, m.Ready.NextSerialLineNumber, true)
	m.Ready.NextSerialLineNumber++

	if poll == PollPosition {
		m.Ready.PollFor = PollTemperature
	} else {
		m.Ready.PollFor = PollNone
	}
	return effects
}

func (m *Machine) despoolTask(at time.Time) ([]Effect, error) {
	outcome := m.Spooler.Despool()

	if outcome.Idle {
		m.Ready.OnOK = OnOKNotAwaitingOk
		effects := []Effect{cancelDelayEffect("tickle_delay")}
		if m.Config.ResetWhenIdle {
			effects = append(effects, Effect{Kind: EffectExitProcessAfterDelay})
		}
		return effects, nil
	}

	if outcome.Finished != nil {
		outcome.Finished.Status = task.Status{Code: task.Finished, At: at}
		if !outcome.Finished.MachineOverride {
			outcome.Finished.DespooledLineNumber = 0
		}

		effects := []Effect{
			{Kind: EffectTaskFinished, Task: outcome.Finished},
			controlSendEffect("task finished"),
		}
		more, err := m.despoolChain(at)
		if err != nil {
			return nil, err
		}
		return append(effects, more...), nil
	}

	var effects []Effect
	if outcome.Started != nil {
		effects = append(effects,
			Effect{Kind: EffectTaskStarted, Task: outcome.Started},
			controlSendEffect("task started"),
		)
	}

	if outcome.IsHostGCode {
		more, err := m.executeHostGCode(outcome.Line, at)
		if err != nil {
			return nil, err
		}
		return append(effects, more...), nil
	}

	effects = append(effects, m.sendLine(outcome.Line, m.Ready.NextSerialLineNumber, true)...)
	m.Ready.NextSerialLineNumber++
	return effects, nil
}

func (m *Machine) executeHostGCode(line string, at time.Time) ([]Effect, error) {
	hg, err := wire.ParseHostGCode(line)
	if err != nil {
		return nil, fmt.Errorf("psm: %w", err)
	}

	switch hg.Kind {
	case wire.HostGCodeMarkTargetPosition:
		axes := make([]MarkAxis, 0, len(m.AxisPositions))
		for addr, pos := range m.AxisPositions {
			axes = append(axes, MarkAxis{Address: addr, Position: pos})
		}
		m.Ready.Mark = Mark{Kind: MarkSet, Axes: axes}

	case wire.HostGCodeWaitToReachMark:
		if m.Ready.Mark.Kind != MarkSet {
			return nil, fmt.Errorf("psm: cannot wait to reach mark if mark is not set")
		}
		var waiting []MarkAxis
		for _, axis := range m.Ready.Mark.Axes {
			if dir, ok := hg.WaitAxes[axis.Address]; ok {
				waiting = append(waiting, MarkAxis{Address: axis.Address, Position: axis.Position, Forward: dir.Forward})
			}
		}
		m.Ready.Mark = Mark{Kind: MarkWaiting, Axes: waiting}

	default:
		return nil, fmt.Errorf("psm: unhandled host gcode kind %v", hg.Kind)
	}

	return m.despoolChain(at)
}

func (m *Machine) tickleSerialPort(at time.Time) []Effect {
	effects := []Effect{sendSerialEffect("M105", nil, m.Config.ChecksumTickles)}
	m.Ready.TicklesAttempted++

	if m.Ready.TicklesAttempted >= m.Config.ResponseTimeoutTickleAttempts {
		return append(effects, m.errorf(at, "Serial port communication timed out.")...)
	}

	return append(effects, scheduleDelayEffect("tickle_delay", m.Config.FastCodeTimeout, Event{Kind: EventTickleSerialPort}))
}

func (m *Machine) receiveResendRequest(lineNumber uint32, at time.Time) []Effect {
	sent := m.Ready.NextSerialLineNumber - 1
	if lineNumber != sent {
		return m.errorf(at, "resend line number %d does not match sent line number %d", lineNumber, sent)
	}
	m.Ready.OnOK = OnOKResend
	return nil
}

func (m *Machine) handleSpoolTaskRequested(req *control.SpoolTask, at time.Time) []Effect {
	if req == nil {
		return nil
	}
	m.Ready.LoadingGCode = true

	if req.Content.FilePath != "" {
		return []Effect{{
			Kind:            EffectLoadGCodeFromFile,
			FilePath:        req.Content.FilePath,
			TaskID:          req.TaskID,
			ClientID:        req.ClientID,
			MachineOverride: req.MachineOverride,
		}}
	}

	t := task.NewTask(req.TaskID, req.ClientID, task.NewInlineLines(req.Content.Inline), req.MachineOverride)
	return m.handleGCodeLoaded(t, at)
}

func (m *Machine) handleGCodeLoaded(t *task.Task, at time.Time) []Effect {
	if t == nil {
		return nil
	}
	if err := m.Spooler.Insert(t); err != nil {
		return []Effect{{Kind: EffectTaskError, Task: t, ErrorMessage: err.Error()}}
	}

	if m.Ready.OnOK != OnOKNotAwaitingOk {
		return nil
	}

	effects, err := m.despoolChain(at)
	if err != nil {
		return m.errorf(at, "%s", err.Error())
	}
	return effects
}

func (m *Machine) handlePauseTask(taskID string, at time.Time) []Effect {
	t, ok := m.Spooler.Remove(taskID)
	if !ok {
		return nil
	}

	t.Status = task.Status{Code: task.Paused, At: at}
	effects := []Effect{{Kind: EffectTaskPaused, Task: t}, controlSendEffect("task paused")}

	if !t.MachineOverride {
		t.DespooledLineNumber = 0
	}

	if m.Config.ResetWhenIdle && m.Spooler.Len() == 0 {
		effects = append(effects, Effect{Kind: EffectExitProcessAfterDelay})
	}

	return effects
}
