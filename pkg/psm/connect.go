package psm

import (
	"fmt"
	"time"

	"github.com/print-spool/teg-driver/pkg/task"
	"github.com/print-spool/teg-driver/pkg/wire"
)

// Consume applies one event to the machine and returns the effects an
// outer runner must interpret. at is the event's observed time, used
// for error/status timestamps.
func (m *Machine) Consume(event Event, at time.Time) []Effect {
	switch m.State {
	case StateDisconnected:
		return m.consumeDisconnected(event, at)
	case StateConnecting:
		return m.consumeConnecting(event, at)
	case StateReady:
		return m.consumeReady(event, at)
	case StateErrored, StateStopped:
		// Terminal states accept only a fresh connection attempt.
		if event.Kind == EventSerialConnected {
			m.State = StateConnecting
			m.Ready = newReadySub()
			return m.beginConnect(at)
		}
		return nil
	default:
		return nil
	}
}

func (m *Machine) consumeDisconnected(event Event, at time.Time) []Effect {
	if event.Kind != EventSerialConnected {
		return nil
	}
	m.State = StateConnecting
	if m.Config.AwaitGreetingFromFirmware {
		return nil
	}
	return m.beginConnect(at)
}

func (m *Machine) consumeConnecting(event Event, at time.Time) []Effect {
	switch event.Kind {
	case EventSerialDisconnected:
		m.State = StateDisconnected
		return nil

	case EventSerialLine:
		switch event.Response.Kind {
		case wire.ResponseGreeting:
			return m.beginConnect(at)

		case wire.ResponseOk:
			// The M105 connect probe's ok is what actually flips OnOK's
			// stored OnOKTransitionToReady into State = StateReady, via
			// the same applyFeedback/receiveOk pipeline consumeReady
			// uses once ready.
			effects, err := m.applyFeedback(event.Response.OkFeedback, at)
			if err != nil {
				return m.errorf(at, "%s", err.Error())
			}
			more, err := m.receiveOk(effects, at)
			if err != nil {
				return m.errorf(at, "%s", err.Error())
			}
			return more

		default:
			return nil
		}

	case EventConnectSettle:
		effects := m.sendLine("M105", m.Ready.NextSerialLineNumber, true)
		m.Ready.NextSerialLineNumber++
		m.Ready.OnOK = OnOKTransitionToReady
		return effects

	default:
		return nil
	}
}

// beginConnect emits the line-number reset and arms the settle delay
// that, once elapsed, probes with M105 and transitions to Ready on its
// ok.
func (m *Machine) beginConnect(at time.Time) []Effect {
	effects := m.sendLine("M110 N0", m.Ready.NextSerialLineNumber, true)
	m.Ready.NextSerialLineNumber++
	m.Ready.OnOK = OnOKNotAwaitingOk

	effects = append(effects, scheduleDelayEffect(
		"connect_delay",
		m.Config.DelayFromGreetingToReady,
		Event{Kind: EventConnectSettle},
	))
	return effects
}

// errorf transitions to Errored with a formatted message, and forces
// every task still in the spooler to Errored (P6).
func (m *Machine) errorf(at time.Time, format string, args ...any) []Effect {
	message := fmt.Sprintf(format, args...)
	m.State = StateErrored
	m.ErrorMessage = message
	m.ErrorAt = at

	var effects []Effect
	for m.Spooler.Len() > 0 {
		t := m.Spooler.Front()
		m.Spooler.Remove(t.ID)
		t.Status = task.Status{Code: task.Errored, Message: message, At: at}
		effects = append(effects, Effect{Kind: EffectTaskError, Task: t, ErrorMessage: message})
	}
	return effects
}
