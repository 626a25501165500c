package psm

import (
	"time"

	"github.com/print-spool/teg-driver/pkg/task"
)

// EffectKind identifies the shape of one Effect.
type EffectKind uint8

const (
	EffectSendSerial EffectKind = iota
	EffectScheduleDelay
	EffectCancelDelay
	EffectLoadGCodeFromFile
	EffectControlSend
	EffectExitProcessAfterDelay
	EffectExitProcess
	EffectTaskStarted
	EffectTaskFinished
	EffectTaskPaused
	EffectTaskError
)

// Effect is one outer-runner instruction produced by Consume. Only the
// fields relevant to Kind are populated.
type Effect struct {
	Kind EffectKind

	// EffectSendSerial
	Line       string
	LineNumber *uint32
	Checksum   bool

	// EffectScheduleDelay / EffectCancelDelay
	DelayKey string
	Duration time.Duration
	OnFire   Event

	// EffectLoadGCodeFromFile
	FilePath        string
	TaskID          string
	ClientID        string
	MachineOverride bool

	// EffectTaskStarted / TaskFinished / TaskPaused / TaskError
	Task         *task.Task
	ErrorMessage string

	// EffectControlSend carries only a short label of what triggered it
	// ("connected", "task finished", ...) for observers (the rust
	// ProtobufSend trigger); the driver reads live state off the
	// Machine rather than a payload here.
	Reason string
}

func sendSerialEffect(line string, lineNumber *uint32, checksum bool) Effect {
	return Effect{Kind: EffectSendSerial, Line: line, LineNumber: lineNumber, Checksum: checksum}
}

func scheduleDelayEffect(key string, d time.Duration, onFire Event) Effect {
	return Effect{Kind: EffectScheduleDelay, DelayKey: key, Duration: d, OnFire: onFire}
}

func cancelDelayEffect(key string) Effect {
	return Effect{Kind: EffectCancelDelay, DelayKey: key}
}

func controlSendEffect(reason string) Effect {
	return Effect{Kind: EffectControlSend, Reason: reason}
}

// sendLine commits gcode to the wire with the monotonic line number
// and checksum, records LastGCodeSent/LastLineNumber, and (re)arms the
// tickle delay for the appropriate timeout.
func (m *Machine) sendLine(gcode string, lineNumber uint32, checksum bool) []Effect {
	effects := []Effect{sendSerialEffect(gcode, &lineNumber, checksum)}

	m.Ready.LastGCodeSent = gcode
	m.Ready.LastLineNumber = lineNumber
	m.Ready.OnOK = OnOKDespool

	timeout := m.Config.FastCodeTimeout
	if m.isLongRunningCode(gcode) {
		timeout = m.Config.LongRunningCodeTimeout
	}
	effects = append(effects, scheduleDelayEffect("tickle_delay", timeout, Event{Kind: EventTickleSerialPort}))

	return effects
}

func (m *Machine) isLongRunningCode(gcode string) bool {
	if len(m.Config.LongRunningCodes) == 0 {
		return false
	}
	token := gcode
	for i, r := range gcode {
		if r == ' ' {
			token = gcode[:i]
			break
		}
	}
	return m.Config.LongRunningCodes[token]
}
