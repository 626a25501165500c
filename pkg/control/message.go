// Package control defines the driver's control channel: CombinatorMessage
// carries commands in from the supervising combinator process,
// MachineMessage carries Feedback snapshots back out. Both are CBOR
// encoded and sent over a length-prefixed transport.Framer.
package control

import "github.com/print-spool/teg-driver/pkg/machine"

// CombinatorMessage is a command sent to the driver.
// Exactly one of SpoolTask or PauseTask is set.
type CombinatorMessage struct {
	SpoolTask *SpoolTask `cbor:"1,keyasint,omitempty"`
	PauseTask *PauseTask `cbor:"2,keyasint,omitempty"`
}

// TaskContent is the gcode payload for a spooled task.
// Exactly one of Inline or FilePath is set.
type TaskContent struct {
	Inline   []string `cbor:"1,keyasint,omitempty"`
	FilePath string   `cbor:"2,keyasint,omitempty"`
}

// SpoolTask requests a new task be appended to the queue.
type SpoolTask struct {
	TaskID          string      `cbor:"1,keyasint"`
	ClientID        string      `cbor:"2,keyasint"`
	Content         TaskContent `cbor:"3,keyasint"`
	MachineOverride bool        `cbor:"4,keyasint"`
}

// PauseTask requests that a running task be paused.
type PauseTask struct {
	TaskID string `cbor:"1,keyasint"`
}

// MachineMessage is a status update sent from the driver.
type MachineMessage struct {
	Feedback *machine.Feedback `cbor:"1,keyasint,omitempty"`
}
