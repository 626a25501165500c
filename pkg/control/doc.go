// Package control defines the CBOR-encoded messages exchanged with
// higher layers over the control channel: CombinatorMessage carries
// SpoolTask/PauseTask requests in, MachineMessage carries periodic
// Feedback snapshots out.
package control
