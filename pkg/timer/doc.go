// Package timer implements the Timer/Effect Engine (TEE).
//
// The TEE arms named, cancellable one-shot delays on behalf of the
// protocol state machine: "polling_delay" paces M105/M114 requests,
// "tickle_delay" schedules the next keep-alive probe while awaiting an ok,
// and "exit_delay" is the wait after going idle with reset_when_idle
// set before the process exits.
//
// # Single Delay Per Key
//
// Scheduling a delay under a key that is already armed cancels the old
// one; delays never stack or queue under the same key.
//
// # Ordering
//
// The TEE only arms and cancels timers and delivers fire notifications
// through the single callback wired by the driver. The driver queues
// those on the same event channel as serial lines and handles events in
// the order they were queued; a delay that fires at the same moment a
// serial line arrives is not reordered behind the line.
//
// # Connection Loss
//
// On disconnect the protocol state machine emits a cancel for
// tickle_delay, polling_delay and connect_delay, and the driver cancels
// each key with CancelDelay, so that a stale delay from a previous
// connection can't fire against a new one. CancelAll clears every armed
// delay; the driver does not call it.
package timer
