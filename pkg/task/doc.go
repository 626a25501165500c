// Package task implements the Task Spooler (TS): the ordered queue of
// runnable tasks, and the one-line-at-a-time despool step the Protocol
// State Machine drives on every ok.
//
// The queue holds at most one non-override task, and it is always the
// tail; override tasks (jogs, and other short interrupts) splice in
// just ahead of it and despool first. Despool never advances a
// machine_override task's DespooledLineNumber, so an interleaved jog
// leaves a running print's progress untouched.
package task
