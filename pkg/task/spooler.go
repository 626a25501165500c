package task

import "strings"

// QueueError reports a rejected insertion, scoped to the task that was
// rejected.
type QueueError struct {
	TaskID  string
	Message string
}

func (e *QueueError) Error() string {
	return e.Message
}

// Spooler holds the ordered queue of tasks and despools one line at a
// time. The queue invariant: every element except possibly the tail has
// MachineOverride true; the tail may or may not.
type Spooler struct {
	tasks []*Task
}

// NewSpooler returns an empty spooler.
func NewSpooler() *Spooler {
	return &Spooler{}
}

// Len reports the number of queued tasks.
func (s *Spooler) Len() int {
	return len(s.tasks)
}

// Front returns the head task, or nil if the queue is empty.
func (s *Spooler) Front() *Task {
	if len(s.tasks) == 0 {
		return nil
	}
	return s.tasks[0]
}

// Tasks returns a snapshot of the queue, head first, for feedback
// reporting.
func (s *Spooler) Tasks() []*Task {
	out := make([]*Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// hasPrint reports whether the tail task, if any, is a non-override
// print task currently holding the queue.
func (s *Spooler) hasPrint() bool {
	n := len(s.tasks)
	return n > 0 && !s.tasks[n-1].MachineOverride
}

// Insert adds t to the queue per the spooling rules: an override task
// is pushed at the tail when no print is running, or spliced in just
// before the running print otherwise; a non-override task is rejected
// when a print is already running, and pushed at the tail otherwise.
func (s *Spooler) Insert(t *Task) error {
	running := s.hasPrint()

	if running && !t.MachineOverride {
		return &QueueError{
			TaskID:  t.ID,
			Message: "Attempted to print 2 non-override tasks at once",
		}
	}

	if running {
		idx := len(s.tasks) - 1
		s.tasks = append(s.tasks, nil)
		copy(s.tasks[idx+1:], s.tasks[idx:])
		s.tasks[idx] = t
		return nil
	}

	s.tasks = append(s.tasks, t)
	return nil
}

// Remove removes and returns the task with the given id from anywhere
// in the queue, for PauseTask handling.
func (s *Spooler) Remove(taskID string) (*Task, bool) {
	for i, t := range s.tasks {
		if t.ID == taskID {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return t, true
		}
	}
	return nil, false
}

func (s *Spooler) popFront() *Task {
	if len(s.tasks) == 0 {
		return nil
	}
	t := s.tasks[0]
	s.tasks = s.tasks[1:]
	return t
}

// Outcome is the result of one Despool step.
type Outcome struct {
	// Idle is true when the queue has nothing left to send.
	Idle bool

	// Started is set the first time a task yields a line, alongside
	// that same line in Line/IsHostGCode.
	Started *Task

	// Finished is set when the front task's line source was already
	// exhausted; the task has already been popped from the queue.
	Finished *Task

	// Line and IsHostGCode are set when a line was produced. A line
	// beginning with "!" is a host-gcode directive the caller must
	// interpret rather than send to firmware.
	Line        string
	IsHostGCode bool
}

// Despool pulls one unit of work from the front task: it advances the
// task's line source, flips Started and DespooledLineNumber bookkeeping,
// and pops the task once its lines are exhausted. It does not recurse
// after popping an exhausted task; callers loop on Idle/Finished
// themselves, mirroring the despool-then-despool-next-line chain.
func (s *Spooler) Despool() Outcome {
	t := s.Front()
	if t == nil {
		return Outcome{Idle: true}
	}

	line, ok := t.Lines.Next()
	if !ok {
		s.popFront()
		return Outcome{Finished: t}
	}

	var started *Task
	if !t.Started {
		t.Started = true
		t.Status = Status{Code: Running}
		started = t
	}

	if !t.MachineOverride {
		t.DespooledLineNumber++
	}

	return Outcome{
		Started:     started,
		Line:        line,
		IsHostGCode: strings.HasPrefix(line, "!"),
	}
}
