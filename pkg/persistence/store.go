// Package persistence provides the minimal reference implementation of
// machine.TaskRepository: an in-memory registry of which tasks the
// driver believes are running, their reported progress, and their
// settlement. Durable storage is explicitly out of scope for the
// driver core; callers that need tasks to survive a process restart
// supply their own machine.TaskRepository, typically backed by the
// combinator's own database.
package persistence

import (
	"sync"
	"time"

	"github.com/print-spool/teg-driver/pkg/machine"
)

// Record is one task's persisted bookkeeping.
type Record struct {
	TaskID              string
	ClientID            string
	IsPrint             bool
	Status              machine.TaskProgressStatus
	DespooledLineNumber uint32
	ErrorMessage        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Store is an in-memory machine.TaskRepository. Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*Record
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{tasks: make(map[string]*Record)}
}

// Track registers a task as running on this machine, as the driver
// does the moment it accepts a SpoolTask.
func (s *Store) Track(taskID, clientID string, isPrint bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[taskID] = &Record{
		TaskID:    taskID,
		ClientID:  clientID,
		IsPrint:   isPrint,
		Status:    machine.TaskProgressPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Get returns a copy of the tracked record for taskID.
func (s *Store) Get(taskID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tasks[taskID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// RunningTaskIDs implements machine.TaskRepository.
func (s *Store) RunningTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, r := range s.tasks {
		if !r.Status.IsSettled() {
			ids = append(ids, id)
		}
	}
	return ids
}

// SettleAsErrored implements machine.TaskRepository.
func (s *Store) SettleAsErrored(taskIDs []string, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range taskIDs {
		r, ok := s.tasks[id]
		if !ok {
			continue
		}
		r.Status = machine.TaskProgressErrored
		r.ErrorMessage = message
		r.UpdatedAt = at
	}
	return nil
}

// ApplyProgress implements machine.TaskRepository.
func (s *Store) ApplyProgress(taskID string, status machine.TaskProgressStatus, despooledLine uint32, errMessage string, at time.Time) (changed, settled, isPrint bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tasks[taskID]
	if !ok {
		return false, false, false, nil
	}

	changed = !r.Status.IsSettled() && r.Status != status && !(r.Status.IsPaused() && status.IsPaused())
	if changed {
		r.Status = status
		r.ErrorMessage = errMessage
	}
	r.DespooledLineNumber = despooledLine
	r.UpdatedAt = at

	return changed, status.IsSettled(), r.IsPrint, nil
}
