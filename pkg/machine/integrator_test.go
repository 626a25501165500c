package machine

import (
	"testing"
	"time"
)

// fakeRepo is a minimal in-memory TaskRepository for integrator tests.
type fakeRepo struct {
	running map[string]bool
	errored []string
	errMsg  string

	applied map[string]TaskProgressStatus
}

func newFakeRepo(running ...string) *fakeRepo {
	r := &fakeRepo{running: make(map[string]bool), applied: make(map[string]TaskProgressStatus)}
	for _, id := range running {
		r.running[id] = true
	}
	return r
}

func (r *fakeRepo) RunningTaskIDs() []string {
	var ids []string
	for id := range r.running {
		ids = append(ids, id)
	}
	return ids
}

func (r *fakeRepo) SettleAsErrored(taskIDs []string, message string, at time.Time) error {
	r.errored = append(r.errored, taskIDs...)
	r.errMsg = message
	for _, id := range taskIDs {
		delete(r.running, id)
		r.applied[id] = TaskProgressErrored
	}
	return nil
}

func (r *fakeRepo) ApplyProgress(taskID string, status TaskProgressStatus, despooledLine uint32, errMessage string, at time.Time) (bool, bool, bool, error) {
	prev, existed := r.applied[taskID]
	if existed && prev.IsSettled() {
		return false, false, true, nil
	}
	if existed && prev.IsPaused() && status.IsPaused() {
		return false, false, true, nil
	}
	r.applied[taskID] = status
	return true, status.IsSettled(), true, nil
}

func TestReconcileTasksErrorsMissingTask(t *testing.T) {
	view := NewView()
	repo := newFakeRepo("t1", "t2")
	fi := NewFeedbackIntegrator(view, repo)

	var settled []TaskSettledEvent
	fi.OnTaskSettled(func(e TaskSettledEvent) { settled = append(settled, e) })

	fb := Feedback{
		Status: "Ready",
		TaskProgress: []TaskProgress{
			{TaskID: "t1", Status: TaskProgressRunning, IsPrint: true},
		},
		ReceivedAt: time.Now(),
	}

	if err := fi.Record(fb); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if len(repo.errored) != 1 || repo.errored[0] != "t2" {
		t.Errorf("errored = %v, want [t2]", repo.errored)
	}

	found := false
	for _, e := range settled {
		if e.TaskID == "t2" && e.Status == TaskProgressErrored {
			found = true
		}
	}
	if !found {
		t.Error("expected TaskSettled event for t2")
	}

	if view.Status != StatusPrinting || view.StatusDetail.TaskID != "t1" {
		t.Errorf("view.Status = %v detail=%+v, want Printing{t1}", view.Status, view.StatusDetail)
	}
}

func TestUpdateTasksSettlesPrintToReady(t *testing.T) {
	view := NewView()
	view.Status = StatusPrinting
	view.StatusDetail = StatusDetail{TaskID: "t1", Paused: false}
	view.HasReceivedFeedback = true

	repo := newFakeRepo("t1")
	repo.applied["t1"] = TaskProgressRunning
	fi := NewFeedbackIntegrator(view, repo)

	var deletedHistory []string
	fi.OnDeleteHistory(func(id string) { deletedHistory = append(deletedHistory, id) })

	fb := Feedback{
		Status: "Ready",
		TaskProgress: []TaskProgress{
			{TaskID: "t1", Status: TaskProgressFinished, IsPrint: true},
		},
		ReceivedAt: time.Now(),
	}

	if err := fi.Record(fb); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if view.Status != StatusReady {
		t.Errorf("view.Status = %v, want StatusReady", view.Status)
	}
	if len(deletedHistory) != 1 || deletedHistory[0] != "t1" {
		t.Errorf("deletedHistory = %v, want [t1]", deletedHistory)
	}
}

func TestUpdateHeatersMergesReadings(t *testing.T) {
	view := NewView()
	view.Heaters["0"] = &Heater{}
	view.HasReceivedFeedback = true
	fi := NewFeedbackIntegrator(view, nil)

	fb := Feedback{
		Status:     "Ready",
		Heaters:    []HeaterReading{{Address: "0", Target: 200, Actual: 190}},
		ReceivedAt: time.Now(),
	}

	if err := fi.Record(fb); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	h := view.Heaters["0"]
	if h.ActualTemp == nil || *h.ActualTemp != 190 {
		t.Errorf("ActualTemp = %v, want 190", h.ActualTemp)
	}
	if len(h.History) != 1 {
		t.Errorf("len(History) = %d, want 1", len(h.History))
	}
}

func TestUpdateHeatersWarnsOnUnknownAddress(t *testing.T) {
	view := NewView()
	view.HasReceivedFeedback = true
	fi := NewFeedbackIntegrator(view, nil)

	fb := Feedback{
		Status:     "Ready",
		Heaters:    []HeaterReading{{Address: "unknown", Target: 200, Actual: 190}},
		ReceivedAt: time.Now(),
	}

	if err := fi.Record(fb); err != nil {
		t.Fatalf("Record() should not error on unknown heater address: %v", err)
	}
	if len(view.Heaters) != 0 {
		t.Errorf("unexpected heater created for unknown address")
	}
}

func TestUpdateMachineCascadesTaskDesyncOnDisconnect(t *testing.T) {
	view := NewView()
	view.Status = StatusReady
	view.HasReceivedFeedback = true

	repo := newFakeRepo("t1", "t2")
	fi := NewFeedbackIntegrator(view, repo)

	fb := Feedback{Status: "Disconnected", ReceivedAt: time.Now()}

	if err := fi.Record(fb); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if len(repo.errored) != 2 {
		t.Errorf("errored = %v, want 2 tasks", repo.errored)
	}
	if view.Status != StatusDisconnected {
		t.Errorf("view.Status = %v, want StatusDisconnected", view.Status)
	}
}

func TestUpdateMachineNeverDowngradesPrintingToReadyImplicitly(t *testing.T) {
	view := NewView()
	view.Status = StatusPrinting
	view.StatusDetail = StatusDetail{TaskID: "t1"}
	view.HasReceivedFeedback = true

	fi := NewFeedbackIntegrator(view, newFakeRepo("t1"))

	fb := Feedback{Status: "Ready", ReceivedAt: time.Now()}
	if err := fi.Record(fb); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if view.Status != StatusPrinting {
		t.Errorf("view.Status = %v, want StatusPrinting (implicit downgrade forbidden)", view.Status)
	}
}

func TestUpdateMachineInvalidStatusErrors(t *testing.T) {
	view := NewView()
	view.HasReceivedFeedback = true
	fi := NewFeedbackIntegrator(view, nil)

	fb := Feedback{Status: "Bogus", ReceivedAt: time.Now()}
	if err := fi.Record(fb); err == nil {
		t.Error("expected error for invalid machine status")
	}
}

func TestMergeFlagsPopulatesPausedSnapshotOnce(t *testing.T) {
	view := NewView()
	view.Status = StatusPrinting
	view.StatusDetail = StatusDetail{TaskID: "t1", Paused: true}
	view.HasReceivedFeedback = true
	view.AppendGCodeHistory("G1", HistoryTx, time.Now())

	fi := NewFeedbackIntegrator(view, nil)

	fb := Feedback{
		Status:     "Ready",
		Flags:      Flags{PausedState: true, Millimeters: true},
		ReceivedAt: time.Now(),
	}

	if err := fi.Record(fb); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if view.StatusDetail.PausedSnapshot == nil {
		t.Fatal("expected PausedSnapshot to be populated")
	}
	if view.StatusDetail.PausedSnapshot.GCodeHistory != nil {
		t.Error("PausedSnapshot should exclude gcode history")
	}

	firstSnapshot := view.StatusDetail.PausedSnapshot

	// A second PAUSED_STATE flag must not replace the snapshot.
	fb2 := Feedback{
		Status:     "Ready",
		Flags:      Flags{PausedState: true, Millimeters: true},
		ReceivedAt: time.Now(),
	}
	if err := fi.Record(fb2); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if view.StatusDetail.PausedSnapshot != firstSnapshot {
		t.Error("PausedSnapshot should only populate once per pause episode")
	}
}

func TestMergeFlagsSetsPositioningUnits(t *testing.T) {
	view := NewView()
	view.HasReceivedFeedback = true
	fi := NewFeedbackIntegrator(view, nil)

	fb := Feedback{Status: "Ready", Flags: Flags{Millimeters: false}, ReceivedAt: time.Now()}
	if err := fi.Record(fb); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if view.PositioningUnits != Inches {
		t.Errorf("PositioningUnits = %v, want Inches", view.PositioningUnits)
	}
}
