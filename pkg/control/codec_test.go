package control

import (
	"testing"

	"github.com/print-spool/teg-driver/pkg/machine"
)

func TestSpoolTaskRoundTrip(t *testing.T) {
	msg := &CombinatorMessage{
		SpoolTask: &SpoolTask{
			TaskID:          "t1",
			ClientID:        "client-a",
			Content:         TaskContent{Inline: []string{"G28", "G1 X10"}},
			MachineOverride: false,
		},
	}

	data, err := EncodeCombinatorMessage(msg)
	if err != nil {
		t.Fatalf("EncodeCombinatorMessage() error = %v", err)
	}

	decoded, err := DecodeCombinatorMessage(data)
	if err != nil {
		t.Fatalf("DecodeCombinatorMessage() error = %v", err)
	}

	if decoded.SpoolTask == nil {
		t.Fatal("decoded.SpoolTask is nil")
	}
	if decoded.SpoolTask.TaskID != "t1" {
		t.Errorf("TaskID = %q, want t1", decoded.SpoolTask.TaskID)
	}
	if len(decoded.SpoolTask.Content.Inline) != 2 || decoded.SpoolTask.Content.Inline[1] != "G1 X10" {
		t.Errorf("Content.Inline = %v", decoded.SpoolTask.Content.Inline)
	}
}

func TestPauseTaskRoundTrip(t *testing.T) {
	msg := &CombinatorMessage{PauseTask: &PauseTask{TaskID: "t1"}}

	data, err := EncodeCombinatorMessage(msg)
	if err != nil {
		t.Fatalf("EncodeCombinatorMessage() error = %v", err)
	}

	decoded, err := DecodeCombinatorMessage(data)
	if err != nil {
		t.Fatalf("DecodeCombinatorMessage() error = %v", err)
	}
	if decoded.PauseTask == nil || decoded.PauseTask.TaskID != "t1" {
		t.Errorf("PauseTask = %+v", decoded.PauseTask)
	}
}

func TestDecodeCombinatorMessageRejectsEmptyPayload(t *testing.T) {
	data, err := Marshal(&CombinatorMessage{})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if _, err := DecodeCombinatorMessage(data); err == nil {
		t.Error("expected error decoding a payload-less combinator message")
	}
}

func TestMachineMessageRoundTrip(t *testing.T) {
	msg := &MachineMessage{
		Feedback: &machine.Feedback{
			Status: "Ready",
			Heaters: []machine.HeaterReading{
				{Address: "0", Target: 200, Actual: 190},
			},
		},
	}

	data, err := EncodeMachineMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMachineMessage() error = %v", err)
	}

	decoded, err := DecodeMachineMessage(data)
	if err != nil {
		t.Fatalf("DecodeMachineMessage() error = %v", err)
	}
	if decoded.Feedback == nil || decoded.Feedback.Status != "Ready" {
		t.Fatalf("decoded.Feedback = %+v", decoded.Feedback)
	}
	if len(decoded.Feedback.Heaters) != 1 || decoded.Feedback.Heaters[0].Address != "0" {
		t.Errorf("Heaters = %+v", decoded.Feedback.Heaters)
	}
}
