package engine

import (
	"testing"

	"github.com/glacieros/glacierd/pkg/protocol"
)

func TestParseStepMarker(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantStep protocol.StepName
		wantOK   bool
	}{
		{name: "plain marker", line: "glacier-step: disk", wantStep: protocol.StepDisk, wantOK: true},
		{name: "no space", line: "glacier-step:deps", wantStep: protocol.StepDeps, wantOK: true},
		{name: "leading whitespace", line: "  glacier-step: build", wantStep: protocol.StepBuild, wantOK: true},
		{name: "unknown step", line: "glacier-step: teardown", wantOK: false},
		{name: "ordinary log line", line: "copying path /nix/store/abc", wantOK: false},
		{name: "empty", line: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, ok := ParseStepMarker(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ParseStepMarker(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if ok && step != tt.wantStep {
				t.Errorf("ParseStepMarker(%q) = %s, want %s", tt.line, step, tt.wantStep)
			}
		})
	}
}

func statusOf(t *testing.T, steps []protocol.InstallStep, name protocol.StepName) protocol.StepStatus {
	t.Helper()
	for _, step := range steps {
		if step.Name == name {
			return step.Status
		}
	}
	t.Fatalf("step %s not found", name)
	return ""
}

func TestStepTrackerAdvance(t *testing.T) {
	tracker := NewStepTracker()

	changed := tracker.Advance(protocol.StepDisk)
	if len(changed) != 3 {
		t.Fatalf("Advance(disk) changed %d steps, want 3", len(changed))
	}

	steps := tracker.Steps()
	if got := statusOf(t, steps, protocol.StepDeps); got != protocol.StepStatusDone {
		t.Errorf("deps status = %s, want done", got)
	}
	if got := statusOf(t, steps, protocol.StepBuild); got != protocol.StepStatusDone {
		t.Errorf("build status = %s, want done", got)
	}
	if got := statusOf(t, steps, protocol.StepDisk); got != protocol.StepStatusInProgress {
		t.Errorf("disk status = %s, want in_progress", got)
	}
	if got := statusOf(t, steps, protocol.StepMount); got != protocol.StepStatusWaiting {
		t.Errorf("mount status = %s, want waiting", got)
	}
}

func TestStepTrackerNeverRegresses(t *testing.T) {
	tracker := NewStepTracker()
	tracker.Advance(protocol.StepBuild)

	// Advancing backwards must not touch a finished step.
	if changed := tracker.Advance(protocol.StepDeps); len(changed) != 0 {
		t.Errorf("Advance(deps) after build changed %d steps, want 0", len(changed))
	}
	if got := statusOf(t, tracker.Steps(), protocol.StepDeps); got != protocol.StepStatusDone {
		t.Errorf("deps status = %s, want done", got)
	}
}

func TestStepTrackerCompleteAll(t *testing.T) {
	tracker := NewStepTracker()
	tracker.Advance(protocol.StepMount)
	tracker.CompleteAll()

	for _, step := range tracker.Steps() {
		if step.Status != protocol.StepStatusDone {
			t.Errorf("step %s status = %s, want done", step.Name, step.Status)
		}
	}
}

func TestStepTrackerFailCurrent(t *testing.T) {
	tracker := NewStepTracker()
	tracker.Advance(protocol.StepDisk)

	changed := tracker.FailCurrent("partitioning failed")
	if len(changed) != 1 || changed[0].Name != protocol.StepDisk {
		t.Fatalf("FailCurrent changed %v, want disk only", changed)
	}

	steps := tracker.Steps()
	if got := statusOf(t, steps, protocol.StepDisk); got != protocol.StepStatusFailed {
		t.Errorf("disk status = %s, want failed", got)
	}
	if got := statusOf(t, steps, protocol.StepMount); got != protocol.StepStatusWaiting {
		t.Errorf("mount status = %s, want waiting", got)
	}
}

func TestStepTrackerFailBeforeStart(t *testing.T) {
	tracker := NewStepTracker()

	changed := tracker.FailCurrent("spawn failed")
	if len(changed) != 1 || changed[0].Name != protocol.StepDeps {
		t.Fatalf("FailCurrent changed %v, want first step", changed)
	}
	if changed[0].Reason != "spawn failed" {
		t.Errorf("reason = %q, want %q", changed[0].Reason, "spawn failed")
	}
}
