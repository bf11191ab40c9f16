package engine

import (
	"strings"

	"github.com/glacieros/glacierd/pkg/protocol"
)

// stepMarkerPrefix starts the stdout lines the installer emits when it
// enters a new build phase, e.g. "glacier-step: disk".
const stepMarkerPrefix = "glacier-step:"

// ParseStepMarker reports whether line is a step marker and which step it
// names. Unknown step names are ignored.
func ParseStepMarker(line string) (protocol.StepName, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, stepMarkerPrefix) {
		return "", false
	}
	name := protocol.StepName(strings.TrimSpace(strings.TrimPrefix(trimmed, stepMarkerPrefix)))
	if err := name.Validate(); err != nil {
		return "", false
	}
	return name, true
}

// StepTracker tracks the progress of one build through the canonical step
// sequence. A step only ever moves Waiting to InProgress to Done or Failed;
// it never regresses. The tracker is confined to the single goroutine that
// consumes a build's output stream.
type StepTracker struct {
	steps   []protocol.InstallStep
	index   map[protocol.StepName]int
	current int
}

// NewStepTracker creates a tracker with every step Waiting.
func NewStepTracker() *StepTracker {
	steps := protocol.NewInstallSteps()
	index := make(map[protocol.StepName]int, len(steps))
	for i, step := range steps {
		index[step.Name] = i
	}
	return &StepTracker{steps: steps, index: index, current: -1}
}

// Steps returns a copy of the step list.
func (t *StepTracker) Steps() []protocol.InstallStep {
	out := make([]protocol.InstallStep, len(t.steps))
	copy(out, t.steps)
	return out
}

// Advance marks name InProgress and completes every earlier step that has
// not finished. It returns the steps that changed, in order. Steps that
// already reached a terminal status are left alone.
func (t *StepTracker) Advance(name protocol.StepName) []protocol.InstallStep {
	target, ok := t.index[name]
	if !ok {
		return nil
	}

	var changed []protocol.InstallStep
	for i := 0; i < target; i++ {
		if t.steps[i].Status == protocol.StepStatusWaiting || t.steps[i].Status == protocol.StepStatusInProgress {
			t.steps[i].Status = protocol.StepStatusDone
			changed = append(changed, t.steps[i])
		}
	}
	if t.steps[target].Status == protocol.StepStatusWaiting {
		t.steps[target].Status = protocol.StepStatusInProgress
		t.current = target
		changed = append(changed, t.steps[target])
	}
	return changed
}

// CompleteAll marks every unfinished step Done. Called when the build exits
// successfully.
func (t *StepTracker) CompleteAll() []protocol.InstallStep {
	var changed []protocol.InstallStep
	for i := range t.steps {
		if t.steps[i].Status == protocol.StepStatusWaiting || t.steps[i].Status == protocol.StepStatusInProgress {
			t.steps[i].Status = protocol.StepStatusDone
			changed = append(changed, t.steps[i])
		}
	}
	t.current = -1
	return changed
}

// FailCurrent marks the in-progress step Failed with the given reason. If no
// step has started, the first Waiting step is failed so the failure is
// visible in the step list.
func (t *StepTracker) FailCurrent(reason string) []protocol.InstallStep {
	target := t.current
	if target < 0 || t.steps[target].Status != protocol.StepStatusInProgress {
		target = -1
		for i := range t.steps {
			if t.steps[i].Status == protocol.StepStatusWaiting {
				target = i
				break
			}
		}
	}
	if target < 0 {
		return nil
	}

	t.steps[target].Status = protocol.StepStatusFailed
	t.steps[target].Reason = reason
	t.current = -1
	return []protocol.InstallStep{t.steps[target]}
}
