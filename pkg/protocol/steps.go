package protocol

import "fmt"

// StepName names one phase of a build. The declaration order of stepOrder is
// the canonical progress sequence and is fixed at compile time.
type StepName string

const (
	// StepDeps resolves and fetches build dependencies.
	StepDeps StepName = "deps"
	// StepBuild evaluates and builds the system closure.
	StepBuild StepName = "build"
	// StepDisk partitions and formats the install disk.
	StepDisk StepName = "disk"
	// StepMount mounts the target filesystems.
	StepMount StepName = "mount"
	// StepCopy copies the closure onto the target.
	StepCopy StepName = "copy"
	// StepBootloader installs the bootloader.
	StepBootloader StepName = "bootloader"
)

var stepOrder = []StepName{StepDeps, StepBuild, StepDisk, StepMount, StepCopy, StepBootloader}

var stepDescriptions = map[StepName]string{
	StepDeps:       "Fetching dependencies",
	StepBuild:      "Building system configuration",
	StepDisk:       "Partitioning install disk",
	StepMount:      "Mounting target filesystems",
	StepCopy:       "Copying system to target",
	StepBootloader: "Installing bootloader",
}

// StepOrder returns the canonical step sequence.
func StepOrder() []StepName {
	out := make([]StepName, len(stepOrder))
	copy(out, stepOrder)
	return out
}

// Description returns the human-readable description of a step.
func (n StepName) Description() string {
	return stepDescriptions[n]
}

// Validate checks that the step name is a known step.
func (n StepName) Validate() error {
	if _, ok := stepDescriptions[n]; !ok {
		return fmt.Errorf("invalid step name: %s", n)
	}
	return nil
}

// StepStatus is the progress state of a single step.
type StepStatus string

const (
	// StepStatusWaiting means the step has not started.
	StepStatusWaiting StepStatus = "waiting"
	// StepStatusInProgress means the step is running.
	StepStatusInProgress StepStatus = "in_progress"
	// StepStatusDone means the step completed.
	StepStatusDone StepStatus = "done"
	// StepStatusFailed means the step failed; the step carries the reason.
	StepStatusFailed StepStatus = "failed"
)

// Validate checks that the status is a known value.
func (s StepStatus) Validate() error {
	switch s {
	case StepStatusWaiting, StepStatusInProgress, StepStatusDone, StepStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// InstallStep tracks the progress of one named build phase.
type InstallStep struct {
	Name        StepName   `json:"name"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Reason      string     `json:"reason,omitempty"`
}

// NewInstallSteps returns the full step list in canonical order, all Waiting.
// A fresh list is created when a build begins and replaced when the next
// build begins.
func NewInstallSteps() []InstallStep {
	steps := make([]InstallStep, 0, len(stepOrder))
	for _, name := range stepOrder {
		steps = append(steps, InstallStep{
			Name:        name,
			Description: name.Description(),
			Status:      StepStatusWaiting,
		})
	}
	return steps
}
