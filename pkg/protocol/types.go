// Package protocol defines the JSON wire vocabulary exchanged between a
// glacierd engine and its observers, together with the appliance state
// model those messages carry.
package protocol

import "fmt"

// InstallPhase identifies the active variant of an InstallState.
type InstallPhase string

const (
	// InstallPhaseIdle is the initial phase; nothing has happened yet.
	InstallPhaseIdle InstallPhase = "idle"
	// InstallPhasePerformingCheck means the system check is running.
	InstallPhasePerformingCheck InstallPhase = "performing_check"
	// InstallPhaseCheckCompleted means the system check finished; the
	// state carries its CheckResult.
	InstallPhaseCheckCompleted InstallPhase = "system_check_completed"
	// InstallPhaseUpdateConfig means the user is editing the appliance
	// configuration.
	InstallPhaseUpdateConfig InstallPhase = "update_config"
	// InstallPhaseSelectDisk means the user is choosing an install disk;
	// the state carries the candidate disks.
	InstallPhaseSelectDisk InstallPhase = "select_install_disk"
	// InstallPhaseSelectDiskError means disk selection failed; the state
	// carries the reason.
	InstallPhaseSelectDiskError InstallPhase = "select_disk_error"
	// InstallPhasePreInstallConfirm means the engine is waiting for the
	// final go-ahead before wiping the disk.
	InstallPhasePreInstallConfirm InstallPhase = "pre_install_confirm"
	// InstallPhaseInstalling means the privileged build is running; the
	// state carries the step list.
	InstallPhaseInstalling InstallPhase = "installing"
	// InstallPhaseInstallFailed is a terminal phase carrying the failure
	// reason.
	InstallPhaseInstallFailed InstallPhase = "install_failed"
	// InstallPhaseInstallSucceeded is a terminal phase carrying the
	// completed step list.
	InstallPhaseInstallSucceeded InstallPhase = "install_succeeded"
)

// Validate checks that the phase is a known variant.
func (p InstallPhase) Validate() error {
	switch p {
	case InstallPhaseIdle, InstallPhasePerformingCheck, InstallPhaseCheckCompleted,
		InstallPhaseUpdateConfig, InstallPhaseSelectDisk, InstallPhaseSelectDiskError,
		InstallPhasePreInstallConfirm, InstallPhaseInstalling,
		InstallPhaseInstallFailed, InstallPhaseInstallSucceeded:
		return nil
	default:
		return fmt.Errorf("invalid install phase: %s", p)
	}
}

// InstallState is the install protocol's state union. Exactly one variant is
// active at a time, identified by Phase; the payload fields are populated
// only for the phases that carry them. States are replaced wholesale on
// every transition, never mutated in place, so a snapshot handed to an
// observer is always self-consistent.
type InstallState struct {
	Phase   InstallPhase       `json:"phase"`
	Check   *CheckResult       `json:"check,omitempty"`
	Disks   []DiskInfo         `json:"disks,omitempty"`
	Steps   []InstallStep      `json:"steps,omitempty"`
	Confirm *PreInstallConfirm `json:"confirm,omitempty"`
	Message string             `json:"message,omitempty"`
}

// Validate checks that the phase is known and that the payload the phase
// requires is present.
func (s InstallState) Validate() error {
	if err := s.Phase.Validate(); err != nil {
		return err
	}
	switch s.Phase {
	case InstallPhaseCheckCompleted:
		if s.Check == nil {
			return fmt.Errorf("phase %s requires a check result", s.Phase)
		}
	case InstallPhaseSelectDisk:
		if s.Disks == nil {
			return fmt.Errorf("phase %s requires a disk list", s.Phase)
		}
	case InstallPhasePreInstallConfirm:
		if s.Confirm == nil {
			return fmt.Errorf("phase %s requires confirm data", s.Phase)
		}
	case InstallPhaseInstalling, InstallPhaseInstallSucceeded:
		if len(s.Steps) == 0 {
			return fmt.Errorf("phase %s requires a step list", s.Phase)
		}
	case InstallPhaseSelectDiskError, InstallPhaseInstallFailed:
		if s.Message == "" {
			return fmt.Errorf("phase %s requires a message", s.Phase)
		}
	}
	return nil
}

// IdleInstallState returns the install protocol's initial state.
func IdleInstallState() InstallState {
	return InstallState{Phase: InstallPhaseIdle}
}

// SystemPhase identifies the active variant of a SystemState.
type SystemPhase string

const (
	// SystemPhaseIdle means no switch is in progress.
	SystemPhaseIdle SystemPhase = "idle"
	// SystemPhaseSwitching means the build-and-switch command is running.
	SystemPhaseSwitching SystemPhase = "switching"
	// SystemPhaseUpdateFailed is a terminal phase carrying the failure
	// reason. A later SwitchConfig may retry from here.
	SystemPhaseUpdateFailed SystemPhase = "update_failed"
	// SystemPhaseUpdateSucceeded marks a completed switch.
	SystemPhaseUpdateSucceeded SystemPhase = "update_succeeded"
)

// Validate checks that the phase is a known variant.
func (p SystemPhase) Validate() error {
	switch p {
	case SystemPhaseIdle, SystemPhaseSwitching, SystemPhaseUpdateFailed, SystemPhaseUpdateSucceeded:
		return nil
	default:
		return fmt.Errorf("invalid system phase: %s", p)
	}
}

// SystemState is the update protocol's state union.
type SystemState struct {
	Phase   SystemPhase `json:"phase"`
	Message string      `json:"message,omitempty"`
}

// Validate checks that the phase is known and that a failure carries its
// reason.
func (s SystemState) Validate() error {
	if err := s.Phase.Validate(); err != nil {
		return err
	}
	if s.Phase == SystemPhaseUpdateFailed && s.Message == "" {
		return fmt.Errorf("phase %s requires a message", s.Phase)
	}
	return nil
}

// IdleSystemState returns the update protocol's initial state.
func IdleSystemState() SystemState {
	return SystemState{Phase: SystemPhaseIdle}
}

// SystemSummary is an immutable snapshot of the machine the engine runs on.
// The engine stores and forwards summaries without interpreting them.
type SystemSummary struct {
	Hostname  string `json:"hostname"`
	OSName    string `json:"os_name"`
	OSVersion string `json:"os_version"`
	Kernel    string `json:"kernel"`
	Arch      string `json:"arch"`
	CPUModel  string `json:"cpu_model"`
	CPUCores  int    `json:"cpu_cores"`
	MemoryMB  int64  `json:"memory_mb"`
	EFIBoot   bool   `json:"efi_boot"`
}

// CheckResult is the outcome of the system compatibility check.
type CheckResult struct {
	Compatible bool          `json:"compatible"`
	Summary    SystemSummary `json:"summary"`
	Problems   []string      `json:"problems,omitempty"`
}

// DiskInfo describes one candidate install disk.
type DiskInfo struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Model     string `json:"model,omitempty"`
	Serial    string `json:"serial,omitempty"`
	Removable bool   `json:"removable"`
}

// PreInstallConfirm is everything shown to the user before the destructive
// install is allowed to start.
type PreInstallConfirm struct {
	Disk     DiskInfo      `json:"disk"`
	FlakeRef string        `json:"flake_ref"`
	Summary  SystemSummary `json:"summary"`
}

// ProcessInfo describes one running process for GetProcessList.
type ProcessInfo struct {
	PID     int    `json:"pid"`
	Command string `json:"command"`
	RSSKB   int64  `json:"rss_kb"`
}
