package protocol

import "testing"

func TestInstallStateValidate(t *testing.T) {
	check := &CheckResult{Compatible: true}
	tests := []struct {
		name    string
		state   InstallState
		wantErr bool
	}{
		{name: "idle", state: IdleInstallState()},
		{name: "performing check", state: InstallState{Phase: InstallPhasePerformingCheck}},
		{name: "check completed", state: InstallState{Phase: InstallPhaseCheckCompleted, Check: check}},
		{name: "check completed without result", state: InstallState{Phase: InstallPhaseCheckCompleted}, wantErr: true},
		{name: "select disk", state: InstallState{Phase: InstallPhaseSelectDisk, Disks: []DiskInfo{}}},
		{name: "select disk without list", state: InstallState{Phase: InstallPhaseSelectDisk}, wantErr: true},
		{name: "select disk error", state: InstallState{Phase: InstallPhaseSelectDiskError, Message: "lsblk failed"}},
		{name: "select disk error without message", state: InstallState{Phase: InstallPhaseSelectDiskError}, wantErr: true},
		{
			name: "pre install confirm",
			state: InstallState{
				Phase:   InstallPhasePreInstallConfirm,
				Confirm: &PreInstallConfirm{Disk: DiskInfo{Path: "/dev/sda"}},
			},
		},
		{name: "installing", state: InstallState{Phase: InstallPhaseInstalling, Steps: NewInstallSteps()}},
		{name: "installing without steps", state: InstallState{Phase: InstallPhaseInstalling}, wantErr: true},
		{name: "install failed", state: InstallState{Phase: InstallPhaseInstallFailed, Message: "exit status 2"}},
		{name: "install succeeded", state: InstallState{Phase: InstallPhaseInstallSucceeded, Steps: NewInstallSteps()}},
		{name: "unknown phase", state: InstallState{Phase: "rebooting"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSystemStateValidate(t *testing.T) {
	tests := []struct {
		name    string
		state   SystemState
		wantErr bool
	}{
		{name: "idle", state: IdleSystemState()},
		{name: "switching", state: SystemState{Phase: SystemPhaseSwitching}},
		{name: "update failed", state: SystemState{Phase: SystemPhaseUpdateFailed, Message: "exit status 1"}},
		{name: "update failed without message", state: SystemState{Phase: SystemPhaseUpdateFailed}, wantErr: true},
		{name: "update succeeded", state: SystemState{Phase: SystemPhaseUpdateSucceeded}},
		{name: "unknown phase", state: SystemState{Phase: "draining"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewInstallSteps(t *testing.T) {
	steps := NewInstallSteps()
	order := StepOrder()
	if len(steps) != len(order) {
		t.Fatalf("got %d steps, want %d", len(steps), len(order))
	}
	for i, step := range steps {
		if step.Name != order[i] {
			t.Errorf("step %d = %s, want %s", i, step.Name, order[i])
		}
		if step.Status != StepStatusWaiting {
			t.Errorf("step %s status = %s, want %s", step.Name, step.Status, StepStatusWaiting)
		}
		if step.Description == "" {
			t.Errorf("step %s has no description", step.Name)
		}
	}
}

func TestCommandValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr bool
	}{
		{name: "plain command", cmd: Command{Type: CommandStartInstallation}},
		{name: "unknown type", cmd: Command{Type: "frobnicate"}, wantErr: true},
		{name: "disk selected without data", cmd: Command{Type: CommandInstallDiskSelected}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
