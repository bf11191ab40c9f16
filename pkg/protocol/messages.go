package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandType identifies an inbound client command.
type CommandType string

const (
	// CommandPerformSystemCheck runs the system compatibility check.
	CommandPerformSystemCheck CommandType = "perform_system_check"
	// CommandGetSystemSummary requests a SystemSummaryUpdated event.
	CommandGetSystemSummary CommandType = "get_system_summary"
	// CommandGetProcessList requests a ProcessListUpdated event.
	CommandGetProcessList CommandType = "get_process_list"
	// CommandUpdateConfig opens the configuration editing phase.
	CommandUpdateConfig CommandType = "update_config"
	// CommandUpdateConfigFinished closes configuration editing and moves
	// on to disk selection.
	CommandUpdateConfigFinished CommandType = "update_config_finished"
	// CommandInstallDiskSelected picks the install disk; carries
	// InstallDiskSelectedData.
	CommandInstallDiskSelected CommandType = "install_disk_selected"
	// CommandStartInstallation starts the privileged install build.
	CommandStartInstallation CommandType = "start_installation"
	// CommandDevReset forces the state machine back to Idle.
	CommandDevReset CommandType = "dev_reset"
	// CommandSwitchConfig starts the build-and-switch of an installed
	// appliance (update protocol only).
	CommandSwitchConfig CommandType = "switch_config"
	// CommandReboot reboots the appliance (update protocol only).
	CommandReboot CommandType = "reboot"
)

// Validate checks that the command type is a known variant.
func (t CommandType) Validate() error {
	switch t {
	case CommandPerformSystemCheck, CommandGetSystemSummary, CommandGetProcessList,
		CommandUpdateConfig, CommandUpdateConfigFinished, CommandInstallDiskSelected,
		CommandStartInstallation, CommandDevReset, CommandSwitchConfig, CommandReboot:
		return nil
	default:
		return fmt.Errorf("invalid command type: %s", t)
	}
}

// Command is the envelope for every inbound message: one JSON value per
// wire frame, tagged by Type, with an optional typed payload in Data.
type Command struct {
	Type      CommandType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// InstallDiskSelectedData is the payload of CommandInstallDiskSelected.
type InstallDiskSelectedData struct {
	Path string `json:"path"`
}

// Validate checks the envelope and the presence of required payloads.
func (c *Command) Validate() error {
	if err := c.Type.Validate(); err != nil {
		return err
	}
	if c.Type == CommandInstallDiskSelected {
		var data InstallDiskSelectedData
		if err := ParseData(c.Data, &data); err != nil {
			return fmt.Errorf("install_disk_selected payload: %w", err)
		}
		if data.Path == "" {
			return fmt.Errorf("install_disk_selected requires a disk path")
		}
	}
	return nil
}

// NewCommand builds a command envelope, marshaling the payload.
func NewCommand(t CommandType, data any) (Command, error) {
	cmd := Command{Type: t, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Command{}, fmt.Errorf("marshal command data: %w", err)
		}
		cmd.Data = raw
	}
	return cmd, nil
}

// EventType identifies an outbound server event.
type EventType string

const (
	// EventStateChanged carries a full state snapshot.
	EventStateChanged EventType = "state_changed"
	// EventSystemSummaryUpdated carries a SystemSummary.
	EventSystemSummaryUpdated EventType = "system_summary_updated"
	// EventProcessListUpdated carries a ProcessListData.
	EventProcessListUpdated EventType = "process_list_updated"
	// EventInstallStepUpdate carries a single step's new status.
	EventInstallStepUpdate EventType = "install_step_update"
	// EventInstallLog carries one output line of the install build.
	EventInstallLog EventType = "install_log"
	// EventUpdateLog carries one output line of the switch build.
	EventUpdateLog EventType = "update_log"
	// EventError reports a rejected command or a failed collaborator.
	EventError EventType = "error"
)

// Validate checks that the event type is a known variant.
func (t EventType) Validate() error {
	switch t {
	case EventStateChanged, EventSystemSummaryUpdated, EventProcessListUpdated,
		EventInstallStepUpdate, EventInstallLog, EventUpdateLog, EventError:
		return nil
	default:
		return fmt.Errorf("invalid event type: %s", t)
	}
}

// Event is the envelope for every outbound message. Delivery is
// at-most-once per connected observer; there are no acknowledgements.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Validate checks the envelope.
func (e *Event) Validate() error {
	return e.Type.Validate()
}

// StateChangedData is the payload of EventStateChanged. Exactly one of the
// two fields is set, depending on which protocol the engine speaks.
type StateChangedData struct {
	Install *InstallState `json:"install,omitempty"`
	System  *SystemState  `json:"system,omitempty"`
}

// StepUpdateData is the payload of EventInstallStepUpdate.
type StepUpdateData struct {
	Step InstallStep `json:"step"`
}

// LogLineData is the payload of EventInstallLog and EventUpdateLog.
type LogLineData struct {
	Line   string `json:"line"`
	Stderr bool   `json:"stderr,omitempty"`
}

// ErrorData is the payload of EventError.
type ErrorData struct {
	Message string `json:"message"`
}

// ProcessListData is the payload of EventProcessListUpdated.
type ProcessListData struct {
	Processes []ProcessInfo `json:"processes"`
}

// NewEvent builds an event envelope, marshaling the payload.
func NewEvent(t EventType, data any) (Event, error) {
	ev := Event{Type: t, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("marshal event data: %w", err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// ParseData parses an envelope payload into a specific type.
func ParseData(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	return nil
}
