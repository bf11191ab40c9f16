package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a command failure for reporting and metrics.
type ErrorClass string

const (
	// ErrorClassPrecondition means the command has no defined transition
	// from the current state. The observer may retry a valid command.
	ErrorClassPrecondition ErrorClass = "precondition"

	// ErrorClassCollaborator means a synchronous collaborator (system
	// check, disk enumeration, project record) failed. State is unchanged.
	ErrorClassCollaborator ErrorClass = "collaborator"

	// ErrorClassBuild means the supervised build failed to spawn or exited
	// nonzero. The protocol moves to its terminal failure state.
	ErrorClassBuild ErrorClass = "build"
)

// CommandError is a classified command failure. It is reported to observers
// as an Error event; nothing in the engine panics or exits over one.
type CommandError struct {
	Class   ErrorClass
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// EventMessage returns the text carried by the Error event for this failure.
func (e *CommandError) EventMessage() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	}
	return e.Message
}

// NewPreconditionError reports a command that is invalid in the current
// state.
func NewPreconditionError(message string) *CommandError {
	return &CommandError{Class: ErrorClassPrecondition, Message: message}
}

// NewCollaboratorError reports a failed collaborator call.
func NewCollaboratorError(message string, err error) *CommandError {
	return &CommandError{Class: ErrorClassCollaborator, Message: message, Err: err}
}

// NewBuildError reports a failed build.
func NewBuildError(message string, err error) *CommandError {
	return &CommandError{Class: ErrorClassBuild, Message: message, Err: err}
}

// ClassOf returns the class of a command error, or empty for other errors.
func ClassOf(err error) ErrorClass {
	var e *CommandError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}
