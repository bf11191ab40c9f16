package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/glacieros/glacierd/pkg/bus"
	"github.com/glacieros/glacierd/pkg/process"
	"github.com/glacieros/glacierd/pkg/protocol"
)

// SwitchEngine is the command processor for the update protocol of an
// already installed appliance. A failed switch lands in UpdateFailed rather
// than snapping back to Idle, so late subscribers can still see that the
// last switch went wrong; SwitchConfig from UpdateFailed retries.
type SwitchEngine struct {
	store   *Store[protocol.SystemState]
	b       broadcaster
	runner  Runner
	project ProjectRecorder
	metrics CommandMetrics
	tracer  CommandTracer
	logger  zerolog.Logger

	switchCommand []string
	rebootCommand []string

	mu sync.Mutex
}

// NewSwitchEngine creates the update protocol engine. switchCommand is the
// build-and-switch command line, rebootCommand the reboot command line;
// metrics and tracer may be nil.
func NewSwitchEngine(eventBus *bus.Bus, runner Runner, project ProjectRecorder,
	metrics CommandMetrics, tracer CommandTracer, logger zerolog.Logger, switchCommand, rebootCommand []string) *SwitchEngine {
	logger = logger.With().Str("component", "switch-engine").Logger()
	return &SwitchEngine{
		store:         NewStore(protocol.IdleSystemState()),
		b:             broadcaster{bus: eventBus, logger: logger},
		runner:        runner,
		project:       project,
		metrics:       metrics,
		tracer:        tracer,
		logger:        logger,
		switchCommand: switchCommand,
		rebootCommand: rebootCommand,
	}
}

// State returns a snapshot of the current system state.
func (e *SwitchEngine) State() protocol.SystemState {
	return e.store.Snapshot()
}

// Handle processes one client command, reporting every outcome through the
// bus.
func (e *SwitchEngine) Handle(ctx context.Context, cmd protocol.Command) {
	e.mu.Lock()
	defer e.mu.Unlock()

	span := trace.SpanFromContext(ctx)
	if e.tracer != nil {
		ctx, span = e.tracer.StartCommandSpan(ctx, string(cmd.Type))
	}

	var err error
	switch cmd.Type {
	case protocol.CommandSwitchConfig:
		err = e.switchConfig(ctx)
	case protocol.CommandReboot:
		err = e.reboot(ctx)
	case protocol.CommandDevReset:
		err = e.devReset()
	default:
		err = NewPreconditionError(fmt.Sprintf("command %s not implemented in the update protocol", cmd.Type))
	}

	if err != nil {
		e.logger.Warn().Err(err).Str("command", string(cmd.Type)).Msg("command rejected")
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			e.b.errorEvent(cmdErr.EventMessage())
		} else {
			e.b.errorEvent(err.Error())
		}
	}
	if e.metrics != nil {
		e.metrics.RecordCommand(string(cmd.Type), commandStatus(err))
	}
	endSpan(span, err)
}

func (e *SwitchEngine) replaceAndBroadcast(state protocol.SystemState) {
	e.store.Replace(state)
	e.b.event(protocol.EventStateChanged, protocol.StateChangedData{System: &state})
}

func (e *SwitchEngine) switchConfig(ctx context.Context) error {
	state := e.store.Snapshot()
	if state.Phase != protocol.SystemPhaseIdle && state.Phase != protocol.SystemPhaseUpdateFailed {
		return NewPreconditionError("a switch is already running")
	}
	if len(e.switchCommand) == 0 {
		return NewCollaboratorError("no switch command configured", nil)
	}

	e.replaceAndBroadcast(protocol.SystemState{Phase: protocol.SystemPhaseSwitching})

	buildID := uuid.NewString()
	buildCtx := ctx
	if e.tracer != nil {
		buildCtx, _ = e.tracer.StartBuildSpan(ctx, "switch", buildID)
	}
	e.logger.Info().Str("build_id", buildID).Msg("starting switch")

	stream := e.runner.Run(buildCtx, e.switchCommand[0], e.switchCommand[1:]...)
	go e.superviseSwitch(buildCtx, stream)
	return nil
}

func (e *SwitchEngine) devReset() error {
	state := e.store.Snapshot()
	if state.Phase == protocol.SystemPhaseSwitching {
		return NewPreconditionError("cannot reset while a switch is running")
	}
	e.replaceAndBroadcast(protocol.IdleSystemState())
	return nil
}

func (e *SwitchEngine) reboot(ctx context.Context) error {
	state := e.store.Snapshot()
	if state.Phase == protocol.SystemPhaseSwitching {
		return NewPreconditionError("cannot reboot while a switch is running")
	}
	if len(e.rebootCommand) == 0 {
		return NewCollaboratorError("no reboot command configured", nil)
	}

	// Fire and forget; the machine goes down if this works. The state is
	// left unchanged either way.
	stream := e.runner.Run(ctx, e.rebootCommand[0], e.rebootCommand[1:]...)
	go func() {
		for out := range stream {
			switch out.Kind {
			case process.OutputStdout, process.OutputStderr:
				e.b.event(protocol.EventUpdateLog, protocol.LogLineData{
					Line:   out.Line,
					Stderr: out.Kind == process.OutputStderr,
				})
			case process.OutputCompleted:
				if out.Status != 0 {
					e.b.errorEvent(fmt.Sprintf("reboot exited with status %d", out.Status))
				}
			case process.OutputError:
				e.b.errorEvent(fmt.Sprintf("reboot: %s", out.Err))
			}
		}
	}()
	return nil
}

// superviseSwitch consumes one switch build's output stream to completion on
// its own goroutine.
func (e *SwitchEngine) superviseSwitch(ctx context.Context, stream <-chan process.Output) {
	defer trace.SpanFromContext(ctx).End()
	start := time.Now()
	for out := range stream {
		switch out.Kind {
		case process.OutputStdout:
			e.b.event(protocol.EventUpdateLog, protocol.LogLineData{Line: out.Line})
		case process.OutputStderr:
			e.b.event(protocol.EventUpdateLog, protocol.LogLineData{Line: out.Line, Stderr: true})
		case process.OutputCompleted:
			e.finishSwitch(ctx, out.Status, start)
		case process.OutputError:
			e.failSwitch(ctx, fmt.Sprintf("switch build: %s", out.Err), start)
		}
	}
}

func (e *SwitchEngine) finishSwitch(ctx context.Context, status int, start time.Time) {
	if status != 0 {
		e.failSwitch(ctx, fmt.Sprintf("switch exited with status %d", status), start)
		return
	}

	if err := e.project.MarkChangesApplied(ctx); err != nil {
		e.logger.Error().Err(err).Msg("mark changes applied")
		e.b.errorEvent(fmt.Sprintf("record applied changes: %v", err))
	}
	e.replaceAndBroadcast(protocol.IdleSystemState())
	e.recordBuild(ctx, 0, "success", time.Since(start))
	trace.SpanFromContext(ctx).SetStatus(codes.Ok, "")
	e.logger.Info().Dur("duration", time.Since(start)).Msg("switch succeeded")
}

func (e *SwitchEngine) failSwitch(ctx context.Context, message string, start time.Time) {
	e.b.errorEvent(message)
	e.replaceAndBroadcast(protocol.SystemState{
		Phase:   protocol.SystemPhaseUpdateFailed,
		Message: message,
	})
	e.recordBuild(ctx, 1, "failure", time.Since(start))
	trace.SpanFromContext(ctx).SetStatus(codes.Error, message)
	e.logger.Error().Str("reason", message).Msg("switch failed")
}

func (e *SwitchEngine) recordBuild(ctx context.Context, status int, label string, duration time.Duration) {
	if err := e.project.RecordBuild(ctx, "switch", status); err != nil {
		e.logger.Error().Err(err).Msg("record build outcome")
	}
	if e.metrics != nil {
		e.metrics.RecordBuild("switch", label, duration)
	}
}
