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

// InstallEngine is the command processor for the install protocol. Exactly
// one instance exists per daemon; every session funnels commands through
// Handle and observes the results on the bus.
type InstallEngine struct {
	store   *Store[protocol.InstallState]
	b       broadcaster
	runner  Runner
	sys     SystemInspector
	project ProjectRecorder
	metrics CommandMetrics
	tracer  CommandTracer
	logger  zerolog.Logger
	command []string

	// mu serializes command handling. It is never held while consuming a
	// build stream; the build goroutine mutates state on its own.
	mu sync.Mutex
}

// NewInstallEngine creates the install protocol engine. command is the
// privileged build-and-install command line; metrics and tracer may be nil.
func NewInstallEngine(eventBus *bus.Bus, runner Runner, sys SystemInspector, project ProjectRecorder,
	metrics CommandMetrics, tracer CommandTracer, logger zerolog.Logger, command []string) *InstallEngine {
	logger = logger.With().Str("component", "install-engine").Logger()
	return &InstallEngine{
		store:   NewStore(protocol.IdleInstallState()),
		b:       broadcaster{bus: eventBus, logger: logger},
		runner:  runner,
		sys:     sys,
		project: project,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
		command: command,
	}
}

// State returns a snapshot of the current install state.
func (e *InstallEngine) State() protocol.InstallState {
	return e.store.Snapshot()
}

// Handle processes one client command. It has no return value; every
// outcome, including rejection, is observed through the bus. A command with
// no defined transition from the current state publishes exactly one Error
// event and leaves the state unchanged.
func (e *InstallEngine) Handle(ctx context.Context, cmd protocol.Command) {
	e.mu.Lock()
	defer e.mu.Unlock()

	span := trace.SpanFromContext(ctx)
	if e.tracer != nil {
		ctx, span = e.tracer.StartCommandSpan(ctx, string(cmd.Type))
	}

	var err error
	switch cmd.Type {
	case protocol.CommandPerformSystemCheck:
		err = e.performSystemCheck(ctx)
	case protocol.CommandGetSystemSummary:
		err = e.getSystemSummary(ctx)
	case protocol.CommandGetProcessList:
		err = e.getProcessList(ctx)
	case protocol.CommandUpdateConfig:
		err = e.updateConfig()
	case protocol.CommandUpdateConfigFinished:
		err = e.updateConfigFinished(ctx)
	case protocol.CommandInstallDiskSelected:
		err = e.installDiskSelected(ctx, cmd)
	case protocol.CommandStartInstallation:
		err = e.startInstallation(ctx)
	case protocol.CommandDevReset:
		err = e.devReset()
	default:
		err = NewPreconditionError(fmt.Sprintf("command %s not implemented in the install protocol", cmd.Type))
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

func (e *InstallEngine) replaceAndBroadcast(state protocol.InstallState) {
	e.store.Replace(state)
	e.b.event(protocol.EventStateChanged, protocol.StateChangedData{Install: &state})
}

func (e *InstallEngine) performSystemCheck(ctx context.Context) error {
	prev := e.store.Snapshot()
	if prev.Phase == protocol.InstallPhaseInstalling {
		return NewPreconditionError("cannot run a system check while an installation is running")
	}

	e.replaceAndBroadcast(protocol.InstallState{Phase: protocol.InstallPhasePerformingCheck})

	result, err := e.sys.Check(ctx)
	if err != nil {
		// Restore the pre-check state so observers are not stuck in
		// PerformingCheck.
		e.replaceAndBroadcast(prev)
		return NewCollaboratorError("system check failed", err)
	}

	e.replaceAndBroadcast(protocol.InstallState{
		Phase: protocol.InstallPhaseCheckCompleted,
		Check: &result,
	})
	return nil
}

func (e *InstallEngine) getSystemSummary(ctx context.Context) error {
	summary, err := e.sys.Summary(ctx)
	if err != nil {
		return NewCollaboratorError("system summary failed", err)
	}
	e.b.event(protocol.EventSystemSummaryUpdated, summary)
	return nil
}

func (e *InstallEngine) getProcessList(ctx context.Context) error {
	processes, err := e.sys.Processes(ctx)
	if err != nil {
		return NewCollaboratorError("process list failed", err)
	}
	e.b.event(protocol.EventProcessListUpdated, protocol.ProcessListData{Processes: processes})
	return nil
}

func (e *InstallEngine) updateConfig() error {
	state := e.store.Snapshot()
	if state.Phase != protocol.InstallPhaseCheckCompleted || state.Check == nil || !state.Check.Compatible {
		return NewPreconditionError("configuration editing requires a passed system check")
	}
	e.replaceAndBroadcast(protocol.InstallState{Phase: protocol.InstallPhaseUpdateConfig})
	return nil
}

func (e *InstallEngine) updateConfigFinished(ctx context.Context) error {
	state := e.store.Snapshot()
	if state.Phase != protocol.InstallPhaseUpdateConfig {
		return NewPreconditionError("configuration is not being edited")
	}

	disks, err := e.sys.Disks(ctx)
	if err != nil {
		e.replaceAndBroadcast(protocol.InstallState{
			Phase:   protocol.InstallPhaseSelectDiskError,
			Message: fmt.Sprintf("disk enumeration failed: %v", err),
		})
		return nil
	}
	if len(disks) == 0 {
		e.replaceAndBroadcast(protocol.InstallState{
			Phase:   protocol.InstallPhaseSelectDiskError,
			Message: "no candidate install disks found",
		})
		return nil
	}

	e.replaceAndBroadcast(protocol.InstallState{
		Phase: protocol.InstallPhaseSelectDisk,
		Disks: disks,
	})
	return nil
}

func (e *InstallEngine) installDiskSelected(ctx context.Context, cmd protocol.Command) error {
	state := e.store.Snapshot()
	if state.Phase != protocol.InstallPhaseSelectDisk {
		return NewPreconditionError("no disk selection in progress")
	}

	var data protocol.InstallDiskSelectedData
	if err := protocol.ParseData(cmd.Data, &data); err != nil {
		return NewPreconditionError(fmt.Sprintf("invalid disk selection: %v", err))
	}

	var selected *protocol.DiskInfo
	for i := range state.Disks {
		if state.Disks[i].Path == data.Path {
			selected = &state.Disks[i]
			break
		}
	}
	if selected == nil {
		e.replaceAndBroadcast(protocol.InstallState{
			Phase:   protocol.InstallPhaseSelectDiskError,
			Message: fmt.Sprintf("%s is not a candidate install disk", data.Path),
		})
		return nil
	}

	if err := e.project.SetInstallDisk(ctx, selected.Path); err != nil {
		return NewCollaboratorError("record install disk", err)
	}
	summary, err := e.sys.Summary(ctx)
	if err != nil {
		return NewCollaboratorError("system summary failed", err)
	}

	e.replaceAndBroadcast(protocol.InstallState{
		Phase: protocol.InstallPhasePreInstallConfirm,
		Confirm: &protocol.PreInstallConfirm{
			Disk:     *selected,
			FlakeRef: e.project.FlakeRef(),
			Summary:  summary,
		},
	})
	return nil
}

func (e *InstallEngine) startInstallation(ctx context.Context) error {
	state := e.store.Snapshot()
	allowed := state.Phase == protocol.InstallPhasePreInstallConfirm ||
		(state.Phase == protocol.InstallPhaseCheckCompleted && state.Check != nil && state.Check.Compatible)
	if !allowed {
		return NewPreconditionError("installation requires a passed system check")
	}
	if len(e.command) == 0 {
		return NewCollaboratorError("no install command configured", nil)
	}

	tracker := NewStepTracker()
	e.replaceAndBroadcast(protocol.InstallState{
		Phase: protocol.InstallPhaseInstalling,
		Steps: tracker.Steps(),
	})

	buildID := uuid.NewString()
	buildCtx := ctx
	if e.tracer != nil {
		buildCtx, _ = e.tracer.StartBuildSpan(ctx, "install", buildID)
	}
	e.logger.Info().Str("build_id", buildID).Msg("starting installation")

	stream := e.runner.Run(buildCtx, e.command[0], e.command[1:]...)
	go e.superviseBuild(buildCtx, tracker, stream)
	return nil
}

func (e *InstallEngine) devReset() error {
	state := e.store.Snapshot()
	if state.Phase == protocol.InstallPhaseInstalling {
		return NewPreconditionError("cannot reset while an installation is running")
	}
	e.replaceAndBroadcast(protocol.IdleInstallState())
	return nil
}

// superviseBuild consumes one build's output stream to completion. It runs
// on its own goroutine; the command mutex is not held here, so sessions keep
// getting snapshots and rejections while the build runs.
func (e *InstallEngine) superviseBuild(ctx context.Context, tracker *StepTracker, stream <-chan process.Output) {
	defer trace.SpanFromContext(ctx).End()
	start := time.Now()
	for out := range stream {
		switch out.Kind {
		case process.OutputStdout:
			if name, ok := ParseStepMarker(out.Line); ok {
				e.applySteps(tracker.Advance(name), tracker)
				continue
			}
			e.b.event(protocol.EventInstallLog, protocol.LogLineData{Line: out.Line})
		case process.OutputStderr:
			e.b.event(protocol.EventInstallLog, protocol.LogLineData{Line: out.Line, Stderr: true})
		case process.OutputCompleted:
			e.finishBuild(ctx, tracker, out.Status, start)
		case process.OutputError:
			e.failBuild(ctx, tracker, fmt.Sprintf("install build: %s", out.Err), start)
		}
	}
}

func (e *InstallEngine) finishBuild(ctx context.Context, tracker *StepTracker, status int, start time.Time) {
	if status != 0 {
		e.failBuild(ctx, tracker, fmt.Sprintf("install exited with status %d", status), start)
		return
	}

	e.applySteps(tracker.CompleteAll(), tracker)
	e.replaceAndBroadcast(protocol.InstallState{
		Phase: protocol.InstallPhaseInstallSucceeded,
		Steps: tracker.Steps(),
	})
	e.recordBuild(ctx, 0, "success", time.Since(start))
	trace.SpanFromContext(ctx).SetStatus(codes.Ok, "")
	e.logger.Info().Dur("duration", time.Since(start)).Msg("installation succeeded")
}

func (e *InstallEngine) failBuild(ctx context.Context, tracker *StepTracker, message string, start time.Time) {
	e.applySteps(tracker.FailCurrent(message), tracker)
	e.b.errorEvent(message)
	e.replaceAndBroadcast(protocol.InstallState{
		Phase:   protocol.InstallPhaseInstallFailed,
		Message: message,
	})
	e.recordBuild(ctx, 1, "failure", time.Since(start))
	trace.SpanFromContext(ctx).SetStatus(codes.Error, message)
	e.logger.Error().Str("reason", message).Msg("installation failed")
}

// applySteps publishes one step update per changed step and refreshes the
// Installing snapshot so late subscribers see current progress.
func (e *InstallEngine) applySteps(changed []protocol.InstallStep, tracker *StepTracker) {
	if len(changed) == 0 {
		return
	}
	for _, step := range changed {
		e.b.event(protocol.EventInstallStepUpdate, protocol.StepUpdateData{Step: step})
	}
	e.store.Replace(protocol.InstallState{
		Phase: protocol.InstallPhaseInstalling,
		Steps: tracker.Steps(),
	})
}

func (e *InstallEngine) recordBuild(ctx context.Context, status int, label string, duration time.Duration) {
	if err := e.project.RecordBuild(ctx, "install", status); err != nil {
		e.logger.Error().Err(err).Msg("record build outcome")
	}
	if e.metrics != nil {
		e.metrics.RecordBuild("install", label, duration)
	}
}
