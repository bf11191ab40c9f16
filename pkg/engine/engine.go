package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/glacieros/glacierd/pkg/bus"
	"github.com/glacieros/glacierd/pkg/process"
	"github.com/glacieros/glacierd/pkg/protocol"
)

// Runner spawns a supervised external command and streams its output.
// Implemented by process.Supervisor.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) <-chan process.Output
}

// SystemInspector gathers machine facts synchronously. Implemented by
// sysinfo.Collector.
type SystemInspector interface {
	Summary(ctx context.Context) (protocol.SystemSummary, error)
	Check(ctx context.Context) (protocol.CheckResult, error)
	Disks(ctx context.Context) ([]protocol.DiskInfo, error)
	Processes(ctx context.Context) ([]protocol.ProcessInfo, error)
}

// ProjectRecorder persists appliance facts across builds. Implemented by
// project.Project.
type ProjectRecorder interface {
	FlakeRef() string
	SetInstallDisk(ctx context.Context, path string) error
	MarkChangesApplied(ctx context.Context) error
	RecordBuild(ctx context.Context, kind string, status int) error
}

// CommandMetrics records command and build outcomes. Implemented by
// telemetry.Metrics; may be nil.
type CommandMetrics interface {
	RecordCommand(commandType, status string)
	RecordBuild(kind, status string, duration time.Duration)
}

// CommandTracer opens spans around command handling and build runs.
// Implemented by telemetry.Tracer; may be nil.
type CommandTracer interface {
	StartCommandSpan(ctx context.Context, commandType string) (context.Context, trace.Span)
	StartBuildSpan(ctx context.Context, kind, buildID string) (context.Context, trace.Span)
}

// endSpan closes a span with the outcome of the work it covered.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// broadcaster wraps the bus with envelope construction and failure logging.
// Marshal failures are logged and swallowed; publishing never fails a
// command.
type broadcaster struct {
	bus    *bus.Bus
	logger zerolog.Logger
}

func (b broadcaster) event(t protocol.EventType, data any) {
	ev, err := protocol.NewEvent(t, data)
	if err != nil {
		b.logger.Error().Err(err).Str("event", string(t)).Msg("drop unencodable event")
		return
	}
	b.bus.Publish(ev)
}

func (b broadcaster) errorEvent(message string) {
	b.event(protocol.EventError, protocol.ErrorData{Message: message})
}

func commandStatus(err error) string {
	if err == nil {
		return "ok"
	}
	if class := ClassOf(err); class != "" {
		return string(class)
	}
	return "error"
}
