// Package process supervises the privileged external builds: it turns a
// long-running command into an asynchronous stream of typed output
// elements, decoupled from any lock held by the caller.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// OutputKind identifies one element of a supervised process's stream.
type OutputKind string

const (
	// OutputStdout carries one stdout line.
	OutputStdout OutputKind = "stdout"
	// OutputStderr carries one stderr line.
	OutputStderr OutputKind = "stderr"
	// OutputCompleted is the single terminal element after the process
	// exits; it carries the exit status.
	OutputCompleted OutputKind = "completed"
	// OutputError is the single terminal element when the process could
	// not be spawned or waited on. No OutputCompleted follows it.
	OutputError OutputKind = "error"
)

// Output is one element of the stream produced by Run. It never crosses
// the wire directly; the command processors translate each element into
// events and state transitions.
type Output struct {
	Kind   OutputKind
	Line   string
	Status int
	Err    string
}

// Supervisor spawns privileged commands and streams their output. Every
// line is also mirrored to the structured logger.
type Supervisor struct {
	logger zerolog.Logger
}

// NewSupervisor creates a supervisor mirroring output lines to logger.
func NewSupervisor(logger zerolog.Logger) *Supervisor {
	return &Supervisor{logger: logger.With().Str("component", "supervisor").Logger()}
}

// outputBuffer bounds the stream channel so readers briefly ahead of the
// consumer do not block the pipes.
const outputBuffer = 64

// Run spawns name with args and returns its output stream. Two concurrent
// readers drain stdout and stderr; each individual stream preserves line
// order, but ordering between the two is not guaranteed. The channel is
// closed after the terminal element. The caller must not hold any state
// lock while consuming the stream.
//
// There is no cancellation beyond ctx and no timeout: a hung process hangs
// the stream indefinitely.
func (s *Supervisor) Run(ctx context.Context, name string, args ...string) <-chan Output {
	out := make(chan Output, outputBuffer)

	go func() {
		defer close(out)

		cmd := exec.CommandContext(ctx, name, args...)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			out <- Output{Kind: OutputError, Err: fmt.Sprintf("stdout pipe: %v", err)}
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			out <- Output{Kind: OutputError, Err: fmt.Sprintf("stderr pipe: %v", err)}
			return
		}

		if err := cmd.Start(); err != nil {
			out <- Output{Kind: OutputError, Err: fmt.Sprintf("spawn %s: %v", name, err)}
			return
		}

		s.logger.Info().Str("command", name).Strs("args", args).Int("pid", cmd.Process.Pid).Msg("process started")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.drain(stdout, "stdout", OutputStdout, out)
		}()
		go func() {
			defer wg.Done()
			s.drain(stderr, "stderr", OutputStderr, out)
		}()

		// Both pipes must be drained before Wait closes them.
		wg.Wait()

		if err := cmd.Wait(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				s.logger.Warn().Str("command", name).Int("status", exitErr.ExitCode()).Msg("process exited nonzero")
				out <- Output{Kind: OutputCompleted, Status: exitErr.ExitCode()}
				return
			}
			out <- Output{Kind: OutputError, Err: fmt.Sprintf("wait %s: %v", name, err)}
			return
		}

		s.logger.Info().Str("command", name).Msg("process completed")
		out <- Output{Kind: OutputCompleted, Status: 0}
	}()

	return out
}

// drain forwards each line of r immediately, preserving order within the
// stream, and mirrors it to the logger.
func (s *Supervisor) drain(r io.Reader, stream string, kind OutputKind, out chan<- Output) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		s.logger.Debug().Str("stream", stream).Msg(line)
		out <- Output{Kind: kind, Line: line}
	}
}
