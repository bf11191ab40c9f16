// Package server exposes the engine's wire protocol on a TCP listener. Each
// accepted connection gets its own transport session; commands from any
// observer act on the shared engine, and every observer sees every event.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/glacieros/glacierd/pkg/bus"
	"github.com/glacieros/glacierd/pkg/protocol"
)

// Handler processes inbound commands. Implemented by engine.InstallEngine
// and engine.SwitchEngine.
type Handler interface {
	Handle(ctx context.Context, cmd protocol.Command)
}

// SnapshotFunc returns the engine's current state for a session's opening
// StateChanged event.
type SnapshotFunc func() protocol.StateChangedData

// SessionMetrics records session lifecycle counts. Implemented by
// telemetry.Metrics; may be nil.
type SessionMetrics interface {
	SessionOpened()
	SessionClosed()
}

// Server accepts observer connections and runs one session per connection.
// No session failure is fatal: the listener keeps answering new connections
// regardless of what happens to any single observer.
type Server struct {
	addr     string
	handler  Handler
	snapshot SnapshotFunc
	bus      *bus.Bus
	metrics  SessionMetrics
	logger   zerolog.Logger

	ln       net.Listener
	sessions sync.WaitGroup
}

// New creates a server. metrics may be nil.
func New(addr string, handler Handler, snapshot SnapshotFunc, eventBus *bus.Bus,
	metrics SessionMetrics, logger zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		handler:  handler,
		snapshot: snapshot,
		bus:      eventBus,
		metrics:  metrics,
		logger:   logger.With().Str("component", "server").Logger(),
	}
}

// Listen binds the listener. Call before Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled, then waits for all
// sessions to finish. Commands are handled under ctx, not under any single
// session, so an in-flight build outlives the observer that started it.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	stop := context.AfterFunc(ctx, func() {
		s.ln.Close()
	})
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.sessions.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		sess := &session{
			id:       uuid.New().String(),
			conn:     conn,
			handler:  s.handler,
			snapshot: s.snapshot,
			bus:      s.bus,
		}
		sess.logger = s.logger.With().
			Str("session_id", sess.id).
			Str("remote", conn.RemoteAddr().String()).
			Logger()

		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			if s.metrics != nil {
				s.metrics.SessionOpened()
				defer s.metrics.SessionClosed()
			}
			if err := sess.run(ctx); err != nil {
				sess.logger.Debug().Err(err).Msg("session ended")
			}
		}()
	}
}

// isClosedConn reports whether err is the normal end of a connection.
func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
