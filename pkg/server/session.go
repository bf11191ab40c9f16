package server

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/glacieros/glacierd/pkg/bus"
	"github.com/glacieros/glacierd/pkg/protocol"
)

// session is one observer's transport: an outbound loop serializing bus
// events to the wire and an inbound loop turning wire frames into commands.
// Either loop ending ends the session; the other loop is actively
// cancelled, not abandoned.
type session struct {
	id       string
	conn     net.Conn
	handler  Handler
	snapshot SnapshotFunc
	bus      *bus.Bus
	logger   zerolog.Logger
}

// run drives the session until the connection or the daemon goes away.
// engineCtx is the daemon context: commands are handled under it so closing
// this observer never cancels work it started.
func (s *session) run(engineCtx context.Context) error {
	defer s.conn.Close()

	// Subscribe before reading the snapshot so nothing published in
	// between is missed. State snapshots already buffered at that point
	// are older than the snapshot about to be read and would roll the
	// observer's view back, so they are dropped; everything else queued
	// is forwarded right after the opening snapshot.
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)
	queued := dropStaleState(sub)

	enc := protocol.NewEncoder(s.conn)

	opening, err := protocol.NewEvent(protocol.EventStateChanged, s.snapshot())
	if err != nil {
		return err
	}
	if err := enc.EncodeEvent(opening); err != nil {
		return err
	}
	for _, ev := range queued {
		if err := enc.EncodeEvent(ev); err != nil {
			return err
		}
	}
	s.logger.Info().Msg("observer connected")

	g, ctx := errgroup.WithContext(engineCtx)

	// Unblock the inbound read when the session is done.
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	g.Go(func() error {
		return s.outbound(ctx, enc, sub)
	})
	g.Go(func() error {
		return s.inbound(engineCtx)
	})

	err = g.Wait()
	s.logger.Info().Msg("observer disconnected")
	if err == nil || errors.Is(err, io.EOF) || isClosedConn(err) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// outbound forwards bus events to the wire. A write failure ends the
// session.
func (s *session) outbound(ctx context.Context, enc *protocol.Encoder, sub *bus.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := enc.EncodeEvent(ev); err != nil {
				return err
			}
		}
	}
}

// inbound reads command frames. Malformed frames are logged and dropped
// while the connection stays open; a read failure ends the session.
func (s *session) inbound(engineCtx context.Context) error {
	dec := protocol.NewDecoder(s.conn)
	for {
		cmd, err := dec.DecodeCommand()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedFrame) {
				s.logger.Warn().Err(err).Msg("dropping malformed frame")
				continue
			}
			return err
		}
		s.logger.Debug().Str("command", string(cmd.Type)).Msg("command received")
		s.handler.Handle(engineCtx, *cmd)
	}
}

// dropStaleState drains whatever is already buffered on a fresh
// subscription. The engine persists a state before publishing it, so a
// state_changed buffered here is superseded by the snapshot read next and
// is discarded; other event kinds are returned for forwarding.
func dropStaleState(sub *bus.Subscription) []protocol.Event {
	var kept []protocol.Event
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return kept
			}
			if ev.Type == protocol.EventStateChanged {
				continue
			}
			kept = append(kept, ev)
		default:
			return kept
		}
	}
}
