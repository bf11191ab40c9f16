package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/glacieros/glacierd/pkg/bus"
	"github.com/glacieros/glacierd/pkg/protocol"
)

type recordingHandler struct {
	cmds chan protocol.Command
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{cmds: make(chan protocol.Command, 16)}
}

func (h *recordingHandler) Handle(_ context.Context, cmd protocol.Command) {
	h.cmds <- cmd
}

func idleSnapshot() protocol.StateChangedData {
	state := protocol.IdleInstallState()
	return protocol.StateChangedData{Install: &state}
}

func startServer(t *testing.T, handler Handler) (*Server, *bus.Bus) {
	t.Helper()
	b := bus.New(0, nil)
	srv := New("127.0.0.1:0", handler, idleSnapshot, b, nil, zerolog.Nop())
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return srv, b
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, dec *protocol.Decoder) *protocol.Event {
	t.Helper()
	type result struct {
		ev  *protocol.Event
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ev, err := dec.DecodeEvent()
		ch <- result{ev, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("decode event: %v", r.err)
		}
		return r.ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSessionOpensWithSnapshot(t *testing.T) {
	srv, _ := startServer(t, newRecordingHandler())
	conn := dial(t, srv)

	dec := protocol.NewDecoder(conn)
	ev := readEvent(t, dec)
	if ev.Type != protocol.EventStateChanged {
		t.Fatalf("first event = %s, want state_changed", ev.Type)
	}

	var data protocol.StateChangedData
	if err := protocol.ParseData(ev.Data, &data); err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	if data.Install == nil || data.Install.Phase != protocol.InstallPhaseIdle {
		t.Errorf("snapshot = %+v, want idle install state", data)
	}
}

func TestSessionStreamsBusEvents(t *testing.T) {
	srv, b := startServer(t, newRecordingHandler())
	conn := dial(t, srv)
	dec := protocol.NewDecoder(conn)
	readEvent(t, dec) // snapshot

	published, err := protocol.NewEvent(protocol.EventInstallLog, protocol.LogLineData{Line: "building"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}

	// The subscription is registered before the snapshot is written, so by
	// the time the snapshot arrives the session sees published events.
	b.Publish(published)

	ev := readEvent(t, dec)
	if ev.Type != protocol.EventInstallLog {
		t.Fatalf("event = %s, want install_log", ev.Type)
	}
	var data protocol.LogLineData
	if err := protocol.ParseData(ev.Data, &data); err != nil {
		t.Fatalf("parse log line: %v", err)
	}
	if data.Line != "building" {
		t.Errorf("line = %q, want %q", data.Line, "building")
	}
}

func TestStaleStateDroppedBeforeSnapshot(t *testing.T) {
	b := bus.New(8, nil)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	stale, err := protocol.NewEvent(protocol.EventStateChanged, idleSnapshot())
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	log, err := protocol.NewEvent(protocol.EventInstallLog, protocol.LogLineData{Line: "partitioning"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}

	// Buffered before the snapshot read: both state snapshots are
	// superseded, the log line is not.
	b.Publish(stale)
	b.Publish(log)
	b.Publish(stale)

	kept := dropStaleState(sub)
	if len(kept) != 1 {
		t.Fatalf("kept %d events, want 1", len(kept))
	}
	if kept[0].Type != protocol.EventInstallLog {
		t.Errorf("kept event = %s, want install_log", kept[0].Type)
	}
	select {
	case ev := <-sub.C:
		t.Errorf("subscription still buffers a %s event", ev.Type)
	default:
	}
}

func TestInboundCommandReachesHandler(t *testing.T) {
	handler := newRecordingHandler()
	srv, _ := startServer(t, handler)
	conn := dial(t, srv)
	dec := protocol.NewDecoder(conn)
	readEvent(t, dec)

	enc := protocol.NewEncoder(conn)
	cmd, err := protocol.NewCommand(protocol.CommandPerformSystemCheck, nil)
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if err := enc.EncodeCommand(cmd); err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}

	select {
	case got := <-handler.cmds:
		if got.Type != protocol.CommandPerformSystemCheck {
			t.Errorf("command = %s, want perform_system_check", got.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never received the command")
	}
}

func TestMalformedFrameDroppedConnectionSurvives(t *testing.T) {
	handler := newRecordingHandler()
	srv, _ := startServer(t, handler)
	conn := dial(t, srv)
	dec := protocol.NewDecoder(conn)
	readEvent(t, dec)

	if _, err := conn.Write([]byte("{not json\n")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if _, err := conn.Write([]byte(`{"type":"nonsense","timestamp":"2026-01-01T00:00:00Z"}` + "\n")); err != nil {
		t.Fatalf("write unknown command: %v", err)
	}

	enc := protocol.NewEncoder(conn)
	cmd, err := protocol.NewCommand(protocol.CommandDevReset, nil)
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if err := enc.EncodeCommand(cmd); err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}

	select {
	case got := <-handler.cmds:
		if got.Type != protocol.CommandDevReset {
			t.Errorf("command = %s, want dev_reset", got.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not survive the malformed frames")
	}
}

func TestEventsFanOutToAllObservers(t *testing.T) {
	srv, b := startServer(t, newRecordingHandler())

	connA := dial(t, srv)
	decA := protocol.NewDecoder(connA)
	readEvent(t, decA)

	connB := dial(t, srv)
	decB := protocol.NewDecoder(connB)
	readEvent(t, decB)

	ev, err := protocol.NewEvent(protocol.EventError, protocol.ErrorData{Message: "boom"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	b.Publish(ev)

	for _, dec := range []*protocol.Decoder{decA, decB} {
		got := readEvent(t, dec)
		if got.Type != protocol.EventError {
			t.Errorf("event = %s, want error", got.Type)
		}
	}
}

func TestClosedObserverUnsubscribes(t *testing.T) {
	srv, b := startServer(t, newRecordingHandler())
	conn := dial(t, srv)
	dec := protocol.NewDecoder(conn)
	readEvent(t, dec)

	if got := b.SubscriberCount(); got != 1 {
		t.Fatalf("subscriber count = %d, want 1", got)
	}

	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for b.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never unsubscribed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
