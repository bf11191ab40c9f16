package bus

import (
	"testing"

	"github.com/glacieros/glacierd/pkg/protocol"
)

func logEvent(t *testing.T, line string) protocol.Event {
	t.Helper()
	ev, err := protocol.NewEvent(protocol.EventInstallLog, protocol.LogLineData{Line: line})
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	return ev
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(10, nil)
	first := b.Subscribe()
	second := b.Subscribe()

	b.Publish(logEvent(t, "hello"))

	for i, sub := range []*Subscription{first, second} {
		select {
		case ev := <-sub.C:
			if ev.Type != protocol.EventInstallLog {
				t.Errorf("subscriber %d got %v, want %v", i, ev.Type, protocol.EventInstallLog)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestSubscriberOnlySeesEventsAfterSubscribe(t *testing.T) {
	b := New(10, nil)
	b.Publish(logEvent(t, "before"))

	sub := b.Subscribe()
	b.Publish(logEvent(t, "after"))

	ev := <-sub.C
	var data protocol.LogLineData
	if err := protocol.ParseData(ev.Data, &data); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}
	if data.Line != "after" {
		t.Errorf("Line = %q, want %q", data.Line, "after")
	}
	select {
	case <-sub.C:
		t.Error("received an event published before subscription")
	default:
	}
}

func TestPublishWithZeroSubscribersIsNoOp(t *testing.T) {
	b := New(10, nil)
	// Must not panic or block.
	b.Publish(logEvent(t, "nobody listening"))
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New(2, nil)
	slow := b.Subscribe()
	fast := b.Subscribe()

	for i := 0; i < 5; i++ {
		b.Publish(logEvent(t, "line"))
		// Drain fast so it never fills.
		<-fast.C
	}

	if got := slow.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
	if got := fast.Dropped(); got != 0 {
		t.Errorf("fast Dropped() = %d, want 0", got)
	}
	if got := len(slow.ch); got != 2 {
		t.Errorf("slow buffer has %d events, want 2", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(10, nil)
	sub := b.Subscribe()
	b.Unsubscribe(sub)

	if _, open := <-sub.C; open {
		t.Error("channel still open after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(logEvent(t, "late"))
	// Double unsubscribe is harmless.
	b.Unsubscribe(sub)
}
