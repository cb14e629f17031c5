package session

import (
	"context"
	"testing"
	"time"
)

func TestHub_DeliversInOrder(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := h.Subscribe(ctx, "leg-1")
	h.Publish(LegEvent{LegID: "leg-1", Status: LegDialing, At: time.Now()})
	h.Publish(LegEvent{LegID: "leg-1", Status: LegConnected, At: time.Now()})

	if ev := <-ch; ev.Status != LegDialing {
		t.Fatalf("expected dialing first, got %q", ev.Status)
	}
	if ev := <-ch; ev.Status != LegConnected {
		t.Fatalf("expected connected second, got %q", ev.Status)
	}
}

func TestHub_TerminalClosesSubscribers(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := h.Subscribe(ctx, "leg-1")
	h.Publish(LegEvent{LegID: "leg-1", Status: LegEnded, At: time.Now()})

	if ev, ok := <-ch; !ok || ev.Status != LegEnded {
		t.Fatalf("expected ended event, got %+v ok=%v", ev, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after terminal event")
	}
}

func TestHub_ReplaysLatestToLateSubscriber(t *testing.T) {
	h := NewHub()
	h.Publish(LegEvent{LegID: "leg-1", Status: LegFailed, Reason: "busy", At: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := h.Subscribe(ctx, "leg-1")

	ev, ok := <-ch
	if !ok || ev.Status != LegFailed || ev.Reason != "busy" {
		t.Fatalf("expected replayed failure, got %+v ok=%v", ev, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after terminal replay")
	}
}

func TestHub_CancelUnsubscribes(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx, "leg-1")
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("expected channel closed after context cancel")
		}
	}
}
