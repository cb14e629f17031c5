package session

import (
	"context"
	"sync"
)

// Hub fans provider leg events out to per-leg subscribers. Webhook
// deliveries publish into the hub; each waiter blocks on its own channel,
// which keeps the control flow of the consumers linear.
//
// Publish never blocks: a slow subscriber loses intermediate transitions but
// the latest event per leg is retained and replayed to new subscribers, so a
// terminal status is never missed.
type Hub struct {
	mu   sync.Mutex
	subs map[string][]*hubSub
	last map[string]LegEvent
}

type hubSub struct {
	ch     chan LegEvent
	cancel context.CancelFunc
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string][]*hubSub),
		last: make(map[string]LegEvent),
	}
}

// Publish delivers ev to every subscriber of its leg and records it as the
// leg's latest event. Terminal events close subscriber channels.
func (h *Hub) Publish(ev LegEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last[ev.LegID] = ev
	for _, s := range h.subs[ev.LegID] {
		select {
		case s.ch <- ev:
		default:
			// Subscriber is lagging; it still sees the latest via replay.
		}
	}
	if ev.Status.Terminal() {
		for _, s := range h.subs[ev.LegID] {
			close(s.ch)
			s.cancel()
		}
		delete(h.subs, ev.LegID)
	}
}

// Subscribe returns a channel of events for legID. If the leg already has a
// recorded event it is replayed first. The channel closes when the leg
// reaches a terminal status or ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, legID string) <-chan LegEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan LegEvent, 16)
	if ev, ok := h.last[legID]; ok {
		ch <- ev
		if ev.Status.Terminal() {
			close(ch)
			return ch
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &hubSub{ch: ch, cancel: cancel}
	h.subs[legID] = append(h.subs[legID], s)

	go func() {
		<-subCtx.Done()
		h.unsubscribe(legID, s)
	}()
	return ch
}

func (h *Hub) unsubscribe(legID string, s *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[legID]
	for i, cur := range subs {
		if cur == s {
			h.subs[legID] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Forget drops the retained latest event for a leg. Called after teardown so
// the hub does not grow without bound.
func (h *Hub) Forget(legID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.last, legID)
}
