package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callbridge/internal/session"
)

// Controller wraps the session provider with room lifecycle rules:
// idempotent room creation, validated leg placement, best-effort teardown
// and room merging. It is the only component that mutates legs.
//
// Concurrency: placing legs in different rooms is safe from any goroutine;
// mutation of one room's leg set is expected to be serialized by the caller
// that owns the room (the escalation context).
type Controller struct {
	provider session.Provider
	registry Registry
	trunkID  string
	log      *slog.Logger

	mu   sync.Mutex
	legs map[string][]*Leg // room name -> placed legs

	// Bounded retry for transient provider failures on room creation.
	retryAttempts int
	retryBackoff  time.Duration

	claimTTL        time.Duration
	teardownTimeout time.Duration
}

func NewController(provider session.Provider, registry Registry, trunkID string, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		provider:        provider,
		registry:        registry,
		trunkID:         trunkID,
		log:             log,
		legs:            make(map[string][]*Leg),
		retryAttempts:   3,
		retryBackoff:    200 * time.Millisecond,
		claimTTL:        2 * time.Hour,
		teardownTimeout: 5 * time.Second,
	}
}

// CreateRoom is idempotent by identity: repeated calls with the same
// identity return the same room. Transient provider failures are retried a
// small fixed number of times with doubling backoff before surfacing.
func (c *Controller) CreateRoom(ctx context.Context, identity, metadata string) (session.Room, error) {
	roomName := "outbound-" + identity
	claimed, _, err := c.registry.Claim(ctx, identity, roomName, c.claimTTL)
	if err != nil {
		return session.Room{}, fmt.Errorf("rooms: claim failed: %w", err)
	}

	var room session.Room
	backoff := c.retryBackoff
	for attempt := 1; ; attempt++ {
		room, err = c.provider.CreateRoom(ctx, session.CreateRoomRequest{Name: claimed, Metadata: metadata})
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, session.ErrProviderUnavailable) || attempt >= c.retryAttempts {
			return session.Room{}, err
		}
		c.log.Warn("room create retry", "room", claimed, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return session.Room{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// PlaceLeg validates the destination, then dials it into the room. The leg
// is returned in dialing status; progress arrives asynchronously through
// WatchLeg / AwaitConnected.
func (c *Controller) PlaceLeg(ctx context.Context, roomName, destination, identity string, params session.CallParams) (*Leg, error) {
	formatted := session.FormatNumber(destination)
	if err := session.ValidateNumber(formatted); err != nil {
		return nil, err
	}

	info, err := c.provider.Dial(ctx, session.DialRequest{
		RoomName:    roomName,
		TrunkID:     c.trunkID,
		Destination: formatted,
		Identity:    identity,
		Params:      params,
	})
	if err != nil {
		if errors.Is(err, session.ErrDialFailure) || errors.Is(err, session.ErrProviderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", session.ErrDialFailure, err)
	}

	leg := newLeg(info)
	c.mu.Lock()
	c.legs[roomName] = append(c.legs[roomName], leg)
	c.mu.Unlock()

	c.log.Info("leg placed", "room", roomName, "leg_id", leg.ID(), "identity", identity)
	return leg, nil
}

// AwaitConnected blocks until the leg reports connected, fails, or the
// deadline passes. Leg status is updated from every observed event, so a
// leg never jumps from dialing to merged without passing through connected.
func (c *Controller) AwaitConnected(ctx context.Context, leg *Leg, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events, err := c.provider.LegEvents(waitCtx, leg.ID())
	if err != nil {
		return err
	}
	if leg.Status() == session.LegConnected {
		return nil
	}
	for {
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("%w: no answer within %s", session.ErrDialFailure, timeout)
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: event stream closed", session.ErrLegGone)
			}
			leg.setStatus(ev.Status)
			switch ev.Status {
			case session.LegConnected:
				return nil
			case session.LegFailed:
				return fmt.Errorf("%w: %s", session.ErrDialFailure, ev.Reason)
			case session.LegEnded:
				return fmt.Errorf("%w: ended before connect", session.ErrLegGone)
			}
		}
	}
}

// WatchLeg mirrors provider events into the leg's status and relays them to
// the caller until the leg terminates or ctx ends.
func (c *Controller) WatchLeg(ctx context.Context, leg *Leg) (<-chan session.LegEvent, error) {
	events, err := c.provider.LegEvents(ctx, leg.ID())
	if err != nil {
		return nil, err
	}
	out := make(chan session.LegEvent, 16)
	go func() {
		defer close(out)
		for ev := range events {
			leg.setStatus(ev.Status)
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SetHold switches the leg's media to or from hold audio.
func (c *Controller) SetHold(ctx context.Context, leg *Leg, hold bool) error {
	if err := c.provider.SetHold(ctx, leg.ID(), hold); err != nil {
		return err
	}
	if hold {
		leg.setStatus(session.LegOnHold)
	} else {
		leg.setStatus(session.LegConnected)
	}
	return nil
}

// EndLeg is best-effort teardown: it never blocks past the teardown timeout
// and logs rather than propagates failures when the leg is already gone.
func (c *Controller) EndLeg(ctx context.Context, leg *Leg) {
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.teardownTimeout)
	defer cancel()

	if err := c.provider.Hangup(endCtx, leg.ID()); err != nil {
		if errors.Is(err, session.ErrLegGone) {
			c.log.Debug("leg already gone", "leg_id", leg.ID())
		} else {
			c.log.Warn("leg hangup failed", "leg_id", leg.ID(), "err", err)
		}
	}
	leg.setStatus(session.LegEnded)
}

// EndRoom tears the room down best-effort and releases the identity claim.
func (c *Controller) EndRoom(ctx context.Context, roomName, identity string) {
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.teardownTimeout)
	defer cancel()

	if err := c.provider.DeleteRoom(endCtx, roomName); err != nil {
		c.log.Warn("room delete failed", "room", roomName, "err", err)
	}
	if identity != "" {
		if err := c.registry.Release(endCtx, identity); err != nil {
			c.log.Warn("room claim release failed", "identity", identity, "err", err)
		}
	}

	c.mu.Lock()
	for _, leg := range c.legs[roomName] {
		if leg.Active() {
			leg.setStatus(session.LegEnded)
		}
	}
	delete(c.legs, roomName)
	c.mu.Unlock()
}

// MergeRooms moves roomB's media into roomA so customer and supervisor share
// one path. Both rooms must still hold an active leg.
func (c *Controller) MergeRooms(ctx context.Context, roomA, roomB string) error {
	if !c.hasActiveLeg(roomA) || !c.hasActiveLeg(roomB) {
		return fmt.Errorf("%w: a room has no active leg", session.ErrMergeFailure)
	}
	if err := c.provider.Merge(ctx, roomA, roomB); err != nil {
		if errors.Is(err, session.ErrMergeFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", session.ErrMergeFailure, err)
	}

	c.mu.Lock()
	moved := c.legs[roomB]
	for _, leg := range moved {
		if leg.Active() {
			leg.setRoom(roomA)
			leg.setStatus(session.LegMerged)
		}
	}
	for _, leg := range c.legs[roomA] {
		if leg.Active() {
			leg.setStatus(session.LegMerged)
		}
	}
	c.legs[roomA] = append(c.legs[roomA], moved...)
	delete(c.legs, roomB)
	c.mu.Unlock()

	c.log.Info("rooms merged", "into", roomA, "from", roomB)
	return nil
}

func (c *Controller) hasActiveLeg(roomName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, leg := range c.legs[roomName] {
		if leg.Active() {
			return true
		}
	}
	return false
}
