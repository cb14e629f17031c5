package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"callbridge/internal/config"
	"callbridge/internal/rooms"
	"callbridge/internal/session"
	"callbridge/pkg/logger"
)

// Context tracks one outbound call from dial to teardown, including at most
// one in-flight escalation attempt at a time. All state transitions happen
// on a single loop goroutine; external callers only inject events.
type Context struct {
	id       string
	roomName string
	identity string
	customer *rooms.Leg

	ctrl     *rooms.Controller
	notifier DriverNotifier
	cfg      config.EscalationConfig
	log      *slog.Logger

	events   chan DriverEvent
	inFlight atomic.Bool

	mu         sync.Mutex
	state      State
	transcript string

	translog  TransitionLog
	done      chan struct{}
	closeOnce sync.Once
}

func newContext(id, roomName, identity string, customer *rooms.Leg, ctrl *rooms.Controller, notifier DriverNotifier, cfg config.EscalationConfig, log *slog.Logger) *Context {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Context{
		id:       id,
		roomName: roomName,
		identity: identity,
		customer: customer,
		ctrl:     ctrl,
		notifier: notifier,
		cfg:      cfg,
		log:      logger.ForCall(log, roomName),
		events:   make(chan DriverEvent, 8),
		state:    StateTalking,
		done:     make(chan struct{}),
	}
}

// ID returns the call identifier the context was started with.
func (c *Context) ID() string { return c.id }

// RoomName returns the customer room.
func (c *Context) RoomName() string { return c.roomName }

// CustomerLegID returns the customer leg identifier.
func (c *Context) CustomerLegID() string { return c.customer.ID() }

// State returns the current escalation state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns the driver transcript. Complete once Done is closed.
func (c *Context) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

// Done is closed when the call context reaches a terminal state.
func (c *Context) Done() <-chan struct{} { return c.done }

// Transitions returns the recorded state changes so far.
func (c *Context) Transitions() []Transition { return c.translog.Entries() }

// RequestEscalation asks the loop to start an escalation attempt. Only one
// attempt may be in flight; concurrent requests are rejected, not queued.
func (c *Context) RequestEscalation(reason string) error {
	if c.State().Terminal() {
		return ErrContextClosed
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return ErrAlreadyInProgress
	}
	select {
	case c.events <- EscalationRequested{Reason: reason}:
		return nil
	case <-c.done:
		c.inFlight.Store(false)
		return ErrContextClosed
	}
}

// Deliver injects a driver event into the context loop.
func (c *Context) Deliver(ev DriverEvent) error {
	if req, ok := ev.(EscalationRequested); ok {
		return c.RequestEscalation(req.Reason)
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrContextClosed
	}
}

// run is the single goroutine that owns every state transition. It exits
// when the call concludes or ctx is cancelled.
func (c *Context) run(ctx context.Context) {
	legEvents, err := c.ctrl.WatchLeg(ctx, c.customer)
	if err != nil {
		c.log.Warn("customer leg watch unavailable", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			c.teardown(ctx, "shutdown")
			return
		case <-c.done:
			// Concluded externally (operator end).
			return
		case le, ok := <-legEvents:
			if !ok {
				legEvents = nil
				continue
			}
			if le.Status == session.LegEnded || le.Status == session.LegFailed {
				c.conclude(StateEnded, "customer leg disconnected", c.Transcript())
				return
			}
		case ev := <-c.events:
			switch e := ev.(type) {
			case EscalationRequested:
				if c.escalate(ctx, legEvents, e.Reason) {
					return
				}
			case CallEnded:
				c.setTranscript(e.Transcript)
				c.conclude(StateEnded, "driver finished call", e.Transcript)
				c.endCustomer(ctx)
				return
			case SupervisorReady:
				// Stale acknowledgment outside an attempt; ignore.
				c.log.Debug("supervisor ready outside escalation attempt")
			}
		}
	}
}

// escalate drives one attempt through hold, briefing, and merge. It runs
// linearly on the loop goroutine; every wait carries a deadline. Returns
// true when the call context concluded during the attempt.
func (c *Context) escalate(ctx context.Context, legEvents <-chan session.LegEvent, reason string) (concluded bool) {
	defer c.inFlight.Store(false)

	c.log.Info("escalation requested", "reason", reason)

	if err := c.ctrl.SetHold(ctx, c.customer, true); err != nil {
		c.log.Error("placing customer on hold failed", "error", err)
		c.transition(StateTalking, StateFailed, "hold failed: "+err.Error())
		c.notifier.EscalationFailed(ctx, c.roomName, "hold failed")
		c.transition(StateFailed, StateTalking, "customer still attended")
		return false
	}
	c.transition(StateTalking, StateOnHold, reason)

	holdDeadline := time.Now().Add(c.cfg.HoldMax)
	holdTimer := time.NewTimer(c.cfg.HoldMax)
	defer holdTimer.Stop()

	if c.cfg.SupervisorNumber == "" {
		return c.abort(ctx, StateOnHold, ErrNoSupervisorConfigured.Error(), "", "", nil)
	}

	supIdentity := c.identity + "-sup"
	supRoom, err := c.ctrl.CreateRoom(ctx, supIdentity, reason)
	if err != nil {
		return c.abort(ctx, StateOnHold, "supervisor room: "+err.Error(), "", "", nil)
	}

	briefing := fmt.Sprintf("You are joining to assist with an escalated customer call. Reason: %s. Acknowledge when ready to take over.", reason)
	supLeg, err := c.ctrl.PlaceLeg(ctx, supRoom.Name, c.cfg.SupervisorNumber, "supervisor", session.CallParams{Instruction: briefing})
	if err != nil {
		return c.abort(ctx, StateOnHold, "supervisor dial: "+err.Error(), supRoom.Name, supIdentity, nil)
	}
	c.transition(StateOnHold, StateBriefing, "supervisor leg placed")

	dialTimeout := c.cfg.DialTimeout
	if remaining := time.Until(holdDeadline); remaining < dialTimeout {
		dialTimeout = remaining
	}
	if err := c.ctrl.AwaitConnected(ctx, supLeg, dialTimeout); err != nil {
		return c.abort(ctx, StateBriefing, "supervisor connect: "+err.Error(), supRoom.Name, supIdentity, supLeg)
	}

	// Supervisor is on the line; wait for the explicit ready signal before
	// merging. Hold expiry and customer disconnect both cut this short.
	for {
		select {
		case <-ctx.Done():
			c.abort(ctx, StateBriefing, "shutdown during briefing", supRoom.Name, supIdentity, supLeg)
			c.teardown(ctx, "shutdown")
			return true
		case <-c.done:
			c.ctrl.EndLeg(ctx, supLeg)
			c.ctrl.EndRoom(ctx, supRoom.Name, supIdentity)
			return true
		case <-holdTimer.C:
			return c.abort(ctx, StateBriefing, "hold time exceeded", supRoom.Name, supIdentity, supLeg)
		case le, ok := <-legEvents:
			if !ok {
				legEvents = nil
				continue
			}
			if le.Status == session.LegEnded || le.Status == session.LegFailed {
				c.ctrl.EndLeg(ctx, supLeg)
				c.ctrl.EndRoom(ctx, supRoom.Name, supIdentity)
				c.conclude(StateEnded, "customer hung up during escalation", c.Transcript())
				return true
			}
		case ev := <-c.events:
			switch e := ev.(type) {
			case SupervisorReady:
				return c.merge(ctx, legEvents, supRoom.Name, supIdentity, supLeg)
			case CallEnded:
				c.setTranscript(e.Transcript)
				c.ctrl.EndLeg(ctx, supLeg)
				c.ctrl.EndRoom(ctx, supRoom.Name, supIdentity)
				c.conclude(StateEnded, "driver finished call during escalation", e.Transcript)
				c.endCustomer(ctx)
				return true
			}
		}
	}
}

func (c *Context) merge(ctx context.Context, legEvents <-chan session.LegEvent, supRoom, supIdentity string, supLeg *rooms.Leg) (concluded bool) {
	c.transition(StateBriefing, StateMerging, "supervisor ready")

	if err := c.ctrl.SetHold(ctx, c.customer, false); err != nil {
		c.log.Warn("unhold before merge failed", "error", err)
	}
	if err := c.ctrl.MergeRooms(ctx, c.roomName, supRoom); err != nil {
		c.log.Error("merge failed", "error", err)
		return c.abort(ctx, StateMerging, "merge: "+err.Error(), supRoom, supIdentity, supLeg)
	}
	// Supervisor leg now lives in the customer room; the briefing room is
	// empty and can go.
	c.ctrl.EndRoom(ctx, supRoom, supIdentity)
	c.transition(StateMerging, StateMerged, "supervisor joined customer")
	c.log.Info("escalation complete, agent withdrawing")

	// The driver withdraws at merge and posts its transcript on the way
	// out. Wait for it so the record is complete, but only for so long:
	// the context concludes with whatever transcript exists once the wait
	// expires or the customer leg ends.
	waitMax := c.cfg.TranscriptWait
	if waitMax <= 0 {
		waitMax = 2 * time.Minute
	}
	wait := time.NewTimer(waitMax)
	defer wait.Stop()
	for {
		select {
		case <-ctx.Done():
			c.conclude(StateMerged, "shutdown before transcript", c.Transcript())
			return true
		case <-c.done:
			return true
		case <-wait.C:
			c.conclude(StateMerged, "transcript wait expired", c.Transcript())
			return true
		case le, ok := <-legEvents:
			if !ok {
				legEvents = nil
				continue
			}
			if le.Status == session.LegEnded || le.Status == session.LegFailed {
				c.conclude(StateMerged, "customer leg ended after merge", c.Transcript())
				return true
			}
		case ev := <-c.events:
			if e, ok := ev.(CallEnded); ok {
				c.setTranscript(e.Transcript)
				c.conclude(StateMerged, "transcript delivered", e.Transcript)
				return true
			}
		}
	}
}

// abort fails the current attempt and resumes the customer. The customer
// leg is never left on hold: if the hold cannot be lifted the leg is ended.
// Returns true when the call context concluded as part of recovery.
func (c *Context) abort(ctx context.Context, from State, reason, supRoom, supIdentity string, supLeg *rooms.Leg) (concluded bool) {
	c.transition(from, StateFailed, reason)
	if supLeg != nil {
		c.ctrl.EndLeg(ctx, supLeg)
	}
	if supRoom != "" {
		c.ctrl.EndRoom(ctx, supRoom, supIdentity)
	}

	if err := c.ctrl.SetHold(ctx, c.customer, false); err != nil {
		c.log.Error("unable to take customer off hold, ending leg", "error", err)
		c.ctrl.EndLeg(ctx, c.customer)
		c.conclude(StateEnded, "customer leg ended during recovery", c.Transcript())
		return true
	}
	c.notifier.EscalationFailed(ctx, c.roomName, reason)
	c.transition(StateFailed, StateTalking, "customer resumed")
	c.log.Info("escalation failed, customer resumed", "reason", reason)
	return false
}

func (c *Context) setTranscript(t string) {
	c.mu.Lock()
	c.transcript = t
	c.mu.Unlock()
}

func (c *Context) transition(from, to State, reason string) {
	c.mu.Lock()
	if c.state != from {
		c.log.Warn("transition from unexpected state", "want", from, "have", c.state, "to", to)
		from = c.state
	}
	c.state = to
	c.mu.Unlock()
	c.translog.record(from, to, reason)
}

// conclude moves the context to a terminal state exactly once.
func (c *Context) conclude(final State, reason, transcript string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := c.state
		c.state = final
		if transcript != "" {
			c.transcript = transcript
		}
		c.mu.Unlock()
		if prev != final {
			c.translog.record(prev, final, reason)
		}
		close(c.done)
	})
}

func (c *Context) endCustomer(ctx context.Context) {
	if c.customer.Active() {
		c.ctrl.EndLeg(ctx, c.customer)
	}
	c.ctrl.EndRoom(ctx, c.roomName, c.identity)
}

func (c *Context) teardown(ctx context.Context, reason string) {
	c.endCustomer(ctx)
	c.conclude(StateEnded, reason, c.Transcript())
}
