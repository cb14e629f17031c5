package escalation

import (
	"context"
	"errors"
)

var (
	// ErrNoSupervisorConfigured means an escalation was requested but no
	// supervisor destination is set. The customer call is unaffected.
	ErrNoSupervisorConfigured = errors.New("no supervisor destination configured")

	// ErrAlreadyInProgress rejects a second escalation request while one
	// is still in flight. Requests are rejected, not queued.
	ErrAlreadyInProgress = errors.New("escalation already in progress")

	// ErrContextClosed means the call context has already reached a
	// terminal state and accepts no further events.
	ErrContextClosed = errors.New("call context closed")
)

// DriverEvent is a signal from the conversational driver about one call.
// Events arrive over the provider webhook (production) or are injected
// directly (tests) and are consumed one at a time by the context loop.
type DriverEvent interface {
	driverEvent()
}

// EscalationRequested asks the orchestrator to bring a supervisor into
// the call. Reason is forwarded in the supervisor briefing.
type EscalationRequested struct {
	Reason string
}

// SupervisorReady is the supervisor's explicit acknowledgment that the
// briefing is done and the merge may proceed.
type SupervisorReady struct{}

// CallEnded means the driver finished the conversation. Transcript is the
// full dialogue text the driver produced, delivered here as the completion
// signal rather than written somewhere to be polled for.
type CallEnded struct {
	Transcript string
}

func (EscalationRequested) driverEvent() {}
func (SupervisorReady) driverEvent()     {}
func (CallEnded) driverEvent()           {}

// DriverNotifier carries signals back to the conversational driver.
// Implementations must not block for long; failures are logged, not fatal.
type DriverNotifier interface {
	// LegReady tells the driver a room exists and a leg is being placed.
	LegReady(ctx context.Context, roomName string)

	// CustomerConnected tells the driver the customer picked up.
	CustomerConnected(ctx context.Context, roomName string)

	// EscalationFailed tells the driver to resume the conversation after
	// a failed escalation attempt.
	EscalationFailed(ctx context.Context, roomName, reason string)
}

// NopNotifier discards all driver signals. Used when no driver callback
// endpoint is configured and in tests.
type NopNotifier struct{}

func (NopNotifier) LegReady(context.Context, string)            {}
func (NopNotifier) CustomerConnected(context.Context, string)   {}
func (NopNotifier) EscalationFailed(context.Context, string, string) {}
