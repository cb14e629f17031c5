package escalation

import (
	"sync"
	"time"
)

// State is the escalation phase of one call context.
type State string

const (
	StateTalking  State = "TALKING_TO_CUSTOMER"
	StateOnHold   State = "CUSTOMER_ON_HOLD"
	StateBriefing State = "BRIEFING_SUPERVISOR"
	StateMerging  State = "MERGING"
	StateMerged   State = "MERGED"

	// Terminal states for the whole call context.
	StateEnded  State = "ENDED_NO_ESCALATION"
	StateFailed State = "ESCALATION_FAILED"
)

// Terminal reports whether the call context has concluded. StateFailed is
// terminal for the escalation attempt only; the customer call continues and
// the context returns to StateTalking afterwards.
func (s State) Terminal() bool {
	return s == StateMerged || s == StateEnded
}

// Transition is one recorded state change of a call context.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// TransitionLog is an append-only record of every state change a call
// context went through. Useful when reconstructing what happened to a call.
type TransitionLog struct {
	mu      sync.Mutex
	entries []Transition
}

func (l *TransitionLog) record(from, to State, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Transition{From: from, To: to, Reason: reason, At: time.Now().UTC()})
}

// Entries returns a copy of the recorded transitions in order.
func (l *TransitionLog) Entries() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transition, len(l.entries))
	copy(out, l.entries)
	return out
}
