package records

import "time"

// Status is a per-channel outcome. Skipped means the channel was not
// requested or the contact lacked the required field.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// ContactResult is the per-contact outcome of one bulk job. All channel
// statuses start as skipped; the worker owning the contact fills them in
// as the channel sequence runs, and the record is frozen afterwards.
type ContactResult struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`

	CallStatus  Status `json:"call_status"`
	Transcript  string `json:"transcript,omitempty"`
	SMSStatus   Status `json:"sms_status"`
	EmailStatus Status `json:"email_status"`

	// EscalationState is set only when the job carried escalation
	// parameters; the flat CallStatus still reflects the initial leg.
	EscalationState string `json:"escalation_state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	EndedAt   time.Time `json:"ended_at"`

	// Errors maps a channel name to a failure code and detail string.
	Errors map[string]string `json:"errors,omitempty"`
}

// NewContactResult seeds a result with every channel skipped.
func NewContactResult(name, email, phone string, now time.Time) ContactResult {
	return ContactResult{
		Name:        name,
		Email:       email,
		Phone:       phone,
		CallStatus:  StatusSkipped,
		SMSStatus:   StatusSkipped,
		EmailStatus: StatusSkipped,
		CreatedAt:   now,
	}
}

// CallRecord is the retained artifact of one outbound call: identifiers,
// the transcript, and timestamps. Nothing else survives the call.
type CallRecord struct {
	ID                string    `json:"id"`
	CallID            string    `json:"call_id"`
	RoomName          string    `json:"room_name"`
	LegID             string    `json:"leg_id"`
	Destination       string    `json:"destination"`
	EscalationEnabled bool      `json:"escalation_enabled"`
	FinalState        string    `json:"final_state,omitempty"`
	Transcript        string    `json:"transcript,omitempty"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	EndedAt           time.Time `json:"ended_at"`
}
