package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"callbridge/internal/session"
)

// Channel is one outreach kind. Execution order is fixed to call, sms,
// email regardless of the order a request lists them; a later channel may
// want the call transcript.
type Channel string

const (
	ChannelCall  Channel = "call"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// channelOrder is the contract, not a convenience.
var channelOrder = []Channel{ChannelCall, ChannelSMS, ChannelEmail}

var ErrInvalidJob = errors.New("invalid bulk job")

// Contact is one recipient in a bulk job. Phone and email are optional;
// a channel whose field is missing is skipped for that contact.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// EscalationParams, when present, apply uniformly to every call in the job.
type EscalationParams struct {
	Reason string `json:"reason,omitempty"`
}

// Job is one bulk outreach request: recipients, requested channels, and
// shared per-channel payloads.
type Job struct {
	Contacts []Contact `json:"contacts"`
	Channels []Channel `json:"types"`

	CallParams session.CallParams `json:"call_params"`

	SMSBody string `json:"sms_body,omitempty"`

	EmailSubject string   `json:"email_subject,omitempty"`
	EmailBody    string   `json:"email_body,omitempty"`
	EmailHTML    bool     `json:"email_is_html,omitempty"`
	EmailCC      []string `json:"email_cc,omitempty"`

	Escalation *EscalationParams `json:"escalation,omitempty"`
}

// Wants reports whether the job requests ch.
func (j Job) Wants(ch Channel) bool {
	for _, c := range j.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Validate enforces the payload invariants: a requested channel must come
// with its payload. A contact missing the field a channel needs is not an
// error here; that channel is skipped for that contact at run time.
func (j Job) Validate() error {
	if len(j.Contacts) == 0 {
		return fmt.Errorf("%w: at least one contact required", ErrInvalidJob)
	}
	if len(j.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel required", ErrInvalidJob)
	}
	for _, ch := range j.Channels {
		switch ch {
		case ChannelCall, ChannelSMS, ChannelEmail:
		default:
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidJob, ch)
		}
	}
	if j.Wants(ChannelSMS) && strings.TrimSpace(j.SMSBody) == "" {
		return fmt.Errorf("%w: sms requested without sms_body", ErrInvalidJob)
	}
	if j.Wants(ChannelEmail) && strings.TrimSpace(j.EmailBody) == "" {
		return fmt.Errorf("%w: email requested without email_body", ErrInvalidJob)
	}
	return nil
}
