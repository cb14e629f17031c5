package records

import (
	"errors"

	"callbridge/internal/escalation"
	"callbridge/internal/messaging"
	"callbridge/internal/session"
)

// Failure codes returned at the boundary. These are stable identifiers;
// human-readable detail travels separately.
const (
	CodeInvalidDestination          = "invalid_destination"
	CodeProviderUnavailable         = "provider_unavailable"
	CodeDialFailure                 = "dial_failure"
	CodeNoSupervisorConfigured      = "no_supervisor_configured"
	CodeEscalationAlreadyInProgress = "escalation_already_in_progress"
	CodeMergeFailure                = "merge_failure"
	CodeChannelTimeout              = "channel_timeout"
	CodeChannelSendFailure          = "channel_send_failure"
	CodeInternal                    = "internal_error"
)

// FailureCodeFor maps an error to its boundary failure code. Unrecognized
// errors map to internal_error rather than leaking internals.
func FailureCodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrInvalidDestination):
		return CodeInvalidDestination
	case errors.Is(err, session.ErrProviderUnavailable):
		return CodeProviderUnavailable
	case errors.Is(err, session.ErrDialFailure), errors.Is(err, session.ErrLegGone):
		return CodeDialFailure
	case errors.Is(err, escalation.ErrNoSupervisorConfigured):
		return CodeNoSupervisorConfigured
	case errors.Is(err, escalation.ErrAlreadyInProgress):
		return CodeEscalationAlreadyInProgress
	case errors.Is(err, session.ErrMergeFailure):
		return CodeMergeFailure
	case errors.Is(err, messaging.ErrTimeout):
		return CodeChannelTimeout
	case errors.Is(err, messaging.ErrSendFailure):
		return CodeChannelSendFailure
	default:
		return CodeInternal
	}
}
