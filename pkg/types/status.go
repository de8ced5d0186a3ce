package types

import "strings"

// Status is the engagement state of a contact in the onboarding conversation.
type Status string

// Engagement states, in intended forward order.
const (
	StatusNew                   Status = "NEW"
	StatusWelcomeSent           Status = "WELCOME_SENT"
	StatusWaitingEmail          Status = "WAITING_EMAIL"
	StatusEmailReceived         Status = "EMAIL_RECEIVED"
	StatusLinkedInFound         Status = "LINKEDIN_FOUND"
	StatusWaitingCallPermission Status = "WAITING_CALL_PERMISSION"
	StatusCallScheduled         Status = "CALL_SCHEDULED"
	StatusCallFinished          Status = "CALL_FINISHED"
	StatusAuth0Sent             Status = "AUTH0_SENT"
	StatusCompleted             Status = "COMPLETED"
)

// ValidStatuses contains every engagement state.
var ValidStatuses = []Status{
	StatusNew,
	StatusWelcomeSent,
	StatusWaitingEmail,
	StatusEmailReceived,
	StatusLinkedInFound,
	StatusWaitingCallPermission,
	StatusCallScheduled,
	StatusCallFinished,
	StatusAuth0Sent,
	StatusCompleted,
}

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// IsValid reports whether s is one of the defined engagement states.
func (s Status) IsValid() bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseStatus converts a persisted status string into a Status.
// Matching is case-insensitive and ignores surrounding whitespace.
// An empty string maps to StatusNew since a contact without a status
// has not been greeted yet. Any other unknown value returns ok=false.
func ParseStatus(raw string) (Status, bool) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return StatusNew, true
	}
	s := Status(trimmed)
	if !s.IsValid() {
		return "", false
	}
	return s, true
}

// IsTerminal reports whether the conversation flow no longer intercepts
// inbound messages for a contact in this state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCallScheduled, StatusCallFinished, StatusCompleted:
		return true
	}
	return false
}

// IsValidStatusTransition validates a transition of the engagement flow.
//
// Valid transitions:
//
//	NEW                     -> WELCOME_SENT | WAITING_EMAIL | EMAIL_RECEIVED
//	WELCOME_SENT            -> WAITING_EMAIL | EMAIL_RECEIVED
//	WAITING_EMAIL           -> EMAIL_RECEIVED | COMPLETED
//	EMAIL_RECEIVED          -> LINKEDIN_FOUND | WAITING_CALL_PERMISSION | COMPLETED
//	LINKEDIN_FOUND          -> WAITING_CALL_PERMISSION | CALL_SCHEDULED | COMPLETED
//	WAITING_CALL_PERMISSION -> CALL_SCHEDULED | COMPLETED
//	CALL_SCHEDULED          -> CALL_FINISHED | COMPLETED
//	CALL_FINISHED           -> AUTH0_SENT | COMPLETED
//	AUTH0_SENT              -> COMPLETED
//	COMPLETED               -> (terminal)
func IsValidStatusTransition(from, to Status) bool {
	if !to.IsValid() || from == to {
		return false
	}

	switch from {
	case StatusNew:
		return to == StatusWelcomeSent || to == StatusWaitingEmail || to == StatusEmailReceived

	case StatusWelcomeSent:
		return to == StatusWaitingEmail || to == StatusEmailReceived

	case StatusWaitingEmail:
		return to == StatusEmailReceived || to == StatusCompleted

	case StatusEmailReceived:
		return to == StatusLinkedInFound || to == StatusWaitingCallPermission || to == StatusCompleted

	case StatusLinkedInFound:
		return to == StatusWaitingCallPermission || to == StatusCallScheduled || to == StatusCompleted

	case StatusWaitingCallPermission:
		return to == StatusCallScheduled || to == StatusCompleted

	case StatusCallScheduled:
		return to == StatusCallFinished || to == StatusCompleted

	case StatusCallFinished:
		return to == StatusAuth0Sent || to == StatusCompleted

	case StatusAuth0Sent:
		return to == StatusCompleted

	default:
		return false
	}
}
