package call

import (
	"peercall-backend/internal/domain"
)

// Event is a lifecycle action applied to a call.
type Event string

const (
	EventAccept   Event = "accept"
	EventDecline  Event = "decline"
	EventEnd      Event = "end"
	EventTimeout  Event = "timeout"
	EventProgress Event = "progress" // media negotiation advancing
)

// transitions is the single source of truth for legal lifecycle moves.
// Any (status, event) pair absent from this table is rejected.
//
// The missed status is not reached through the table: it is a service-level
// special case of EventEnd when the caller abandons a ringing call.
var transitions = map[domain.CallStatus]map[Event]domain.CallStatus{
	domain.CallStatusRinging: {
		EventAccept:  domain.CallStatusConnected,
		EventDecline: domain.CallStatusDeclined,
		EventEnd:     domain.CallStatusEnded,
		EventTimeout: domain.CallStatusTimeout,
	},
	domain.CallStatusConnecting: {
		EventProgress: domain.CallStatusConnected,
		EventEnd:      domain.CallStatusEnded,
	},
	domain.CallStatusConnected: {
		EventEnd: domain.CallStatusEnded,
	},
}

// NextStatus returns the status reached by applying event to current.
// ok is false for illegal moves, including any event on a terminal status.
func NextStatus(current domain.CallStatus, event Event) (domain.CallStatus, bool) {
	byEvent, ok := transitions[current]
	if !ok {
		return "", false
	}
	next, ok := byEvent[event]
	return next, ok
}

// CanApply reports whether event is legal in the current status.
func CanApply(current domain.CallStatus, event Event) bool {
	_, ok := NextStatus(current, event)
	return ok
}
