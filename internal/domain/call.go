package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a call.
type CallStatus string

const (
	CallStatusRinging    CallStatus = "ringing"
	CallStatusConnecting CallStatus = "connecting"
	CallStatusConnected  CallStatus = "connected"
	CallStatusEnded      CallStatus = "ended"
	CallStatusDeclined   CallStatus = "declined"
	CallStatusMissed     CallStatus = "missed"
	CallStatusTimeout    CallStatus = "timeout"
)

// IsTerminal reports whether the status is final. Terminal calls are never
// mutated again and stay in the store as history.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusDeclined, CallStatusMissed, CallStatusTimeout:
		return true
	}
	return false
}

// EndReason explains why a call reached a terminal status.
type EndReason string

const (
	EndReasonUserHangup      EndReason = "user_hangup"
	EndReasonUserDeclined    EndReason = "user_declined"
	EndReasonUserBusy        EndReason = "user_busy"
	EndReasonTimeout         EndReason = "timeout"
	EndReasonConnectionError EndReason = "connection_error"
	EndReasonNetworkError    EndReason = "network_error"
	EndReasonServerError     EndReason = "server_error"
)

// ValidEndReason reports whether r is one of the known end reasons.
func ValidEndReason(r EndReason) bool {
	switch r {
	case EndReasonUserHangup, EndReasonUserDeclined, EndReasonUserBusy,
		EndReasonTimeout, EndReasonConnectionError, EndReasonNetworkError,
		EndReasonServerError:
		return true
	}
	return false
}

// CallRole identifies which side of the call a user is on.
type CallRole string

const (
	RoleCaller CallRole = "caller"
	RoleCallee CallRole = "callee"
)

// MediaType selects which media track a toggle applies to.
type MediaType string

const (
	MediaTypeAudio MediaType = "audio"
	MediaTypeVideo MediaType = "video"
)

// Call type values
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// MediaState holds one party's media flags. Each side mutates only its own.
type MediaState struct {
	AudioEnabled bool `json:"audio_enabled"`
	VideoEnabled bool `json:"video_enabled"`
	AudioMuted   bool `json:"audio_muted"`
	VideoMuted   bool `json:"video_muted"`
}

// Call represents one 1:1 call attempt/session.
// Maps to CockroachDB calls table.
//
// Invariants: StartedAt is set iff the call ever reached connected;
// EndedAt is set iff Status is terminal; DurationSeconds is present only
// when both StartedAt and EndedAt are set.
type Call struct {
	CallID          uuid.UUID  `json:"call_id" db:"call_id"`
	ConversationID  uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	CallerID        uuid.UUID  `json:"caller_id" db:"caller_id"`
	CalleeID        uuid.UUID  `json:"callee_id" db:"callee_id"`
	CallType        string     `json:"call_type" db:"call_type"` // audio, video
	Status          CallStatus `json:"status" db:"status"`
	EndReason       *EndReason `json:"end_reason,omitempty" db:"end_reason"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds *int       `json:"duration_seconds,omitempty" db:"duration_seconds"`
	RingsUntil      *time.Time `json:"-" db:"rings_until"` // ringing deadline, swept after restarts
	CallerMedia     MediaState `json:"caller_media"`
	CalleeMedia     MediaState `json:"callee_media"`
}

// IsParty reports whether userID is the caller or the callee.
func (c *Call) IsParty(userID uuid.UUID) bool {
	return c.CallerID == userID || c.CalleeID == userID
}

// RoleOf returns the role userID plays in this call.
// Only meaningful when IsParty(userID) is true.
func (c *Call) RoleOf(userID uuid.UUID) CallRole {
	if c.CallerID == userID {
		return RoleCaller
	}
	return RoleCallee
}

// Counterpart returns the other participant's user id.
func (c *Call) Counterpart(userID uuid.UUID) uuid.UUID {
	if c.CallerID == userID {
		return c.CalleeID
	}
	return c.CallerID
}

// CallCacheEntry is the ephemeral Redis mirror of in-flight call state.
// Keyed by call id; TTL-bound, refreshed on every transition, deleted on
// terminal transition. Never authoritative - the calls table wins.
type CallCacheEntry struct {
	CallerID uuid.UUID  `json:"caller_id"`
	CalleeID uuid.UUID  `json:"callee_id"`
	Status   CallStatus `json:"status"`
}
