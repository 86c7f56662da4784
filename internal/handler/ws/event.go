package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"peercall-backend/internal/domain"
)

// Client→server event names.
const (
	EventIdentity     = "identity"
	EventStartCall    = "start_call"
	EventAcceptCall   = "accept_call"
	EventDeclineCall  = "decline_call"
	EventEndCall      = "end_call"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice_candidate"
	EventToggleMedia  = "toggle_media"
)

// Server→client event names not produced by the call service.
const (
	EventIdentityConfirmed = "identity_confirmed"
	EventError             = "error"
)

// rawEvent is the wire shape of every client frame: a type tag plus a
// type-specific payload.
type rawEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ClientEvent is a decoded client frame. Exactly one payload field is
// non-nil, matching Type. Decoding happens once at the transport boundary;
// everything behind it works with typed structs.
type ClientEvent struct {
	Type string

	Identity    *IdentityPayload
	StartCall   *StartCallPayload
	AcceptCall  *AcceptCallPayload
	DeclineCall *DeclineCallPayload
	EndCall     *EndCallPayload
	Signal      *SignalPayload
	ToggleMedia *ToggleMediaPayload
}

// IdentityPayload carries the identity handshake token.
type IdentityPayload struct {
	Token string `json:"token"`
}

// StartCallPayload starts a call to a target user.
type StartCallPayload struct {
	TargetID  uuid.UUID `json:"target_id"`
	WithVideo bool      `json:"with_video"`
	WithAudio bool      `json:"with_audio"`
}

// AcceptCallPayload answers a ringing call.
type AcceptCallPayload struct {
	CallID    uuid.UUID `json:"call_id"`
	WithVideo bool      `json:"with_video"`
	WithAudio bool      `json:"with_audio"`
}

// DeclineCallPayload rejects a ringing call.
type DeclineCallPayload struct {
	CallID uuid.UUID `json:"call_id"`
}

// EndCallPayload hangs up a call.
type EndCallPayload struct {
	CallID uuid.UUID `json:"call_id"`
	Reason string    `json:"reason,omitempty"`
}

// SignalPayload is an opaque WebRTC frame relayed between the parties.
// Data is never inspected, only forwarded.
type SignalPayload struct {
	CallID uuid.UUID       `json:"call_id"`
	Data   json.RawMessage `json:"data"`
}

// ToggleMediaPayload flips one media flag for the sender.
type ToggleMediaPayload struct {
	CallID    uuid.UUID        `json:"call_id"`
	MediaType domain.MediaType `json:"media_type"`
	Muted     bool             `json:"muted"`
}

// ParseClientEvent decodes one client frame into its typed form.
func ParseClientEvent(data []byte) (*ClientEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("event has no type")
	}

	event := &ClientEvent{Type: raw.Type}

	decode := func(dst interface{}) error {
		if len(raw.Payload) == 0 {
			return fmt.Errorf("event %q has no payload", raw.Type)
		}
		if err := json.Unmarshal(raw.Payload, dst); err != nil {
			return fmt.Errorf("invalid %q payload: %w", raw.Type, err)
		}
		return nil
	}

	switch raw.Type {
	case EventIdentity:
		event.Identity = &IdentityPayload{}
		if err := decode(event.Identity); err != nil {
			return nil, err
		}
		if event.Identity.Token == "" {
			return nil, fmt.Errorf("identity payload has no token")
		}
	case EventStartCall:
		event.StartCall = &StartCallPayload{}
		if err := decode(event.StartCall); err != nil {
			return nil, err
		}
		if event.StartCall.TargetID == uuid.Nil {
			return nil, fmt.Errorf("start_call payload has no target_id")
		}
	case EventAcceptCall:
		event.AcceptCall = &AcceptCallPayload{}
		if err := decode(event.AcceptCall); err != nil {
			return nil, err
		}
		if event.AcceptCall.CallID == uuid.Nil {
			return nil, fmt.Errorf("accept_call payload has no call_id")
		}
	case EventDeclineCall:
		event.DeclineCall = &DeclineCallPayload{}
		if err := decode(event.DeclineCall); err != nil {
			return nil, err
		}
		if event.DeclineCall.CallID == uuid.Nil {
			return nil, fmt.Errorf("decline_call payload has no call_id")
		}
	case EventEndCall:
		event.EndCall = &EndCallPayload{}
		if err := decode(event.EndCall); err != nil {
			return nil, err
		}
		if event.EndCall.CallID == uuid.Nil {
			return nil, fmt.Errorf("end_call payload has no call_id")
		}
	case EventOffer, EventAnswer, EventICECandidate:
		event.Signal = &SignalPayload{}
		if err := decode(event.Signal); err != nil {
			return nil, err
		}
		if event.Signal.CallID == uuid.Nil {
			return nil, fmt.Errorf("%s payload has no call_id", raw.Type)
		}
	case EventToggleMedia:
		event.ToggleMedia = &ToggleMediaPayload{}
		if err := decode(event.ToggleMedia); err != nil {
			return nil, err
		}
		if event.ToggleMedia.CallID == uuid.Nil {
			return nil, fmt.Errorf("toggle_media payload has no call_id")
		}
		switch event.ToggleMedia.MediaType {
		case domain.MediaTypeAudio, domain.MediaTypeVideo:
		default:
			return nil, fmt.Errorf("toggle_media has unknown media_type %q", event.ToggleMedia.MediaType)
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", raw.Type)
	}

	return event, nil
}

// ServerEvent is the wire shape of every server frame.
type ServerEvent struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewServerEvent builds a server frame with the current timestamp.
func NewServerEvent(eventType string, payload interface{}) *ServerEvent {
	return &ServerEvent{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// errorPayload is the body of an error frame.
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEvent builds an error frame for the originating connection.
func NewErrorEvent(code, message string) *ServerEvent {
	return NewServerEvent(EventError, &errorPayload{
		Code:    code,
		Message: message,
	})
}

// relayedSignal is the payload delivered to the counterpart for
// offer/answer/ice_candidate frames: the original data untouched, plus
// sender identity and a server timestamp.
type relayedSignal struct {
	CallID   uuid.UUID       `json:"call_id"`
	SenderID uuid.UUID       `json:"sender_id"`
	Data     json.RawMessage `json:"data"`
}
