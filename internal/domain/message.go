package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message type values. The call service only ever writes system messages;
// regular chat traffic belongs to the chat service.
const (
	MessageTypeText   = "text"
	MessageTypeSystem = "system"
)

// Message represents a row in the Cassandra messages table.
// The call service appends system messages recording call outcomes
// ("Missed call", "Call declined", "Video call - 3:05") into the
// conversation's visible history.
type Message struct {
	MessageID      uuid.UUID              `json:"message_id" cql:"message_id"`
	ConversationID uuid.UUID              `json:"conversation_id" cql:"conversation_id"`
	Bucket         int                    `json:"-" cql:"bucket"`
	SenderID       uuid.UUID              `json:"sender_id" cql:"sender_id"`
	Content        string                 `json:"content" cql:"content"`
	MessageType    string                 `json:"message_type" cql:"message_type"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" cql:"metadata"`
	CreatedAt      time.Time              `json:"created_at" cql:"created_at"`
}

// CalculateBucket maps a timestamp to a monthly partition bucket (YYYYMM).
// Keeps Cassandra partitions bounded for long-lived conversations.
func CalculateBucket(t time.Time) int {
	return t.Year()*100 + int(t.Month())
}
