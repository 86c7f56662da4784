package domain

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// DirectConversation is the durable pairwise channel between two users,
// independent of any single call.
// Maps to CockroachDB direct_conversations table.
//
// UserA and UserB are stored in canonical order (smaller-valued id first),
// enforced at write time so a lookup by either ordering resolves to the same
// record. Uniqueness on the ordered pair is the backstop for concurrent
// first-contact from both directions.
type DirectConversation struct {
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	UserA          uuid.UUID `json:"user_a" db:"user_a"`
	UserB          uuid.UUID `json:"user_b" db:"user_b"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// OrderPair returns the two ids in canonical order (smaller first).
func OrderPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}
