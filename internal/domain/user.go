package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user identity as seen by the call service.
// Account management lives in the auth service; this service only reads.
type User struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Username    string    `json:"username" db:"username"`
	DisplayName string    `json:"display_name" db:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	Status      string    `json:"status" db:"status"` // online, offline, away
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// UserResponse is the public profile shape pushed to the callee with an
// incoming call notification.
type UserResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
}

// ToResponse strips private fields.
func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		UserID:      u.UserID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}
