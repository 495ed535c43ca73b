package models

import (
	"time"

	"github.com/google/uuid"
)

// User mirrors an account from the external identity store. Only the fields
// the editorial core needs are kept.
type User struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	IsBanned    bool      `json:"is_banned"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
