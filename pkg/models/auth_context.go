// Package models contains domain types for ekaya-press.
package models

import (
	"slices"

	"github.com/google/uuid"
)

// Role is an editorial role granted by the external identity provider.
type Role string

const (
	RoleAuthor   Role = "author"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

// IsValid returns true if the role is known.
func (r Role) IsValid() bool {
	switch r {
	case RoleAuthor, RoleReviewer, RoleAdmin:
		return true
	default:
		return false
	}
}

// AuthContext identifies the actor of an operation. It is resolved by the
// caller (session layer) and passed explicitly into every mutating operation.
type AuthContext struct {
	UserID   uuid.UUID
	Roles    []Role
	IsBanned bool
}

// HasRole returns true if the actor holds the role.
func (a AuthContext) HasRole(role Role) bool {
	return slices.Contains(a.Roles, role)
}

// IsAdmin returns true for administrators.
func (a AuthContext) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// CanReview returns true for reviewers and administrators.
func (a AuthContext) CanReview() bool {
	return a.HasRole(RoleReviewer) || a.HasRole(RoleAdmin)
}

// IsAnonymous returns true when no user is attached.
func (a AuthContext) IsAnonymous() bool {
	return a.UserID == uuid.Nil
}
