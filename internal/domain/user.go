// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type UserID string

// User is the local identity a room is joined with.
type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"display_name"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in callers.
func NewUser(displayName string) (*User, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &User{ID: UserID(uuid.NewString()), DisplayName: displayName}, nil
}
