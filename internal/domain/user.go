// Package domain contains entity types without logic, just meta-data
package domain

import "errors"

const MaxUserIDLen = 64

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type UserID string

type User struct {
	ID   UserID `json:"id"`
	Name string `json:"name,omitempty"`
}

// NewUserID validates an externally issued identifier. Identity is owned
// by the auth collaborator; the relay only binds it to a connection.
func NewUserID(raw string) (UserID, error) {
	if raw == "" {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}
