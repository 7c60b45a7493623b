// Package domain contains the gateway's core types and error taxonomy.
// No transport dependencies allowed - this is the innermost ring.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ConnectionID is a value object representing a unique WebSocket connection identifier.
// Always valid in memory - use NewConnectionID or GenerateConnectionID to construct.
type ConnectionID struct {
	value string
}

// NewConnectionID creates a ConnectionID from a raw string, validating it is a valid UUID.
func NewConnectionID(raw string) (ConnectionID, error) {
	if raw == "" {
		return ConnectionID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return ConnectionID{}, fmt.Errorf("invalid connection ID %q: %w", raw, ErrInvalidID)
	}
	return ConnectionID{value: raw}, nil
}

// MustConnectionID creates a ConnectionID, panicking on invalid input. Use only in tests.
func MustConnectionID(raw string) ConnectionID {
	id, err := NewConnectionID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateConnectionID creates a new random ConnectionID.
func GenerateConnectionID() ConnectionID {
	return ConnectionID{value: uuid.NewString()}
}

func (id ConnectionID) String() string { return id.value }
func (id ConnectionID) IsZero() bool   { return id.value == "" }
