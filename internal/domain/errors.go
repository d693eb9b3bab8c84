package domain

import "errors"

// Common validation and transition errors shared across entity types.
var (
	ErrEmptyEntityID     = errors.New("entity ID cannot be empty")
	ErrEmptySessionID    = errors.New("session ID cannot be empty")
	ErrEmptyRoomID       = errors.New("room ID cannot be empty")
	ErrEmptyPrompt       = errors.New("prompt cannot be empty")
	ErrInvalidStatus     = errors.New("invalid entity status")
	ErrInvalidTransition = errors.New("invalid entity status transition")
	ErrInvalidPhase      = errors.New("invalid session phase")
)
