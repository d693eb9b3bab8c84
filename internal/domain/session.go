package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionPhase represents the stage of a design session.
type SessionPhase string

// Possible session phases, in order.
const (
	PhaseIntake    SessionPhase = "intake"
	PhaseDesign    SessionPhase = "design"
	PhaseReview    SessionPhase = "review"
	PhaseDelivered SessionPhase = "delivered"
)

// Session is a design session owned by a user. Rooms, renders, assets, and
// documents all hang off a session; the realtime channel is keyed by its ID.
type Session struct {
	ID        uuid.UUID    `json:"id"`
	Phase     SessionPhase `json:"phase"`
	Title     string       `json:"title"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Room is a physical space within a session.
type Room struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// isValidSessionPhase checks if the given phase is a valid SessionPhase.
func isValidSessionPhase(phase SessionPhase) bool {
	switch phase {
	case PhaseIntake, PhaseDesign, PhaseReview, PhaseDelivered:
		return true
	default:
		return false
	}
}

// SetPhase updates the session's phase and its UpdatedAt timestamp.
func (s *Session) SetPhase(phase SessionPhase) error {
	if !isValidSessionPhase(phase) {
		return ErrInvalidPhase
	}
	s.Phase = phase
	s.UpdatedAt = time.Now().UTC()
	return nil
}
