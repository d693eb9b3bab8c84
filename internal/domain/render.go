package domain

import (
	"time"

	"github.com/google/uuid"
)

// Metadata keys used by render lifecycle handlers.
const (
	MetaPrompt      = "prompt"
	MetaError       = "error"
	MetaArtifactURL = "artifact_url"
)

// Render represents an AI-generated room render. It is created in pending
// status, moves to processing once its generation job is durably enqueued,
// and reaches ready or failed only through the job's completion or failure
// handler.
type Render struct {
	ID        uuid.UUID         `json:"id"`
	SessionID uuid.UUID         `json:"session_id"`
	RoomID    uuid.UUID         `json:"room_id"`
	Status    EntityStatus      `json:"status"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewRender creates a new Render in pending status for the given session,
// room, and prompt. The prompt is stored in metadata so it survives even
// if the render later fails.
func NewRender(sessionID, roomID uuid.UUID, prompt string) (*Render, error) {
	render := &Render{
		ID:        uuid.New(),
		SessionID: sessionID,
		RoomID:    roomID,
		Status:    EntityStatusPending,
		Metadata:  map[string]string{MetaPrompt: prompt},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := render.Validate(); err != nil {
		return nil, err
	}

	return render, nil
}

// Validate checks if the Render has valid data.
func (r *Render) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyEntityID
	}
	if r.SessionID == uuid.Nil {
		return ErrEmptySessionID
	}
	if r.RoomID == uuid.Nil {
		return ErrEmptyRoomID
	}
	if r.Metadata[MetaPrompt] == "" {
		return ErrEmptyPrompt
	}
	if !isValidEntityStatus(r.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// Transition moves the render to the given status, enforcing monotonicity.
// Returns ErrInvalidTransition if the move is not permitted.
func (r *Render) Transition(status EntityStatus) error {
	if !isValidEntityStatus(status) {
		return ErrInvalidStatus
	}
	if !CanTransition(r.Status, status) {
		return ErrInvalidTransition
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed transitions the render to failed and merges the error message
// into existing metadata, preserving earlier diagnostic data such as the
// original prompt. Calling it on an already-failed render is a no-op.
func (r *Render) MarkFailed(reason string) error {
	if r.Status == EntityStatusFailed {
		return nil
	}
	if err := r.Transition(EntityStatusFailed); err != nil {
		return err
	}
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[MetaError] = reason
	return nil
}
