package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies a kind of background job.
type Type string

// Canonical job types.
const (
	TypeImageVariantOptimize Type = "image-variant-optimize"
	TypeAIMessageProcess     Type = "ai-message-process"
	TypeDocumentGenerate     Type = "document-generate"
	TypeNotificationSend     Type = "notification-send"
	TypeAIRenderGenerate     Type = "ai-render-generate"
)

// Types lists every canonical job type. The worker profile registry is
// validated against this list at startup.
func Types() []Type {
	return []Type{
		TypeImageVariantOptimize,
		TypeAIMessageProcess,
		TypeDocumentGenerate,
		TypeNotificationSend,
		TypeAIRenderGenerate,
	}
}

// Valid reports whether t is a canonical job type.
func (t Type) Valid() bool {
	switch t {
	case TypeImageVariantOptimize, TypeAIMessageProcess, TypeDocumentGenerate,
		TypeNotificationSend, TypeAIRenderGenerate:
		return true
	default:
		return false
	}
}

// Record is a durable job record. It is owned by the Store, mutated only by
// the current lock holder, and removed on terminal success or after the
// dead-letter move.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	Type         Type            `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`

	// LockToken is uuid.Nil while the job is unclaimed. A claim sets a fresh
	// token; every later mutation must present it.
	LockToken     uuid.UUID `json:"lock_token"`
	LockExpiresAt time.Time `json:"lock_expires_at"`

	// StallCount tracks how many times an expired lock was reclaimed.
	StallCount int `json:"stall_count"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	NextRunAt  time.Time `json:"next_run_at"`
}

// NewRecord creates a pending Record for the given type and payload,
// runnable immediately.
func NewRecord(typ Type, payload json.RawMessage, maxAttempts int) (*Record, error) {
	if !typ.Valid() {
		return nil, ErrInvalidType
	}
	if maxAttempts < 1 {
		return nil, ErrInvalidAttempts
	}

	now := time.Now().UTC()
	return &Record{
		ID:          uuid.New(),
		Type:        typ,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  now,
		NextRunAt:   now,
	}, nil
}

// Envelope carries the correlation fields present in every job payload.
// Type-specific payload structs embed it.
type Envelope struct {
	EntityID  uuid.UUID `json:"entity_id"`
	SessionID uuid.UUID `json:"session_id"`
}

// DecodeEnvelope extracts the correlation fields from a raw payload.
func DecodeEnvelope(payload json.RawMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
