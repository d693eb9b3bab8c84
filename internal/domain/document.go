package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocumentKind identifies what kind of document the generation job produces.
type DocumentKind string

// Supported document kinds.
const (
	DocumentKindProposal     DocumentKind = "proposal"
	DocumentKindShoppingList DocumentKind = "shopping_list"
	DocumentKindSummary      DocumentKind = "summary"
)

// Document represents a generated deliverable (proposal, shopping list,
// session summary). Its lifecycle mirrors Render: pending until the
// generation job is enqueued, then processing, then ready or failed.
type Document struct {
	ID        uuid.UUID         `json:"id"`
	SessionID uuid.UUID         `json:"session_id"`
	Kind      DocumentKind      `json:"kind"`
	Status    EntityStatus      `json:"status"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewDocument creates a new Document in pending status.
func NewDocument(sessionID uuid.UUID, kind DocumentKind) (*Document, error) {
	doc := &Document{
		ID:        uuid.New(),
		SessionID: sessionID,
		Kind:      kind,
		Status:    EntityStatusPending,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}

	return doc, nil
}

// Validate checks if the Document has valid data.
func (d *Document) Validate() error {
	if d.ID == uuid.Nil {
		return ErrEmptyEntityID
	}
	if d.SessionID == uuid.Nil {
		return ErrEmptySessionID
	}
	if !isValidEntityStatus(d.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// Transition moves the document to the given status, enforcing monotonicity.
func (d *Document) Transition(status EntityStatus) error {
	if !isValidEntityStatus(status) {
		return ErrInvalidStatus
	}
	if !CanTransition(d.Status, status) {
		return ErrInvalidTransition
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed transitions the document to failed, merging the error message
// into existing metadata. Idempotent for already-failed documents.
func (d *Document) MarkFailed(reason string) error {
	if d.Status == EntityStatusFailed {
		return nil
	}
	if err := d.Transition(EntityStatusFailed); err != nil {
		return err
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata[MetaError] = reason
	return nil
}
