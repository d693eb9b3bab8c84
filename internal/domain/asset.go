package domain

import (
	"time"

	"github.com/google/uuid"
)

// AssetVariantType identifies an optimized variant of an uploaded asset.
type AssetVariantType string

// Variant types produced by the image-variant-optimize job.
const (
	VariantThumbnail AssetVariantType = "thumbnail"
	VariantPreview   AssetVariantType = "preview"
	VariantFull      AssetVariantType = "full"
)

// Asset represents a user-uploaded image. Unlike renders, assets enter
// uploaded status as soon as the user submits them; the variant optimization
// job then drives them to ready or failed.
type Asset struct {
	ID        uuid.UUID         `json:"id"`
	SessionID uuid.UUID         `json:"session_id"`
	RoomID    uuid.UUID         `json:"room_id,omitempty"`
	Filename  string            `json:"filename"`
	Status    EntityStatus      `json:"status"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewAsset creates a new Asset in uploaded status.
func NewAsset(sessionID, roomID uuid.UUID, filename string) (*Asset, error) {
	asset := &Asset{
		ID:        uuid.New(),
		SessionID: sessionID,
		RoomID:    roomID,
		Filename:  filename,
		Status:    EntityStatusUploaded,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := asset.Validate(); err != nil {
		return nil, err
	}

	return asset, nil
}

// Validate checks if the Asset has valid data.
func (a *Asset) Validate() error {
	if a.ID == uuid.Nil {
		return ErrEmptyEntityID
	}
	if a.SessionID == uuid.Nil {
		return ErrEmptySessionID
	}
	if !isValidEntityStatus(a.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// Transition moves the asset to the given status, enforcing monotonicity.
func (a *Asset) Transition(status EntityStatus) error {
	if !isValidEntityStatus(status) {
		return ErrInvalidStatus
	}
	if !CanTransition(a.Status, status) {
		return ErrInvalidTransition
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed transitions the asset to failed, merging the error message into
// existing metadata. Idempotent for already-failed assets.
func (a *Asset) MarkFailed(reason string) error {
	if a.Status == EntityStatusFailed {
		return nil
	}
	if err := a.Transition(EntityStatusFailed); err != nil {
		return err
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]string)
	}
	a.Metadata[MetaError] = reason
	return nil
}
