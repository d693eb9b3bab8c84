package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/job"
)

// RenderJobPayload is the payload of an ai-render-generate job.
type RenderJobPayload struct {
	job.Envelope
	RoomID uuid.UUID `json:"room_id"`
	Prompt string    `json:"prompt"`
}

// AssetJobPayload is the payload of an image-variant-optimize job.
type AssetJobPayload struct {
	job.Envelope
	Filename string `json:"filename"`
	BlobKey  string `json:"blob_key"`
}

// DocumentJobPayload is the payload of a document-generate job.
type DocumentJobPayload struct {
	job.Envelope
	Kind string `json:"kind"`
}

// MessageJobPayload is the payload of an ai-message-process job.
type MessageJobPayload struct {
	job.Envelope
	Message string `json:"message"`
}

// NotificationJobPayload is the payload of a notification-send job.
type NotificationJobPayload struct {
	job.Envelope
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// QuotaPolicy caps per-session generation volume within a rolling window.
type QuotaPolicy struct {
	RendersPerWindow   int
	DocumentsPerWindow int
	Window             time.Duration
}

// isFinalAttempt reports whether the attempt currently executing is the
// record's last one. Processors use it to settle entity state before the
// job is dead-lettered.
func isFinalAttempt(rec *job.Record) bool {
	return rec.AttemptsMade+1 >= rec.MaxAttempts
}
