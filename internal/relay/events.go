package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a realtime channel event.
type EventType string

// Channel events pushed to session subscribers.
const (
	EventConnected      EventType = "connection:established"
	EventRateLimited    EventType = "connection:rate-limited"
	EventRenderStarted  EventType = "entity:render-started"
	EventRenderProgress EventType = "entity:render-progress"
	EventRenderComplete EventType = "entity:render-complete"
	EventRenderFailed   EventType = "entity:render-failed"
	EventRoomsUpdated   EventType = "session:rooms-updated"
	EventPhaseChanged   EventType = "session:phase-changed"
	EventAssetProgress  EventType = "asset:processing-progress"
)

// RenderStage describes where a render job is in its pipeline.
type RenderStage string

// Render progress stages.
const (
	StageQueued     RenderStage = "queued"
	StageGenerating RenderStage = "generating"
	StageUploading  RenderStage = "uploading"
	StageFinalizing RenderStage = "finalizing"
)

// Event is a single channel event scoped to one session. Data holds the
// event-type-specific payload serialized as JSON.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID uuid.UUID       `json:"session_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// RenderStartedData is the payload for entity:render-started.
type RenderStartedData struct {
	EntityID  uuid.UUID `json:"entity_id"`
	RoomID    uuid.UUID `json:"room_id"`
	SessionID uuid.UUID `json:"session_id"`
}

// RenderProgressData is the payload for entity:render-progress.
type RenderProgressData struct {
	EntityID  uuid.UUID   `json:"entity_id"`
	RoomID    uuid.UUID   `json:"room_id"`
	SessionID uuid.UUID   `json:"session_id"`
	Progress  int         `json:"progress"`
	Stage     RenderStage `json:"stage"`
}

// RenderCompleteData is the payload for entity:render-complete.
type RenderCompleteData struct {
	EntityID uuid.UUID `json:"entity_id"`
	RoomID   uuid.UUID `json:"room_id"`
}

// RenderFailedData is the payload for entity:render-failed.
type RenderFailedData struct {
	EntityID uuid.UUID `json:"entity_id"`
	RoomID   uuid.UUID `json:"room_id"`
	Error    string    `json:"error"`
}

// RoomsUpdatedData is the payload for session:rooms-updated.
type RoomsUpdatedData struct {
	SessionID uuid.UUID `json:"session_id"`
}

// PhaseChangedData is the payload for session:phase-changed.
type PhaseChangedData struct {
	SessionID uuid.UUID `json:"session_id"`
	Phase     string    `json:"phase"`
}

// AssetProgressData is the payload for asset:processing-progress.
type AssetProgressData struct {
	AssetID     uuid.UUID `json:"asset_id"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	VariantType string    `json:"variant_type,omitempty"`
}

// NewEvent creates an Event of the given type for a session, serializing
// the payload to JSON.
func NewEvent(typ EventType, sessionID uuid.UUID, data any) (Event, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		raw = b
	}

	return Event{
		Type:      typ,
		SessionID: sessionID,
		Data:      raw,
		EmittedAt: time.Now().UTC(),
	}, nil
}

// UnmarshalData decodes the event payload into the provided structure.
func (e Event) UnmarshalData(v any) error {
	return json.Unmarshal(e.Data, v)
}
