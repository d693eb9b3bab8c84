package api

import (
	"net/http"
	"time"

	"github.com/lucidspace/atelier-api/internal/api/shared"
	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/store"
)

// SessionResponse represents the authoritative session detail read.
type SessionResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Phase       string    `json:"phase"`
	RoomCount   int       `json:"room_count"`
	RenderCount int       `json:"render_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoomResponse represents a room in the rooms listing.
type RoomResponse struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionHandler serves the authoritative session reads that clients
// reconcile against after channel events.
type SessionHandler struct {
	sessions store.SessionStore
	renders  store.RenderStore
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions store.SessionStore, renders store.RenderStore) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		renders:  renders,
	}
}

// GetSession handles GET /api/sessions/{id} requests.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	session, err := h.sessions.GetByID(r.Context(), sessionID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve session")
		return
	}

	rooms, err := h.sessions.ListRooms(r.Context(), sessionID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve session rooms")
		return
	}

	renders, err := h.renders.ListBySession(r.Context(), sessionID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve session renders")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, SessionResponse{
		ID:          session.ID.String(),
		Title:       session.Title,
		Phase:       string(session.Phase),
		RoomCount:   len(rooms),
		RenderCount: len(renders),
		CreatedAt:   session.CreatedAt,
		UpdatedAt:   session.UpdatedAt,
	})
}

// ListRooms handles GET /api/sessions/{id}/rooms requests.
func (h *SessionHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.sessions.GetByID(r.Context(), sessionID); err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve session")
		return
	}

	rooms, err := h.sessions.ListRooms(r.Context(), sessionID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve session rooms")
		return
	}

	response := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		response = append(response, roomToDTOResponse(room))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

func roomToDTOResponse(room *domain.Room) RoomResponse {
	return RoomResponse{
		ID:        room.ID.String(),
		SessionID: room.SessionID.String(),
		Name:      room.Name,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	}
}
