package api

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/api/shared"
	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/service"
)

// CreateRenderRequest represents the request body for requesting a render.
type CreateRenderRequest struct {
	RoomID string `json:"room_id" validate:"required,uuid"`
	Prompt string `json:"prompt"  validate:"required,min=1,max=4000"`
}

// RenderResponse represents the response data for a render.
type RenderResponse struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	RoomID    string            `json:"room_id"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// RenderHandler handles render-related HTTP requests.
type RenderHandler struct {
	renderService service.RenderService
	validator     *validator.Validate
}

// NewRenderHandler creates a new RenderHandler.
func NewRenderHandler(renderService service.RenderService) *RenderHandler {
	return &RenderHandler{
		renderService: renderService,
		validator:     validator.New(),
	}
}

// CreateRender handles POST /api/sessions/{id}/renders requests. The render
// is created and its generation job enqueued; processing happens
// asynchronously, so the response is 202 Accepted.
func (h *RenderHandler) CreateRender(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	var req CreateRenderRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	roomID, err := uuid.Parse(req.RoomID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "room_id has invalid format")
		return
	}

	render, err := h.renderService.RequestRender(r.Context(), sessionID, roomID, req.Prompt)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create render")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, renderToDTOResponse(render))
}

// GetRender handles GET /api/sessions/{id}/renders/{renderID} requests.
// Failed renders keep their prompt and error in metadata, so this read
// doubles as the audit view.
func (h *RenderHandler) GetRender(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}
	renderID, ok := getPathUUID(w, r, "renderID")
	if !ok {
		return
	}

	render, err := h.renderService.GetRender(r.Context(), renderID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve render")
		return
	}
	if render.SessionID != sessionID {
		HandleAPIError(w, r, service.ErrRenderNotFound, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, renderToDTOResponse(render))
}

// ListRenders handles GET /api/sessions/{id}/renders requests.
func (h *RenderHandler) ListRenders(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	renders, err := h.renderService.ListSessionRenders(r.Context(), sessionID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list renders")
		return
	}

	response := make([]RenderResponse, 0, len(renders))
	for _, render := range renders {
		response = append(response, renderToDTOResponse(render))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

func renderToDTOResponse(render *domain.Render) RenderResponse {
	return RenderResponse{
		ID:        render.ID.String(),
		SessionID: render.SessionID.String(),
		RoomID:    render.RoomID.String(),
		Status:    string(render.Status),
		Metadata:  render.Metadata,
		CreatedAt: render.CreatedAt,
		UpdatedAt: render.UpdatedAt,
	}
}
