package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/lucidspace/atelier-api/internal/api/shared"
	"github.com/lucidspace/atelier-api/internal/service"
)

// SubmitMessageRequest represents the request body for a chat message.
type SubmitMessageRequest struct {
	Message string `json:"message" validate:"required,min=1,max=8000"`
}

// SubmitMessageResponse carries the job ID so clients can correlate the
// eventual channel events with their request.
type SubmitMessageResponse struct {
	JobID string `json:"job_id"`
}

// ChatHandler handles chat message submissions.
type ChatHandler struct {
	chatService service.ChatService
	validator   *validator.Validate
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		validator:   validator.New(),
	}
}

// SubmitMessage handles POST /api/sessions/{id}/messages requests. The
// message is processed asynchronously; effects arrive over the session
// channel.
func (h *ChatHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	var req SubmitMessageRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	jobID, err := h.chatService.SubmitMessage(r.Context(), sessionID, req.Message)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit message")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitMessageResponse{JobID: jobID.String()})
}
