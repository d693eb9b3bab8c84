package api

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lucidspace/atelier-api/internal/api/shared"
	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/service"
)

// CreateDocumentRequest represents the request body for requesting a
// document.
type CreateDocumentRequest struct {
	Kind string `json:"kind" validate:"required,oneof=proposal shopping_list summary"`
}

// DocumentResponse represents the response data for a document.
type DocumentResponse struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Kind      string            `json:"kind"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// DocumentHandler handles document-related HTTP requests.
type DocumentHandler struct {
	documentService service.DocumentService
	validator       *validator.Validate
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		validator:       validator.New(),
	}
}

// CreateDocument handles POST /api/sessions/{id}/documents requests.
// Generation happens asynchronously, so the response is 202 Accepted.
func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	var req CreateDocumentRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	doc, err := h.documentService.RequestDocument(r.Context(), sessionID, domain.DocumentKind(req.Kind))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create document")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, documentToDTOResponse(doc))
}

// GetDocument handles GET /api/documents/{id} requests.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	documentID, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	doc, err := h.documentService.GetDocument(r.Context(), documentID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve document")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, documentToDTOResponse(doc))
}

func documentToDTOResponse(doc *domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:        doc.ID.String(),
		SessionID: doc.SessionID.String(),
		Kind:      string(doc.Kind),
		Status:    string(doc.Status),
		Metadata:  doc.Metadata,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}
