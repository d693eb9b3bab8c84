package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/api/shared"
	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/service"
)

// maxUploadBytes caps uploaded originals at 20 MiB.
const maxUploadBytes = 20 << 20

// AssetResponse represents the response data for an asset.
type AssetResponse struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	RoomID    string            `json:"room_id,omitempty"`
	Filename  string            `json:"filename"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// AssetHandler handles asset upload and read requests.
type AssetHandler struct {
	assetService service.AssetService
}

// NewAssetHandler creates a new AssetHandler.
func NewAssetHandler(assetService service.AssetService) *AssetHandler {
	return &AssetHandler{assetService: assetService}
}

// UploadAsset handles POST /api/sessions/{id}/assets requests. The body is
// a multipart form with a "file" part and an optional "room_id" field. The
// original is stored synchronously; variant optimization runs as a
// background job, so the response is 202 Accepted.
func (h *AssetHandler) UploadAsset(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing file part")
		return
	}
	defer func() { _ = file.Close() }()

	var roomID uuid.UUID
	if raw := r.FormValue("room_id"); raw != "" {
		roomID, err = uuid.Parse(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "room_id has invalid format")
			return
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		shared.RespondWithError(w, r, http.StatusBadRequest, "Failed to read upload")
		return
	}

	asset, err := h.assetService.RegisterUpload(r.Context(), sessionID, roomID, header.Filename, data)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to register upload")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, assetToDTOResponse(asset))
}

// RequestOptimizeResponse carries the enqueued job's ID back to the client.
type RequestOptimizeResponse struct {
	JobID string `json:"job_id"`
}

// RequestOptimize handles POST /api/assets/{id}/optimize requests. It
// re-enqueues variant optimization for an asset still in uploaded status
// and responds 202 Accepted with the job ID.
func (h *AssetHandler) RequestOptimize(w http.ResponseWriter, r *http.Request) {
	assetID, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	rec, err := h.assetService.RequestOptimize(r.Context(), assetID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to enqueue optimization")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, RequestOptimizeResponse{
		JobID: rec.ID.String(),
	})
}

// GetAsset handles GET /api/assets/{id} requests.
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	assetID, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	asset, err := h.assetService.GetAsset(r.Context(), assetID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve asset")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, assetToDTOResponse(asset))
}

func assetToDTOResponse(asset *domain.Asset) AssetResponse {
	response := AssetResponse{
		ID:        asset.ID.String(),
		SessionID: asset.SessionID.String(),
		Filename:  asset.Filename,
		Status:    string(asset.Status),
		Metadata:  asset.Metadata,
		CreatedAt: asset.CreatedAt,
		UpdatedAt: asset.UpdatedAt,
	}
	if asset.RoomID != uuid.Nil {
		response.RoomID = asset.RoomID.String()
	}
	return response
}
