package api

import (
	"errors"
	"net/http"

	"github.com/lucidspace/atelier-api/internal/api/shared"
	"github.com/lucidspace/atelier-api/internal/service"
	"github.com/lucidspace/atelier-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status
// codes based on the error type. This prevents leaking internal error
// types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors, from services or direct store reads
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrRenderNotFound),
		errors.Is(err, service.ErrAssetNotFound),
		errors.Is(err, service.ErrDocumentNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Quota errors
	case errors.Is(err, service.ErrQuotaExceeded):
		return http.StatusTooManyRequests

	// Bad request errors
	case errors.Is(err, service.ErrRoomMismatch),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, service.ErrAssetNotOptimizable),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, store.ErrSessionNotFound):
		return "Session not found"
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, store.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, service.ErrRenderNotFound), errors.Is(err, store.ErrRenderNotFound):
		return "Render not found"
	case errors.Is(err, service.ErrAssetNotFound), errors.Is(err, store.ErrAssetNotFound):
		return "Asset not found"
	case errors.Is(err, service.ErrDocumentNotFound), errors.Is(err, store.ErrDocumentNotFound):
		return "Document not found"
	case errors.Is(err, store.ErrNotFound):
		return "Entity not found"
	case errors.Is(err, service.ErrQuotaExceeded):
		return "Quota exceeded, try again later"
	case errors.Is(err, service.ErrRoomMismatch):
		return "Room does not belong to this session"
	case errors.Is(err, service.ErrAssetNotOptimizable):
		return "Asset cannot be optimized in its current status"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"
	case errors.Is(err, store.ErrDuplicate):
		return "Entity already exists"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError maps err to a status code and safe message and writes the
// response. defaultMsg overrides the mapped message when non-empty and the
// error maps to a 5xx.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if defaultMsg != "" && status >= http.StatusInternalServerError {
		message = defaultMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
