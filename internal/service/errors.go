package service

import (
	"errors"
	"fmt"

	"github.com/lucidspace/atelier-api/internal/store"
)

// Common sentinel errors returned by services.
var (
	// ErrSessionNotFound indicates that the session does not exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrRoomNotFound indicates that the room does not exist
	ErrRoomNotFound = errors.New("room not found")

	// ErrRenderNotFound indicates that the render does not exist
	ErrRenderNotFound = errors.New("render not found")

	// ErrAssetNotFound indicates that the asset does not exist
	ErrAssetNotFound = errors.New("asset not found")

	// ErrDocumentNotFound indicates that the document does not exist
	ErrDocumentNotFound = errors.New("document not found")

	// ErrRoomMismatch indicates that the room belongs to a different session
	ErrRoomMismatch = errors.New("room does not belong to session")

	// ErrQuotaExceeded indicates that the session hit its generation quota
	// for the current window
	ErrQuotaExceeded = errors.New("generation quota exceeded for session")

	// ErrAssetNotOptimizable indicates that the asset's current status does
	// not accept a new optimization job
	ErrAssetNotOptimizable = errors.New("asset cannot be optimized in its current status")
)

// ServiceError wraps errors from the service layer with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "request_render")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError. Known sentinel errors are
// returned directly without wrapping, and store-level "not found" errors
// are mapped to their service-level equivalents.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return ErrQuotaExceeded
	case errors.Is(err, ErrRoomMismatch):
		return ErrRoomMismatch
	case errors.Is(err, ErrAssetNotOptimizable):
		return ErrAssetNotOptimizable
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, store.ErrSessionNotFound):
		return ErrSessionNotFound
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, store.ErrRoomNotFound):
		return ErrRoomNotFound
	case errors.Is(err, ErrRenderNotFound), errors.Is(err, store.ErrRenderNotFound):
		return ErrRenderNotFound
	case errors.Is(err, ErrAssetNotFound), errors.Is(err, store.ErrAssetNotFound):
		return ErrAssetNotFound
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, store.ErrDocumentNotFound):
		return ErrDocumentNotFound
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
