package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/generation"
	"github.com/lucidspace/atelier-api/internal/job"
	"github.com/lucidspace/atelier-api/internal/store"
)

// DocumentService provides document generation operations.
type DocumentService interface {
	// RequestDocument creates a document and durably enqueues its
	// generation job. The returned document is in processing status.
	RequestDocument(ctx context.Context, sessionID uuid.UUID, kind domain.DocumentKind) (*domain.Document, error)

	// GetDocument retrieves a document by its ID.
	GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error)

	// ProcessJob executes one document-generate job attempt.
	ProcessJob(ctx context.Context, rec *job.Record) error
}

type documentServiceImpl struct {
	db        *sql.DB
	documents store.DocumentStore
	sessions  store.SessionStore
	jobs      job.Store
	blobs     BlobStore
	composer  generation.Composer
	quota     QuotaPolicy
	attempts  int
	logger    *slog.Logger
}

// NewDocumentService creates a new DocumentService.
// It returns an error if any of the required dependencies are nil.
func NewDocumentService(
	db *sql.DB,
	documents store.DocumentStore,
	sessions store.SessionStore,
	jobs job.Store,
	blobs BlobStore,
	composer generation.Composer,
	quota QuotaPolicy,
	attempts int,
	logger *slog.Logger,
) (DocumentService, error) {
	if db == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "db cannot be nil"}
	}
	if documents == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "documents cannot be nil"}
	}
	if sessions == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "sessions cannot be nil"}
	}
	if jobs == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "jobs cannot be nil"}
	}
	if blobs == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "blobs cannot be nil"}
	}
	if composer == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "composer cannot be nil"}
	}
	if attempts < 1 {
		return nil, &ServiceError{Operation: "create_service", Message: "attempts must be at least 1"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &documentServiceImpl{
		db:        db,
		documents: documents,
		sessions:  sessions,
		jobs:      jobs,
		blobs:     blobs,
		composer:  composer,
		quota:     quota,
		attempts:  attempts,
		logger:    logger.With("component", "document_service"),
	}, nil
}

// RequestDocument mirrors the render request flow: entity row, job row,
// and the processing transition commit in one transaction.
func (s *documentServiceImpl) RequestDocument(
	ctx context.Context,
	sessionID uuid.UUID,
	kind domain.DocumentKind,
) (*domain.Document, error) {
	// The session must exist before we accept work for it.
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, NewServiceError("request_document", "failed to retrieve session", err)
	}

	since := time.Now().UTC().Add(-s.quota.Window)
	count, err := s.documents.CountBySessionSince(ctx, sessionID, since)
	if err != nil {
		return nil, NewServiceError("request_document", "failed to check document quota", err)
	}
	if count >= s.quota.DocumentsPerWindow {
		s.logger.Warn("document quota exceeded",
			"session_id", sessionID,
			"count", count,
			"limit", s.quota.DocumentsPerWindow)
		return nil, ErrQuotaExceeded
	}

	doc, err := domain.NewDocument(sessionID, kind)
	if err != nil {
		return nil, NewServiceError("request_document", "failed to create document object", err)
	}

	payload, err := json.Marshal(DocumentJobPayload{
		Envelope: job.Envelope{EntityID: doc.ID, SessionID: sessionID},
		Kind:     string(kind),
	})
	if err != nil {
		return nil, NewServiceError("request_document", "failed to marshal job payload", err)
	}

	rec, err := job.NewRecord(job.TypeDocumentGenerate, payload, s.attempts)
	if err != nil {
		return nil, NewServiceError("request_document", "failed to create job record", err)
	}

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.documents.WithTx(tx).Create(ctx, doc); err != nil {
			return NewServiceError("request_document", "failed to save document", err)
		}
		if err := s.jobs.WithTx(tx).Enqueue(ctx, rec); err != nil {
			return NewServiceError("request_document", "failed to enqueue generation job", err)
		}
		if err := doc.Transition(domain.EntityStatusProcessing); err != nil {
			return NewServiceError("request_document", "failed to transition document", err)
		}
		if err := s.documents.WithTx(tx).Update(ctx, doc); err != nil {
			return NewServiceError("request_document", "failed to update document status", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("document requested",
		"document_id", doc.ID,
		"session_id", sessionID,
		"kind", string(kind),
		"job_id", rec.ID)
	return doc, nil
}

// GetDocument retrieves a document by its ID.
func (s *documentServiceImpl) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError("get_document", "failed to retrieve document", err)
	}
	return doc, nil
}

// ProcessJob composes the document body and stores it as an artifact.
func (s *documentServiceImpl) ProcessJob(ctx context.Context, rec *job.Record) error {
	var payload DocumentJobPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode document job payload: %w", err)
	}

	doc, err := s.documents.GetByID(ctx, payload.EntityID)
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			s.logger.Warn("generate job for missing document",
				"document_id", payload.EntityID,
				"job_id", rec.ID)
			return nil
		}
		return fmt.Errorf("failed to load document: %w", err)
	}

	if doc.Status.IsTerminal() {
		s.logger.Info("document already terminal, skipping job",
			"document_id", doc.ID,
			"status", doc.Status)
		return nil
	}

	session, err := s.sessions.GetByID(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session for document: %w", err)
	}

	body, err := s.composer.ComposeDocument(ctx, session, doc.Kind)
	if err != nil {
		if errors.Is(err, generation.ErrContentBlocked) {
			s.failDocument(ctx, doc, "content blocked by safety filters")
			return nil
		}
		if isFinalAttempt(rec) {
			s.failDocument(ctx, doc, fmt.Sprintf("composition failed: %v", err))
		}
		return fmt.Errorf("document composition failed: %w", err)
	}

	key := fmt.Sprintf("documents/%s/%s.md", doc.ID, doc.Kind)
	url, err := s.blobs.Put(ctx, key, body)
	if err != nil {
		if isFinalAttempt(rec) {
			s.failDocument(ctx, doc, fmt.Sprintf("artifact upload failed: %v", err))
		}
		return fmt.Errorf("failed to store document artifact: %w", err)
	}

	doc.Metadata[domain.MetaArtifactURL] = url
	if err := doc.Transition(domain.EntityStatusReady); err != nil {
		return fmt.Errorf("failed to transition document to ready: %w", err)
	}
	if err := s.documents.Update(ctx, doc); err != nil {
		if isFinalAttempt(rec) {
			s.failDocument(ctx, doc, fmt.Sprintf("failed to persist result: %v", err))
		}
		return fmt.Errorf("failed to persist ready document: %w", err)
	}

	s.enqueueReadyNotification(ctx, doc)

	s.logger.Info("document completed",
		"document_id", doc.ID,
		"session_id", payload.SessionID,
		"kind", string(doc.Kind),
		"attempt", rec.AttemptsMade+1)
	return nil
}

// failDocument settles a document to failed. Best-effort.
func (s *documentServiceImpl) failDocument(ctx context.Context, doc *domain.Document, reason string) {
	alreadyFailed := doc.Status == domain.EntityStatusFailed

	if err := doc.MarkFailed(reason); err != nil {
		s.logger.Error("failed to mark document failed",
			"error", err,
			"document_id", doc.ID,
			"status", doc.Status)
		return
	}

	if !alreadyFailed {
		if err := s.documents.Update(ctx, doc); err != nil {
			s.logger.Error("failed to persist failed document",
				"error", err,
				"document_id", doc.ID)
		}

		s.logger.Warn("document generation failed",
			"document_id", doc.ID,
			"session_id", doc.SessionID,
			"reason", reason)
	}
}

// enqueueReadyNotification queues a notification-send job for a completed
// document. Best-effort.
func (s *documentServiceImpl) enqueueReadyNotification(ctx context.Context, doc *domain.Document) {
	payload, err := json.Marshal(NotificationJobPayload{
		Envelope: job.Envelope{EntityID: doc.ID, SessionID: doc.SessionID},
		Kind:     "document_ready",
		Subject:  "Your document is ready",
		Body:     fmt.Sprintf("Your %s has finished generating.", doc.Kind),
	})
	if err != nil {
		s.logger.Error("failed to marshal notification payload",
			"error", err,
			"document_id", doc.ID)
		return
	}

	rec, err := job.NewRecord(job.TypeNotificationSend, payload, s.attempts)
	if err != nil {
		s.logger.Error("failed to create notification job",
			"error", err,
			"document_id", doc.ID)
		return
	}

	if err := s.jobs.Enqueue(ctx, rec); err != nil {
		s.logger.Error("failed to enqueue notification job",
			"error", err,
			"document_id", doc.ID)
	}
}
