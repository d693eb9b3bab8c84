package postgres

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
	"github.com/lucidspace/atelier-api/internal/platform/logger"
	"github.com/lucidspace/atelier-api/internal/store"
)

// PostgresDocumentStore implements the store.DocumentStore interface
// using a PostgreSQL database as the storage backend.
type PostgresDocumentStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDocumentStore creates a new PostgreSQL implementation of the
// DocumentStore interface. If logger is nil, a default logger will be used.
func NewPostgresDocumentStore(db store.DBTX, logger *slog.Logger) *PostgresDocumentStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresDocumentStore{
		db:     db,
		logger: logger.With(slog.String("component", "document_store")),
	}
}

// Ensure PostgresDocumentStore implements store.DocumentStore interface
var _ store.DocumentStore = (*PostgresDocumentStore)(nil)

// WithTx implements store.DocumentStore.WithTx
func (s *PostgresDocumentStore) WithTx(tx *sql.Tx) store.DocumentStore {
	return &PostgresDocumentStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.DocumentStore.Create
// Returns store.ErrInvalidEntity if the session doesn't exist.
func (s *PostgresDocumentStore) Create(ctx context.Context, doc *domain.Document) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := doc.Validate(); err != nil {
		log.Warn("document validation failed during create",
			slog.String("error", err.Error()),
			slog.String("document_id", doc.ID.String()))
		return err
	}

	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal document metadata: %w", err)
	}

	query := `
		INSERT INTO documents (id, session_id, kind, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.SessionID,
		doc.Kind,
		doc.Status,
		metadata,
		doc.CreatedAt,
		doc.UpdatedAt,
	)

	if err != nil {
		if IsForeignKeyViolation(err) {
			log.Warn("foreign key violation during document creation",
				slog.String("error", err.Error()),
				slog.String("document_id", doc.ID.String()),
				slog.String("session_id", doc.SessionID.String()))
			return fmt.Errorf("%w: session %s not found",
				store.ErrInvalidEntity, doc.SessionID)
		}

		log.Error("failed to create document",
			slog.String("error", err.Error()),
			slog.String("document_id", doc.ID.String()))
		return MapError(err)
	}

	log.Info("document created",
		slog.String("document_id", doc.ID.String()),
		slog.String("session_id", doc.SessionID.String()),
		slog.String("kind", string(doc.Kind)))
	return nil
}

// GetByID implements store.DocumentStore.GetByID
// Returns store.ErrDocumentNotFound if the document does not exist.
func (s *PostgresDocumentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, session_id, kind, status, metadata, created_at, updated_at
		FROM documents
		WHERE id = $1
	`

	var doc domain.Document
	var kind, status string
	var metadata []byte

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&doc.SessionID,
		&kind,
		&status,
		&metadata,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("document not found", slog.String("document_id", id.String()))
			return nil, store.ErrDocumentNotFound
		}
		log.Error("failed to get document by ID",
			slog.String("error", err.Error()),
			slog.String("document_id", id.String()))
		return nil, MapError(err)
	}

	doc.Kind = domain.DocumentKind(kind)
	doc.Status = domain.EntityStatus(status)
	if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document metadata: %w", err)
	}

	return &doc, nil
}

// Update implements store.DocumentStore.Update
// Returns store.ErrDocumentNotFound if the document does not exist.
func (s *PostgresDocumentStore) Update(ctx context.Context, doc *domain.Document) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := doc.Validate(); err != nil {
		log.Warn("document validation failed during update",
			slog.String("error", err.Error()),
			slog.String("document_id", doc.ID.String()))
		return err
	}

	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal document metadata: %w", err)
	}

	query := `
		UPDATE documents
		SET status = $1, metadata = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		doc.Status,
		metadata,
		doc.UpdatedAt,
		doc.ID,
	)

	if err != nil {
		log.Error("failed to update document",
			slog.String("error", err.Error()),
			slog.String("document_id", doc.ID.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrDocumentNotFound); err != nil {
		log.Debug("document not found for update",
			slog.String("document_id", doc.ID.String()))
		return err
	}

	log.Info("document updated",
		slog.String("document_id", doc.ID.String()),
		slog.String("status", string(doc.Status)))
	return nil
}

// Delete implements store.DocumentStore.Delete
// Returns store.ErrDocumentNotFound if the document does not exist.
func (s *PostgresDocumentStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		log.Error("failed to delete document",
			slog.String("error", err.Error()),
			slog.String("document_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrDocumentNotFound); err != nil {
		return err
	}

	log.Info("document deleted", slog.String("document_id", id.String()))
	return nil
}

// CountBySessionSince implements store.DocumentStore.CountBySessionSince
func (s *PostgresDocumentStore) CountBySessionSince(ctx context.Context, sessionID uuid.UUID, since time.Time) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT COUNT(*)
		FROM documents
		WHERE session_id = $1 AND created_at >= $2
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, sessionID, since).Scan(&count); err != nil {
		log.Error("failed to count documents by session",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID.String()))
		return 0, MapError(err)
	}

	return count, nil
}
