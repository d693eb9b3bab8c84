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

// PostgresRenderStore implements the store.RenderStore interface
// using a PostgreSQL database as the storage backend.
type PostgresRenderStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresRenderStore creates a new PostgreSQL implementation of the
// RenderStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresRenderStore(db store.DBTX, logger *slog.Logger) *PostgresRenderStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresRenderStore{
		db:     db,
		logger: logger.With(slog.String("component", "render_store")),
	}
}

// Ensure PostgresRenderStore implements store.RenderStore interface
var _ store.RenderStore = (*PostgresRenderStore)(nil)

// WithTx implements store.RenderStore.WithTx
func (s *PostgresRenderStore) WithTx(tx *sql.Tx) store.RenderStore {
	return &PostgresRenderStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.RenderStore.Create
// It saves a new render to the database, handling domain validation.
// Returns store.ErrInvalidEntity if the session or room doesn't exist
// (foreign key violation).
func (s *PostgresRenderStore) Create(ctx context.Context, render *domain.Render) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := render.Validate(); err != nil {
		log.Warn("render validation failed during create",
			slog.String("error", err.Error()),
			slog.String("render_id", render.ID.String()))
		return err
	}

	metadata, err := json.Marshal(render.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal render metadata: %w", err)
	}

	query := `
		INSERT INTO renders (id, session_id, room_id, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		render.ID,
		render.SessionID,
		render.RoomID,
		render.Status,
		metadata,
		render.CreatedAt,
		render.UpdatedAt,
	)

	if err != nil {
		if IsForeignKeyViolation(err) {
			log.Warn("foreign key violation during render creation",
				slog.String("error", err.Error()),
				slog.String("render_id", render.ID.String()),
				slog.String("session_id", render.SessionID.String()))
			return fmt.Errorf("%w: session %s or room %s not found",
				store.ErrInvalidEntity, render.SessionID, render.RoomID)
		}

		log.Error("failed to create render",
			slog.String("error", err.Error()),
			slog.String("render_id", render.ID.String()))
		return MapError(err)
	}

	log.Info("render created",
		slog.String("render_id", render.ID.String()),
		slog.String("session_id", render.SessionID.String()),
		slog.String("status", string(render.Status)))
	return nil
}

// GetByID implements store.RenderStore.GetByID
// Returns store.ErrRenderNotFound if the render does not exist.
func (s *PostgresRenderStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Render, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, session_id, room_id, status, metadata, created_at, updated_at
		FROM renders
		WHERE id = $1
	`

	render, err := scanRender(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("render not found", slog.String("render_id", id.String()))
			return nil, store.ErrRenderNotFound
		}
		log.Error("failed to get render by ID",
			slog.String("error", err.Error()),
			slog.String("render_id", id.String()))
		return nil, MapError(err)
	}

	return render, nil
}

// Update implements store.RenderStore.Update
// It persists the render's current status and metadata.
// Returns store.ErrRenderNotFound if the render does not exist.
func (s *PostgresRenderStore) Update(ctx context.Context, render *domain.Render) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := render.Validate(); err != nil {
		log.Warn("render validation failed during update",
			slog.String("error", err.Error()),
			slog.String("render_id", render.ID.String()))
		return err
	}

	metadata, err := json.Marshal(render.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal render metadata: %w", err)
	}

	query := `
		UPDATE renders
		SET status = $1, metadata = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		render.Status,
		metadata,
		render.UpdatedAt,
		render.ID,
	)

	if err != nil {
		log.Error("failed to update render",
			slog.String("error", err.Error()),
			slog.String("render_id", render.ID.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrRenderNotFound); err != nil {
		log.Debug("render not found for update",
			slog.String("render_id", render.ID.String()))
		return err
	}

	log.Info("render updated",
		slog.String("render_id", render.ID.String()),
		slog.String("status", string(render.Status)))
	return nil
}

// Delete implements store.RenderStore.Delete
// Returns store.ErrRenderNotFound if the render does not exist.
func (s *PostgresRenderStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `DELETE FROM renders WHERE id = $1`, id)
	if err != nil {
		log.Error("failed to delete render",
			slog.String("error", err.Error()),
			slog.String("render_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrRenderNotFound); err != nil {
		return err
	}

	log.Info("render deleted", slog.String("render_id", id.String()))
	return nil
}

// ListBySession implements store.RenderStore.ListBySession
// Returns an empty slice if the session has no renders.
func (s *PostgresRenderStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.Render, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, session_id, room_id, status, metadata, created_at, updated_at
		FROM renders
		WHERE session_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		log.Error("failed to query renders by session",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID.String()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	return collectRenders(rows)
}

// CountBySessionSince implements store.RenderStore.CountBySessionSince
func (s *PostgresRenderStore) CountBySessionSince(ctx context.Context, sessionID uuid.UUID, since time.Time) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT COUNT(*)
		FROM renders
		WHERE session_id = $1 AND created_at >= $2
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, sessionID, since).Scan(&count); err != nil {
		log.Error("failed to count renders by session",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID.String()))
		return 0, MapError(err)
	}

	return count, nil
}

// ListStuckProcessing implements store.RenderStore.ListStuckProcessing
// It retrieves renders stuck in processing status since before the cutoff.
func (s *PostgresRenderStore) ListStuckProcessing(ctx context.Context, cutoff time.Time) ([]*domain.Render, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, session_id, room_id, status, metadata, created_at, updated_at
		FROM renders
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, domain.EntityStatusProcessing, cutoff)
	if err != nil {
		log.Error("failed to query stuck renders",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	return collectRenders(rows)
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRender(row rowScanner) (*domain.Render, error) {
	var render domain.Render
	var status string
	var metadata []byte

	err := row.Scan(
		&render.ID,
		&render.SessionID,
		&render.RoomID,
		&status,
		&metadata,
		&render.CreatedAt,
		&render.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	render.Status = domain.EntityStatus(status)
	if err := json.Unmarshal(metadata, &render.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal render metadata: %w", err)
	}

	return &render, nil
}

func collectRenders(rows *sql.Rows) ([]*domain.Render, error) {
	renders := []*domain.Render{}
	for rows.Next() {
		render, err := scanRender(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan render row: %w", err)
		}
		renders = append(renders, render)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating render rows: %w", err)
	}

	return renders, nil
}
