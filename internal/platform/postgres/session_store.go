package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/platform/logger"
	"github.com/lucidspace/atelier-api/internal/store"
)

// PostgresSessionStore implements the store.SessionStore interface
// using a PostgreSQL database as the storage backend.
type PostgresSessionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSessionStore creates a new PostgreSQL implementation of the
// SessionStore interface. If logger is nil, a default logger will be used.
func NewPostgresSessionStore(db store.DBTX, logger *slog.Logger) *PostgresSessionStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresSessionStore{
		db:     db,
		logger: logger.With(slog.String("component", "session_store")),
	}
}

// Ensure PostgresSessionStore implements store.SessionStore interface
var _ store.SessionStore = (*PostgresSessionStore)(nil)

// WithTx implements store.SessionStore.WithTx
func (s *PostgresSessionStore) WithTx(tx *sql.Tx) store.SessionStore {
	return &PostgresSessionStore{
		db:     tx,
		logger: s.logger,
	}
}

// GetByID implements store.SessionStore.GetByID
// Returns store.ErrSessionNotFound if the session does not exist.
func (s *PostgresSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, phase, title, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`

	var session domain.Session
	var phase string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&phase,
		&session.Title,
		&session.CreatedAt,
		&session.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("session not found", slog.String("session_id", id.String()))
			return nil, store.ErrSessionNotFound
		}
		log.Error("failed to get session by ID",
			slog.String("error", err.Error()),
			slog.String("session_id", id.String()))
		return nil, MapError(err)
	}

	session.Phase = domain.SessionPhase(phase)
	return &session, nil
}

// UpdatePhase implements store.SessionStore.UpdatePhase
// Returns store.ErrSessionNotFound if the session does not exist.
func (s *PostgresSessionStore) UpdatePhase(ctx context.Context, id uuid.UUID, phase domain.SessionPhase) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE sessions
		SET phase = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := s.db.ExecContext(ctx, query, phase, id)
	if err != nil {
		log.Error("failed to update session phase",
			slog.String("error", err.Error()),
			slog.String("session_id", id.String()),
			slog.String("phase", string(phase)))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrSessionNotFound); err != nil {
		log.Debug("session not found for phase update",
			slog.String("session_id", id.String()))
		return err
	}

	log.Info("session phase updated",
		slog.String("session_id", id.String()),
		slog.String("phase", string(phase)))
	return nil
}

// ListRooms implements store.SessionStore.ListRooms
// Returns an empty slice if the session has no rooms.
func (s *PostgresSessionStore) ListRooms(ctx context.Context, sessionID uuid.UUID) ([]*domain.Room, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, session_id, name, created_at, updated_at
		FROM rooms
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		log.Error("failed to query rooms by session",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID.String()))
		return nil, MapError(err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	rooms := []*domain.Room{}
	for rows.Next() {
		var room domain.Room
		err := rows.Scan(
			&room.ID,
			&room.SessionID,
			&room.Name,
			&room.CreatedAt,
			&room.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		rooms = append(rooms, &room)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}

	return rooms, nil
}

// GetRoom implements store.SessionStore.GetRoom
// Returns store.ErrRoomNotFound if the room does not exist.
func (s *PostgresSessionStore) GetRoom(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, session_id, name, created_at, updated_at
		FROM rooms
		WHERE id = $1
	`

	var room domain.Room
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&room.ID,
		&room.SessionID,
		&room.Name,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("room not found", slog.String("room_id", id.String()))
			return nil, store.ErrRoomNotFound
		}
		log.Error("failed to get room by ID",
			slog.String("error", err.Error()),
			slog.String("room_id", id.String()))
		return nil, MapError(err)
	}

	return &room, nil
}
