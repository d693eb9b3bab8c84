package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/domain"
)

// SessionStore defines the interface for session and room persistence.
type SessionStore interface {
	// GetByID retrieves a session by its unique ID.
	// Returns ErrSessionNotFound if the session does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error)

	// UpdatePhase updates a session's phase.
	// Returns ErrSessionNotFound if the session does not exist.
	UpdatePhase(ctx context.Context, id uuid.UUID, phase domain.SessionPhase) error

	// ListRooms retrieves all rooms belonging to a session.
	ListRooms(ctx context.Context, sessionID uuid.UUID) ([]*domain.Room, error)

	// GetRoom retrieves a room by its unique ID.
	// Returns ErrRoomNotFound if the room does not exist.
	GetRoom(ctx context.Context, id uuid.UUID) (*domain.Room, error)

	// WithTx returns a new SessionStore instance that uses the provided
	// transaction.
	WithTx(tx *sql.Tx) SessionStore
}
