package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/platform/logger"
	"github.com/lucidspace/atelier-api/internal/store"
)

// PostgresAssetStore implements the store.AssetStore interface
// using a PostgreSQL database as the storage backend.
type PostgresAssetStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresAssetStore creates a new PostgreSQL implementation of the
// AssetStore interface. If logger is nil, a default logger will be used.
func NewPostgresAssetStore(db store.DBTX, logger *slog.Logger) *PostgresAssetStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresAssetStore{
		db:     db,
		logger: logger.With(slog.String("component", "asset_store")),
	}
}

// Ensure PostgresAssetStore implements store.AssetStore interface
var _ store.AssetStore = (*PostgresAssetStore)(nil)

// WithTx implements store.AssetStore.WithTx
func (s *PostgresAssetStore) WithTx(tx *sql.Tx) store.AssetStore {
	return &PostgresAssetStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.AssetStore.Create
// Returns store.ErrInvalidEntity if the session doesn't exist.
func (s *PostgresAssetStore) Create(ctx context.Context, asset *domain.Asset) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := asset.Validate(); err != nil {
		log.Warn("asset validation failed during create",
			slog.String("error", err.Error()),
			slog.String("asset_id", asset.ID.String()))
		return err
	}

	metadata, err := json.Marshal(asset.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal asset metadata: %w", err)
	}

	// RoomID is optional for assets uploaded before room intake completes.
	var roomID any
	if asset.RoomID != uuid.Nil {
		roomID = asset.RoomID
	}

	query := `
		INSERT INTO assets (id, session_id, room_id, filename, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		asset.ID,
		asset.SessionID,
		roomID,
		asset.Filename,
		asset.Status,
		metadata,
		asset.CreatedAt,
		asset.UpdatedAt,
	)

	if err != nil {
		if IsForeignKeyViolation(err) {
			log.Warn("foreign key violation during asset creation",
				slog.String("error", err.Error()),
				slog.String("asset_id", asset.ID.String()),
				slog.String("session_id", asset.SessionID.String()))
			return fmt.Errorf("%w: session %s not found",
				store.ErrInvalidEntity, asset.SessionID)
		}

		log.Error("failed to create asset",
			slog.String("error", err.Error()),
			slog.String("asset_id", asset.ID.String()))
		return MapError(err)
	}

	log.Info("asset created",
		slog.String("asset_id", asset.ID.String()),
		slog.String("session_id", asset.SessionID.String()))
	return nil
}

// GetByID implements store.AssetStore.GetByID
// Returns store.ErrAssetNotFound if the asset does not exist.
func (s *PostgresAssetStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, session_id, room_id, filename, status, metadata, created_at, updated_at
		FROM assets
		WHERE id = $1
	`

	var asset domain.Asset
	var status string
	var metadata []byte
	var roomID sql.Null[uuid.UUID]

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&asset.ID,
		&asset.SessionID,
		&roomID,
		&asset.Filename,
		&status,
		&metadata,
		&asset.CreatedAt,
		&asset.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("asset not found", slog.String("asset_id", id.String()))
			return nil, store.ErrAssetNotFound
		}
		log.Error("failed to get asset by ID",
			slog.String("error", err.Error()),
			slog.String("asset_id", id.String()))
		return nil, MapError(err)
	}

	asset.Status = domain.EntityStatus(status)
	if roomID.Valid {
		asset.RoomID = roomID.V
	}
	if err := json.Unmarshal(metadata, &asset.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset metadata: %w", err)
	}

	return &asset, nil
}

// Update implements store.AssetStore.Update
// Returns store.ErrAssetNotFound if the asset does not exist.
func (s *PostgresAssetStore) Update(ctx context.Context, asset *domain.Asset) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := asset.Validate(); err != nil {
		log.Warn("asset validation failed during update",
			slog.String("error", err.Error()),
			slog.String("asset_id", asset.ID.String()))
		return err
	}

	metadata, err := json.Marshal(asset.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal asset metadata: %w", err)
	}

	query := `
		UPDATE assets
		SET status = $1, metadata = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		asset.Status,
		metadata,
		asset.UpdatedAt,
		asset.ID,
	)

	if err != nil {
		log.Error("failed to update asset",
			slog.String("error", err.Error()),
			slog.String("asset_id", asset.ID.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrAssetNotFound); err != nil {
		log.Debug("asset not found for update",
			slog.String("asset_id", asset.ID.String()))
		return err
	}

	log.Info("asset updated",
		slog.String("asset_id", asset.ID.String()),
		slog.String("status", string(asset.Status)))
	return nil
}
