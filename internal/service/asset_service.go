package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/generation"
	"github.com/lucidspace/atelier-api/internal/job"
	"github.com/lucidspace/atelier-api/internal/relay"
	"github.com/lucidspace/atelier-api/internal/store"
)

// Metadata keys written by the asset pipeline.
const (
	metaOriginalKey = "original_key"
	metaOriginalURL = "original_url"
)

// variantProgress maps each produced variant to the progress percentage
// reported once it is stored.
var variantOrder = []struct {
	variant  domain.AssetVariantType
	progress int
}{
	{domain.VariantThumbnail, 33},
	{domain.VariantPreview, 66},
	{domain.VariantFull, 100},
}

// AssetService provides upload and variant-optimization operations.
type AssetService interface {
	// RegisterUpload stores the original image, creates the asset in
	// uploaded status, and enqueues its optimization job.
	RegisterUpload(ctx context.Context, sessionID, roomID uuid.UUID, filename string, data []byte) (*domain.Asset, error)

	// RequestOptimize re-enqueues the variant optimization job for an
	// asset still in uploaded status.
	RequestOptimize(ctx context.Context, id uuid.UUID) (*job.Record, error)

	// GetAsset retrieves an asset by its ID.
	GetAsset(ctx context.Context, id uuid.UUID) (*domain.Asset, error)

	// ProcessJob executes one image-variant-optimize job attempt.
	ProcessJob(ctx context.Context, rec *job.Record) error
}

type assetServiceImpl struct {
	db        *sql.DB
	assets    store.AssetStore
	jobs      job.Store
	hub       *relay.Hub
	blobs     BlobStore
	optimizer generation.Optimizer
	attempts  int
	logger    *slog.Logger
}

// NewAssetService creates a new AssetService.
// It returns an error if any of the required dependencies are nil.
func NewAssetService(
	db *sql.DB,
	assets store.AssetStore,
	jobs job.Store,
	hub *relay.Hub,
	blobs BlobStore,
	optimizer generation.Optimizer,
	attempts int,
	logger *slog.Logger,
) (AssetService, error) {
	if db == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "db cannot be nil"}
	}
	if assets == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "assets cannot be nil"}
	}
	if jobs == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "jobs cannot be nil"}
	}
	if hub == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "hub cannot be nil"}
	}
	if blobs == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "blobs cannot be nil"}
	}
	if optimizer == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "optimizer cannot be nil"}
	}
	if attempts < 1 {
		return nil, &ServiceError{Operation: "create_service", Message: "attempts must be at least 1"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &assetServiceImpl{
		db:        db,
		assets:    assets,
		jobs:      jobs,
		hub:       hub,
		blobs:     blobs,
		optimizer: optimizer,
		attempts:  attempts,
		logger:    logger.With("component", "asset_service"),
	}, nil
}

// RegisterUpload stores the original and creates the asset record. Unlike
// renders, assets skip pending entirely: the upload itself is the durable
// intake, so the entity starts in uploaded status.
func (s *assetServiceImpl) RegisterUpload(
	ctx context.Context,
	sessionID, roomID uuid.UUID,
	filename string,
	data []byte,
) (*domain.Asset, error) {
	if len(data) == 0 {
		return nil, &ServiceError{Operation: "register_upload", Message: "upload is empty"}
	}

	asset, err := domain.NewAsset(sessionID, roomID, filename)
	if err != nil {
		return nil, NewServiceError("register_upload", "failed to create asset object", err)
	}

	key := fmt.Sprintf("assets/%s/original/%s", asset.ID, filename)
	url, err := s.blobs.Put(ctx, key, data)
	if err != nil {
		return nil, NewServiceError("register_upload", "failed to store original image", err)
	}
	asset.Metadata[metaOriginalKey] = key
	asset.Metadata[metaOriginalURL] = url

	payload, err := json.Marshal(AssetJobPayload{
		Envelope: job.Envelope{EntityID: asset.ID, SessionID: sessionID},
		Filename: filename,
		BlobKey:  key,
	})
	if err != nil {
		return nil, NewServiceError("register_upload", "failed to marshal job payload", err)
	}

	rec, err := job.NewRecord(job.TypeImageVariantOptimize, payload, s.attempts)
	if err != nil {
		return nil, NewServiceError("register_upload", "failed to create job record", err)
	}

	// Asset row and job row commit together; an enqueue failure rolls the
	// asset back so no uploaded record is left without its variants job.
	// Only the stored original can be orphaned, which the client retries.
	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.assets.WithTx(tx).Create(ctx, asset); err != nil {
			return NewServiceError("register_upload", "failed to save asset", err)
		}
		if err := s.jobs.WithTx(tx).Enqueue(ctx, rec); err != nil {
			return NewServiceError("register_upload", "failed to enqueue optimization job", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("asset upload registered",
		"asset_id", asset.ID,
		"session_id", sessionID,
		"job_id", rec.ID)
	return asset, nil
}

// RequestOptimize enqueues a fresh optimization job for an asset whose
// variants never arrived. Only uploaded assets qualify: processing means a
// job is already live, and terminal assets are settled.
func (s *assetServiceImpl) RequestOptimize(ctx context.Context, id uuid.UUID) (*job.Record, error) {
	asset, err := s.assets.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError("request_optimize", "failed to retrieve asset", err)
	}

	if asset.Status != domain.EntityStatusUploaded {
		return nil, ErrAssetNotOptimizable
	}

	key := asset.Metadata[metaOriginalKey]
	if key == "" {
		return nil, &ServiceError{Operation: "request_optimize", Message: "asset has no stored original"}
	}

	payload, err := json.Marshal(AssetJobPayload{
		Envelope: job.Envelope{EntityID: asset.ID, SessionID: asset.SessionID},
		Filename: asset.Filename,
		BlobKey:  key,
	})
	if err != nil {
		return nil, NewServiceError("request_optimize", "failed to marshal job payload", err)
	}

	rec, err := job.NewRecord(job.TypeImageVariantOptimize, payload, s.attempts)
	if err != nil {
		return nil, NewServiceError("request_optimize", "failed to create job record", err)
	}

	if err := s.jobs.Enqueue(ctx, rec); err != nil {
		return nil, NewServiceError("request_optimize", "failed to enqueue optimization job", err)
	}

	s.logger.Info("asset optimization requeued",
		"asset_id", asset.ID,
		"session_id", asset.SessionID,
		"job_id", rec.ID)
	return rec, nil
}

// GetAsset retrieves an asset by its ID.
func (s *assetServiceImpl) GetAsset(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	asset, err := s.assets.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError("get_asset", "failed to retrieve asset", err)
	}
	return asset, nil
}

// ProcessJob produces the thumbnail, preview, and full variants from the
// stored original, reporting progress after each one.
func (s *assetServiceImpl) ProcessJob(ctx context.Context, rec *job.Record) error {
	var payload AssetJobPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode asset job payload: %w", err)
	}

	asset, err := s.assets.GetByID(ctx, payload.EntityID)
	if err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			s.logger.Warn("optimize job for missing asset",
				"asset_id", payload.EntityID,
				"job_id", rec.ID)
			return nil
		}
		return fmt.Errorf("failed to load asset: %w", err)
	}

	if asset.Status.IsTerminal() {
		s.logger.Info("asset already terminal, skipping job",
			"asset_id", asset.ID,
			"status", asset.Status)
		return nil
	}

	if asset.Status == domain.EntityStatusUploaded {
		if err := asset.Transition(domain.EntityStatusProcessing); err != nil {
			return fmt.Errorf("failed to transition asset to processing: %w", err)
		}
		if err := s.assets.Update(ctx, asset); err != nil {
			return fmt.Errorf("failed to persist processing asset: %w", err)
		}
	}

	original, err := s.blobs.Get(ctx, payload.BlobKey)
	if err != nil {
		if isFinalAttempt(rec) {
			s.failAsset(ctx, asset, fmt.Sprintf("original image unavailable: %v", err))
		}
		return fmt.Errorf("failed to read original image: %w", err)
	}

	for _, step := range variantOrder {
		variant, err := s.optimizer.OptimizeVariant(ctx, original, step.variant)
		if err != nil {
			if isFinalAttempt(rec) {
				s.failAsset(ctx, asset, fmt.Sprintf("%s optimization failed: %v", step.variant, err))
			}
			return fmt.Errorf("failed to optimize %s variant: %w", step.variant, err)
		}

		key := fmt.Sprintf("assets/%s/%s/%s", asset.ID, step.variant, payload.Filename)
		url, err := s.blobs.Put(ctx, key, variant)
		if err != nil {
			if isFinalAttempt(rec) {
				s.failAsset(ctx, asset, fmt.Sprintf("%s variant upload failed: %v", step.variant, err))
			}
			return fmt.Errorf("failed to store %s variant: %w", step.variant, err)
		}

		asset.Metadata[variantURLKey(step.variant)] = url

		s.publish(payload.SessionID, relay.AssetProgressData{
			AssetID:     asset.ID,
			Status:      string(domain.EntityStatusProcessing),
			Progress:    step.progress,
			VariantType: string(step.variant),
		})
	}

	if err := asset.Transition(domain.EntityStatusReady); err != nil {
		return fmt.Errorf("failed to transition asset to ready: %w", err)
	}
	if err := s.assets.Update(ctx, asset); err != nil {
		if isFinalAttempt(rec) {
			s.failAsset(ctx, asset, fmt.Sprintf("failed to persist result: %v", err))
		}
		return fmt.Errorf("failed to persist ready asset: %w", err)
	}

	s.publish(payload.SessionID, relay.AssetProgressData{
		AssetID:  asset.ID,
		Status:   string(domain.EntityStatusReady),
		Progress: 100,
	})

	s.logger.Info("asset variants ready",
		"asset_id", asset.ID,
		"session_id", payload.SessionID,
		"attempt", rec.AttemptsMade+1)
	return nil
}

// failAsset settles an asset to failed and emits a final progress event.
// Best-effort, mirroring the render failure path.
func (s *assetServiceImpl) failAsset(ctx context.Context, asset *domain.Asset, reason string) {
	alreadyFailed := asset.Status == domain.EntityStatusFailed

	if err := asset.MarkFailed(reason); err != nil {
		s.logger.Error("failed to mark asset failed",
			"error", err,
			"asset_id", asset.ID,
			"status", asset.Status)
		return
	}

	if !alreadyFailed {
		if err := s.assets.Update(ctx, asset); err != nil {
			s.logger.Error("failed to persist failed asset",
				"error", err,
				"asset_id", asset.ID)
		}

		s.publish(asset.SessionID, relay.AssetProgressData{
			AssetID: asset.ID,
			Status:  string(domain.EntityStatusFailed),
		})

		s.logger.Warn("asset processing failed",
			"asset_id", asset.ID,
			"session_id", asset.SessionID,
			"reason", reason)
	}
}

func (s *assetServiceImpl) publish(sessionID uuid.UUID, data relay.AssetProgressData) {
	event, err := relay.NewEvent(relay.EventAssetProgress, sessionID, data)
	if err != nil {
		s.logger.Error("failed to build asset progress event",
			"error", err,
			"session_id", sessionID)
		return
	}
	s.hub.Publish(event)
}

func variantURLKey(variant domain.AssetVariantType) string {
	return fmt.Sprintf("variant_%s_url", variant)
}
