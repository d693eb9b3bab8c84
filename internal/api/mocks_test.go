package api

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/job"
	"github.com/lucidspace/atelier-api/internal/store"
)

// MockRenderService is a mock implementation of service.RenderService for
// testing.
type MockRenderService struct {
	RequestRenderFn      func(ctx context.Context, sessionID, roomID uuid.UUID, prompt string) (*domain.Render, error)
	GetRenderFn          func(ctx context.Context, id uuid.UUID) (*domain.Render, error)
	ListSessionRendersFn func(ctx context.Context, sessionID uuid.UUID) ([]*domain.Render, error)
}

func (m *MockRenderService) RequestRender(ctx context.Context, sessionID, roomID uuid.UUID, prompt string) (*domain.Render, error) {
	if m.RequestRenderFn != nil {
		return m.RequestRenderFn(ctx, sessionID, roomID, prompt)
	}
	return nil, nil
}

func (m *MockRenderService) GetRender(ctx context.Context, id uuid.UUID) (*domain.Render, error) {
	if m.GetRenderFn != nil {
		return m.GetRenderFn(ctx, id)
	}
	return nil, nil
}

func (m *MockRenderService) ListSessionRenders(ctx context.Context, sessionID uuid.UUID) ([]*domain.Render, error) {
	if m.ListSessionRendersFn != nil {
		return m.ListSessionRendersFn(ctx, sessionID)
	}
	return nil, nil
}

func (m *MockRenderService) ProcessJob(ctx context.Context, rec *job.Record) error { return nil }

func (m *MockRenderService) FailRender(ctx context.Context, id uuid.UUID, reason string) error {
	return nil
}

// MockDocumentService is a mock implementation of service.DocumentService
// for testing.
type MockDocumentService struct {
	RequestDocumentFn func(ctx context.Context, sessionID uuid.UUID, kind domain.DocumentKind) (*domain.Document, error)
	GetDocumentFn     func(ctx context.Context, id uuid.UUID) (*domain.Document, error)
}

func (m *MockDocumentService) RequestDocument(ctx context.Context, sessionID uuid.UUID, kind domain.DocumentKind) (*domain.Document, error) {
	if m.RequestDocumentFn != nil {
		return m.RequestDocumentFn(ctx, sessionID, kind)
	}
	return nil, nil
}

func (m *MockDocumentService) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	if m.GetDocumentFn != nil {
		return m.GetDocumentFn(ctx, id)
	}
	return nil, nil
}

func (m *MockDocumentService) ProcessJob(ctx context.Context, rec *job.Record) error { return nil }

// MockAssetService is a mock implementation of service.AssetService for
// testing.
type MockAssetService struct {
	RegisterUploadFn  func(ctx context.Context, sessionID, roomID uuid.UUID, filename string, data []byte) (*domain.Asset, error)
	RequestOptimizeFn func(ctx context.Context, id uuid.UUID) (*job.Record, error)
	GetAssetFn        func(ctx context.Context, id uuid.UUID) (*domain.Asset, error)
}

func (m *MockAssetService) RegisterUpload(ctx context.Context, sessionID, roomID uuid.UUID, filename string, data []byte) (*domain.Asset, error) {
	if m.RegisterUploadFn != nil {
		return m.RegisterUploadFn(ctx, sessionID, roomID, filename, data)
	}
	return nil, nil
}

func (m *MockAssetService) RequestOptimize(ctx context.Context, id uuid.UUID) (*job.Record, error) {
	if m.RequestOptimizeFn != nil {
		return m.RequestOptimizeFn(ctx, id)
	}
	return nil, nil
}

func (m *MockAssetService) GetAsset(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	if m.GetAssetFn != nil {
		return m.GetAssetFn(ctx, id)
	}
	return nil, nil
}

func (m *MockAssetService) ProcessJob(ctx context.Context, rec *job.Record) error { return nil }

// MockChatService is a mock implementation of service.ChatService for
// testing.
type MockChatService struct {
	SubmitMessageFn func(ctx context.Context, sessionID uuid.UUID, message string) (uuid.UUID, error)
}

func (m *MockChatService) SubmitMessage(ctx context.Context, sessionID uuid.UUID, message string) (uuid.UUID, error) {
	if m.SubmitMessageFn != nil {
		return m.SubmitMessageFn(ctx, sessionID, message)
	}
	return uuid.Nil, nil
}

func (m *MockChatService) ProcessJob(ctx context.Context, rec *job.Record) error { return nil }

// MockSessionStore is a mock implementation of store.SessionStore for
// testing.
type MockSessionStore struct {
	GetByIDFn   func(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	ListRoomsFn func(ctx context.Context, sessionID uuid.UUID) ([]*domain.Room, error)
}

func (m *MockSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return nil, store.ErrSessionNotFound
}

func (m *MockSessionStore) UpdatePhase(ctx context.Context, id uuid.UUID, phase domain.SessionPhase) error {
	return nil
}

func (m *MockSessionStore) ListRooms(ctx context.Context, sessionID uuid.UUID) ([]*domain.Room, error) {
	if m.ListRoomsFn != nil {
		return m.ListRoomsFn(ctx, sessionID)
	}
	return nil, nil
}

func (m *MockSessionStore) GetRoom(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	return nil, store.ErrRoomNotFound
}

func (m *MockSessionStore) WithTx(tx *sql.Tx) store.SessionStore { return m }

// MockRenderStore is a mock implementation of store.RenderStore for
// testing session detail reads.
type MockRenderStore struct {
	ListBySessionFn func(ctx context.Context, sessionID uuid.UUID) ([]*domain.Render, error)
}

func (m *MockRenderStore) Create(ctx context.Context, render *domain.Render) error { return nil }

func (m *MockRenderStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Render, error) {
	return nil, store.ErrRenderNotFound
}

func (m *MockRenderStore) Update(ctx context.Context, render *domain.Render) error { return nil }

func (m *MockRenderStore) Delete(ctx context.Context, id uuid.UUID) error { return nil }

func (m *MockRenderStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.Render, error) {
	if m.ListBySessionFn != nil {
		return m.ListBySessionFn(ctx, sessionID)
	}
	return nil, nil
}

func (m *MockRenderStore) CountBySessionSince(ctx context.Context, sessionID uuid.UUID, since time.Time) (int, error) {
	return 0, nil
}

func (m *MockRenderStore) ListStuckProcessing(ctx context.Context, cutoff time.Time) ([]*domain.Render, error) {
	return nil, nil
}

func (m *MockRenderStore) WithTx(tx *sql.Tx) store.RenderStore { return m }
