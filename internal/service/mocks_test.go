package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/generation"
	"github.com/lucidspace/atelier-api/internal/notify"
	"github.com/lucidspace/atelier-api/internal/store"
)

// The fakes below are stateful in-memory stores rather than call-recording
// mocks: processor flows read an entity, mutate it, and read it back, so
// the fakes have to remember writes.

type fakeRenderStore struct {
	mu        sync.Mutex
	renders   map[uuid.UUID]*domain.Render
	createErr error
	updateErr error
}

func newFakeRenderStore() *fakeRenderStore {
	return &fakeRenderStore{renders: make(map[uuid.UUID]*domain.Render)}
}

func (f *fakeRenderStore) Create(_ context.Context, render *domain.Render) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *render
	f.renders[render.ID] = &cp
	return nil
}

func (f *fakeRenderStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Render, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	render, ok := f.renders[id]
	if !ok {
		return nil, store.ErrRenderNotFound
	}
	cp := *render
	cp.Metadata = make(map[string]string, len(render.Metadata))
	for k, v := range render.Metadata {
		cp.Metadata[k] = v
	}
	return &cp, nil
}

func (f *fakeRenderStore) Update(_ context.Context, render *domain.Render) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.renders[render.ID]; !ok {
		return store.ErrRenderNotFound
	}
	cp := *render
	f.renders[render.ID] = &cp
	return nil
}

func (f *fakeRenderStore) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.renders[id]; !ok {
		return store.ErrRenderNotFound
	}
	delete(f.renders, id)
	return nil
}

func (f *fakeRenderStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*domain.Render, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*domain.Render{}
	for _, r := range f.renders {
		if r.SessionID == sessionID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRenderStore) CountBySessionSince(_ context.Context, sessionID uuid.UUID, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, r := range f.renders {
		if r.SessionID == sessionID && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRenderStore) ListStuckProcessing(_ context.Context, cutoff time.Time) ([]*domain.Render, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*domain.Render{}
	for _, r := range f.renders {
		if r.Status == domain.EntityStatusProcessing && r.UpdatedAt.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRenderStore) WithTx(*sql.Tx) store.RenderStore { return f }

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
	rooms    map[uuid.UUID]*domain.Room
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[uuid.UUID]*domain.Session),
		rooms:    make(map[uuid.UUID]*domain.Room),
	}
}

func (f *fakeSessionStore) addSession(session *domain.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *session
	f.sessions[session.ID] = &cp
}

func (f *fakeSessionStore) addRoom(room *domain.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *room
	f.rooms[room.ID] = &cp
}

func (f *fakeSessionStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (f *fakeSessionStore) UpdatePhase(_ context.Context, id uuid.UUID, phase domain.SessionPhase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return store.ErrSessionNotFound
	}
	session.Phase = phase
	return nil
}

func (f *fakeSessionStore) ListRooms(_ context.Context, sessionID uuid.UUID) ([]*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*domain.Room{}
	for _, room := range f.rooms {
		if room.SessionID == sessionID {
			cp := *room
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) GetRoom(_ context.Context, id uuid.UUID) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	cp := *room
	return &cp, nil
}

func (f *fakeSessionStore) WithTx(*sql.Tx) store.SessionStore { return f }

type fakeAssetStore struct {
	mu        sync.Mutex
	assets    map[uuid.UUID]*domain.Asset
	createErr error
}

func newFakeAssetStore() *fakeAssetStore {
	return &fakeAssetStore{assets: make(map[uuid.UUID]*domain.Asset)}
}

func (f *fakeAssetStore) Create(_ context.Context, asset *domain.Asset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *asset
	f.assets[asset.ID] = &cp
	return nil
}

func (f *fakeAssetStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	asset, ok := f.assets[id]
	if !ok {
		return nil, store.ErrAssetNotFound
	}
	cp := *asset
	cp.Metadata = make(map[string]string, len(asset.Metadata))
	for k, v := range asset.Metadata {
		cp.Metadata[k] = v
	}
	return &cp, nil
}

func (f *fakeAssetStore) Update(_ context.Context, asset *domain.Asset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.assets[asset.ID]; !ok {
		return store.ErrAssetNotFound
	}
	cp := *asset
	f.assets[asset.ID] = &cp
	return nil
}

func (f *fakeAssetStore) WithTx(*sql.Tx) store.AssetStore { return f }

type fakeDocumentStore struct {
	mu        sync.Mutex
	documents map[uuid.UUID]*domain.Document
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{documents: make(map[uuid.UUID]*domain.Document)}
}

func (f *fakeDocumentStore) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *doc
	f.documents[doc.ID] = &cp
	return nil
}

func (f *fakeDocumentStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	cp := *doc
	cp.Metadata = make(map[string]string, len(doc.Metadata))
	for k, v := range doc.Metadata {
		cp.Metadata[k] = v
	}
	return &cp, nil
}

func (f *fakeDocumentStore) Update(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[doc.ID]; !ok {
		return store.ErrDocumentNotFound
	}
	cp := *doc
	f.documents[doc.ID] = &cp
	return nil
}

func (f *fakeDocumentStore) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[id]; !ok {
		return store.ErrDocumentNotFound
	}
	delete(f.documents, id)
	return nil
}

func (f *fakeDocumentStore) CountBySessionSince(_ context.Context, sessionID uuid.UUID, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, doc := range f.documents {
		if doc.SessionID == sessionID && !doc.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeDocumentStore) WithTx(*sql.Tx) store.DocumentStore { return f }

type fakeBlobStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	putErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(_ context.Context, key string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	f.blobs[key] = data
	return "http://blobs.test/" + key, nil
}

func (f *fakeBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %q not found", key)
	}
	return data, nil
}

type fakeGenerator struct {
	generateFn func(ctx context.Context, prompt string, progress generation.ProgressFunc) ([]byte, error)
}

func (f *fakeGenerator) GenerateRender(ctx context.Context, prompt string, progress generation.ProgressFunc) ([]byte, error) {
	if f.generateFn != nil {
		return f.generateFn(ctx, prompt, progress)
	}
	return []byte("image-bytes"), nil
}

type fakeOptimizer struct {
	optimizeFn func(ctx context.Context, original []byte, variant domain.AssetVariantType) ([]byte, error)
}

func (f *fakeOptimizer) OptimizeVariant(ctx context.Context, original []byte, variant domain.AssetVariantType) ([]byte, error) {
	if f.optimizeFn != nil {
		return f.optimizeFn(ctx, original, variant)
	}
	return append([]byte(variant+":"), original...), nil
}

type fakeComposer struct {
	composeFn func(ctx context.Context, session *domain.Session, kind domain.DocumentKind) ([]byte, error)
}

func (f *fakeComposer) ComposeDocument(ctx context.Context, session *domain.Session, kind domain.DocumentKind) ([]byte, error) {
	if f.composeFn != nil {
		return f.composeFn(ctx, session, kind)
	}
	return []byte("# " + string(kind)), nil
}

type fakeAgent struct {
	processFn func(ctx context.Context, session *domain.Session, message string) (generation.AgentReply, error)
}

func (f *fakeAgent) ProcessMessage(ctx context.Context, session *domain.Session, message string) (generation.AgentReply, error) {
	if f.processFn != nil {
		return f.processFn(ctx, session, message)
	}
	return generation.AgentReply{Reply: "ok"}, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakePublisher) Close() error { return nil }
