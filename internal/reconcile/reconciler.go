// Package reconcile implements the subscriber-side view of the realtime
// channel: an ephemeral progress map derived from relay events, paired with
// debounced invalidation of authoritative reads. Missed events are
// unrecoverable from the channel, so every reconnect clears the ephemeral
// state and unconditionally invalidates the session's reads.
package reconcile

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/relay"
)

// defaultRetention is how long terminal entries stay visible after
// completion or failure, for UI transition purposes.
const defaultRetention = 3 * time.Second

// Invalidation targets for authoritative reads.
const (
	targetSessionDetail = "session_detail"
	targetSessionRooms  = "session_rooms"
)

// Entry is the ephemeral, event-derived progress view of one entity. It is
// never authoritative.
type Entry struct {
	EntityID uuid.UUID
	Status   string
	Progress int
	Stage    relay.RenderStage
}

// Invalidator refreshes authoritative reads. Implementations typically
// re-fetch the REST resource and update a local cache.
type Invalidator interface {
	InvalidateSessionDetail(sessionID uuid.UUID)
	InvalidateSessionRooms(sessionID uuid.UUID)
}

// Reconciler consumes one subscription's event stream and maintains the
// ephemeral progress map.
type Reconciler struct {
	sessionID   uuid.UUID
	invalidator Invalidator
	logger      *slog.Logger

	retention time.Duration
	delays    map[relay.EventType]time.Duration

	mu        sync.Mutex
	entries   map[uuid.UUID]Entry
	pending   map[string]*time.Timer // debounced invalidations by target
	removals  map[uuid.UUID]*time.Timer
	connected bool
	stopped   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithRetention overrides the terminal entry display window.
func WithRetention(d time.Duration) Option {
	return func(r *Reconciler) { r.retention = d }
}

// WithInvalidationDelay overrides the invalidation delay for one event type.
func WithInvalidationDelay(typ relay.EventType, d time.Duration) Option {
	return func(r *Reconciler) { r.delays[typ] = d }
}

// New creates a Reconciler for one session subscription.
func New(sessionID uuid.UUID, invalidator Invalidator, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reconciler{
		sessionID:   sessionID,
		invalidator: invalidator,
		logger:      logger.With("component", "reconciler", "session_id", sessionID),
		retention:   defaultRetention,
		delays: map[relay.EventType]time.Duration{
			relay.EventPhaseChanged:   100 * time.Millisecond,
			relay.EventRoomsUpdated:   200 * time.Millisecond,
			relay.EventRenderComplete: 300 * time.Millisecond,
			relay.EventRenderFailed:   300 * time.Millisecond,
			relay.EventAssetProgress:  500 * time.Millisecond,
		},
		entries:  make(map[uuid.UUID]Entry),
		pending:  make(map[string]*time.Timer),
		removals: make(map[uuid.UUID]*time.Timer),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start consumes events from the given stream until Stop is called or the
// stream closes.
func (r *Reconciler) Start(events <-chan relay.Event) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.done:
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				r.HandleEvent(event)
			}
		}
	}()
}

// Stop tears the reconciler down: the event loop ends and every pending
// timer registered since Start is canceled. Nothing leaks across
// re-subscriptions.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.done)

	for target, timer := range r.pending {
		timer.Stop()
		delete(r.pending, target)
	}
	for id, timer := range r.removals {
		timer.Stop()
		delete(r.removals, id)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

// HandleEvent applies one relay event to the ephemeral view and schedules
// any invalidation it implies.
func (r *Reconciler) HandleEvent(event relay.Event) {
	switch event.Type {
	case relay.EventConnected:
		r.handleConnected()
	case relay.EventRenderStarted:
		var data relay.RenderStartedData
		if err := event.UnmarshalData(&data); err != nil {
			r.logger.Warn("malformed render-started event", "error", err)
			return
		}
		r.setEntry(Entry{EntityID: data.EntityID, Status: "processing", Stage: relay.StageQueued})
	case relay.EventRenderProgress:
		var data relay.RenderProgressData
		if err := event.UnmarshalData(&data); err != nil {
			r.logger.Warn("malformed render-progress event", "error", err)
			return
		}
		r.setEntry(Entry{
			EntityID: data.EntityID,
			Status:   "processing",
			Progress: data.Progress,
			Stage:    data.Stage,
		})
	case relay.EventRenderComplete:
		var data relay.RenderCompleteData
		if err := event.UnmarshalData(&data); err != nil {
			r.logger.Warn("malformed render-complete event", "error", err)
			return
		}
		r.setTerminal(data.EntityID, "ready", 100)
	case relay.EventRenderFailed:
		var data relay.RenderFailedData
		if err := event.UnmarshalData(&data); err != nil {
			r.logger.Warn("malformed render-failed event", "error", err)
			return
		}
		r.setTerminal(data.EntityID, "failed", 0)
	case relay.EventAssetProgress:
		var data relay.AssetProgressData
		if err := event.UnmarshalData(&data); err != nil {
			r.logger.Warn("malformed asset progress event", "error", err)
			return
		}
		if data.Status == "ready" || data.Status == "failed" {
			r.setTerminal(data.AssetID, data.Status, data.Progress)
		} else {
			r.setEntry(Entry{EntityID: data.AssetID, Status: data.Status, Progress: data.Progress})
		}
	}

	r.scheduleInvalidation(event.Type)
}

// handleConnected runs the idempotent resync. The same path serves the
// first connect and every later reconnect: wipe the ephemeral view (missed
// events are unrecoverable) and invalidate both authoritative reads so the
// client converges no matter how many events it missed.
func (r *Reconciler) handleConnected() {
	r.mu.Lock()
	reconnect := r.connected
	r.connected = true
	r.entries = make(map[uuid.UUID]Entry)
	for id, timer := range r.removals {
		timer.Stop()
		delete(r.removals, id)
	}
	r.mu.Unlock()

	if reconnect {
		r.logger.Info("reconnect detected, resyncing authoritative state")
	}

	r.invalidator.InvalidateSessionDetail(r.sessionID)
	r.invalidator.InvalidateSessionRooms(r.sessionID)
}

// setEntry upserts an in-progress entry.
func (r *Reconciler) setEntry(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.entries[entry.EntityID] = entry
}

// setTerminal records a terminal entry and schedules its removal after the
// retention window.
func (r *Reconciler) setTerminal(entityID uuid.UUID, status string, progress int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	entry := r.entries[entityID]
	entry.EntityID = entityID
	entry.Status = status
	if progress > entry.Progress {
		entry.Progress = progress
	}
	entry.Stage = relay.StageFinalizing
	r.entries[entityID] = entry

	if timer, ok := r.removals[entityID]; ok {
		timer.Stop()
	}
	r.removals[entityID] = time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.entries, entityID)
		delete(r.removals, entityID)
	})
}

// scheduleInvalidation debounces the authoritative re-read implied by the
// event: the small delay tolerates the event arriving slightly before its
// underlying write is visible, and a burst of events collapses into one
// re-fetch per target.
func (r *Reconciler) scheduleInvalidation(typ relay.EventType) {
	delay, ok := r.delays[typ]
	if !ok {
		return
	}

	target := targetSessionRooms
	if typ == relay.EventPhaseChanged || typ == relay.EventAssetProgress {
		target = targetSessionDetail
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if _, scheduled := r.pending[target]; scheduled {
		return
	}

	r.pending[target] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.pending, target)
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			return
		}

		switch target {
		case targetSessionDetail:
			r.invalidator.InvalidateSessionDetail(r.sessionID)
		case targetSessionRooms:
			r.invalidator.InvalidateSessionRooms(r.sessionID)
		}
	})
}

// Entry returns the ephemeral entry for an entity, if present.
func (r *Reconciler) Entry(entityID uuid.UUID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[entityID]
	return entry, ok
}

// Entries returns a snapshot of all ephemeral entries.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out
}
