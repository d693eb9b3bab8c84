package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidspace/atelier-api/internal/config"
	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/relay"
	"github.com/lucidspace/atelier-api/internal/store"
)

func wsTestServer(t *testing.T, hub *relay.Hub, sessionID uuid.UUID, messageLimit int) *httptest.Server {
	t.Helper()

	sessions := &MockSessionStore{
		GetByIDFn: func(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
			if id == sessionID {
				return &domain.Session{ID: sessionID, Phase: domain.PhaseDesign}, nil
			}
			return nil, store.ErrSessionNotFound
		},
	}

	handler := NewWSHandler(hub, sessions, config.RelayConfig{
		MessageLimit:  messageLimit,
		MessageWindow: time.Hour,
	}, nil)

	r := chi.NewRouter()
	r.Get("/ws", handler.Subscribe)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsDial(t *testing.T, srv *httptest.Server, sessionID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=" + sessionID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) relay.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event relay.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestWSHandler_ConnectedSignalAndEvents(t *testing.T) {
	sessionID := uuid.New()
	hub := relay.NewHub(nil)
	srv := wsTestServer(t, hub, sessionID, 10)

	conn := wsDial(t, srv, sessionID)

	connected := readEvent(t, conn)
	assert.Equal(t, relay.EventConnected, connected.Type)
	assert.Equal(t, sessionID, connected.SessionID)

	// Events published to the session reach the connection.
	event, err := relay.NewEvent(relay.EventRoomsUpdated, sessionID, relay.RoomsUpdatedData{SessionID: sessionID})
	require.NoError(t, err)

	// The subscription is registered asynchronously with the dial.
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(sessionID) == 1
	}, 2*time.Second, 10*time.Millisecond)
	hub.Publish(event)

	got := readEvent(t, conn)
	assert.Equal(t, relay.EventRoomsUpdated, got.Type)
}

func TestWSHandler_RateLimitSignal(t *testing.T) {
	sessionID := uuid.New()
	hub := relay.NewHub(nil)
	srv := wsTestServer(t, hub, sessionID, 2)

	conn := wsDial(t, srv, sessionID)

	connected := readEvent(t, conn)
	require.Equal(t, relay.EventConnected, connected.Type)

	// The first two inbound messages fit the bucket; the third trips it.
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	}

	limited := readEvent(t, conn)
	assert.Equal(t, relay.EventRateLimited, limited.Type)
}

func TestWSHandler_UnknownSessionRejected(t *testing.T) {
	sessionID := uuid.New()
	hub := relay.NewHub(nil)
	srv := wsTestServer(t, hub, sessionID, 10)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=" + uuid.New().String()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		_ = conn.Close()
	}
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWSHandler_SubscriberRemovedOnDisconnect(t *testing.T) {
	sessionID := uuid.New()
	hub := relay.NewHub(nil)
	srv := wsTestServer(t, hub, sessionID, 10)

	conn := wsDial(t, srv, sessionID)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(sessionID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(sessionID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
