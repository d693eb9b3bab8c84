package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lucidspace/atelier-api/internal/api/shared"
	"github.com/lucidspace/atelier-api/internal/config"
	"github.com/lucidspace/atelier-api/internal/ratelimit"
	"github.com/lucidspace/atelier-api/internal/relay"
	"github.com/lucidspace/atelier-api/internal/store"
)

const (
	// wsWriteTimeout bounds a single write to a client.
	wsWriteTimeout = 10 * time.Second

	// wsPongWait is how long a connection may go without a pong before it
	// is considered dead. Pings go out at a third of this.
	wsPongWait = 60 * time.Second
)

// WSHandler upgrades clients onto the session channel. Each connection gets
// its own relay subscription and its own inbound token bucket; both die
// with the connection.
type WSHandler struct {
	hub      *relay.Hub
	sessions store.SessionStore
	relayCfg config.RelayConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *relay.Hub, sessions store.SessionStore, relayCfg config.RelayConfig, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		hub:      hub,
		sessions: sessions,
		relayCfg: relayCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: logger.With("component", "ws_handler"),
	}
}

// Subscribe handles GET /ws?session={id} requests.
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("session")
	if raw == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "session query parameter is required")
		return
	}
	sessionID, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "session has invalid format")
		return
	}

	if _, err := h.sessions.GetByID(r.Context(), sessionID); err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve session")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Warn("websocket upgrade failed", "error", err, "session_id", sessionID)
		return
	}

	sub := h.hub.Join(sessionID)
	bucket := ratelimit.NewBucket(h.relayCfg.MessageLimit, h.relayCfg.MessageWindow)

	log := h.logger.With("session_id", sessionID)
	log.Info("relay connection established")

	done := make(chan struct{})
	limited := make(chan struct{}, 1)
	go h.readPump(conn, bucket, done, limited, log)
	h.writePump(conn, sub, done, limited, log)

	h.hub.Leave(sub)
	_ = conn.Close()
	log.Info("relay connection closed")
}

// readPump drains inbound messages, charging each against the connection's
// token bucket. An empty bucket signals the write side to send the
// rate-limited event instead of processing the message. Closing done stops
// the write side.
func (h *WSHandler) readPump(conn *websocket.Conn, bucket *ratelimit.Bucket, done chan<- struct{}, limited chan<- struct{}, log *slog.Logger) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("relay read error", "error", err)
			}
			return
		}

		if err := bucket.Take(); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				select {
				case limited <- struct{}{}:
				default:
				}
				continue
			}
			return
		}
		// Inbound messages are only keepalive/ack traffic today; consuming
		// the token is the whole job.
	}
}

// writePump owns all writes on the connection: subscription events,
// rate-limited signals, and keepalive pings.
func (h *WSHandler) writePump(conn *websocket.Conn, sub *relay.Subscriber, done <-chan struct{}, limited <-chan struct{}, log *slog.Logger) {
	pingTicker := time.NewTicker(wsPongWait / 3)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.Warn("relay write error", "error", err)
				return
			}
		case <-limited:
			event, err := relay.NewEvent(relay.EventRateLimited, sub.SessionID(), nil)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.Warn("failed to send rate-limited signal", "error", err)
				return
			}
		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
