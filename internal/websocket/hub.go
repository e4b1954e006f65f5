package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/engine"
	"github.com/Priya8975/epcis-repository/internal/metrics"
	"github.com/Priya8975/epcis-repository/internal/query"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ErrUpgradeFailed is returned by Serve when the WebSocket handshake
// failed. The handshake has already written an error response.
var ErrUpgradeFailed = errors.New("websocket upgrade failed")

// Querier runs named queries on behalf of stream sessions.
type Querier interface {
	Params(ctx context.Context, name string, overrides json.RawMessage) (json.RawMessage, error)
	Compile(params json.RawMessage) (*query.Spec, error)
	Run(ctx context.Context, name string, params json.RawMessage) (*engine.QueryResult, error)
}

// Target names what a stream session follows: a named query, optionally
// through one of its subscriptions.
type Target struct {
	QueryName      string
	SubscriptionID string
}

// Hub tracks open stream sessions and pushes newly captured events to the
// sessions whose query matches them.
type Hub struct {
	sessions   map[*session]struct{}
	mu         sync.RWMutex
	broadcast  chan []*domain.Event
	register   chan *session
	unregister chan *session
	done       chan struct{}
	querier    Querier
	logger     *slog.Logger
}

func NewHub(querier Querier, logger *slog.Logger) *Hub {
	return &Hub{
		sessions:   make(map[*session]struct{}),
		broadcast:  make(chan []*domain.Event, 256),
		register:   make(chan *session),
		unregister: make(chan *session),
		done:       make(chan struct{}),
		querier:    querier,
		logger:     logger,
	}
}

// Run starts the hub's event loop and returns when ctx is cancelled, closing
// every open session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.sessions {
				h.drop(s)
			}
			h.mu.Unlock()
			return

		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = struct{}{}
			h.mu.Unlock()
			metrics.StreamSessions.Inc()
			h.logger.Debug("stream session opened", "query_name", s.target.QueryName, "subscription_id", s.target.SubscriptionID)

		case s := <-h.unregister:
			h.mu.Lock()
			h.drop(s)
			h.mu.Unlock()

		case events := <-h.broadcast:
			h.mu.Lock()
			for s := range h.sessions {
				msg, ok := s.live(events)
				if !ok {
					continue
				}
				select {
				case s.send <- msg:
				default:
					// Session buffer full; drop it
					h.drop(s)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes s. Called with mu held.
func (h *Hub) drop(s *session) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	close(s.send)
	metrics.StreamSessions.Dec()
	h.logger.Debug("stream session closed", "query_name", s.target.QueryName, "total_sessions", len(h.sessions))
}

// EventsCaptured queues events for live push. It never blocks the capture
// pipeline; events are dropped when the hub is saturated.
func (h *Hub) EventsCaptured(events []*domain.Event) {
	select {
	case h.broadcast <- events:
	default:
		h.logger.Warn("stream broadcast channel full, dropping events", "events", len(events))
	}
}

// Serve upgrades the request to a WebSocket stream following target. Errors
// returned before the upgrade leave the response untouched so the caller
// can report them.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, target Target) error {
	params, err := h.querier.Params(r.Context(), target.QueryName, nil)
	if err != nil {
		return err
	}
	spec, err := h.querier.Compile(params)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
	}

	s := &session{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 256),
		target:  target,
		filter:  spec,
		querier: h.querier,
	}
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return nil
	}

	go s.writePump()
	go s.readPump()
	return nil
}

// SessionCount returns the number of open stream sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
