package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/engine"
	"github.com/Priya8975/epcis-repository/internal/query"
)

const (
	MessageGetEvents = "getEvents"
	MessageEvents    = "events"
	MessageError     = "error"

	readLimit  = 64 << 10
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	queryWait  = 30 * time.Second
)

// Request is a client message on a stream.
type Request struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is a server message on a stream. Data is set for events,
// Error for errors.
type Response struct {
	Type  string          `json:"type"`
	Data  *Results        `json:"data,omitempty"`
	Error *domain.Problem `json:"error,omitempty"`
}

// Results is the query result envelope carried by an events message. Live
// pushes carry no page token.
type Results struct {
	QueryName      string          `json:"queryName"`
	SubscriptionID string          `json:"subscriptionID,omitempty"`
	EventList      []*domain.Event `json:"eventList"`
	NextPageToken  string          `json:"nextPageToken,omitempty"`
}

type session struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	target  Target
	filter  *query.Spec
	querier Querier
}

// live returns the push message for the events that match the session's
// query, or false when none does. Called from the hub loop only.
func (s *session) live(events []*domain.Event) ([]byte, bool) {
	if s.filter.MatchesNothing {
		return nil, false
	}
	var matched []*domain.Event
	for _, ev := range events {
		if s.filter.Matches(ev) {
			matched = append(matched, ev)
		}
	}
	if len(matched) == 0 {
		return nil, false
	}
	msg, err := json.Marshal(s.results(matched, ""))
	if err != nil {
		s.hub.logger.Error("failed to marshal stream push", "error", err)
		return nil, false
	}
	return msg, true
}

func (s *session) results(events []*domain.Event, next string) Response {
	if events == nil {
		events = []*domain.Event{}
	}
	return Response{Type: MessageEvents, Data: &Results{
		QueryName:      s.target.QueryName,
		SubscriptionID: s.target.SubscriptionID,
		EventList:      events,
		NextPageToken:  next,
	}}
}

// handle answers one client message.
func (s *session) handle(raw []byte) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return problemResponse(domain.Invalidf("message is not valid JSON"))
	}
	if req.Type != MessageGetEvents {
		return problemResponse(domain.Invalidf("unsupported message type %q", req.Type))
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryWait)
	defer cancel()

	params, err := s.querier.Params(ctx, s.target.QueryName, req.Params)
	if err != nil {
		return problemResponse(err)
	}
	res, err := s.querier.Run(ctx, s.target.QueryName, params)
	if err != nil {
		return problemResponse(err)
	}
	return s.results(res.Events, res.NextPageToken)
}

func problemResponse(err error) Response {
	var p domain.Problem
	switch {
	case domain.IsValidation(err):
		p = domain.NewProblem(domain.ValidationException, "Invalid request", http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNoSuchName):
		p = domain.NewProblem(domain.NoSuchNameException, "Query not found", http.StatusNotFound, err.Error())
	case errors.Is(err, query.ErrTooComplex), errors.Is(err, engine.ErrQueryExecution):
		p = domain.NewProblem(domain.QueryTooComplexException, "Query too complex", http.StatusRequestEntityTooLarge, err.Error())
	default:
		p = domain.NewProblem(domain.ImplementationException, "Internal error", http.StatusInternalServerError, err.Error())
	}
	return Response{Type: MessageError, Error: &p}
}

// reply queues resp for the write pump. It reports false once the session
// has been dropped by the hub.
func (s *session) reply(resp Response) bool {
	msg, err := json.Marshal(resp)
	if err != nil {
		s.hub.logger.Error("failed to marshal stream reply", "error", err)
		return true
	}

	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	if _, ok := s.hub.sessions[s]; !ok {
		return false
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// readPump reads client requests and answers them in order.
func (s *session) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(readLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !s.reply(s.handle(raw)) {
			return
		}
	}
}

// writePump writes queued messages to the connection.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
