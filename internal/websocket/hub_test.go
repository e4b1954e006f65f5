package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/engine"
	"github.com/Priya8975/epcis-repository/internal/query"
	"github.com/Priya8975/epcis-repository/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testEvent(id string, action domain.Action) *domain.Event {
	return &domain.Event{
		EventID:             id,
		Type:                domain.ObjectEventType,
		EventTime:           time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		EventTimeZoneOffset: "+00:00",
		RecordTime:          time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC),
		Action:              action,
		TenantID:            "tenant-a",
		Body:                &domain.ObjectEvent{EPCList: []string{"urn:epc:id:sgtin:0614141.107346." + id}},
	}
}

func setupTestHub(t *testing.T) (*Hub, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemory()
	ctx := context.Background()
	if err := s.CreateQuery(ctx, &domain.QueryDefinition{
		Name:  "observations",
		Query: json.RawMessage(`{"EQ_action":["OBSERVE"]}`),
	}); err != nil {
		t.Fatal(err)
	}

	executor := engine.NewQueryExecutor(s, s, query.DefaultLimits(), testLogger())
	hub := NewHub(executor, testLogger())

	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(runCtx)
	return hub, s
}

func connectWS(t *testing.T, hub *Hub, target Target) (*websocket.Conn, func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Serve(w, r, target); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
		}
	}))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("failed to connect WebSocket: %v", err)
	}

	cleanup := func() {
		conn.Close()
		server.Close()
	}
	return conn, cleanup
}

func readResponse(t *testing.T, conn *websocket.Conn) Response {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp Response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	return resp
}

func waitForSessions(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.SessionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d sessions, got %d", want, hub.SessionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_SessionLifecycle(t *testing.T) {
	hub, _ := setupTestHub(t)

	if count := hub.SessionCount(); count != 0 {
		t.Errorf("expected 0 sessions initially, got %d", count)
	}

	conn, cleanup := connectWS(t, hub, Target{QueryName: "observations"})
	defer cleanup()
	waitForSessions(t, hub, 1)

	conn.Close()
	waitForSessions(t, hub, 0)
}

func TestHub_UnknownQueryIsRejectedBeforeUpgrade(t *testing.T) {
	hub, _ := setupTestHub(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Serve(w, r, Target{QueryName: "missing"}); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
		}
	}))
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 response, got %v", resp)
	}
}

func TestHub_GetEvents(t *testing.T) {
	hub, s := setupTestHub(t)
	ctx := context.Background()
	for _, ev := range []*domain.Event{
		testEvent("ev-1", domain.ActionObserve),
		testEvent("ev-2", domain.ActionAdd),
		testEvent("ev-3", domain.ActionObserve),
	} {
		if err := s.InsertEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	conn, cleanup := connectWS(t, hub, Target{QueryName: "observations", SubscriptionID: "sub-1"})
	defer cleanup()

	if err := conn.WriteJSON(Request{Type: MessageGetEvents, Params: json.RawMessage(`{"perPage":1,"orderDirection":"ASC"}`)}); err != nil {
		t.Fatal(err)
	}
	resp := readResponse(t, conn)
	if resp.Type != MessageEvents || resp.Data == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Data.SubscriptionID != "sub-1" || resp.Data.QueryName != "observations" {
		t.Errorf("unexpected envelope: %+v", resp.Data)
	}
	if len(resp.Data.EventList) != 1 || resp.Data.EventList[0].EventID != "ev-1" {
		t.Errorf("unexpected events: %+v", resp.Data.EventList)
	}
	if resp.Data.NextPageToken == "" {
		t.Error("expected a next page token")
	}

	if err := conn.WriteJSON(Request{Type: MessageGetEvents, Params: json.RawMessage(`{"GE_eventTime":"soon"}`)}); err != nil {
		t.Fatal(err)
	}
	resp = readResponse(t, conn)
	if resp.Type != MessageError || resp.Error == nil {
		t.Fatalf("expected an error response, got %+v", resp)
	}
	if resp.Error.Type != domain.ExceptionBase+domain.ValidationException || resp.Error.Status != http.StatusBadRequest {
		t.Errorf("unexpected problem: %+v", resp.Error)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)); err != nil {
		t.Fatal(err)
	}
	if resp = readResponse(t, conn); resp.Type != MessageError {
		t.Errorf("expected unsupported type to be rejected, got %+v", resp)
	}
}

func TestHub_LivePushFiltersByQuery(t *testing.T) {
	hub, _ := setupTestHub(t)

	conn1, cleanup1 := connectWS(t, hub, Target{QueryName: "observations"})
	defer cleanup1()
	conn2, cleanup2 := connectWS(t, hub, Target{QueryName: "observations"})
	defer cleanup2()
	waitForSessions(t, hub, 2)

	hub.EventsCaptured([]*domain.Event{
		testEvent("ev-add", domain.ActionAdd),
		testEvent("ev-live", domain.ActionObserve),
	})

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		resp := readResponse(t, conn)
		if resp.Type != MessageEvents || resp.Data == nil {
			t.Fatalf("session %d: unexpected push %+v", i+1, resp)
		}
		if len(resp.Data.EventList) != 1 || resp.Data.EventList[0].EventID != "ev-live" {
			t.Errorf("session %d: expected only ev-live, got %+v", i+1, resp.Data.EventList)
		}
	}
}

func TestHub_ShutdownClosesSessions(t *testing.T) {
	s := store.NewMemory()
	if err := s.CreateQuery(context.Background(), &domain.QueryDefinition{Name: "all", Query: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}
	hub := NewHub(engine.NewQueryExecutor(s, s, query.DefaultLimits(), testLogger()), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	conn, cleanup := connectWS(t, hub, Target{QueryName: "all"})
	defer cleanup()
	waitForSessions(t, hub, 1)

	cancel()
	<-done

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to close")
	}
	if count := hub.SessionCount(); count != 0 {
		t.Errorf("expected 0 sessions after shutdown, got %d", count)
	}
}
