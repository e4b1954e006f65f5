package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/engine"
	"github.com/Priya8975/epcis-repository/internal/query"
	"github.com/Priya8975/epcis-repository/internal/store"
	ws "github.com/Priya8975/epcis-repository/internal/websocket"
)

type testServer struct {
	handler  http.Handler
	pipeline *engine.Pipeline
	store    *store.MemoryStore
	hub      *ws.Hub
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, limiter engine.RateLimiter, limits query.Limits) *testServer {
	t.Helper()
	logger := testLogger()
	s := store.NewMemory()

	pipeline := engine.NewPipeline(s, store.NewMemoryJobStore(), 3, logger)
	executor := engine.NewQueryExecutor(s, s, limits, logger)
	subs := engine.NewSubscriptionManager(s, s, executor, logger)
	hub := ws.NewHub(executor, logger)
	pipeline.SetListener(hub)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	return &testServer{
		handler: NewRouter(Deps{
			Pipeline:      pipeline,
			Executor:      executor,
			Subscriptions: subs,
			Hub:           hub,
			Limiter:       limiter,
			Logger:        logger,
		}),
		pipeline: pipeline,
		store:    s,
		hub:      hub,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) domain.Problem {
	t.Helper()
	assert.Equal(t, problemContentType, rec.Header().Get("Content-Type"))
	var p domain.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func captureDoc(events ...string) string {
	return `{"@context":["https://ref.gs1.org/standards/epcis/2.0.0/epcis-context.jsonld"],` +
		`"type":"EPCISDocument","schemaVersion":"2.0","epcisBody":{"eventList":[` + strings.Join(events, ",") + `]}}`
}

func objectEvent(id, action, eventTime string) string {
	return `{"eventID":"` + id + `","type":"ObjectEvent","eventTime":"` + eventTime + `","eventTimeZoneOffset":"+00:00",` +
		`"action":"` + action + `","tenantId":"tenant-a","epcList":["urn:epc:id:sgtin:0614141.107346.` + id + `"]}`
}

func TestDiscovery(t *testing.T) {
	ts := newTestServer(t, nil, query.DefaultLimits())

	rec := ts.do(t, http.MethodOptions, "/", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	for _, h := range []string{"GS1-EPCIS-Version", "GS1-CBV-Version", "GS1-EPCIS-Min", "GS1-EPCIS-Max"} {
		assert.Equal(t, "2.0.0", rec.Header().Get(h), h)
	}
	assert.Equal(t, "1.0.0", rec.Header().Get("GS1-Vendor-Version"))

	rec = ts.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/capture")

	rec = ts.do(t, http.MethodOptions, "/capture", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("GS1-EPCIS-Capture-Limit"))
}

func TestCapture_AcceptedAndPolled(t *testing.T) {
	ts := newTestServer(t, nil, query.DefaultLimits())

	rec := ts.do(t, http.MethodPost, "/capture", captureDoc(
		objectEvent("ev-1", "OBSERVE", "2024-03-01T10:00:00Z"),
		objectEvent("ev-2", "ADD", "2024-03-01T11:00:00Z"),
	))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted captureAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "/capture/"+accepted.CaptureID, rec.Header().Get("Location"))

	ts.pipeline.Wait()

	rec = ts.do(t, http.MethodGet, "/capture/"+accepted.CaptureID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job domain.CaptureJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, domain.JobSucceeded, job.Status)
	assert.True(t, job.Success)
	assert.Equal(t, domain.Rollback, job.CaptureErrorBehaviour)

	rec = ts.do(t, http.MethodGet, "/capture", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), accepted.CaptureID)
}

func TestCapture_Rejections(t *testing.T) {
	ts := newTestServer(t, nil, query.DefaultLimits())

	tests := []struct {
		name       string
		body       string
		headers    []string
		wantStatus int
		wantType   string
	}{
		{
			name:       "invalid error behaviour",
			body:       captureDoc(),
			headers:    []string{captureErrorBehaviourHeader, "ignore"},
			wantStatus: http.StatusBadRequest,
			wantType:   domain.ValidationException,
		},
		{
			name:       "not json",
			body:       "<xml/>",
			wantStatus: http.StatusBadRequest,
			wantType:   domain.ValidationException,
		},
		{
			name: "over the capture limit",
			body: captureDoc(
				objectEvent("a", "OBSERVE", "2024-03-01T10:00:00Z"),
				objectEvent("b", "OBSERVE", "2024-03-01T10:00:00Z"),
				objectEvent("c", "OBSERVE", "2024-03-01T10:00:00Z"),
				objectEvent("d", "OBSERVE", "2024-03-01T10:00:00Z"),
			),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   domain.CaptureLimitExceededException,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/capture", tt.body, tt.headers...)
			require.Equal(t, tt.wantStatus, rec.Code)
			p := decodeProblem(t, rec)
			assert.Equal(t, domain.ExceptionBase+tt.wantType, p.Type)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, "/capture", p.Instance)
		})
	}

	rec := ts.do(t, http.MethodGet, "/capture/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.ExceptionBase+domain.NoSuchResourceException, decodeProblem(t, rec).Type)
}

func TestCapture_RollbackLeavesNothing(t *testing.T) {
	ts := newTestServer(t, nil, query.DefaultLimits())

	rec := ts.do(t, http.MethodPost, "/capture", captureDoc(
		objectEvent("ok", "OBSERVE", "2024-03-01T10:00:00Z"),
		objectEvent("bad", "OBSERVE", "yesterday"),
	))
	require.Equal(t, http.StatusAccepted, rec.Code)
	ts.pipeline.Wait()

	rec = ts.do(t, http.MethodPost, "/queries", `{"name":"all","query":{}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodGet, "/queries/all/events", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc domain.QueryDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Empty(t, doc.EPCISBody.QueryResults.ResultsBody.EventList)
}

func TestQueries_CRUDAndPaging(t *testing.T) {
	ts := newTestServer(t, nil, query.Limits{DefaultPageSize: 2, MaxPageSize: 2, MaxValues: 100})

	rec := ts.do(t, http.MethodPost, "/capture", captureDoc(
		objectEvent("ev-1", "OBSERVE", "2024-03-01T10:00:00Z"),
		objectEvent("ev-2", "OBSERVE", "2024-03-01T11:00:00Z"),
		objectEvent("ev-3", "OBSERVE", "2024-03-01T12:00:00Z"),
	))
	require.Equal(t, http.StatusAccepted, rec.Code)
	ts.pipeline.Wait()

	rec = ts.do(t, http.MethodPost, "/queries", `{"name":"observations","query":{"EQ_action":["OBSERVE"],"orderDirection":"ASC"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/queries/observations", rec.Header().Get("Location"))

	rec = ts.do(t, http.MethodPost, "/queries", `{"name":"observations","query":{}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/queries/observations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"QueryDefinition"`)

	rec = ts.do(t, http.MethodGet, "/queries/observations/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	token := rec.Header().Get(nextPageTokenHeader)
	require.NotEmpty(t, token)
	assert.Equal(t, `</queries/observations/events?nextPageToken=`+token+`>; rel="next"`, rec.Header().Get("Link"))

	var page1 domain.QueryDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page1))
	assert.Equal(t, "EPCISQueryDocument", page1.Type)
	require.Len(t, page1.EPCISBody.QueryResults.ResultsBody.EventList, 2)

	rec = ts.do(t, http.MethodGet, "/queries/observations/events?nextPageToken="+token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(nextPageTokenHeader))
	var page2 domain.QueryDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page2))
	require.Len(t, page2.EPCISBody.QueryResults.ResultsBody.EventList, 1)
	assert.Equal(t, "ev-3", page2.EPCISBody.QueryResults.ResultsBody.EventList[0].EventID)

	rec = ts.do(t, http.MethodGet, "/queries/observations/events?perPage=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/queries/observations", `{"query":{"EQ_action":["ADD"]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/queries/observations/events", "")
	assert.NotContains(t, rec.Body.String(), "ev-1")

	rec = ts.do(t, http.MethodDelete, "/queries/observations", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodGet, "/queries/observations", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.ExceptionBase+domain.NoSuchNameException, decodeProblem(t, rec).Type)

	rec = ts.do(t, http.MethodGet, "/queries/observations/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/queries", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"QueryList"`)
}

func TestQueries_TooComplex(t *testing.T) {
	ts := newTestServer(t, nil, query.Limits{DefaultPageSize: 10, MaxPageSize: 10, MaxValues: 2})

	rec := ts.do(t, http.MethodPost, "/queries", `{"name":"big","query":{"MATCH_epc":["a","b","c"]}}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, domain.ExceptionBase+domain.QueryTooComplexException, decodeProblem(t, rec).Type)
}

func TestSubscriptions_Lifecycle(t *testing.T) {
	ts := newTestServer(t, nil, query.DefaultLimits())
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/queries", `{"name":"q1","query":{}}`).Code)

	rec := ts.do(t, http.MethodOptions, "/queries/q1/subscriptions", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Allow"))

	rec = ts.do(t, http.MethodPost, "/queries/q1/subscriptions", `{"destination":"https://example.com/hook","schedule":"*/5 * * * *"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sub domain.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, "/queries/q1/subscriptions/"+sub.ID, rec.Header().Get("Location"))
	assert.Equal(t, domain.SubscriptionActive, sub.Status)

	rec = ts.do(t, http.MethodPost, "/queries/q1/subscriptions", `{"destination":"https://example.com/hook","schedule":"every day"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/queries/missing/subscriptions", `{"stream":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/queries/q1/subscriptions/"+sub.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/queries/q1/subscriptions/"+sub.ID, `{"status":"paused"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"paused"`)

	rec = ts.do(t, http.MethodGet, "/queries/q1/subscriptions", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), sub.ID)

	rec = ts.do(t, http.MethodDelete, "/queries/q1/subscriptions/"+sub.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/queries/q1/subscriptions/"+sub.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.ExceptionBase+domain.NoSuchResourceException, decodeProblem(t, rec).Type)
}

func TestRateLimit(t *testing.T) {
	limiter := engine.NewMemoryRateLimiter(map[string]engine.RateRule{
		engine.NamespaceCapture:      {Limit: 100, Window: time.Minute},
		engine.NamespaceQuery:        {Limit: 1, Window: time.Minute},
		engine.NamespaceSubscription: {Limit: 100, Window: time.Minute},
	})
	ts := newTestServer(t, limiter, query.DefaultLimits())

	rec := ts.do(t, http.MethodGet, "/queries", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))

	rec = ts.do(t, http.MethodGet, "/queries", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, domain.ExceptionBase+domain.TooManyRequests, decodeProblem(t, rec).Type)
	assert.NotEmpty(t, rec.Header().Get("RateLimit-Reset"))

	rec = ts.do(t, http.MethodGet, "/capture", "")
	assert.Equal(t, http.StatusOK, rec.Code, "capture has its own budget")
}

func TestRateLimit_LimiterFailure(t *testing.T) {
	ts := newTestServer(t, engine.NewMemoryRateLimiter(map[string]engine.RateRule{}), query.DefaultLimits())

	rec := ts.do(t, http.MethodGet, "/capture", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, domain.ExceptionBase+domain.ImplementationException, decodeProblem(t, rec).Type)
}

func TestStreamSubscription(t *testing.T) {
	ts := newTestServer(t, nil, query.DefaultLimits())
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/queries", `{"name":"obs","query":{"EQ_action":["OBSERVE"]}}`).Code)

	rec := ts.do(t, http.MethodPost, "/queries/obs/subscriptions", `{"stream":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sub domain.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Empty(t, sub.Schedule)

	server := httptest.NewServer(ts.handler)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/queries/obs/subscriptions/"+sub.ID, nil)
	require.NoError(t, err)
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for ts.hub.SessionCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, ts.hub.SessionCount())

	rec = ts.do(t, http.MethodPost, "/capture", captureDoc(
		objectEvent("ev-add", "ADD", "2024-03-01T10:00:00Z"),
		objectEvent("ev-obs", "OBSERVE", "2024-03-01T10:00:00Z"),
	))
	require.Equal(t, http.StatusAccepted, rec.Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var push ws.Response
	require.NoError(t, conn.ReadJSON(&push))
	assert.Equal(t, ws.MessageEvents, push.Type)
	require.NotNil(t, push.Data)
	assert.Equal(t, sub.ID, push.Data.SubscriptionID)
	require.Len(t, push.Data.EventList, 1)
	assert.Equal(t, "ev-obs", push.Data.EventList[0].EventID)

	require.NoError(t, conn.WriteJSON(ws.Request{Type: ws.MessageGetEvents}))
	var reply ws.Response
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, ws.MessageEvents, reply.Type)
	require.NotNil(t, reply.Data)
	assert.Len(t, reply.Data.EventList, 1)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	HealthHandler(map[string]Pinger{"postgres": ok})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	HealthHandler(map[string]Pinger{"postgres": ok, "redis": down})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "ok", resp.Services["postgres"])
	assert.Equal(t, "connection refused", resp.Services["redis"])
}

func TestSubscriptions_SignatureTokenIsNotRendered(t *testing.T) {
	ts := newTestServer(t, nil, query.DefaultLimits())
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/queries", `{"name":"q1","query":{}}`).Code)

	rec := ts.do(t, http.MethodPost, "/queries/q1/subscriptions",
		`{"destination":"https://example.com/hook","schedule":"*/5 * * * *","signatureToken":"s3cret-hmac-key"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "s3cret-hmac-key")

	var sub domain.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))

	stored, err := ts.store.GetSubscription(context.Background(), "q1", sub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "s3cret-hmac-key", stored.SignatureToken)

	for _, path := range []string{"/queries/q1/subscriptions/" + sub.ID, "/queries/q1/subscriptions"} {
		rec = ts.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "s3cret-hmac-key", path)
		assert.NotContains(t, rec.Body.String(), "signatureToken", path)
	}

	rec = ts.do(t, http.MethodPatch, "/queries/q1/subscriptions/"+sub.ID, `{"status":"paused"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret-hmac-key")
}
