package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/engine"
	ws "github.com/Priya8975/epcis-repository/internal/websocket"
)

const nextPageTokenHeader = "GS1-Next-Page-Token"

type QueryHandler struct {
	subs     *engine.SubscriptionManager
	executor *engine.QueryExecutor
	hub      *ws.Hub
}

func NewQueryHandler(subs *engine.SubscriptionManager, executor *engine.QueryExecutor, hub *ws.Hub) *QueryHandler {
	return &QueryHandler{subs: subs, executor: executor, hub: hub}
}

type queryList struct {
	Context string                   `json:"@context"`
	Type    string                   `json:"type"`
	Queries []domain.QueryDefinition `json:"queries"`
}

type queryCreated struct {
	Context   string `json:"@context"`
	Type      string `json:"type"`
	QueryName string `json:"queryName"`
}

type queryDefinition struct {
	Context string `json:"@context"`
	Type    string `json:"type"`
	domain.QueryDefinition
}

func (h *QueryHandler) List(w http.ResponseWriter, r *http.Request) {
	queries, err := h.subs.ListQueries(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, queryList{Context: domain.ContextURI, Type: "QueryList", Queries: queries})
}

func (h *QueryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var def domain.QueryDefinition
	if err := decodeJSON(w, r, &def); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.subs.RegisterQuery(r.Context(), &def); err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/queries/"+url.PathEscape(def.Name))
	respondJSON(w, http.StatusCreated, queryCreated{Context: domain.ContextURI, Type: "QueryCreated", QueryName: def.Name})
}

func (h *QueryHandler) Get(w http.ResponseWriter, r *http.Request) {
	def, err := h.subs.GetQuery(r.Context(), chi.URLParam(r, "queryName"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, queryDefinition{Context: domain.ContextURI, Type: "QueryDefinition", QueryDefinition: *def})
}

// Replace swaps the parameters of an existing named query. The name in the
// path wins over any name in the body.
func (h *QueryHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var def domain.QueryDefinition
	if err := decodeJSON(w, r, &def); err != nil {
		respondError(w, r, err)
		return
	}
	def.Name = chi.URLParam(r, "queryName")
	if err := h.subs.ReplaceQuery(r.Context(), &def); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, queryDefinition{Context: domain.ContextURI, Type: "QueryDefinition", QueryDefinition: def})
}

func (h *QueryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.subs.DeleteQuery(r.Context(), chi.URLParam(r, "queryName")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events executes the named query, or opens a stream on it when the request
// asks for a WebSocket upgrade.
func (h *QueryHandler) Events(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queryName")

	if websocket.IsWebSocketUpgrade(r) {
		if err := h.hub.Serve(w, r, ws.Target{QueryName: name}); err != nil {
			respondError(w, r, err)
		}
		return
	}

	overrides, err := pageOverrides(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.executor.Execute(r.Context(), name, overrides)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if res.NextPageToken != "" {
		w.Header().Set(nextPageTokenHeader, res.NextPageToken)
		w.Header().Set("Link", nextLink(r, res.NextPageToken))
	}
	respondJSON(w, http.StatusOK, domain.NewQueryDocument(name, "", res.Events, time.Now()))
}

// pageOverrides reads perPage and nextPageToken from the URL query.
func pageOverrides(q url.Values) (json.RawMessage, error) {
	overrides := map[string]any{}
	if v := q.Get("perPage"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, domain.Invalidf("perPage must be an integer, got %q", v)
		}
		overrides["perPage"] = n
	}
	if v := q.Get("nextPageToken"); v != "" {
		overrides["nextPageToken"] = v
	}
	if len(overrides) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(overrides)
	if err != nil {
		return nil, fmt.Errorf("encoding page parameters: %w", err)
	}
	return raw, nil
}

func nextLink(r *http.Request, token string) string {
	q := r.URL.Query()
	q.Set("nextPageToken", token)
	return fmt.Sprintf(`<%s?%s>; rel="next"`, r.URL.Path, q.Encode())
}
