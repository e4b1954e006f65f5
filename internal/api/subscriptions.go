package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/engine"
	ws "github.com/Priya8975/epcis-repository/internal/websocket"
)

type SubscriptionHandler struct {
	subs *engine.SubscriptionManager
	hub  *ws.Hub
}

func NewSubscriptionHandler(subs *engine.SubscriptionManager, hub *ws.Hub) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, hub: hub}
}

func (h *SubscriptionHandler) Options(w http.ResponseWriter, r *http.Request) {
	setVersionHeaders(w)
	w.Header().Set("Allow", "GET, POST, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queryName")

	var req domain.CreateSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	sub, err := h.subs.Subscribe(r.Context(), name, req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/queries/"+url.PathEscape(name)+"/subscriptions/"+sub.ID)
	respondJSON(w, http.StatusCreated, sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.ListSubscriptions(r.Context(), chi.URLParam(r, "queryName"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, subs)
}

// Get returns a subscription, or opens its stream when the request asks for
// a WebSocket upgrade on a stream subscription.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queryName")
	sub, err := h.subs.GetSubscription(r.Context(), name, chi.URLParam(r, "subscriptionID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	if !websocket.IsWebSocketUpgrade(r) {
		respondJSON(w, http.StatusOK, sub)
		return
	}
	if !sub.Stream {
		respondError(w, r, domain.Invalidf("subscription %s is not a stream subscription", sub.ID))
		return
	}
	if sub.Status != domain.SubscriptionActive {
		respondError(w, r, domain.Invalidf("subscription %s is %s", sub.ID, sub.Status))
		return
	}
	if err := h.hub.Serve(w, r, ws.Target{QueryName: name, SubscriptionID: sub.ID}); err != nil {
		respondError(w, r, err)
	}
}

// Update applies a status change.
func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	sub, err := h.subs.UpdateStatus(r.Context(), chi.URLParam(r, "queryName"), chi.URLParam(r, "subscriptionID"), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.subs.Unsubscribe(r.Context(), chi.URLParam(r, "queryName"), chi.URLParam(r, "subscriptionID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
