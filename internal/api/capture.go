package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/engine"
)

const captureErrorBehaviourHeader = "GS1-Capture-Error-Behaviour"

type CaptureHandler struct {
	pipeline *engine.Pipeline
}

func NewCaptureHandler(p *engine.Pipeline) *CaptureHandler {
	return &CaptureHandler{pipeline: p}
}

type captureAccepted struct {
	CaptureID string `json:"captureID"`
}

func (h *CaptureHandler) Options(w http.ResponseWriter, r *http.Request) {
	setVersionHeaders(w)
	w.Header().Set("GS1-EPCIS-Capture-Limit", strconv.Itoa(h.pipeline.CaptureLimit()))
	w.Header().Set(captureErrorBehaviourHeader, string(domain.Rollback)+", "+string(domain.Proceed))
	w.Header().Set("Allow", "GET, POST, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

// Create accepts an EPCIS document and starts a capture job for it.
func (h *CaptureHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	behaviour := domain.ErrorBehaviour(r.Header.Get(captureErrorBehaviourHeader))
	job, err := h.pipeline.Submit(r.Context(), body, behaviour)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/capture/"+job.CaptureID)
	respondJSON(w, http.StatusAccepted, captureAccepted{CaptureID: job.CaptureID})
}

func (h *CaptureHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.pipeline.Jobs(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (h *CaptureHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.pipeline.Job(r.Context(), chi.URLParam(r, "captureID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}
