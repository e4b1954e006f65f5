package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/engine"
	"github.com/Priya8975/epcis-repository/internal/query"
	ws "github.com/Priya8975/epcis-repository/internal/websocket"
)

const problemContentType = "application/problem+json"

// maxBodyBytes bounds request bodies. A full capture document of the
// default capture limit fits comfortably.
const maxBodyBytes = 32 << 20

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondProblem(w http.ResponseWriter, r *http.Request, p domain.Problem) {
	p.Instance = r.URL.Path
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(p.Status)
	json.NewEncoder(w).Encode(p)
}

// respondError maps err onto the exception taxonomy.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ws.ErrUpgradeFailed) {
		return
	}
	respondProblem(w, r, problemFor(err))
}

func problemFor(err error) domain.Problem {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return domain.NewProblem(domain.ValidationException, "Invalid request", http.StatusBadRequest, ve.Reason)
	case errors.Is(err, domain.ErrAlreadyExists):
		return domain.NewProblem(domain.ValidationException, "Resource already exists", http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoSuchName):
		return domain.NewProblem(domain.NoSuchNameException, "Query not found", http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoSuchResource):
		return domain.NewProblem(domain.NoSuchResourceException, "Resource not found", http.StatusNotFound, err.Error())
	case errors.Is(err, query.ErrTooComplex), errors.Is(err, engine.ErrQueryExecution):
		return domain.NewProblem(domain.QueryTooComplexException, "Query too complex", http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, engine.ErrCaptureLimitExceeded):
		return domain.NewProblem(domain.CaptureLimitExceededException, "Capture limit exceeded", http.StatusRequestEntityTooLarge, err.Error())
	default:
		return domain.NewProblem(domain.ImplementationException, "Internal server error", http.StatusInternalServerError, err.Error())
	}
}

// readBody returns the request body, rejecting bodies over maxBodyBytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: request body exceeds %d bytes", engine.ErrCaptureLimitExceeded, tooLarge.Limit)
		}
		return nil, domain.Invalidf("reading request body: %v", err)
	}
	return body, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.Invalidf("invalid request body: %v", err)
	}
	return nil
}
