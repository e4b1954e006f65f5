package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger is a backing service the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services,omitempty"`
}

// HealthHandler returns the health check handler. It reports 503 when any
// backing service fails its ping.
func HealthHandler(services map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{
			Status:  "healthy",
			Version: vendorVersion,
		}
		status := http.StatusOK
		if len(services) > 0 {
			resp.Services = make(map[string]string, len(services))
		}
		for name, svc := range services {
			if err := svc.Ping(ctx); err != nil {
				resp.Services[name] = err.Error()
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Services[name] = "ok"
		}

		respondJSON(w, status, resp)
	}
}
