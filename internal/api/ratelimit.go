package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/engine"
)

// rateLimit counts every request against namespace, keyed by method and
// path. The RateLimit-* headers are set on every counted response.
func rateLimit(limiter engine.RateLimiter, namespace string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.Limit(r.Context(), namespace, r.Method+":"+r.URL.Path)
			if err != nil {
				logger.Error("rate limiting error", "namespace", namespace, "error", err)
				respondProblem(w, r, domain.NewProblem(domain.ImplementationException, "Rate limiting error", http.StatusInternalServerError, err.Error()))
				return
			}

			w.Header().Set("RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("RateLimit-Reset", strconv.Itoa(d.Reset))

			if !d.Allowed {
				respondProblem(w, r, domain.NewProblem(domain.TooManyRequests, "Rate limit exceeded", http.StatusTooManyRequests,
					fmt.Sprintf("Rate limit of %d requests exceeded. Reset in %d seconds.", d.Limit, d.Reset)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
