package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/metrics"
)

const (
	SignatureHeader = "X-EPCIS-Signature"
	VersionHeader   = "GS1-EPCIS-Version"
	EPCISVersion    = "2.0.0"
)

// Deliverer posts query documents to subscription destinations. Each
// delivery is a single attempt.
type Deliverer struct {
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewDeliverer creates a deliverer whose requests are bounded by timeout.
func NewDeliverer(timeout time.Duration, logger *slog.Logger) *Deliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Deliverer{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Deliver signs and posts the query document for events. Transport errors
// and non-2xx responses are returned as errors.
func (d *Deliverer) Deliver(ctx context.Context, sub *domain.Subscription, events []*domain.Event) error {
	start := time.Now()

	payload, err := json.Marshal(domain.NewQueryDocument(sub.QueryName, sub.ID, events, d.now()))
	if err != nil {
		return fmt.Errorf("encoding query document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Destination, bytes.NewReader(payload))
	if err != nil {
		return d.record(sub, start, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(VersionHeader, EPCISVersion)
	if sub.SignatureToken != "" {
		req.Header.Set(SignatureHeader, computeHMAC(payload, sub.SignatureToken))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return d.record(sub, start, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	// Read response body (limit to 1KB to prevent memory issues)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return d.record(sub, start, resp.StatusCode, fmt.Errorf("destination returned %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}
	d.logger.Info("delivery successful",
		"subscription_id", sub.ID,
		"query_name", sub.QueryName,
		"events", len(events),
		"status_code", resp.StatusCode,
		"response_time_ms", time.Since(start).Milliseconds(),
	)
	return d.record(sub, start, resp.StatusCode, nil)
}

// record updates delivery metrics and passes err through.
func (d *Deliverer) record(sub *domain.Subscription, start time.Time, statusCode int, err error) error {
	elapsed := time.Since(start).Milliseconds()
	metrics.WebhookDuration.Observe(float64(elapsed))

	if err == nil {
		metrics.WebhookDeliveries.WithLabelValues("success").Inc()
		return nil
	}
	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	d.logger.Warn("delivery failed",
		"subscription_id", sub.ID,
		"query_name", sub.QueryName,
		"error", err,
		"status_code", statusCode,
		"response_time_ms", elapsed,
	)
	return err
}

// computeHMAC generates an HMAC-SHA256 signature for the payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the hex HMAC-SHA256 of
// payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}
