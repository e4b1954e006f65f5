package worker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Priya8975/epcis-repository/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestComputeHMAC(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		secret  string
	}{
		{
			name:    "query document",
			payload: []byte(`{"type":"EPCISQueryDocument","epcisBody":{"queryName":"q1"}}`),
			secret:  "my-secret-key",
		},
		{
			name:    "empty payload",
			payload: []byte(`{}`),
			secret:  "secret",
		},
		{
			name:    "unicode payload",
			payload: []byte(`{"bizLocation":"urn:epc:id:sgln:café"}`),
			secret:  "unicode-key-日本語",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := computeHMAC(tt.payload, tt.secret)

			decoded, err := hex.DecodeString(sig)
			if err != nil {
				t.Fatalf("signature is not valid hex: %v", err)
			}
			if len(decoded) != 32 {
				t.Fatalf("expected 32 bytes, got %d", len(decoded))
			}

			mac := hmac.New(sha256.New, []byte(tt.secret))
			mac.Write(tt.payload)
			if expected := hex.EncodeToString(mac.Sum(nil)); sig != expected {
				t.Errorf("signature mismatch:\n  got:  %s\n  want: %s", sig, expected)
			}

			if !VerifySignature(tt.payload, tt.secret, sig) {
				t.Error("VerifySignature rejected a valid signature")
			}
			if VerifySignature(tt.payload, tt.secret+"x", sig) {
				t.Error("VerifySignature accepted a signature made with another secret")
			}
		})
	}
}

func TestVerifySignature_Malformed(t *testing.T) {
	if VerifySignature([]byte(`{}`), "secret", "not-hex") {
		t.Error("expected malformed signature to be rejected")
	}
}

func testSubscription(dest string) *domain.Subscription {
	return &domain.Subscription{
		ID:             "sub-1",
		QueryName:      "observations",
		Destination:    dest,
		Schedule:       "* * * * *",
		SignatureToken: "webhook-secret",
		Status:         domain.SubscriptionActive,
	}
}

func testEvents() []*domain.Event {
	return []*domain.Event{{
		EventID:             "ev-1",
		Type:                domain.ObjectEventType,
		EventTime:           time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		EventTimeZoneOffset: "+00:00",
		Action:              domain.ActionObserve,
		TenantID:            "tenant-a",
		Body:                &domain.ObjectEvent{EPCList: []string{"urn:epc:id:sgtin:0614141.107346.2017"}},
	}}
}

func TestDeliverer_PostsSignedQueryDocument(t *testing.T) {
	var (
		received []byte
		headers  http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewDeliverer(5*time.Second, testLogger())
	sub := testSubscription(server.URL)
	if err := d.Deliver(context.Background(), sub, testEvents()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if got := headers.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if got := headers.Get(VersionHeader); got != EPCISVersion {
		t.Errorf("%s = %q, want %q", VersionHeader, got, EPCISVersion)
	}
	if !VerifySignature(received, sub.SignatureToken, headers.Get(SignatureHeader)) {
		t.Error("signature header does not match the body")
	}

	var doc struct {
		Type      string `json:"type"`
		EPCISBody struct {
			QueryName      string `json:"queryName"`
			SubscriptionID string `json:"subscriptionID"`
			QueryResults   struct {
				ResultsBody struct {
					EventList []map[string]any `json:"eventList"`
				} `json:"resultsBody"`
			} `json:"queryResults"`
		} `json:"epcisBody"`
	}
	if err := json.Unmarshal(received, &doc); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if doc.Type != "EPCISQueryDocument" {
		t.Errorf("type = %q", doc.Type)
	}
	if doc.EPCISBody.QueryName != "observations" || doc.EPCISBody.SubscriptionID != "sub-1" {
		t.Errorf("unexpected body header: %+v", doc.EPCISBody)
	}
	events := doc.EPCISBody.QueryResults.ResultsBody.EventList
	if len(events) != 1 || events[0]["eventID"] != "ev-1" {
		t.Errorf("unexpected eventList: %v", events)
	}
}

func TestDeliverer_NoSignatureWithoutToken(t *testing.T) {
	var sig atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig.Store(r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := testSubscription(server.URL)
	sub.SignatureToken = ""
	if err := NewDeliverer(time.Second, testLogger()).Deliver(context.Background(), sub, nil); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := sig.Load().(string); got != "" {
		t.Errorf("expected no signature header, got %q", got)
	}
}

func TestDeliverer_Failures(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer failing.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name    string
		dest    string
		wantMsg string
	}{
		{name: "non-2xx status", dest: failing.URL, wantMsg: "destination returned 502: upstream exploded"},
		{name: "timeout", dest: slow.URL, wantMsg: "request failed"},
		{name: "connection refused", dest: closedURL, wantMsg: "request failed"},
	}

	d := NewDeliverer(200*time.Millisecond, testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Deliver(context.Background(), testSubscription(tt.dest), testEvents())
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
		})
	}
}
