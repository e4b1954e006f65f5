package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/worker"
)

var (
	requestCount atomic.Int64
	eventCount   atomic.Int64
	badSignature atomic.Int64
)

func main() {
	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	// Subscriptions created with this signatureToken get their
	// X-EPCIS-Signature checked.
	token := os.Getenv("SIGNATURE_TOKEN")

	// Successful endpoint: always returns 200
	http.HandleFunc("/webhook/success", func(w http.ResponseWriter, r *http.Request) {
		receive(w, r, token, 0, http.StatusOK)
	})

	// Slow endpoint: delays 3 seconds before responding
	http.HandleFunc("/webhook/slow", func(w http.ResponseWriter, r *http.Request) {
		receive(w, r, token, 3*time.Second, http.StatusOK)
	})

	// Failing endpoint: always returns 500, moving the subscription to error
	http.HandleFunc("/webhook/fail", func(w http.ResponseWriter, r *http.Request) {
		receive(w, r, token, 0, http.StatusInternalServerError)
	})

	// Stats endpoint: shows request and event counts
	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{
			"total_requests": requestCount.Load(),
			"total_events":   eventCount.Load(),
			"bad_signatures": badSignature.Load(),
		})
	})

	log.Printf("Mock EPCIS webhook receiver starting on :%s", port)
	log.Printf("  POST /webhook/success  -> 200 OK")
	log.Printf("  POST /webhook/slow     -> 200 OK (3s delay)")
	log.Printf("  POST /webhook/fail     -> 500 Error")
	log.Printf("  GET  /stats            -> request count")

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func receive(w http.ResponseWriter, r *http.Request, token string, delay time.Duration, status int) {
	count := requestCount.Add(1)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get(worker.SignatureHeader)
	sigState := "unsigned"
	if token != "" && sig != "" {
		sigState = "valid"
		if !worker.VerifySignature(body, token, sig) {
			sigState = "INVALID"
			badSignature.Add(1)
		}
	}

	var doc domain.QueryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		logRequest(r, count, http.StatusBadRequest, sigState, doc)
		http.Error(w, "not an EPCISQueryDocument", http.StatusBadRequest)
		return
	}
	eventCount.Add(int64(len(doc.EPCISBody.QueryResults.ResultsBody.EventList)))

	time.Sleep(delay)
	logRequest(r, count, status, sigState, doc)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": http.StatusText(status)})
}

func logRequest(r *http.Request, count int64, status int, sigState string, doc domain.QueryDocument) {
	fmt.Printf("[#%d] %s %s -> %d | sig=%s version=%s query=%s subscription=%s events=%d\n",
		count,
		r.Method,
		r.URL.Path,
		status,
		sigState,
		r.Header.Get(worker.VersionHeader),
		doc.EPCISBody.QueryName,
		truncate(doc.EPCISBody.SubscriptionID, 8),
		len(doc.EPCISBody.QueryResults.ResultsBody.EventList),
	)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
