// fake-receiver is a local test subscriber. It verifies the signature
// header on incoming webhooks and can simulate flaky destinations by
// failing the first N requests.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/tidehook/tidehook/internal/config"
	"github.com/tidehook/tidehook/internal/signature"
)

const signatureHeader = "X-Tidehook-Signature"

type receiver struct {
	secret     string
	tolerance  time.Duration
	failFirstN int
	delay      time.Duration

	mu       sync.Mutex
	reqCount int
}

func main() {
	cfg := config.FromEnv()
	rcv := &receiver{
		secret:     cfg.FakeReceiver.EndpointSecret,
		tolerance:  cfg.Engine.SignatureTolerance,
		failFirstN: cfg.FakeReceiver.FailFirstN,
		delay:      cfg.FakeReceiver.ResponseDelay,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", rcv.handleHook)

	log.Printf("fake-receiver listening on %s", cfg.FakeReceiver.Port)
	log.Fatal(http.ListenAndServe(cfg.FakeReceiver.Port, mux))
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	rc.mu.Lock()
	rc.reqCount++
	n := rc.reqCount
	rc.mu.Unlock()

	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if rc.delay > 0 {
		time.Sleep(rc.delay)
	}

	if rc.secret != "" {
		if !signature.Verify(b, r.Header.Get(signatureHeader), rc.secret, rc.tolerance) {
			log.Printf("fake-receiver rejected signature on %s", r.URL.Path)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	// Simulate flakiness: first N requests -> 500
	if n <= rc.failFirstN {
		log.Printf("FAILING (%d/%d) %s body=%s", n, rc.failFirstN, r.URL.Path, truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-receiver OK %s delivery=%s body=%q", r.URL.Path, r.Header.Get("X-Tidehook-Delivery"), truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
