// Package webhook implements component J of spec.md: fire-and-forget event
// delivery plus the in-memory aggregate counters exported through the
// metrics registry at /metrics, and the admin live-event stream
// (supplemented feature, see DESIGN.md).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const deliveryTimeout = 5 * time.Second

// Registry posts events to a configured URL (best-effort, never blocks the
// caller beyond its own timeout) and keeps sent/failed counters per event
// type, grounded on internal/scanner/block_scanner.go's atomic-counter
// style.
type Registry struct {
	url        string
	httpClient *http.Client

	mu      sync.Mutex
	sent    map[string]int64
	failed  map[string]int64

	hub *Hub
}

func NewRegistry(url string, hub *Hub) *Registry {
	return &Registry{
		url:        url,
		httpClient: &http.Client{Timeout: deliveryTimeout},
		sent:       make(map[string]int64),
		failed:     make(map[string]int64),
		hub:        hub,
	}
}

// Fire implements ingest.Notifier (and is called directly by the pin/unpin
// component). Delivery runs on its own goroutine so callers
// never wait on an external webhook endpoint; spec.md §7 "best-effort
// secondary writes... are logged but never failed up".
func (r *Registry) Fire(event string, payload map[string]any) {
	envelope := map[string]any{
		"id":    uuid.NewString(),
		"event": event,
		"at":    time.Now().UnixMilli(),
		"data":  payload,
	}

	if r.hub != nil {
		if body, err := json.Marshal(envelope); err == nil {
			r.hub.Broadcast(body)
		}
	}

	if r.url == "" {
		r.record(event, true)
		return
	}

	go r.deliver(event, envelope)
}

func (r *Registry) deliver(event string, envelope map[string]any) {
	body, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("webhook %s: marshal: %v", event, err)
		r.record(event, false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("webhook %s: build request: %v", event, err)
		r.record(event, false)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Printf("webhook %s: delivery failed: %v", event, err)
		r.record(event, false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("webhook %s: endpoint returned status %d", event, resp.StatusCode)
		r.record(event, false)
		return
	}
	r.record(event, true)
}

func (r *Registry) record(event string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.sent[event]++
	} else {
		r.failed[event]++
	}
}

// Counters is the per-event sent/failed rollup that cmd/gateway's
// pollMetrics copies into the metrics registry.
type Counters struct {
	Sent   map[string]int64
	Failed map[string]int64
}

func (r *Registry) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Counters{Sent: make(map[string]int64, len(r.sent)), Failed: make(map[string]int64, len(r.failed))}
	for k, v := range r.sent {
		out.Sent[k] = v
	}
	for k, v := range r.failed {
		out.Failed[k] = v
	}
	return out
}
