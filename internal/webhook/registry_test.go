package webhook

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRegistry_FireWithNoURLRecordsSentImmediately(t *testing.T) {
	r := NewRegistry("", nil)

	r.Fire("pin", map[string]any{"cid": "Qm123"})

	counters := r.Counters()
	if counters.Sent["pin"] != 1 {
		t.Fatalf("expected pin to be recorded sent once with no webhook URL, got %+v", counters)
	}
	if counters.Failed["pin"] != 0 {
		t.Fatalf("expected no failures, got %+v", counters)
	}
}

func TestRegistry_FireDeliversToConfiguredURL(t *testing.T) {
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		received <- struct{}{}
	}))
	defer srv.Close()

	r := NewRegistry(srv.URL, nil)
	r.Fire("ingest", map[string]any{"wallet": "lumen1xyz"})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected webhook delivery to reach the test server")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		counters := r.Counters()
		if counters.Sent["ingest"] == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected ingest delivery to be recorded as sent")
}

func TestRegistry_FireRecordsFailureOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRegistry(srv.URL, nil)
	r.Fire("pin", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		counters := r.Counters()
		if counters.Failed["pin"] == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected pin delivery to be recorded as failed after a 500 response")
}
