//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
)

// fakeAssetPlatform accepts every repair except those for failing sources.
type fakeAssetPlatform struct {
	*httptest.Server

	mu        sync.Mutex
	failing   map[string]bool
	slow      map[string]time.Duration
	calls     map[string]int
	integrity domain.IntegrityCounts
}

func newFakeAssetPlatform() *fakeAssetPlatform {
	f := &fakeAssetPlatform{
		failing:   make(map[string]bool),
		slow:      make(map[string]time.Duration),
		calls:     make(map[string]int),
		integrity: domain.IntegrityCounts{Eligible: 200, Invalid: 10},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /assets/{id}/reprocess", func(w http.ResponseWriter, r *http.Request) {
		f.handleRepair(w, r.PathValue("id"))
	})
	mux.HandleFunc("POST /jobs/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
		f.handleRepair(w, r.PathValue("id"))
	})
	mux.HandleFunc("POST /restores", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SourceID string `json:"source_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.handleRepair(w, req.SourceID)
	})
	mux.HandleFunc("GET /integrity/summary", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		counts := f.integrity
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(counts)
	})

	f.Server = httptest.NewServer(mux)
	return f
}

func (f *fakeAssetPlatform) handleRepair(w http.ResponseWriter, sourceID string) {
	f.mu.Lock()
	f.calls[sourceID]++
	failing := f.failing[sourceID]
	delay := f.slow[sourceID]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failing {
		http.Error(w, "pipeline still broken", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (f *fakeAssetPlatform) Fail(sourceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[sourceID] = true
}

func (f *fakeAssetPlatform) Heal(sourceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failing, sourceID)
}

func (f *fakeAssetPlatform) Slow(sourceID string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slow[sourceID] = d
}

func (f *fakeAssetPlatform) Calls(sourceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[sourceID]
}

// fakeSupportDesk stores tickets by idempotency key and answers 409 for repeats.
type fakeSupportDesk struct {
	*httptest.Server

	mu      sync.Mutex
	seq     int
	tickets map[string]string
	bodies  map[string]string
	down    bool
}

func newFakeSupportDesk() *fakeSupportDesk {
	f := &fakeSupportDesk{
		tickets: make(map[string]string),
		bodies:  make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tickets", func(w http.ResponseWriter, r *http.Request) {
		var req domain.TicketRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		key := r.Header.Get("Idempotency-Key")

		f.mu.Lock()
		defer f.mu.Unlock()

		if f.down {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if id, ok := f.tickets[key]; ok {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
			return
		}

		f.seq++
		id := fmt.Sprintf("DESK-%d", f.seq)
		f.tickets[key] = id
		f.bodies[id] = req.Title + "\n" + req.Body

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	})

	f.Server = httptest.NewServer(mux)
	return f
}

// Preload records a ticket as if it had been filed earlier for key.
func (f *fakeSupportDesk) Preload(key, ticketID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[key] = ticketID
}

func (f *fakeSupportDesk) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeSupportDesk) Body(ticketID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[ticketID]
}

func (f *fakeSupportDesk) CountFor(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key := range f.tickets {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n
}
