package provenance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/withObsrvr/column-distributor/internal/jobs"
)

func testEvent(runID string) *Event {
	return &Event{
		Run: RunInfo{
			RunID:       runID,
			Fingerprint: "sha256:plan",
			Grid:        jobs.Grid{NX: 5, NY: 3},
			Processes:   4,
			TotalTasks:  15,
		},
		Totals: jobs.Counters{Processed: 15, Converged: 12, NotConverged: 3},
		Tables: map[string]TableInfo{
			"taskmap": {Checksum: "sha256:abc", RowCount: 15, StoragePath: "file:///tmp/taskmap.parquet"},
		},
		Producer: ProducerInfo{Name: "column-distributor", Version: "test"},
	}
}

func TestFileEmitterChainsEvents(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e, err := NewEmitter(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatalf("NewEmitter failed: %v", err)
	}

	first := testEvent("run-1")
	if err := e.Emit(ctx, first); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if first.Chain.PrevEventHash != "" {
		t.Errorf("first event prev hash = %q, want empty", first.Chain.PrevEventHash)
	}
	if !VerifyEvent(first) {
		t.Error("first event hash does not verify")
	}

	// A new emitter on the same directory continues the chain.
	e2, err := NewEmitter(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatalf("NewEmitter failed: %v", err)
	}
	second := testEvent("run-2")
	if err := e2.Emit(ctx, second); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if second.Chain.PrevEventHash != first.Chain.EventHash {
		t.Errorf("second prev hash = %q, want %q", second.Chain.PrevEventHash, first.Chain.EventHash)
	}
	if first.EventID == second.EventID {
		t.Error("event IDs must be unique")
	}

	files, err := filepath.Glob(filepath.Join(dir, "run_*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("got %d event files, want 2", len(files))
	}
}

func TestVerifyEventDetectsTampering(t *testing.T) {
	e, err := NewEmitter(Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewEmitter failed: %v", err)
	}
	evt := testEvent("run-1")
	if err := e.Emit(context.Background(), evt); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	evt.Totals.Crashed = 1
	if VerifyEvent(evt) {
		t.Error("tampered event should not verify")
	}
}

func TestHTTPEmitter(t *testing.T) {
	var mu sync.Mutex
	var received []Event

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e, err := NewEmitter(Config{Enabled: true, Endpoint: srv.URL, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewEmitter failed: %v", err)
	}
	defer e.Close()

	if err := e.Emit(context.Background(), testEvent("run-1")); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("server received %d events, want 1", len(received))
	}
	if received[0].EventType != "run_completed" {
		t.Errorf("event type = %q", received[0].EventType)
	}
	if !VerifyEvent(&received[0]) {
		t.Error("posted event hash does not verify")
	}
}

func TestHTTPEmitterFailureKeepsChainHead(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	e, err := NewEmitter(Config{Enabled: true, Endpoint: srv.URL, Dir: dir})
	if err != nil {
		t.Fatalf("NewEmitter failed: %v", err)
	}
	e.(*chainEmitter).delay = time.Millisecond

	if err := e.Emit(context.Background(), testEvent("run-1")); err == nil {
		t.Fatal("expected emit to fail")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server called %d times, want 3", n)
	}

	ct, err := NewChainTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ct.Head("sha256:plan"); !errors.Is(err, ErrNoChainHead) {
		t.Errorf("Head() error = %v, want ErrNoChainHead", err)
	}
}

func TestDisabledEmitter(t *testing.T) {
	e, err := NewEmitter(Config{})
	if err != nil {
		t.Fatalf("NewEmitter failed: %v", err)
	}
	evt := testEvent("run-1")
	if err := e.Emit(context.Background(), evt); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if evt.Chain.EventHash != "" {
		t.Error("disabled emitter should not touch the event")
	}
}
