package provenance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Config configures event emission.
type Config struct {
	Enabled  bool
	Endpoint string // optional HTTP collector
	Dir      string // chain heads and local event copies
}

// Emitter records finished runs.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// NewEmitter creates the emitter described by cfg. Events are always written
// to cfg.Dir; with an endpoint they are also POSTed to it.
func NewEmitter(cfg Config) (Emitter, error) {
	if !cfg.Enabled {
		return noopEmitter{}, nil
	}
	if cfg.Dir == "" {
		cfg.Dir = "./provenance"
	}

	tracker, err := NewChainTracker(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	e := &chainEmitter{
		dir:      cfg.Dir,
		endpoint: cfg.Endpoint,
		tracker:  tracker,
		client:   &http.Client{Timeout: 30 * time.Second},
		retries:  3,
		delay:    time.Second,
	}
	if cfg.Endpoint != "" {
		log.Printf("[provenance] emitting to %s (backup in %s)", cfg.Endpoint, cfg.Dir)
	} else {
		log.Printf("[provenance] file-only emitter -> %s", cfg.Dir)
	}
	return e, nil
}

type chainEmitter struct {
	dir      string
	endpoint string
	tracker  *ChainTracker
	client   *http.Client
	retries  int
	delay    time.Duration
}

// Emit links evt to its chain, stores it and, when configured, posts it. The
// chain head only advances once the event has been delivered.
func (e *chainEmitter) Emit(ctx context.Context, evt *Event) error {
	key := evt.Run.ChainKey()

	prev, err := e.tracker.Head(key)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	evt.Version = eventVersion
	evt.EventType = eventType
	evt.EventID = GenerateEventID()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.Chain.PrevEventHash = prev
	evt.Chain.EventHash, err = ComputeEventHash(evt)
	if err != nil {
		return err
	}

	if err := e.save(evt); err != nil {
		if e.endpoint == "" {
			return err
		}
		log.Printf("[provenance] warning: backup failed: %v", err)
	}

	if e.endpoint != "" {
		if err := e.postWithRetry(ctx, evt); err != nil {
			return fmt.Errorf("emit provenance event: %w", err)
		}
	}

	if err := e.tracker.SetHead(key, evt.Chain.EventHash); err != nil {
		log.Printf("[provenance] warning: failed to update chain head: %v", err)
	}
	log.Printf("[provenance] run=%s event_hash=%s", evt.Run.RunID, evt.Chain.EventHash)
	return nil
}

func (e *chainEmitter) save(evt *Event) error {
	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	path := filepath.Join(e.dir, fmt.Sprintf("run_%s_%s.json", evt.Run.RunID, evt.EventID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (e *chainEmitter) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := e.delay

	for attempt := 1; attempt <= e.retries; attempt++ {
		err := e.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < e.retries {
			log.Printf("[provenance] attempt %d/%d failed: %v, retrying in %v", attempt, e.retries, err, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", e.retries, lastErr)
}

func (e *chainEmitter) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

func (e *chainEmitter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// noopEmitter discards all events.
type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *Event) error { return nil }
func (noopEmitter) Close() error                      { return nil }
