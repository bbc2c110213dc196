package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrNoChainHead indicates no previous event exists for this chain.
var ErrNoChainHead = errors.New("no chain head found")

// ComputeEventHash returns the SHA256 of the event's JSON form with the
// event_hash field cleared.
func ComputeEventHash(evt *Event) (string, error) {
	cp := *evt
	cp.Chain.EventHash = ""

	canonical, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// VerifyEvent reports whether the event's recorded hash matches its content.
func VerifyEvent(evt *Event) bool {
	h, err := ComputeEventHash(evt)
	return err == nil && h == evt.Chain.EventHash
}

// GenerateEventID creates a unique event ID.
func GenerateEventID() string {
	return "evt_" + uuid.NewString()
}

// ChainTracker keeps the latest event hash of every chain in a JSON file.
type ChainTracker struct {
	mu    sync.RWMutex
	heads map[string]string // chain key -> event hash
	path  string
}

// NewChainTracker loads or creates the chain head file in dir.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chain dir: %w", err)
	}

	ct := &ChainTracker{
		heads: make(map[string]string),
		path:  filepath.Join(dir, "chain-heads.json"),
	}

	data, err := os.ReadFile(ct.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("load chain heads: %w", err)
	default:
		if err := json.Unmarshal(data, &ct.heads); err != nil {
			return nil, fmt.Errorf("parse chain heads: %w", err)
		}
	}
	return ct, nil
}

// Head returns the last event hash of a chain.
func (ct *ChainTracker) Head(key string) (string, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	h, ok := ct.heads[key]
	if !ok || h == "" {
		return "", ErrNoChainHead
	}
	return h, nil
}

// SetHead records a new chain head and persists all heads.
func (ct *ChainTracker) SetHead(key, hash string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.heads[key] = hash

	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}

	// Write atomically using temp file
	tmp := ct.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, ct.path)
}
