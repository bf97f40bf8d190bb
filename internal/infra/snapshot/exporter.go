package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/yanqian/sunspot/internal/domain/precompute"
	"github.com/yanqian/sunspot/internal/domain/timeline"
	"github.com/yanqian/sunspot/pkg/util"
)

// ObjectStore is the blob sink snapshots are written to.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Document is the archived form of one run's windows.
type Document struct {
	RunDate     string            `json:"runDate"`
	RunID       string            `json:"runId"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Windows     []timeline.Window `json:"windows"`
}

// Exporter writes run snapshots as JSON documents.
type Exporter struct {
	store ObjectStore
	clock util.Clock
}

// NewExporter constructs the exporter.
func NewExporter(store ObjectStore, clock util.Clock) *Exporter {
	if clock == nil {
		clock = util.NowUTC
	}
	return &Exporter{store: store, clock: clock}
}

// Key is the object key for a run snapshot.
func Key(runDate, runID string) string {
	return fmt.Sprintf("windows/%s/%s.json", runDate, runID)
}

// Export implements precompute.SnapshotExporter.
func (e *Exporter) Export(ctx context.Context, runDate, runID string, windows []timeline.Window) (string, error) {
	if windows == nil {
		windows = []timeline.Window{}
	}
	data, err := json.Marshal(Document{RunDate: runDate, RunID: runID, GeneratedAt: e.clock(), Windows: windows})
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	key := Key(runDate, runID)
	if err := e.store.Put(ctx, key, data, "application/json"); err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	return key, nil
}

// MemoryStorage keeps blobs in memory for local development and tests.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStorage constructs storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

// Put stores a copy of data.
func (s *MemoryStorage) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = bytes.Clone(data)
	return nil
}

// Get returns the blob stored under key.
func (s *MemoryStorage) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	return data, ok
}

var (
	_ ObjectStore                 = (*MemoryStorage)(nil)
	_ precompute.SnapshotExporter = (*Exporter)(nil)
)
