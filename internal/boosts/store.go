// Package boosts holds per-document dynamic data: ranking boosts, category
// values used for facets, and timestamps. It is updated independently of the
// text indices.
package boosts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

// Entry is the dynamic data of one document.
type Entry struct {
	Boosts     []float64         `json:"boosts,omitempty"`
	Categories map[string]string `json:"categories,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"`
}

// Store is the dynamic data collaborator of the dealer.
type Store interface {
	SetBoosts(ctx context.Context, id search.DocID, boosts []float64) error
	RemoveBoosts(ctx context.Context, id search.DocID) error
	SetCategoryValues(ctx context.Context, id search.DocID, values map[string]string) error
	SetTimestamp(ctx context.Context, id search.DocID, ts int64) error
	Get(id search.DocID) (Entry, bool)
	Categories(id search.DocID) map[string]string
	Len() int
	Dump(ctx context.Context) error
}

// MemoryStore keeps entries in process. When snapshotPath is set, Dump
// writes them to a JSON file that NewMemoryStore reloads.
type MemoryStore struct {
	mu           sync.RWMutex
	entries      map[search.DocID]Entry
	snapshotPath string
	logger       *slog.Logger
}

// NewMemoryStore returns a store, loading snapshotPath if it exists.
func NewMemoryStore(snapshotPath string) (*MemoryStore, error) {
	s := &MemoryStore{
		entries:      make(map[search.DocID]Entry),
		snapshotPath: snapshotPath,
		logger:       slog.Default().With("component", "boosts"),
	}
	if snapshotPath == "" {
		return s, nil
	}
	data, err := os.ReadFile(snapshotPath)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading boosts snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("parsing boosts snapshot: %w", err)
	}
	s.logger.Info("boosts snapshot loaded", "entries", len(s.entries))
	return s, nil
}

func (s *MemoryStore) update(id search.DocID, fn func(*Entry)) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[id]
	fn(&e)
	s.entries[id] = e
	return e
}

func (s *MemoryStore) SetBoosts(_ context.Context, id search.DocID, boosts []float64) error {
	s.update(id, func(e *Entry) { e.Boosts = slices.Clone(boosts) })
	return nil
}

// RemoveBoosts drops every piece of dynamic data held for id.
func (s *MemoryStore) RemoveBoosts(_ context.Context, id search.DocID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) SetCategoryValues(_ context.Context, id search.DocID, values map[string]string) error {
	s.update(id, func(e *Entry) { e.Categories = maps.Clone(values) })
	return nil
}

func (s *MemoryStore) SetTimestamp(_ context.Context, id search.DocID, ts int64) error {
	s.update(id, func(e *Entry) { e.Timestamp = ts })
	return nil
}

func (s *MemoryStore) Get(id search.DocID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Categories implements search.FacetProvider.
func (s *MemoryStore) Categories(id search.DocID) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id].Categories
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Dump writes the snapshot file. It is a no-op without a snapshot path.
func (s *MemoryStore) Dump(_ context.Context) error {
	if s.snapshotPath == "" {
		return nil
	}
	s.mu.RLock()
	data, err := json.Marshal(s.entries)
	n := len(s.entries)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding boosts snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0755); err != nil {
		return fmt.Errorf("creating boosts snapshot directory: %w", err)
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing boosts snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return fmt.Errorf("renaming boosts snapshot: %w", err)
	}
	s.logger.Info("boosts snapshot written", "entries", n)
	return nil
}

func (s *MemoryStore) set(id search.DocID, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = e
}

var _ Store = (*MemoryStore)(nil)
