// Package history keeps the capped, most-recent-first list of past scans and
// persists it to a key-value store.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zombor/ticketmiam/internal/nutrition"
)

const (
	// DefaultCap is the number of scans kept.
	DefaultCap = 20

	// DefaultKey is the storage key of the history document. Older app keys
	// (ticketmiam_v2_data and earlier) are not read.
	DefaultKey = "ticketmiam_v3_history"
)

var (
	// ErrNotFound is returned when no scan has the requested id.
	ErrNotFound = errors.New("scan not found")

	// ErrPersistence wraps every failure of the underlying key-value store.
	ErrPersistence = errors.New("history persistence failed")
)

// Store is the scan history. The in-memory list is the source of truth for
// readers; every mutation is persisted before the lock is released.
type Store struct {
	mu      sync.Mutex
	kv      KV
	key     string
	cap     int
	logger  *slog.Logger
	entries []*nutrition.ScanResult
}

// Option configures a Store
type Option func(*Store)

// WithCap sets the maximum number of scans kept. Values below 1 are ignored.
func WithCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.cap = n
		}
	}
}

// WithKey sets the storage key
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty Store backed by kv. Call Load to read the persisted history.
func New(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:      kv,
		key:     DefaultKey,
		cap:     DefaultCap,
		logger:  slog.Default(),
		entries: []*nutrition.ScanResult{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cap returns the configured maximum size
func (s *Store) Cap() int {
	return s.cap
}

// Load replaces the in-memory history with the persisted one. Missing,
// unreadable or corrupt data yields an empty history; it is logged, never returned.
func (s *Store) Load(ctx context.Context) []*nutrition.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = s.read(ctx)
	return cloneAll(s.entries)
}

func (s *Store) read(ctx context.Context) []*nutrition.ScanResult {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.logger.Warn("Failed to read history, starting empty", "key", s.key, "error", err)
		return []*nutrition.ScanResult{}
	}
	if !ok || raw == "" {
		return []*nutrition.ScanResult{}
	}

	var stored []*nutrition.ScanResult
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.logger.Warn("Corrupt history, starting empty", "key", s.key, "error", err)
		return []*nutrition.ScanResult{}
	}

	entries := make([]*nutrition.ScanResult, 0, min(len(stored), s.cap))
	seen := make(map[string]bool, len(stored))
	for _, r := range stored {
		if r == nil || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		entries = append(entries, r)
		if len(entries) == s.cap {
			break
		}
	}
	if dropped := len(stored) - len(entries); dropped > 0 {
		s.logger.Warn("Dropped history entries on load", "key", s.key, "dropped", dropped)
	}
	return entries
}

// Upsert removes any scan with the same id, prepends result, truncates the
// history to the store cap and persists it. The returned list is the new history.
// On a persistence error the in-memory history is still updated.
func (s *Store) Upsert(ctx context.Context, result *nutrition.ScanResult) ([]*nutrition.ScanResult, error) {
	return s.UpsertCapped(ctx, result, s.cap)
}

// UpsertCapped is Upsert with an explicit cap for this call.
func (s *Store) UpsertCapped(ctx context.Context, result *nutrition.ScanResult, limit int) ([]*nutrition.ScanResult, error) {
	if result == nil {
		return nil, errors.New("nil scan result")
	}
	if limit < 1 {
		limit = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]*nutrition.ScanResult, 0, min(len(s.entries)+1, limit))
	next = append(next, result.Clone())
	for _, r := range s.entries {
		if len(next) == limit {
			break
		}
		if r.ID != result.ID {
			next = append(next, r)
		}
	}

	s.entries = next
	err := s.persist(ctx)
	return cloneAll(next), err
}

// Clear empties the history and erases it from storage. There is no undo.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = []*nutrition.ScanResult{}
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("%w: clearing history: %w", ErrPersistence, err)
	}
	return nil
}

// Remove deletes a single scan.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]*nutrition.ScanResult, 0, len(s.entries))
	for _, r := range s.entries {
		if r.ID != id {
			next = append(next, r)
		}
	}
	if len(next) == len(s.entries) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.entries = next
	return s.persist(ctx)
}

// FindByID returns a copy of the scan with the given id.
func (s *Store) FindByID(id string) (*nutrition.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.entries {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns a copy of the history, most recent first.
func (s *Store) List() []*nutrition.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	return cloneAll(s.entries)
}

// persist writes the current entries; callers hold s.mu.
func (s *Store) persist(ctx context.Context) error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("%w: encoding history: %w", ErrPersistence, err)
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("%w: saving history: %w", ErrPersistence, err)
	}
	return nil
}

func cloneAll(entries []*nutrition.ScanResult) []*nutrition.ScanResult {
	out := make([]*nutrition.ScanResult, len(entries))
	for i, r := range entries {
		out[i] = r.Clone()
	}
	return out
}
