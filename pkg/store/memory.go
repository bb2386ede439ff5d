package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// memoryStore is the in-process fallback used when no durable backend
// is configured or the configured one is unreachable at startup. All
// data is lost on restart; that trade-off is acceptable for this tool.
type memoryStore struct {
	log logrus.FieldLogger

	mu      sync.RWMutex
	runs    map[string]Run
	history map[string][]HistoryEntry
}

// Compile-time interface check.
var _ Store = (*memoryStore)(nil)

// NewMemoryStore creates a transient in-process Store. It is safe for
// concurrent use from multiple request handlers.
func NewMemoryStore(log logrus.FieldLogger) Store {
	return &memoryStore{
		log:     log.WithField("component", "memory-store"),
		runs:    make(map[string]Run),
		history: make(map[string][]HistoryEntry),
	}
}

func (s *memoryStore) Start(_ context.Context) error {
	s.log.Warn("Using in-memory store; run data will not survive a restart")

	return nil
}

func (s *memoryStore) Stop() error {
	return nil
}

func (s *memoryStore) PutRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.UpdatedAt = time.Now().UTC()
	s.runs[run.RunID] = *run

	return nil
}

func (s *memoryStore) GetRun(_ context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}

	return &run, nil
}

func (s *memoryStore) ListRuns(_ context.Context, limit, offset int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if offset >= len(runs) {
		return []Run{}, nil
	}

	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}

	return runs, nil
}

func (s *memoryStore) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return ErrNotFound
	}

	delete(s.runs, runID)
	delete(s.history, runID)

	return nil
}

func (s *memoryStore) AppendHistory(_ context.Context, entry *HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.CreatedAt = time.Now().UTC()
	s.history[entry.RunID] = append(s.history[entry.RunID], *entry)

	return nil
}

func (s *memoryStore) GetHistoryEntry(
	_ context.Context, runID string, ts time.Time,
) (*HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.history[runID] {
		if entry.Timestamp.Equal(ts) {
			e := entry

			return &e, nil
		}
	}

	return nil, ErrNotFound
}

func (s *memoryStore) ListHistory(_ context.Context, runID string) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]HistoryEntry, len(s.history[runID]))
	copy(entries, s.history[runID])

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	return entries, nil
}
