package triage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/internal/domain/audit"
)

// Store is the abstract durable backing for the engine. ApplyTransition
// persists a record version together with the audit event that produced it
// as one atomic unit; a write whose version does not directly follow the
// stored one is rejected with ErrVersionConflict, never silently applied.
// ListActive returns every non-terminal record so a restarted engine can
// rebuild its queue from persisted state alone.
type Store interface {
	ApplyTransition(ctx context.Context, rec *Record, ev *audit.Event) error
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
	ListActive(ctx context.Context) ([]*Record, error)
}

// MemoryStore keeps records in memory, sharing a MemoryLog so the record
// write and event append commit under one lock. Used by tests and dev mode.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
	log     *audit.MemoryLog
}

func NewMemoryStore(log *audit.MemoryLog) *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*Record), log: log}
}

func (s *MemoryStore) ApplyTransition(ctx context.Context, rec *Record, ev *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.records[rec.ID]
	switch {
	case !exists && rec.Version != 1:
		return ErrVersionConflict
	case exists && prev.Version != rec.Version-1:
		return ErrVersionConflict
	}
	if err := s.log.Record(ctx, ev); err != nil {
		return err
	}
	s.records[rec.ID] = rec.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

func (s *MemoryStore) ListActive(_ context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.records {
		if !rec.State.Terminal() {
			out = append(out, rec.clone())
		}
	}
	return out, nil
}
