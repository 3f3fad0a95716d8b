package outbox

import (
	"context"
	"sync"
	"time"

	"gridgrant/internal/events"
)

// MemoryStore keeps staged entries in memory. Used by unit tests and the
// simulation profile; real deployments use the Postgres store.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	nextSeq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextSeq: 1}
}

func (s *MemoryStore) Stage(_ context.Context, event events.Event) error {
	entry, err := Encode(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Seq = s.nextSeq
	s.nextSeq++
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) NextUndelivered(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.DeliveredAt == nil {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i := range s.entries {
		if s.entries[i].Seq == seq {
			s.entries[i].DeliveredAt = &now
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].Seq == seq {
			s.entries[i].Attempts++
			return nil
		}
	}
	return nil
}
