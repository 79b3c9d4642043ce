package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/perpetual-s/gemi-memory/internal/model"
)

// Archived returns every archived memory, newest batch first. Archived
// memories are read from the adapter on demand and never cached.
func (s *Store) Archived(ctx context.Context) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.archivedLocked(ctx)
}

// archivedLocked reads the archive. Archiving only happens under the write
// lock, so a caller holding mu sees the archive and the active set agree.
func (s *Store) archivedLocked(ctx context.Context) ([]model.Memory, error) {
	var out []model.Memory
	err := s.kv.Scan(ctx, archivedPrefix, func(key string, value []byte) error {
		var m model.Memory
		if err := json.Unmarshal(value, &m); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, &PersistenceError{Op: "load archive", Err: err}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		at, bt := archivedTime(a), archivedTime(b)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		if a.BatchID != b.BatchID {
			return a.BatchID > b.BatchID
		}
		return a.ID < b.ID
	})
	return out, nil
}

func archivedTime(m model.Memory) time.Time {
	if m.ArchivedAt == nil {
		return time.Time{}
	}
	return *m.ArchivedAt
}

// Batches returns the archive batches, oldest first.
func (s *Store) Batches() []model.ArchiveBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchesLocked()
}

func (s *Store) batchesLocked() []model.ArchiveBatch {
	out := make([]model.ArchiveBatch, len(s.batches))
	for i, b := range s.batches {
		out[i] = cloneBatch(b)
	}
	return out
}
