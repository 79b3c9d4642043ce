package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/perpetual-s/gemi-memory/internal/kv"
	"github.com/perpetual-s/gemi-memory/internal/model"
)

// selectVictimsLocked picks the overflow least important unpinned memories
// of active, oldest first among equal importance. When pinned memories
// leave too few candidates, every unpinned memory is returned and the
// pinned ones stay oversubscribed.
func (s *Store) selectVictimsLocked(active map[string]*model.Memory, overflow int) []*model.Memory {
	if overflow <= 0 {
		return nil
	}

	pool := make([]*model.Memory, 0, len(active))
	for _, m := range active {
		if !m.Pinned {
			pool = append(pool, m)
		}
	}
	sort.Slice(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.Importance != b.Importance {
			return a.Importance < b.Importance
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if len(pool) < overflow {
		s.log.Warn("not enough unpinned memories to honor the limit",
			"overflow", overflow, "unpinned", len(pool), "limit", s.limit)
		return pool
	}
	return pool[:overflow]
}

// archiveOpsLocked builds the adapter writes that move victims into a new
// archive batch. It returns a nil batch when there is nothing to archive.
// Victims not in fresh must still be active in the adapter, or the batch
// fails with kv.ErrConflict; fresh ones were never persisted as active.
func (s *Store) archiveOpsLocked(victims []*model.Memory, fresh map[string]bool, now time.Time) ([]kv.Op, *model.ArchiveBatch, error) {
	if len(victims) == 0 {
		return nil, nil, nil
	}

	batch := &model.ArchiveBatch{
		ID:         uuid.NewString(),
		ArchivedAt: now,
		Count:      len(victims),
		MemoryIDs:  make([]string, 0, len(victims)),
	}

	ops := make([]kv.Op, 0, 3*len(victims)+1)
	for _, v := range victims {
		archived := v.Clone()
		at := now
		archived.ArchivedAt = &at
		archived.BatchID = batch.ID

		value, err := json.Marshal(&archived)
		if err != nil {
			return nil, nil, fmt.Errorf("encode archived memory: %w", err)
		}
		if !fresh[v.ID] {
			ops = append(ops, kv.ExpectOp(activeKey(v.ID)), kv.DeleteOp(activeKey(v.ID)))
		}
		ops = append(ops, kv.PutOp(archivedKey(v.ID), value))
		batch.MemoryIDs = append(batch.MemoryIDs, v.ID)
	}

	value, err := json.Marshal(batch)
	if err != nil {
		return nil, nil, fmt.Errorf("encode archive batch: %w", err)
	}
	ops = append(ops, kv.PutOp(batchKey(batch.ID), value))
	return ops, batch, nil
}

// commitArchiveLocked applies a persisted archive batch to the cache.
func (s *Store) commitArchiveLocked(victims []*model.Memory, batch *model.ArchiveBatch) {
	if batch == nil {
		return
	}
	for _, v := range victims {
		delete(s.active, v.ID)
	}
	s.batches = append(s.batches, *batch)
	s.metrics.Archived(batch.Count)
	s.log.Info("archived memories", "count", batch.Count, "batch", batch.ID, "limit", s.limit)
}

// EnforceNow archives memories until the active set fits the current limit.
// It returns the batch written, or nil when nothing had to move.
func (s *Store) EnforceNow(ctx context.Context) (*model.ArchiveBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var victims []*model.Memory
	var batch *model.ArchiveBatch
	err := s.applyLocked(ctx, "enforce limit", func() ([]kv.Op, error) {
		victims = s.selectVictimsLocked(s.active, len(s.active)-s.limit)
		ops, b, err := s.archiveOpsLocked(victims, nil, now)
		batch = b
		return ops, err
	})
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}

	s.commitArchiveLocked(victims, batch)
	s.afterMutationLocked()
	s.checkCapacityLocked(0)
	s.emit(Event{Kind: EventArchived, IDs: batch.MemoryIDs, BatchID: batch.ID, At: now})

	out := cloneBatch(*batch)
	return &out, nil
}

func cloneBatch(b model.ArchiveBatch) model.ArchiveBatch {
	b.MemoryIDs = append([]string(nil), b.MemoryIDs...)
	return b
}
