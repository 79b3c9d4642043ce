package store

import (
	"github.com/patrickmn/go-cache"

	"github.com/perpetual-s/gemi-memory/internal/model"
)

const (
	memoryStatsKey  = "memory"
	archiveStatsKey = "archive"
)

// Stats aggregates the active set. Results are cached until the next mutation.
func (s *Store) Stats() model.MemoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.stats.Get(memoryStatsKey); ok {
		return cloneMemoryStats(v.(model.MemoryStats))
	}

	st := model.MemoryStats{
		TotalCount: len(s.active),
		TypeCounts: make(map[model.MemoryType]int),
	}
	var first, last *model.Memory
	for _, m := range s.active {
		if m.Pinned {
			st.PinnedCount++
		}
		st.TypeCounts[m.Type]++
		if first == nil || m.CreatedAt.Before(first.CreatedAt) {
			first = m
		}
		if last == nil || m.CreatedAt.After(last.CreatedAt) {
			last = m
		}
	}
	if st.TotalCount > 0 {
		days := last.CreatedAt.Sub(first.CreatedAt).Hours() / 24
		if days < 1 {
			days = 1
		}
		st.AverageMemoriesPerDay = float64(st.TotalCount) / days
	}

	s.stats.Set(memoryStatsKey, st, cache.NoExpiration)
	return cloneMemoryStats(st)
}

// ArchiveStats aggregates the archive batches.
func (s *Store) ArchiveStats() model.ArchiveStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.stats.Get(archiveStatsKey); ok {
		return cloneArchiveStats(v.(model.ArchiveStats))
	}

	st := model.ArchiveStats{TotalArchives: len(s.batches)}
	for _, b := range s.batches {
		st.TotalArchivedMemories += b.Count
		if st.OldestArchive == nil || b.ArchivedAt.Before(*st.OldestArchive) {
			at := b.ArchivedAt
			st.OldestArchive = &at
		}
	}

	s.stats.Set(archiveStatsKey, st, cache.NoExpiration)
	return cloneArchiveStats(st)
}

func cloneMemoryStats(st model.MemoryStats) model.MemoryStats {
	counts := make(map[model.MemoryType]int, len(st.TypeCounts))
	for k, v := range st.TypeCounts {
		counts[k] = v
	}
	st.TypeCounts = counts
	return st
}

func cloneArchiveStats(st model.ArchiveStats) model.ArchiveStats {
	if st.OldestArchive != nil {
		t := *st.OldestArchive
		st.OldestArchive = &t
	}
	return st
}
