// Package model defines the core memory data types.
package model

import (
	"math"
	"strings"
	"time"
)

// MemoryType records where a memory came from. It is provenance, not importance.
type MemoryType string

const (
	TypeConversation     MemoryType = "conversation"
	TypeJournalFact      MemoryType = "journal_fact"
	TypeUserProvided     MemoryType = "user_provided"
	TypeReflection       MemoryType = "reflection"
	TypeConversationFact MemoryType = "conversation_fact"
)

// ValidTypes are the allowed memory types.
var ValidTypes = map[MemoryType]bool{
	TypeConversation:     true,
	TypeJournalFact:      true,
	TypeUserProvided:     true,
	TypeReflection:       true,
	TypeConversationFact: true,
}

// ParseType maps a loose type name ("journal fact", "JournalFact", "journal_fact")
// onto a MemoryType. Unknown names report false.
func ParseType(s string) (MemoryType, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "journalfact":
		norm = string(TypeJournalFact)
	case "userprovided":
		norm = string(TypeUserProvided)
	case "conversationfact":
		norm = string(TypeConversationFact)
	}
	t := MemoryType(norm)
	return t, ValidTypes[t]
}

// Importance bounds.
const (
	MinImportance     = 1.0
	MaxImportance     = 5.0
	DefaultImportance = 3.0
)

// ClampImportance forces v into [MinImportance, MaxImportance].
func ClampImportance(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return DefaultImportance
	case v < MinImportance:
		return MinImportance
	case v > MaxImportance:
		return MaxImportance
	}
	return v
}

// Memory is a single remembered fact.
type Memory struct {
	ID            string     `json:"id" yaml:"id"`
	Content       string     `json:"content" yaml:"content"`
	Type          MemoryType `json:"memory_type" yaml:"memory_type"`
	SourceEntryID string     `json:"source_entry_id,omitempty" yaml:"source_entry_id,omitempty"`
	Importance    float64    `json:"importance" yaml:"importance"`
	Pinned        bool       `json:"is_pinned" yaml:"is_pinned"`
	Tags          []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt     time.Time  `json:"created_at" yaml:"created_at"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty" yaml:"archived_at,omitempty"`
	BatchID       string     `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
}

// Archived reports whether the memory has been moved to the archive.
func (m Memory) Archived() bool { return m.ArchivedAt != nil }

// Clone returns a deep copy so callers never alias store-owned state.
func (m Memory) Clone() Memory {
	c := m
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if m.ArchivedAt != nil {
		t := *m.ArchivedAt
		c.ArchivedAt = &t
	}
	return c
}

// HasTag reports whether tag is present, ignoring case.
func (m Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// NormalizeTags trims, drops empty values and deduplicates case-insensitively,
// keeping the first spelling seen.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}

// Candidate is an extracted memory that has not been stored yet.
type Candidate struct {
	Content    string     `json:"content"`
	Type       MemoryType `json:"memory_type"`
	Importance float64    `json:"importance"`
	Tags       []string   `json:"tags,omitempty"`
}

// ArchiveBatch records one eviction event.
type ArchiveBatch struct {
	ID         string    `json:"id" yaml:"id"`
	ArchivedAt time.Time `json:"archived_at" yaml:"archived_at"`
	Count      int       `json:"count" yaml:"count"`
	MemoryIDs  []string  `json:"memory_ids" yaml:"memory_ids"`
}

// MemoryStats aggregates the active set.
type MemoryStats struct {
	TotalCount            int                `json:"total_count"`
	PinnedCount           int                `json:"pinned_count"`
	TypeCounts            map[MemoryType]int `json:"type_counts"`
	AverageMemoriesPerDay float64            `json:"average_memories_per_day"`
}

// ArchiveStats aggregates archive batches.
type ArchiveStats struct {
	TotalArchives         int        `json:"total_archives"`
	TotalArchivedMemories int        `json:"total_archived_memories"`
	OldestArchive         *time.Time `json:"oldest_archive,omitempty"`
}
