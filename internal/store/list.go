package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/perpetual-s/gemi-memory/internal/model"
)

// SortBy selects the order of List results.
type SortBy string

const (
	SortCreatedDesc    SortBy = "created_desc"
	SortCreatedAsc     SortBy = "created_asc"
	SortImportanceDesc SortBy = "importance_desc"
)

// ParseSort validates a sort name. Empty means SortCreatedDesc.
func ParseSort(s string) (SortBy, error) {
	switch SortBy(s) {
	case "":
		return SortCreatedDesc, nil
	case SortCreatedDesc, SortCreatedAsc, SortImportanceDesc:
		return SortBy(s), nil
	}
	return "", fmt.Errorf("invalid sort %q (valid: created_desc, created_asc, importance_desc)", s)
}

// ListParams holds parameters for listing active memories.
type ListParams struct {
	Query  string // case-insensitive substring of content
	Type   model.MemoryType
	Tags   []string // all must match
	Pinned *bool
	Sort   SortBy
	Limit  int // 0 means no limit
}

// List returns active memories matching p.
func (s *Store) List(p ListParams) ([]model.Memory, error) {
	sortBy, err := ParseSort(string(p.Sort))
	if err != nil {
		return nil, err
	}
	query := strings.ToLower(strings.TrimSpace(p.Query))

	s.mu.RLock()
	var out []model.Memory
	for _, m := range s.active {
		if !matches(m, query, p) {
			continue
		}
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()

	switch sortBy {
	case SortCreatedAsc:
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			}
			return out[i].ID < out[j].ID
		})
	case SortImportanceDesc:
		sort.Slice(out, func(i, j int) bool {
			if out[i].Importance != out[j].Importance {
				return out[i].Importance > out[j].Importance
			}
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].ID > out[j].ID
		})
	default:
		sortCreatedDesc(out)
	}

	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

// Search is List filtered by a free-text query.
func (s *Store) Search(query string, limit int) ([]model.Memory, error) {
	return s.List(ListParams{Query: query, Limit: limit})
}

func matches(m *model.Memory, query string, p ListParams) bool {
	if query != "" && !strings.Contains(strings.ToLower(m.Content), query) {
		return false
	}
	if p.Type != "" && m.Type != p.Type {
		return false
	}
	if p.Pinned != nil && m.Pinned != *p.Pinned {
		return false
	}
	for _, tag := range p.Tags {
		if !m.HasTag(tag) {
			return false
		}
	}
	return true
}
