package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/perpetual-s/gemi-memory/internal/model"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ExportAll returns the active memories, oldest first, followed by the
// archived ones and their batches when includeArchived is set. All parts
// come from one snapshot: no memory is both active and archived.
func (s *Store) ExportAll(ctx context.Context, includeArchived bool) (*model.ExportPayload, error) {
	exportedAt := s.now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	active := s.snapshotLocked()
	sort.SliceStable(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		}
		return active[i].ID < active[j].ID
	})

	payload := &model.ExportPayload{
		Version:     model.ExportVersion,
		ExportedAt:  exportedAt,
		MemoryLimit: s.limit,
		Memories:    active,
	}
	if !includeArchived {
		return payload, nil
	}

	archived, err := s.archivedLocked(ctx)
	if err != nil {
		return nil, err
	}
	payload.Memories = append(payload.Memories, archived...)
	payload.Batches = s.batchesLocked()
	return payload, nil
}

// EncodeExport writes payload to w as JSON (the default) or YAML.
func EncodeExport(w io.Writer, payload *model.ExportPayload, format string) error {
	switch normalizeFormat(format) {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(payload); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported export format %q (valid: json, yaml)", format)
}

// DecodeExport reads a payload written by EncodeExport.
func DecodeExport(r io.Reader, format string) (*model.ExportPayload, error) {
	var payload model.ExportPayload
	switch normalizeFormat(format) {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode json export: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode yaml export: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported export format %q (valid: json, yaml)", format)
	}
	if payload.Version > model.ExportVersion {
		return nil, fmt.Errorf("export version %d is newer than supported version %d", payload.Version, model.ExportVersion)
	}
	return &payload, nil
}

func normalizeFormat(f string) string {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case "", "json":
		return FormatJSON
	case "yaml", "yml":
		return FormatYAML
	}
	return f
}

// ImportResult summarizes an Import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	IDs      []string `json:"ids,omitempty"`
}

// Import re-inserts the active memories of payload through normal capacity
// enforcement, oldest first. Archived memories, blank content and ids that
// are already active are skipped. It stops at the first persistence error.
func (s *Store) Import(ctx context.Context, payload *model.ExportPayload) (ImportResult, error) {
	var res ImportResult
	if payload == nil {
		return res, nil
	}

	memories := make([]model.Memory, 0, len(payload.Memories))
	for _, m := range payload.Memories {
		if m.Archived() || strings.TrimSpace(m.Content) == "" || s.isActive(m.ID) {
			res.Skipped++
			continue
		}
		memories = append(memories, m)
	}
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].CreatedAt.Before(memories[j].CreatedAt)
	})

	for _, m := range memories {
		typ := m.Type
		if !model.ValidTypes[typ] {
			typ = model.TypeUserProvided
		}
		inserted, err := s.Insert(ctx, InsertParams{
			Content:       m.Content,
			Type:          typ,
			Importance:    m.Importance,
			Tags:          m.Tags,
			SourceEntryID: m.SourceEntryID,
			Pinned:        m.Pinned,
			CreatedAt:     m.CreatedAt,
		})
		if err != nil {
			if errors.Is(err, ErrEmptyContent) {
				res.Skipped++
				continue
			}
			return res, err
		}
		res.Imported++
		res.IDs = append(res.IDs, inserted.ID)
	}

	if res.Imported > 0 {
		s.log.Info("imported memories", "imported", res.Imported, "skipped", res.Skipped)
		s.emit(Event{Kind: EventImported, IDs: res.IDs, At: s.now().UTC()})
	}
	return res, nil
}

func (s *Store) isActive(id string) bool {
	if id == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[id]
	return ok
}
