// Package journal persists diary entries, the input to memory extraction.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/perpetual-s/gemi-memory/internal/kv"
	"github.com/perpetual-s/gemi-memory/internal/logging"
	"github.com/perpetual-s/gemi-memory/internal/model"
)

var (
	ErrNotFound   = errors.New("entry not found")
	ErrEmptyEntry = errors.New("entry text is empty")
)

const entryPrefix = "journal/entry/"

func entryKey(id string) string { return entryPrefix + id }

// Journal stores diary entries in the kv adapter. Deleting an entry never
// touches memories extracted from it.
type Journal struct {
	kv     kv.Adapter
	log    *log.Logger
	now    func() time.Time
	onSave func(entryID string)

	mu      sync.Mutex
	entropy io.Reader
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(j *Journal) { j.log = logging.Component(l, "journal") }
}

// WithSaveHook is called with the id of every saved entry, after it is
// persisted. The hook must not block.
func WithSaveHook(fn func(entryID string)) Option {
	return func(j *Journal) { j.onSave = fn }
}

// New returns a Journal on adapter.
func New(adapter kv.Adapter, opts ...Option) *Journal {
	j := &Journal{
		kv:      adapter,
		log:     logging.Discard(),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Save stores a new entry.
func (j *Journal) Save(ctx context.Context, text string) (*model.Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyEntry
	}

	now := j.now().UTC()
	j.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), j.entropy)
	j.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	e := &model.Entry{ID: id.String(), Text: text, CreatedAt: now}
	if err := j.put(ctx, e); err != nil {
		return nil, err
	}
	j.log.Debug("saved entry", "id", e.ID, "chars", len(text))

	if j.onSave != nil {
		j.onSave(e.ID)
	}
	return e, nil
}

// Entry returns one entry.
func (j *Journal) Entry(ctx context.Context, id string) (*model.Entry, error) {
	raw, err := j.kv.Get(ctx, entryKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load entry: %w", err)
	}
	var e model.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", id, err)
	}
	return &e, nil
}

// List returns entries newest first. limit <= 0 means all.
func (j *Journal) List(ctx context.Context, limit int) ([]model.Entry, error) {
	all, err := j.scan(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(a, b int) bool {
		if !all[a].CreatedAt.Equal(all[b].CreatedAt) {
			return all[a].CreatedAt.After(all[b].CreatedAt)
		}
		return all[a].ID > all[b].ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Pending returns entries not yet extracted, oldest first.
func (j *Journal) Pending(ctx context.Context) ([]model.Entry, error) {
	all, err := j.scan(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Entry
	for _, e := range all {
		if e.ExtractedAt == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// MarkExtracted records when an entry's memories were extracted.
func (j *Journal) MarkExtracted(ctx context.Context, id string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, err := j.Entry(ctx, id)
	if err != nil {
		return err
	}
	at = at.UTC()
	e.ExtractedAt = &at
	return j.put(ctx, e)
}

// Delete removes an entry.
func (j *Journal) Delete(ctx context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.Entry(ctx, id); err != nil {
		return err
	}
	if err := j.kv.Delete(ctx, entryKey(id)); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	j.log.Debug("deleted entry", "id", id)
	return nil
}

func (j *Journal) put(ctx context.Context, e *model.Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if err := j.kv.Put(ctx, entryKey(e.ID), value); err != nil {
		return fmt.Errorf("save entry: %w", err)
	}
	return nil
}

// scan returns entries in id order, which is creation order.
func (j *Journal) scan(ctx context.Context) ([]model.Entry, error) {
	var out []model.Entry
	err := j.kv.Scan(ctx, entryPrefix, func(key string, value []byte) error {
		var e model.Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	return out, nil
}
