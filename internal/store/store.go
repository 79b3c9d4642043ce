// Package store owns the active memory set, enforces the capacity limit by
// archiving, and exposes stats and export over the persistence adapter.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	"github.com/patrickmn/go-cache"

	"github.com/perpetual-s/gemi-memory/internal/kv"
	"github.com/perpetual-s/gemi-memory/internal/logging"
	"github.com/perpetual-s/gemi-memory/internal/metrics"
	"github.com/perpetual-s/gemi-memory/internal/model"
)

// DefaultLimit is the memory limit used when neither an option nor a
// persisted setting provides one.
const DefaultLimit = 50

var (
	ErrNotFound     = errors.New("memory not found")
	ErrEmptyContent = errors.New("memory content is empty")
	ErrInvalidLimit = errors.New("memory limit must be a positive integer")
	ErrInvalidType  = errors.New("invalid memory type")
)

// PersistenceError reports a failed adapter read or write. The store only
// retries a write once, after reloading, when another process sharing the
// database archived or deleted one of the memories it touched.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

const (
	activePrefix   = "memory/active/"
	archivedPrefix = "memory/archived/"
	batchPrefix    = "archive/batch/"
	limitKey       = "setting/memory_limit"
)

// Store is the authoritative owner of active memories. Mutations are
// serialized through mu; reads share it and always return copies.
type Store struct {
	kv      kv.Adapter
	log     *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	active  map[string]*model.Memory
	batches []model.ArchiveBatch // oldest first
	limit   int
	entropy io.Reader

	// Read-side aggregates; flushed on every mutation.
	stats *cache.Cache

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// Option configures a Store.
type Option func(*Store)

// WithLimit sets the limit used when no limit has been persisted yet.
func WithLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.log = logging.Component(l, "store") }
}

// WithMetrics records store activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the active set, archive batches and persisted limit from adapter.
func Open(ctx context.Context, adapter kv.Adapter, opts ...Option) (*Store, error) {
	s := &Store{
		kv:     adapter,
		log:    logging.Discard(),
		now:    time.Now,
		active: make(map[string]*model.Memory),
		limit:  DefaultLimit,
		stats:  cache.New(cache.NoExpiration, 0),
		subs:   make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

	if err := s.load(ctx); err != nil {
		return nil, err
	}

	s.metrics.SetActive(len(s.active), s.pinnedCountLocked())
	s.log.Debug("store opened", "active", len(s.active), "batches", len(s.batches), "limit", s.limit)
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	err := s.kv.Scan(ctx, activePrefix, func(key string, value []byte) error {
		var m model.Memory
		if err := json.Unmarshal(value, &m); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		s.active[m.ID] = &m
		return nil
	})
	if err != nil {
		return &PersistenceError{Op: "load memories", Err: err}
	}

	err = s.kv.Scan(ctx, batchPrefix, func(key string, value []byte) error {
		var b model.ArchiveBatch
		if err := json.Unmarshal(value, &b); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		s.batches = append(s.batches, b)
		return nil
	})
	if err != nil {
		return &PersistenceError{Op: "load archive batches", Err: err}
	}
	sort.Slice(s.batches, func(i, j int) bool {
		a, b := s.batches[i], s.batches[j]
		if !a.ArchivedAt.Equal(b.ArchivedAt) {
			return a.ArchivedAt.Before(b.ArchivedAt)
		}
		return a.ID < b.ID
	})

	raw, err := s.kv.Get(ctx, limitKey)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return &PersistenceError{Op: "load limit", Err: err}
	default:
		if n, err := strconv.Atoi(string(raw)); err == nil && n > 0 {
			s.limit = n
		} else {
			s.log.Warn("ignoring invalid persisted memory limit", "value", string(raw))
		}
	}
	return nil
}

// Reload replaces the in-memory state with what is persisted, picking up
// writes made by other processes sharing the database. On error the
// previous state is kept.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(ctx)
}

func (s *Store) reloadLocked(ctx context.Context) error {
	active, batches, limit := s.active, s.batches, s.limit
	s.active = make(map[string]*model.Memory)
	s.batches = nil
	if err := s.load(ctx); err != nil {
		s.active, s.batches, s.limit = active, batches, limit
		return err
	}
	s.afterMutationLocked()
	return nil
}

// applyLocked persists the ops returned by build. If another process moved
// one of the memories build relied on, the cache is reloaded and build runs
// once more against the fresh state.
func (s *Store) applyLocked(ctx context.Context, op string, build func() ([]kv.Op, error)) error {
	for attempt := 0; ; attempt++ {
		ops, err := build()
		if err != nil {
			return err
		}
		err = s.kv.Apply(ctx, ops...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, kv.ErrConflict) || attempt > 0 {
			return &PersistenceError{Op: op, Err: err}
		}
		s.log.Warn("active set changed in another process, reloading", "op", op, "err", err)
		if err := s.reloadLocked(ctx); err != nil {
			return err
		}
	}
}

func (s *Store) newID(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

func activeKey(id string) string   { return activePrefix + id }
func archivedKey(id string) string { return archivedPrefix + id }
func batchKey(id string) string    { return batchPrefix + id }

// InsertParams holds parameters for storing a memory.
type InsertParams struct {
	Content       string
	Type          model.MemoryType // defaults to user_provided
	Importance    float64          // 0 means model.DefaultImportance
	Tags          []string
	SourceEntryID string
	Pinned        bool
	CreatedAt     time.Time // zero means now; set by Import
}

// Insert stores a new memory, archiving the least important unpinned
// memories first when the active set would exceed the limit.
func (s *Store) Insert(ctx context.Context, p InsertParams) (*model.Memory, error) {
	out, err := s.InsertMany(ctx, []InsertParams{p})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// InsertMany stores several memories in one adapter write, with the same
// result as inserting them one by one in order, except that either all of
// them are stored or none is. A memory inserted early in the call can be
// archived by a later one; it is then returned with ArchivedAt set.
func (s *Store) InsertMany(ctx context.Context, ps []InsertParams) ([]*model.Memory, error) {
	if len(ps) == 0 {
		return nil, nil
	}
	mems := make([]*model.Memory, len(ps))
	for i, p := range ps {
		m, err := prepareMemory(p)
		if err != nil {
			return nil, err
		}
		mems[i] = m
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	fresh := make(map[string]bool, len(mems))
	for _, m := range mems {
		id, err := s.newID(now)
		if err != nil {
			return nil, err
		}
		m.ID = id
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		fresh[id] = true
	}

	var victims []*model.Memory
	var batch *model.ArchiveBatch
	var working map[string]*model.Memory
	err := s.applyLocked(ctx, "insert", func() ([]kv.Op, error) {
		working = make(map[string]*model.Memory, len(s.active)+len(mems))
		for id, m := range s.active {
			working[id] = m
		}
		victims = nil
		for _, m := range mems {
			vs := s.selectVictimsLocked(working, len(working)+1-s.limit)
			for _, v := range vs {
				delete(working, v.ID)
			}
			victims = append(victims, vs...)
			working[m.ID] = m
		}

		ops, b, err := s.archiveOpsLocked(victims, fresh, now)
		if err != nil {
			return nil, err
		}
		batch = b
		for _, m := range mems {
			if _, ok := working[m.ID]; !ok {
				continue
			}
			value, err := json.Marshal(m)
			if err != nil {
				return nil, fmt.Errorf("encode memory: %w", err)
			}
			ops = append(ops, kv.PutOp(activeKey(m.ID), value))
		}
		return ops, nil
	})
	if err != nil {
		return nil, err
	}

	s.commitArchiveLocked(victims, batch)
	ids := make([]string, len(mems))
	out := make([]*model.Memory, len(mems))
	for i, m := range mems {
		ids[i] = m.ID
		c := m.Clone()
		if _, ok := working[m.ID]; ok {
			s.active[m.ID] = m
		} else {
			at := now
			c.ArchivedAt = &at
			c.BatchID = batch.ID
		}
		out[i] = &c
		s.metrics.Inserted()
		s.log.Debug("inserted memory", "id", m.ID, "type", m.Type, "importance", m.Importance)
	}
	s.afterMutationLocked()
	s.checkCapacityLocked(1)

	s.emit(Event{Kind: EventInserted, IDs: ids, At: now})
	if batch != nil {
		s.emit(Event{Kind: EventArchived, IDs: batch.MemoryIDs, BatchID: batch.ID, At: now})
	}
	return out, nil
}

// prepareMemory validates p and fills defaults. ID is left empty.
func prepareMemory(p InsertParams) (*model.Memory, error) {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	typ := p.Type
	if typ == "" {
		typ = model.TypeUserProvided
	}
	if !model.ValidTypes[typ] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	importance := p.Importance
	if importance == 0 {
		importance = model.DefaultImportance
	}
	m := &model.Memory{
		Content:       content,
		Type:          typ,
		SourceEntryID: p.SourceEntryID,
		Importance:    model.ClampImportance(importance),
		Pinned:        p.Pinned,
		Tags:          model.NormalizeTags(p.Tags),
	}
	if !p.CreatedAt.IsZero() {
		m.CreatedAt = p.CreatedAt.UTC()
	}
	return m, nil
}

// Get returns the active memory with the given id.
func (s *Store) Get(id string) (*model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.active[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := m.Clone()
	return &out, nil
}

// Delete permanently removes an active memory.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.kv.Delete(ctx, activeKey(id)); err != nil {
		return &PersistenceError{Op: "delete", Err: err}
	}

	delete(s.active, id)
	s.afterMutationLocked()
	s.metrics.Deleted(1)

	s.log.Debug("deleted memory", "id", id)
	s.emit(Event{Kind: EventDeleted, IDs: []string{id}, At: s.now().UTC()})
	return nil
}

// TogglePin flips the pinned flag. Two calls restore the original state.
func (s *Store) TogglePin(ctx context.Context, id string) (*model.Memory, error) {
	return s.update(ctx, id, "toggle pin", func(m *model.Memory) {
		m.Pinned = !m.Pinned
	})
}

// SetImportance changes the importance score, clamped to [1, 5].
func (s *Store) SetImportance(ctx context.Context, id string, importance float64) (*model.Memory, error) {
	return s.update(ctx, id, "set importance", func(m *model.Memory) {
		m.Importance = model.ClampImportance(importance)
	})
}

func (s *Store) update(ctx context.Context, id, op string, fn func(*model.Memory)) (*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.active[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := cur.Clone()
	fn(&next)

	value, err := json.Marshal(&next)
	if err != nil {
		return nil, fmt.Errorf("encode memory: %w", err)
	}
	if err := s.kv.Put(ctx, activeKey(id), value); err != nil {
		return nil, &PersistenceError{Op: op, Err: err}
	}

	s.active[id] = &next
	s.afterMutationLocked()
	s.emit(Event{Kind: EventUpdated, IDs: []string{id}, At: s.now().UTC()})

	out := next.Clone()
	return &out, nil
}

// Limit returns the current memory limit.
func (s *Store) Limit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limit
}

// SetLimit changes the limit for future inserts. Existing memories over the
// new limit stay active until the next insert or EnforceNow.
func (s *Store) SetLimit(ctx context.Context, n int) error {
	if n < 1 {
		return ErrInvalidLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Put(ctx, limitKey, []byte(strconv.Itoa(n))); err != nil {
		return &PersistenceError{Op: "set limit", Err: err}
	}
	prev := s.limit
	s.limit = n

	s.log.Info("memory limit changed", "from", prev, "to", n)
	s.emit(Event{Kind: EventLimitChanged, At: s.now().UTC()})
	return nil
}

// ClearAll permanently deletes every active memory. Archives are untouched.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.active) == 0 {
		return 0, nil
	}
	ops := make([]kv.Op, 0, len(s.active))
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ops = append(ops, kv.DeleteOp(activeKey(id)))
		ids = append(ids, id)
	}
	if err := s.kv.Apply(ctx, ops...); err != nil {
		return 0, &PersistenceError{Op: "clear", Err: err}
	}

	n := len(s.active)
	s.active = make(map[string]*model.Memory)
	s.afterMutationLocked()
	s.metrics.Deleted(n)

	s.log.Info("cleared active memories", "count", n)
	sort.Strings(ids)
	s.emit(Event{Kind: EventCleared, IDs: ids, At: s.now().UTC()})
	return n, nil
}

// Active returns a snapshot of every active memory, newest first.
func (s *Store) Active() []model.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []model.Memory {
	out := make([]model.Memory, 0, len(s.active))
	for _, m := range s.active {
		out = append(out, m.Clone())
	}
	sortCreatedDesc(out)
	return out
}

// afterMutationLocked invalidates cached aggregates and refreshes gauges.
func (s *Store) afterMutationLocked() {
	s.stats.Flush()
	s.metrics.SetActive(len(s.active), s.pinnedCountLocked())
}

// checkCapacityLocked flags an active set above the limit that still holds
// archivable memories. exempt is the number of unpinned memories enforcement
// was not allowed to touch (the memory being inserted). Enforcement makes
// this unreachable short of an adapter defect, so it is logged, not returned.
func (s *Store) checkCapacityLocked(exempt int) {
	if len(s.active) <= s.limit {
		return
	}
	pinned := s.pinnedCountLocked()
	if len(s.active)-pinned > exempt {
		s.log.Error("capacity invariant violated", "active", len(s.active), "limit", s.limit, "pinned", pinned)
		s.metrics.CapacityBreach()
		return
	}
	s.log.Warn("pinned memories fill the limit", "active", len(s.active), "limit", s.limit, "pinned", pinned)
}

func (s *Store) pinnedCountLocked() int {
	n := 0
	for _, m := range s.active {
		if m.Pinned {
			n++
		}
	}
	return n
}

func sortCreatedDesc(ms []model.Memory) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.After(ms[j].CreatedAt)
		}
		return ms[i].ID > ms[j].ID
	})
}
