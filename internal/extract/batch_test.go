package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpetual-s/gemi-memory/internal/kv"
	"github.com/perpetual-s/gemi-memory/internal/metrics"
	"github.com/perpetual-s/gemi-memory/internal/model"
	"github.com/perpetual-s/gemi-memory/internal/store"
)

var errNoEntry = errors.New("entry not found")

type memEntries struct {
	mu        sync.Mutex
	entries   map[string]model.Entry
	extracted map[string]time.Time
}

func newMemEntries(texts map[string]string) *memEntries {
	e := &memEntries{entries: map[string]model.Entry{}, extracted: map[string]time.Time{}}
	for id, text := range texts {
		e.entries[id] = model.Entry{ID: id, Text: text}
	}
	return e
}

func (e *memEntries) Entry(ctx context.Context, id string) (*model.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNoEntry, id)
	}
	return &en, nil
}

func (e *memEntries) MarkExtracted(ctx context.Context, id string, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.extracted[id] = at
	return nil
}

func (e *memEntries) isExtracted(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.extracted[id]
	return ok
}

type memSink struct {
	mu       sync.Mutex
	inserted []store.InsertParams
	err      error
}

func (s *memSink) InsertMany(ctx context.Context, ps []store.InsertParams) ([]*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	out := make([]*model.Memory, len(ps))
	for i, p := range ps {
		s.inserted = append(s.inserted, p)
		out[i] = &model.Memory{ID: fmt.Sprintf("m%d", len(s.inserted)), Content: p.Content}
	}
	return out, nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

const oneFact = `{"memories":[{"content":"a durable fact","importance":4}]}`

func TestExtractBatchInsertsAndReportsProgress(t *testing.T) {
	entries := newMemEntries(map[string]string{"e1": "one", "e2": "two", "e3": "three"})
	sink := &memSink{}
	proc := NewProcessor(New(WithCompleter(&fakeCompleter{out: oneFact})), entries, sink, WithParallelism(2))

	var progress []int
	rep := proc.ExtractBatch(context.Background(), []string{"e1", "e2", "e3"}, func(done, total int) {
		assert.Equal(t, 3, total)
		progress = append(progress, done)
	})

	assert.Equal(t, []int{1, 2, 3}, progress)
	assert.Equal(t, 3, rep.Processed)
	assert.Equal(t, 3, rep.Inserted)
	assert.False(t, rep.Canceled)
	for _, e := range rep.Entries {
		assert.Equal(t, StatusExtracted, e.Status)
		assert.True(t, entries.isExtracted(e.EntryID))
	}
	for _, p := range sink.inserted {
		assert.NotEmpty(t, p.SourceEntryID)
		assert.Equal(t, 4.0, p.Importance)
	}
}

func TestExtractBatchFailuresAreNotFatal(t *testing.T) {
	entries := newMemEntries(map[string]string{"e1": "one", "e3": "three"})
	sink := &memSink{}
	proc := NewProcessor(New(WithCompleter(&fakeCompleter{out: oneFact})), entries, sink)

	rep := proc.ExtractBatch(context.Background(), []string{"e1", "missing", "e3"}, nil)

	assert.Equal(t, 3, rep.Processed)
	assert.Equal(t, 2, rep.Inserted)
	assert.Equal(t, StatusFailed, rep.Entries[1].Status)
	assert.Contains(t, rep.Entries[1].Error, "entry not found")
	assert.Equal(t, StatusExtracted, rep.Entries[2].Status)
}

func TestExtractBatchSinkErrorLeavesEntryPending(t *testing.T) {
	entries := newMemEntries(map[string]string{"e1": "one"})
	sink := &memSink{err: errors.New("disk full")}
	proc := NewProcessor(New(WithCompleter(&fakeCompleter{out: oneFact})), entries, sink)

	rep := proc.ExtractBatch(context.Background(), []string{"e1"}, nil)
	assert.Equal(t, StatusFailed, rep.Entries[0].Status)
	assert.False(t, entries.isExtracted("e1"))
}

func TestExtractBatchUnavailableLeavesEntryPending(t *testing.T) {
	entries := newMemEntries(map[string]string{"e1": "The bus was late."})
	proc := NewProcessor(New(WithCompleter(&fakeCompleter{err: errors.New("down")})), entries, &memSink{})

	rep := proc.ExtractBatch(context.Background(), []string{"e1"}, nil)
	assert.Equal(t, StatusUnavailable, rep.Entries[0].Status)
	assert.False(t, entries.isExtracted("e1"))
}

func TestExtractBatchWithoutModelFinishesEmptyEntry(t *testing.T) {
	entries := newMemEntries(map[string]string{"e1": "The bus was late."})
	sink := &memSink{}
	m := metrics.New()
	proc := NewProcessor(New(), entries, sink, WithProcessorMetrics(m))

	rep := proc.ExtractBatch(context.Background(), []string{"e1"}, nil)
	assert.Equal(t, StatusUnavailable, rep.Entries[0].Status)
	assert.True(t, entries.isExtracted("e1"), "nothing will change on retry without a model")
	assert.Zero(t, sink.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchEntries.WithLabelValues("unavailable")))
}

type flakyKV struct {
	kv.Adapter
	mu       sync.Mutex
	failNext bool
}

func (f *flakyKV) Apply(ctx context.Context, ops ...kv.Op) error {
	f.mu.Lock()
	fail := f.failNext
	f.failNext = false
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Adapter.Apply(ctx, ops...)
}

func TestExtractBatchRetryAfterFailedInsertHasNoDuplicates(t *testing.T) {
	ctx := context.Background()
	db, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	adapter := &flakyKV{Adapter: db}
	s, err := store.Open(ctx, adapter)
	require.NoError(t, err)

	twoFacts := `{"memories":[{"content":"lives in Porto","importance":4},{"content":"has a cat named Miso","importance":3}]}`
	entries := newMemEntries(map[string]string{"e1": "diary text"})
	proc := NewProcessor(New(WithCompleter(&fakeCompleter{out: twoFacts})), entries, s)

	adapter.failNext = true
	rep := proc.ExtractBatch(ctx, []string{"e1"}, nil)
	require.Equal(t, StatusFailed, rep.Entries[0].Status)
	assert.False(t, entries.isExtracted("e1"))
	assert.Empty(t, s.Active(), "a failed entry must leave nothing behind")

	rep = proc.ExtractBatch(ctx, []string{"e1"}, nil)
	require.Equal(t, StatusExtracted, rep.Entries[0].Status)
	assert.True(t, entries.isExtracted("e1"))

	active := s.Active()
	require.Len(t, active, 2)
	assert.NotEqual(t, active[0].Content, active[1].Content)
}

func TestExtractBatchDegraded(t *testing.T) {
	entries := newMemEntries(map[string]string{"e1": durableEntry})
	sink := &memSink{}
	proc := NewProcessor(New(), entries, sink)

	rep := proc.ExtractBatch(context.Background(), []string{"e1"}, nil)
	assert.Equal(t, StatusDegraded, rep.Entries[0].Status)
	assert.Positive(t, sink.count())
	assert.True(t, entries.isExtracted("e1"))
}

func TestExtractBatchStopsBetweenEntriesOnCancel(t *testing.T) {
	entries := newMemEntries(map[string]string{"e1": "one", "e2": "two", "e3": "three"})
	sink := &memSink{}
	proc := NewProcessor(New(WithCompleter(&fakeCompleter{out: oneFact})), entries, sink, WithParallelism(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := proc.ExtractBatch(ctx, []string{"e1", "e2", "e3"}, func(done, total int) {
		if done == 1 {
			cancel()
		}
	})

	assert.True(t, rep.Canceled)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, StatusExtracted, rep.Entries[0].Status)
	assert.Equal(t, StatusCanceled, rep.Entries[2].Status)
	assert.False(t, entries.isExtracted("e3"))
}

func TestExtractBatchDiscardsCanceledModelCall(t *testing.T) {
	entries := newMemEntries(map[string]string{"e1": durableEntry})
	sink := &memSink{}
	proc := NewProcessor(New(WithCompleter(&fakeCompleter{block: true})), entries, sink)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	rep := proc.ExtractBatch(ctx, []string{"e1"}, nil)

	require.Len(t, rep.Entries, 1)
	assert.Equal(t, StatusCanceled, rep.Entries[0].Status)
	assert.Zero(t, sink.count())
	assert.False(t, entries.isExtracted("e1"))
}

func TestExtractBatchRateLimit(t *testing.T) {
	entries := newMemEntries(map[string]string{"e1": "one", "e2": "two"})
	proc := NewProcessor(New(WithCompleter(&fakeCompleter{out: oneFact})), entries, &memSink{},
		WithRatePerMinute(600))

	start := time.Now()
	rep := proc.ExtractBatch(context.Background(), []string{"e1", "e2"}, nil)
	assert.Equal(t, 2, rep.Processed)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestWorkerProcessesQueue(t *testing.T) {
	entries := newMemEntries(map[string]string{"e1": "one", "e2": "two"})
	sink := &memSink{}
	proc := NewProcessor(New(WithCompleter(&fakeCompleter{out: oneFact})), entries, sink)
	w := NewWorker(proc, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	assert.True(t, w.Enqueue("e1"))
	assert.True(t, w.Enqueue("e2"))

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, w.Wait(waitCtx))

	assert.Equal(t, 2, sink.count())
	assert.Zero(t, w.Pending())
}

func TestWorkerEnqueueNeverBlocks(t *testing.T) {
	proc := NewProcessor(New(), newMemEntries(nil), &memSink{})
	w := NewWorker(proc, 1, nil)

	assert.True(t, w.Enqueue("e1"))
	assert.False(t, w.Enqueue("e2"))
	assert.Equal(t, 1, w.Pending())
}
