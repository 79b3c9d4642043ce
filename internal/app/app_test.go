package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpetual-s/gemi-memory/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DBPath:      filepath.Join(t.TempDir(), "memory.db"),
		MemoryLimit: 3,
		LLM:         config.LLM{Provider: "none", Timeout: time.Second},
		Extraction:  config.Extraction{MaxPerEntry: 5, Parallelism: 2, QueueSize: 8},
		Retrieval:   config.Retrieval{DefaultK: 10, RecencyWindow: 7 * 24 * time.Hour, RecencyBonus: 1},
		Daemon:      config.Daemon{Interval: time.Minute},
	}
}

func TestSavedEntryIsExtractedInBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := Open(ctx, testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	go a.Worker.Run(ctx)

	e, err := a.Journal.Save(ctx, "My name is Dana and I live in Lisbon. My dog is called Miso.")
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, a.Worker.Wait(waitCtx))

	active := a.Store.Active()
	require.NotEmpty(t, active)
	for _, m := range active {
		assert.Equal(t, e.ID, m.SourceEntryID)
	}

	pending, err := a.Journal.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestExtractPendingRespectsLimit(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	// Nothing drains the queue here; the batch picks the entries up.
	for _, text := range []string{
		"My name is Dana and my favorite food is ramen.",
		"I work as a nurse at the city hospital.",
		"My sister Leah got engaged in the spring.",
		"I am allergic to peanuts and always carry medicine.",
	} {
		_, err := a.Journal.Save(ctx, text)
		require.NoError(t, err)
	}

	var calls int
	report, err := a.ExtractPending(ctx, func(processed, total int) { calls++ })
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 4, calls)
	assert.LessOrEqual(t, len(a.Store.Active()), 3)
	assert.Positive(t, a.Store.ArchiveStats().TotalArchivedMemories)

	pending, err := a.Journal.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOpenPersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	_, err = a.Journal.Save(ctx, "My goal is to run a marathon next year.")
	require.NoError(t, err)
	_, err = a.ExtractPending(ctx, nil)
	require.NoError(t, err)
	want := len(a.Store.Active())
	require.NoError(t, a.Close())

	b, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer b.Close()
	assert.Len(t, b.Store.Active(), want)

	selected := b.Retriever.Select(5)
	assert.Len(t, selected, want)
}
