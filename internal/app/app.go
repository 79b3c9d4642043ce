// Package app wires the store, journal, extraction and retrieval
// components together from a Config.
package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/perpetual-s/gemi-memory/internal/config"
	"github.com/perpetual-s/gemi-memory/internal/extract"
	"github.com/perpetual-s/gemi-memory/internal/journal"
	"github.com/perpetual-s/gemi-memory/internal/kv"
	"github.com/perpetual-s/gemi-memory/internal/llm"
	"github.com/perpetual-s/gemi-memory/internal/logging"
	"github.com/perpetual-s/gemi-memory/internal/metrics"
	"github.com/perpetual-s/gemi-memory/internal/retrieve"
	"github.com/perpetual-s/gemi-memory/internal/store"
)

// App holds one fully wired engine.
type App struct {
	Config    *config.Config
	KV        *kv.SQLite
	Store     *store.Store
	Journal   *journal.Journal
	Pipeline  *extract.Pipeline
	Processor *extract.Processor
	Worker    *extract.Worker
	Retriever *retrieve.Retriever
	Metrics   *metrics.Metrics
	Log       *log.Logger
}

// Open opens the database at cfg.DBPath and builds every component.
// Saved journal entries are queued on Worker; call Worker.Run to drain it.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	a := &App{Config: cfg, Log: logger, Metrics: metrics.New()}

	db, err := kv.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.KV = db

	a.Store, err = store.Open(ctx, db,
		store.WithLimit(cfg.MemoryLimit),
		store.WithLogger(logger),
		store.WithMetrics(a.Metrics),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	completer, err := llm.NewFromConfig(llm.Config{
		Provider:   cfg.LLM.Provider,
		Model:      cfg.LLM.Model,
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configure llm: %w", err)
	}

	a.Pipeline = extract.New(
		extract.WithCompleter(completer),
		extract.WithMaxCandidates(cfg.Extraction.MaxPerEntry),
		extract.WithTimeout(cfg.LLM.Timeout),
		extract.WithLogger(logger),
		extract.WithMetrics(a.Metrics),
	)

	// The hook needs the worker, which needs the journal as its entry source.
	a.Journal = journal.New(db,
		journal.WithLogger(logger),
		journal.WithSaveHook(func(id string) { a.Worker.Enqueue(id) }),
	)
	a.Processor = extract.NewProcessor(a.Pipeline, a.Journal, a.Store,
		extract.WithParallelism(cfg.Extraction.Parallelism),
		extract.WithRatePerMinute(cfg.Extraction.RatePerMinute),
		extract.WithProcessorLogger(logger),
		extract.WithProcessorMetrics(a.Metrics),
	)
	a.Worker = extract.NewWorker(a.Processor, cfg.Extraction.QueueSize, logger)

	a.Retriever = retrieve.New(a.Store,
		retrieve.WithRecency(cfg.Retrieval.RecencyWindow, cfg.Retrieval.RecencyBonus),
		retrieve.WithLogger(logger),
	)

	logger.Debug("engine ready", "db", cfg.DBPath, "provider", cfg.LLM.Provider, "limit", a.Store.Limit())
	return a, nil
}

// ExtractPending runs a batch over every entry not yet extracted.
func (a *App) ExtractPending(ctx context.Context, onProgress func(processed, total int)) (extract.BatchReport, error) {
	pending, err := a.Journal.Pending(ctx)
	if err != nil {
		return extract.BatchReport{}, err
	}
	ids := make([]string, len(pending))
	for i, e := range pending {
		ids[i] = e.ID
	}
	return a.Processor.ExtractBatch(ctx, ids, onProgress), nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.KV.Close()
}
