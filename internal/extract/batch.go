package extract

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/perpetual-s/gemi-memory/internal/logging"
	"github.com/perpetual-s/gemi-memory/internal/metrics"
	"github.com/perpetual-s/gemi-memory/internal/model"
	"github.com/perpetual-s/gemi-memory/internal/store"
)

// EntrySource loads diary entries and records that they were extracted.
type EntrySource interface {
	Entry(ctx context.Context, id string) (*model.Entry, error)
	MarkExtracted(ctx context.Context, id string, at time.Time) error
}

// Sink stores extracted memories. InsertMany must store all of them or
// none, so a failed entry can be retried without duplicates.
type Sink interface {
	InsertMany(ctx context.Context, ps []store.InsertParams) ([]*model.Memory, error)
}

// EntryStatus is the per-entry result of a batch.
type EntryStatus string

const (
	StatusExtracted   EntryStatus = "extracted"
	StatusDegraded    EntryStatus = "degraded"
	StatusUnavailable EntryStatus = "unavailable"
	StatusCanceled    EntryStatus = "canceled"
	StatusFailed      EntryStatus = "failed"
)

// EntryReport describes what happened to one entry.
type EntryReport struct {
	EntryID   string      `json:"entry_id"`
	Status    EntryStatus `json:"status"`
	MemoryIDs []string    `json:"memory_ids,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// BatchReport summarizes ExtractBatch.
type BatchReport struct {
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Inserted  int           `json:"inserted"`
	Canceled  bool          `json:"canceled"`
	Entries   []EntryReport `json:"entries"`
}

// Processor runs the pipeline over stored entries and inserts the results.
type Processor struct {
	pipeline    *Pipeline
	entries     EntrySource
	sink        Sink
	parallelism int
	limiter     *rate.Limiter
	log         *log.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithParallelism bounds how many entries are extracted at once.
func WithParallelism(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.parallelism = n
		}
	}
}

// WithRatePerMinute paces language model calls. Zero disables pacing.
func WithRatePerMinute(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
		} else {
			p.limiter = nil
		}
	}
}

// WithProcessorLogger sets the logger.
func WithProcessorLogger(l *log.Logger) ProcessorOption {
	return func(p *Processor) { p.log = logging.Component(l, "batch") }
}

// WithProcessorMetrics records per-entry results on m.
func WithProcessorMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor returns a Processor.
func NewProcessor(pipeline *Pipeline, entries EntrySource, sink Sink, opts ...ProcessorOption) *Processor {
	p := &Processor{
		pipeline:    pipeline,
		entries:     entries,
		sink:        sink,
		parallelism: 1,
		log:         logging.Discard(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExtractBatch extracts every entry in ids. onProgress, if set, is called
// with (processed, total) after each entry finishes, in increasing order.
// Cancellation is checked before each entry starts; entries already running
// finish, except that an entry whose model call was itself canceled is
// discarded. Per-entry failures are recorded in the report.
func (p *Processor) ExtractBatch(ctx context.Context, ids []string, onProgress func(processed, total int)) BatchReport {
	report := BatchReport{Total: len(ids), Entries: make([]EntryReport, len(ids))}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.parallelism)

	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		// Go blocks until a slot frees up, so ctx is checked again once
		// the entry actually gets to run.
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			rep := p.processOne(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			report.Entries[i] = rep
			report.Processed++
			report.Inserted += len(rep.MemoryIDs)
			if onProgress != nil {
				onProgress(report.Processed, report.Total)
			}
			return nil
		})
	}
	g.Wait()

	for i, id := range ids {
		if report.Entries[i].Status == "" {
			report.Entries[i] = EntryReport{EntryID: id, Status: StatusCanceled}
		}
	}
	report.Canceled = ctx.Err() != nil

	p.log.Info("batch extraction finished",
		"total", report.Total, "processed", report.Processed, "inserted", report.Inserted, "canceled", report.Canceled)
	return report
}

func (p *Processor) processOne(ctx context.Context, id string) EntryReport {
	rep := p.extractEntry(ctx, id)
	p.metrics.BatchEntry(string(rep.Status))
	if rep.Error != "" {
		p.log.Warn("entry extraction failed", "entry", id, "status", rep.Status, "err", rep.Error)
	}
	return rep
}

func (p *Processor) extractEntry(ctx context.Context, id string) EntryReport {
	rep := EntryReport{EntryID: id}

	entry, err := p.entries.Entry(ctx, id)
	if err != nil {
		rep.Status = StatusFailed
		rep.Error = err.Error()
		return rep
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			rep.Status = StatusCanceled
			return rep
		}
	}

	res := p.pipeline.Extract(ctx, id, entry.Text)
	if res.Canceled() {
		rep.Status = StatusCanceled
		return rep
	}

	// Left pending so a later run can retry once the model is back.
	if res.Retryable() {
		rep.Status = StatusUnavailable
		return rep
	}

	// Inserts must not be cut short once the entry is committed to.
	wctx := context.WithoutCancel(ctx)
	if len(res.Candidates) > 0 {
		params := make([]store.InsertParams, len(res.Candidates))
		for i, c := range res.Candidates {
			params[i] = store.InsertParams{
				Content:       c.Content,
				Type:          c.Type,
				Importance:    c.Importance,
				Tags:          c.Tags,
				SourceEntryID: id,
			}
		}
		mems, err := p.sink.InsertMany(wctx, params)
		if err != nil {
			rep.Status = StatusFailed
			rep.Error = err.Error()
			return rep
		}
		for _, m := range mems {
			rep.MemoryIDs = append(rep.MemoryIDs, m.ID)
		}
	}

	if err := p.entries.MarkExtracted(wctx, id, p.now().UTC()); err != nil {
		rep.Status = StatusFailed
		rep.Error = err.Error()
		return rep
	}

	switch res.Outcome {
	case Degraded:
		rep.Status = StatusDegraded
	case Unavailable:
		rep.Status = StatusUnavailable
	default:
		rep.Status = StatusExtracted
	}
	return rep
}
