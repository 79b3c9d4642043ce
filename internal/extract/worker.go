package extract

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/perpetual-s/gemi-memory/internal/logging"
)

// DefaultQueueSize is the number of entries a Worker buffers.
const DefaultQueueSize = 64

// Worker extracts entries in the background so saving an entry never waits
// on the language model.
type Worker struct {
	proc    *Processor
	queue   chan string
	pending atomic.Int64
	log     *log.Logger
}

// NewWorker returns a Worker with a queue of size entries.
func NewWorker(proc *Processor, size int, logger *log.Logger) *Worker {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Worker{
		proc:  proc,
		queue: make(chan string, size),
		log:   logging.Component(logger, "worker"),
	}
}

// Enqueue schedules an entry for extraction. It never blocks; when the
// queue is full the entry is dropped and stays pending for the next batch.
func (w *Worker) Enqueue(entryID string) bool {
	w.pending.Add(1)
	select {
	case w.queue <- entryID:
		return true
	default:
		w.pending.Add(-1)
		w.log.Warn("extraction queue full, entry left pending", "entry", entryID)
		return false
	}
}

// Pending reports entries queued or in progress.
func (w *Worker) Pending() int { return int(w.pending.Load()) }

// Run processes queued entries until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-w.queue:
			rep := w.proc.ExtractBatch(ctx, []string{id}, nil)
			if len(rep.Entries) == 1 {
				e := rep.Entries[0]
				w.log.Debug("extracted entry", "entry", id, "status", e.Status, "memories", len(e.MemoryIDs))
			}
			w.pending.Add(-1)
		}
	}
}

// Wait blocks until every queued entry has been processed or ctx ends.
func (w *Worker) Wait(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for w.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
