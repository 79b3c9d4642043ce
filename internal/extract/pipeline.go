// Package extract turns diary entries into candidate memories, using a
// language model when one is reachable and a deterministic heuristic when
// it is not.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/perpetual-s/gemi-memory/internal/llm"
	"github.com/perpetual-s/gemi-memory/internal/logging"
	"github.com/perpetual-s/gemi-memory/internal/metrics"
	"github.com/perpetual-s/gemi-memory/internal/model"
)

// Outcome tags how candidates were produced.
type Outcome string

const (
	// Success means the language model answered, possibly with no candidates.
	Success Outcome = "success"
	// Degraded means the heuristic fallback produced the candidates.
	Degraded Outcome = "degraded"
	// Unavailable means neither path produced anything.
	Unavailable Outcome = "unavailable"
)

// Defaults for a Pipeline.
const (
	DefaultMaxCandidates = 5
	DefaultTimeout       = 60 * time.Second
)

var errNoCompleter = fmt.Errorf("%w: no language model configured", llm.ErrUnavailable)

// Result is the outcome of extracting one entry. Err holds the reason the
// language model path was not used, if any.
type Result struct {
	EntryID    string            `json:"entry_id"`
	Outcome    Outcome           `json:"outcome"`
	Candidates []model.Candidate `json:"candidates"`
	Err        error             `json:"-"`

	canceled  bool
	retryable bool
}

// Canceled reports whether the extraction was abandoned because the
// caller's context ended during the model call.
func (r Result) Canceled() bool { return r.canceled }

// Retryable reports whether running the extraction again could produce a
// different result: the language model failed and the fallback found
// nothing. Without a configured model the result is final.
func (r Result) Retryable() bool { return r.retryable }

// Pipeline extracts candidate memories from diary text.
type Pipeline struct {
	llm       llm.Completer
	heuristic Heuristic
	max       int
	timeout   time.Duration
	log       *log.Logger
	metrics   *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCompleter sets the language model. A nil completer means every
// extraction takes the fallback path.
func WithCompleter(c llm.Completer) Option {
	return func(p *Pipeline) { p.llm = c }
}

// WithMaxCandidates caps candidates per entry.
func WithMaxCandidates(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.max = n
		}
	}
}

// WithTimeout bounds each language model call.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.log = logging.Component(l, "extract") }
}

// WithMetrics records extraction outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New returns a Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		max:     DefaultMaxCandidates,
		timeout: DefaultTimeout,
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.heuristic = Heuristic{Max: p.max}
	return p
}

// Extract returns candidates for one entry. It never fails: model errors,
// timeouts and unparseable output fall back to the heuristic, and the
// Outcome records which path was taken. If ctx ends during the model call
// the result carries ctx's error and no candidates.
func (p *Pipeline) Extract(ctx context.Context, entryID, text string) Result {
	start := time.Now()
	res := p.extract(ctx, entryID, text)
	p.metrics.Extracted(string(res.Outcome), time.Since(start))
	return res
}

func (p *Pipeline) extract(ctx context.Context, entryID, text string) Result {
	res := Result{EntryID: entryID}
	if strings.TrimSpace(text) == "" {
		res.Outcome = Success
		return res
	}

	cause := errNoCompleter
	if p.llm != nil {
		cands, err := p.complete(ctx, text)
		if err == nil {
			res.Outcome = Success
			res.Candidates = cands
			p.log.Debug("extracted memories", "entry", entryID, "count", len(cands))
			return res
		}
		if ctx.Err() != nil {
			res.Outcome = Unavailable
			res.Err = ctx.Err()
			res.canceled = true
			return res
		}
		cause = err
	}

	res.Err = cause
	res.Candidates = p.fallback(entryID, text)
	if len(res.Candidates) > 0 {
		res.Outcome = Degraded
	} else {
		res.Outcome = Unavailable
		res.retryable = p.llm != nil
	}
	p.log.Warn("language model extraction failed, used heuristic",
		"entry", entryID, "outcome", res.Outcome, "count", len(res.Candidates), "err", cause)
	return res
}

func (p *Pipeline) complete(ctx context.Context, text string) ([]model.Candidate, error) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.llm.Complete(cctx, BuildPrompt(text, p.max))
	if err != nil {
		return nil, err
	}
	return Parse(raw, p.max)
}

func (p *Pipeline) fallback(entryID, text string) (cands []model.Candidate) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("heuristic extraction panicked", "entry", entryID, "panic", r)
			cands = nil
		}
	}()
	return p.heuristic.Extract(text)
}
