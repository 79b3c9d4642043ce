// Package retrieve picks the memories injected as conversational context.
package retrieve

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/perpetual-s/gemi-memory/internal/logging"
	"github.com/perpetual-s/gemi-memory/internal/model"
)

// Defaults for the recency bonus.
const (
	DefaultRecencyWindow = 7 * 24 * time.Hour
	DefaultRecencyBonus  = 1.0
)

// Source provides a snapshot of the active memories.
type Source interface {
	Active() []model.Memory
}

// Scored is a selected memory with the score that ranked it. Pinned
// memories are selected before scoring and carry a zero score.
type Scored struct {
	Memory model.Memory `json:"memory"`
	Score  float64      `json:"score"`
	Pinned bool         `json:"pinned"`
}

// Retriever ranks active memories by pin state, importance and recency.
type Retriever struct {
	src    Source
	log    *log.Logger
	now    func() time.Time
	window time.Duration
	bonus  float64
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Retriever) { r.now = now }
}

// WithRecency sets how recent a memory must be to earn the bonus, and the
// bonus itself. Non-positive windows keep the default.
func WithRecency(window time.Duration, bonus float64) Option {
	return func(r *Retriever) {
		if window > 0 {
			r.window = window
		}
		if bonus >= 0 {
			r.bonus = bonus
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Retriever) { r.log = logging.Component(l, "retrieve") }
}

// New returns a Retriever reading from src.
func New(src Source, opts ...Option) *Retriever {
	r := &Retriever{
		src:    src,
		log:    logging.Discard(),
		now:    time.Now,
		window: DefaultRecencyWindow,
		bonus:  DefaultRecencyBonus,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Select returns at most k memories: pinned ones first, newest first, then
// the highest scoring of the rest.
func (r *Retriever) Select(k int) []model.Memory {
	scored := r.SelectScored(k)
	out := make([]model.Memory, len(scored))
	for i, s := range scored {
		out[i] = s.Memory
	}
	return out
}

// SelectScored is Select with the ranking detail kept.
func (r *Retriever) SelectScored(k int) []Scored {
	if k <= 0 {
		return []Scored{}
	}

	now := r.now()
	var pinned, rest []Scored
	for _, m := range r.src.Active() {
		if m.Pinned {
			pinned = append(pinned, Scored{Memory: m, Pinned: true})
			continue
		}
		rest = append(rest, Scored{Memory: m, Score: r.score(m, now)})
	}

	sort.Slice(pinned, func(i, j int) bool {
		return newer(pinned[i].Memory, pinned[j].Memory)
	})
	if len(pinned) >= k {
		r.log.Debug("context filled by pinned memories", "k", k, "pinned", len(pinned))
		return pinned[:k]
	}

	sort.Slice(rest, func(i, j int) bool {
		if rest[i].Score != rest[j].Score {
			return rest[i].Score > rest[j].Score
		}
		return newer(rest[i].Memory, rest[j].Memory)
	})
	remaining := k - len(pinned)
	if len(rest) > remaining {
		rest = rest[:remaining]
	}

	out := append(pinned, rest...)
	r.log.Debug("selected context memories", "k", k, "pinned", len(pinned), "selected", len(out))
	return out
}

func (r *Retriever) score(m model.Memory, now time.Time) float64 {
	s := m.Importance
	if now.Sub(m.CreatedAt) <= r.window {
		s += r.bonus
	}
	return s
}

func newer(a, b model.Memory) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// maxContextChars bounds the rendered block handed to the language model.
const maxContextChars = 2000

// Format renders memories as a plain-text block for a chat prompt. It
// returns "" for no memories.
func Format(memories []model.Memory) string {
	if len(memories) == 0 {
		return ""
	}

	perMemory := maxContextChars / len(memories)
	if perMemory < 100 {
		perMemory = 100
	}

	var b strings.Builder
	b.WriteString("Things you remember about the user:\n")
	for i, m := range memories {
		content := truncate(m.Content, perMemory)
		if m.Pinned {
			fmt.Fprintf(&b, "%d. [pinned] %s\n", i+1, content)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, content)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}
