package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"

	"github.com/perpetual-s/gemi-memory/internal/logging"
)

// Retrying retries a Completer with exponential backoff. Context
// cancellation is never retried.
type Retrying struct {
	next       Completer
	maxRetries uint64
	initial    time.Duration
	log        *log.Logger
}

// RetryOption configures a Retrying completer.
type RetryOption func(*Retrying)

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(d time.Duration) RetryOption {
	return func(r *Retrying) { r.initial = d }
}

// WithRetryLogger sets the logger.
func WithRetryLogger(l *log.Logger) RetryOption {
	return func(r *Retrying) { r.log = logging.Component(l, "llm") }
}

// NewRetrying wraps next with up to maxRetries additional attempts.
func NewRetrying(next Completer, maxRetries int, opts ...RetryOption) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	r := &Retrying{
		next:       next,
		maxRetries: uint64(maxRetries),
		initial:    500 * time.Millisecond,
		log:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrying) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	op := func() error {
		s, err := r.next.Complete(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		out = s
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initial
	b := backoff.WithContext(backoff.WithMaxRetries(exp, r.maxRetries), ctx)

	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		r.log.Warn("completion failed, retrying", "wait", wait, "err", err)
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
