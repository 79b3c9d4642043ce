// Package llm provides the pluggable language-model text service used for
// memory extraction.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ErrUnavailable wraps every failure to obtain a completion.
var ErrUnavailable = errors.New("language model unavailable")

// Completer turns a prompt into model output.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Provider names.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// DefaultModel is the local model used when none is configured.
const DefaultModel = "gemma3n:latest"

// Config selects and tunes a provider.
type Config struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// NewFromConfig builds the configured completer, wrapped in retries when
// MaxRetries > 0. It returns nil when the provider is empty or "none".
func NewFromConfig(cfg Config, logger *log.Logger) (Completer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	var c Completer
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return nil, nil
	case ProviderOllama:
		model := cfg.Model
		if model == "" {
			model = DefaultModel
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = os.Getenv("OLLAMA_HOST")
		}
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		o, err := NewOllama(baseURL, model, httpClient)
		if err != nil {
			return nil, err
		}
		c = o
	case ProviderOpenAI:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		c = NewOpenAI(cfg.BaseURL, apiKey, cfg.Model, httpClient)
	default:
		return nil, fmt.Errorf("unknown llm provider %q (valid: ollama, openai, none)", cfg.Provider)
	}

	if cfg.MaxRetries > 0 {
		c = NewRetrying(c, cfg.MaxRetries, WithRetryLogger(logger))
	}
	return c, nil
}
