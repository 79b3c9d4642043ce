package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// Ollama completes prompts against a local Ollama server using /api/chat
// in JSON mode.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama creates a completer for the Ollama server at baseURL.
func NewOllama(baseURL, model string, httpClient *http.Client) (*Ollama, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Ollama{client: api.NewClient(u, httpClient), model: model}, nil
}

func (o *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Format:   json.RawMessage(`"json"`),
		Options:  map[string]any{"temperature": 0.2},
	}

	var out strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: ollama chat: %w", ErrUnavailable, err)
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", fmt.Errorf("%w: ollama returned an empty response", ErrUnavailable)
	}
	return out.String(), nil
}
