package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"gemma3n:latest","message":{"role":"assistant","content":"{\"memories\":[]}"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	o, err := NewOllama(srv.URL, "gemma3n:latest", srv.Client())
	require.NoError(t, err)

	out, err := o.Complete(context.Background(), "remember this")
	require.NoError(t, err)
	assert.Equal(t, `{"memories":[]}`, out)
	assert.Equal(t, "gemma3n:latest", got["model"])
	assert.Equal(t, "json", got["format"])
	assert.Equal(t, false, got["stream"])
}

func TestOllamaServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer srv.Close()

	o, err := NewOllama(srv.URL, "gemma3n:latest", srv.Client())
	require.NoError(t, err)

	_, err = o.Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenAIComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"local","choices":[{"index":0,"message":{"role":"assistant","content":"{\"memories\":[]}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(srv.URL+"/v1", "sk-test", "local", srv.Client())
	out, err := o.Complete(context.Background(), "remember this")
	require.NoError(t, err)
	assert.Equal(t, `{"memories":[]}`, out)
	assert.Equal(t, "local", got["model"])
	format, _ := got["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAINoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI(srv.URL, "", "local", srv.Client()).Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrUnavailable)
}

type flakyCompleter struct {
	calls    atomic.Int32
	failures int32
}

func (f *flakyCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return "", ErrUnavailable
	}
	return "ok", nil
}

func TestRetryingRecovers(t *testing.T) {
	f := &flakyCompleter{failures: 2}
	r := NewRetrying(f, 3, WithInitialInterval(time.Millisecond))

	out, err := r.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestRetryingGivesUp(t *testing.T) {
	f := &flakyCompleter{failures: 100}
	r := NewRetrying(f, 2, WithInitialInterval(time.Millisecond))

	_, err := r.Complete(context.Background(), "p")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestRetryingStopsOnCancel(t *testing.T) {
	f := &flakyCompleter{failures: 100}
	r := NewRetrying(f, 5, WithInitialInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Complete(ctx, "p")
	require.Error(t, err)
	assert.LessOrEqual(t, f.calls.Load(), int32(1))
}

func TestNewFromConfig(t *testing.T) {
	c, err := NewFromConfig(Config{Provider: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = NewFromConfig(Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = NewFromConfig(Config{Provider: "ollama", BaseURL: "http://127.0.0.1:11434"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Ollama{}, c)

	c, err = NewFromConfig(Config{Provider: "openai", MaxRetries: 2}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Retrying{}, c)

	_, err = NewFromConfig(Config{Provider: "clippy"}, nil)
	assert.Error(t, err)
}

func TestErrUnavailableWrapsCause(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	o, err := NewOllama(srv.URL, "m", srv.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = o.Complete(ctx, "hi")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
