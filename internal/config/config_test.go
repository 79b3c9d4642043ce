package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolateHome(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ProjectDir, "memory.db"), cfg.DBPath)
	assert.Equal(t, 50, cfg.MemoryLimit)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "gemma3n:latest", cfg.LLM.Model)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 5, cfg.Extraction.MaxPerEntry)
	assert.Equal(t, 7*24*time.Hour, cfg.Retrieval.RecencyWindow)
	assert.Equal(t, 1.0, cfg.Retrieval.RecencyBonus)
	assert.Empty(t, cfg.File)
}

func TestLoadHomeConfigFile(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, ProjectDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(`
memory_limit: 20
llm:
  provider: openai
  base_url: http://localhost:1234/v1
  timeout: 15s
retrieval:
  recency_window: 72h
`), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.MemoryLimit)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "http://localhost:1234/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 72*time.Hour, cfg.Retrieval.RecencyWindow)
	assert.Equal(t, filepath.Join(dir, "config.yml"), cfg.File)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolateHome(t)
	t.Setenv("GEMI_MEMORY_MEMORY_LIMIT", "7")
	t.Setenv("GEMI_MEMORY_LLM_PROVIDER", "NONE")
	t.Setenv("GEMI_MEMORY_EXTRACTION_PARALLELISM", "4")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MemoryLimit)
	assert.Equal(t, "none", cfg.LLM.Provider)
	assert.Equal(t, 4, cfg.Extraction.Parallelism)
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	isolateHome(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"limit":    "memory_limit: 0\n",
		"provider": "llm:\n  provider: clippy\n",
		"parallel": "extraction:\n  parallelism: 0\n",
		"window":   "retrieval:\n  recency_window: 0s\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			isolateHome(t)
			path := filepath.Join(t.TempDir(), "config.yml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
