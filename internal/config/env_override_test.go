package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("EXAMBRIDGE_BANK splits like PATH", func(t *testing.T) {
		t.Setenv("EXAMBRIDGE_BANK", "one.json"+string(filepath.ListSeparator)+"dir")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, []string{"one.json", "dir"}, cfg.Bank.Paths)
	})

	t.Run("browser urls", func(t *testing.T) {
		t.Setenv("EXAMBRIDGE_START_URL", "https://exam.example.com/")
		t.Setenv("EXAMBRIDGE_DEBUGGER_URL", "ws://127.0.0.1:9222/devtools/browser/abc")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "https://exam.example.com/", cfg.Browser.StartURL)
		assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", cfg.Browser.DebuggerURL)
	})

	t.Run("api, journal and log level", func(t *testing.T) {
		t.Setenv("EXAMBRIDGE_API_ADDR", "127.0.0.1:9999")
		t.Setenv("EXAMBRIDGE_JOURNAL", "/tmp/j.db")
		t.Setenv("EXAMBRIDGE_LOG_LEVEL", "DEBUG")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "127.0.0.1:9999", cfg.API.Addr)
		assert.Equal(t, "/tmp/j.db", cfg.Journal.Path)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("empty values do not override", func(t *testing.T) {
		t.Setenv("EXAMBRIDGE_BANK", "")
		t.Setenv("EXAMBRIDGE_API_ADDR", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, []string{"bank"}, cfg.Bank.Paths)
		assert.Equal(t, "127.0.0.1:8765", cfg.API.Addr)
	})
}

func TestEnvOverrides_WinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exambridge.yaml")
	cfg := DefaultConfig()
	cfg.API.Addr = "127.0.0.1:1111"
	require.NoError(t, cfg.Save(path))

	t.Setenv("EXAMBRIDGE_API_ADDR", "127.0.0.1:2222")
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2222", loaded.API.Addr)
}
