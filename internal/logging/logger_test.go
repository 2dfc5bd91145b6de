package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func installObserver(t *testing.T, cats map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	Install(zap.New(core), cats)
	t.Cleanup(func() { Install(nil, nil) })
	return logs
}

func TestGet_NoopBeforeInstall(t *testing.T) {
	Install(nil, nil)
	l := Get(CategoryBank)
	require.NotNil(t, l)
	// Must not panic.
	l.Info("loaded %d questions", 3)
	l.With("k", "v").Warn("nothing")
}

func TestGet_WritesNamedEntries(t *testing.T) {
	logs := installObserver(t, nil)

	Bank("loaded %d questions from %s", 2, "bank.json")
	BankWarn("dropping record %d", 7)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "bank", entries[0].LoggerName)
	assert.Equal(t, "loaded 2 questions from bank.json", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestCategoryToggle(t *testing.T) {
	logs := installObserver(t, map[string]bool{"match": false, "bank": true})

	assert.False(t, categoryEnabled(CategoryMatch))
	assert.True(t, categoryEnabled(CategoryBank))
	assert.True(t, categoryEnabled(CategoryIntercept), "unlisted categories default to enabled")

	MatchDebug("suppressed")
	Get(CategoryIntercept).Info("kept")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
}

func TestWith_CarriesFields(t *testing.T) {
	logs := installObserver(t, nil)

	Get(CategoryIntercept).With("flow", "abc", "exam", "42").Info("distribute captured")

	entries := logs.FilterMessage("distribute captured").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "abc", fields["flow"])
	assert.Equal(t, "42", fields["exam"])
}

func TestTimer_StopWithThreshold(t *testing.T) {
	logs := installObserver(t, nil)

	timer := StartTimer(CategoryMatch, "resolve")
	timer.start = time.Now().Add(-time.Second)
	elapsed := timer.StopWithThreshold(10 * time.Millisecond)

	assert.GreaterOrEqual(t, elapsed, time.Second)
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestBuild(t *testing.T) {
	t.Run("invalid level", func(t *testing.T) {
		_, err := Build(Options{Level: "loud"})
		require.Error(t, err)
	})

	t.Run("file output", func(t *testing.T) {
		path := t.TempDir() + "/logs/exambridge.log"
		l, err := Build(Options{Level: "debug", Format: "json", File: path})
		require.NoError(t, err)
		l.Info("hello")
		require.NoError(t, l.Sync())
		assert.FileExists(t, path)
	})
}

func TestSync_FlushesInstalledLogger(t *testing.T) {
	installObserver(t, nil)
	assert.NotPanics(t, Sync)

	Install(nil, nil)
	assert.NotPanics(t, Sync, "Sync before Initialize must be safe")
}
