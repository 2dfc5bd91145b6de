package browser

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CONFIG
// =============================================================================

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	var zero Config
	assert.Equal(t, 1920, zero.GetViewportWidth())
	assert.Equal(t, 1080, zero.GetViewportHeight())
	assert.Equal(t, 30*time.Second, zero.NavigationTimeout())
	assert.Equal(t, DefaultInterceptPattern, zero.GetInterceptPattern())
	assert.False(t, zero.IsHeadless())

	cfg := Config{
		ViewportWidth:       800,
		ViewportHeight:      600,
		NavigationTimeoutMs: 1500,
		InterceptPattern:    "*/api/exams/*",
		Headless:            true,
	}
	assert.Equal(t, 800, cfg.GetViewportWidth())
	assert.Equal(t, 600, cfg.GetViewportHeight())
	assert.Equal(t, 1500*time.Millisecond, cfg.NavigationTimeout())
	assert.Equal(t, "*/api/exams/*", cfg.GetInterceptPattern())
	assert.True(t, cfg.IsHeadless())
}

// =============================================================================
// SESSION METADATA
// =============================================================================

func TestSessionManager_PersistAndRestore(t *testing.T) {
	t.Parallel()

	store := filepath.Join(t.TempDir(), "data", "sessions.json")
	cfg := DefaultConfig()
	cfg.SessionStore = store

	m := NewSessionManager(cfg, nil)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.sessions["b"] = &sessionRecord{meta: Session{ID: "b", URL: "https://exam/2", Status: "active", Flows: 3, CreatedAt: base.Add(time.Minute)}}
	m.sessions["a"] = &sessionRecord{meta: Session{ID: "a", URL: "https://exam/1", Status: "active", CreatedAt: base}}
	require.NoError(t, m.persistSessions())

	_, err := os.Stat(store)
	require.NoError(t, err)

	restored := NewSessionManager(cfg, nil)
	require.NoError(t, restored.loadSessionsLocked())

	list := restored.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, "detached", list[1].Status)
	assert.Equal(t, 3, list[1].Flows)

	_, ok := restored.Page("a")
	assert.False(t, ok, "restored sessions have no page")
}

func TestSessionManager_LoadMissingStore(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SessionStore = filepath.Join(t.TempDir(), "absent.json")
	m := NewSessionManager(cfg, nil)
	require.NoError(t, m.loadSessionsLocked())
	assert.Empty(t, m.List())
}

func TestSessionManager_LoadCorruptStore(t *testing.T) {
	t.Parallel()

	store := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(store, []byte("{not json"), 0o644))

	cfg := DefaultConfig()
	cfg.SessionStore = store
	m := NewSessionManager(cfg, nil)
	assert.Error(t, m.loadSessionsLocked())
}

func TestSessionManager_NoStoreConfigured(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(DefaultConfig(), nil)
	m.sessions["x"] = &sessionRecord{meta: Session{ID: "x"}}
	assert.NoError(t, m.persistSessions())
	assert.NoError(t, m.loadSessionsLocked())
}

func TestSessionManager_TouchAndGet(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(DefaultConfig(), nil)
	m.sessions["s"] = &sessionRecord{meta: Session{ID: "s"}}

	m.touch("s")
	m.touch("s")
	m.touch("missing")

	got, ok := m.GetSession("s")
	require.True(t, ok)
	assert.Equal(t, 2, got.Flows)
	assert.False(t, got.LastActive.IsZero())

	_, ok = m.GetSession("missing")
	assert.False(t, ok)
}

func TestSessionManager_ShutdownWithoutBrowser(t *testing.T) {
	t.Parallel()

	m := NewSessionManager(DefaultConfig(), nil)
	m.sessions["detached"] = &sessionRecord{meta: Session{ID: "detached"}}

	assert.False(t, m.IsConnected())
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Empty(t, m.List())
	assert.Empty(t, m.ControlURL())
}

// =============================================================================
// COOKIES
// =============================================================================

func TestAttachCookies(t *testing.T) {
	t.Parallel()

	req, err := http.NewRequest(http.MethodGet, "http://exam.test/exams/42/distribute", nil)
	require.NoError(t, err)

	attachCookies(req, []*proto.NetworkCookie{
		{Name: "exam_session", Value: "s3cr3t"},
		nil,
		{Name: "csrf", Value: "tok"},
	})

	got, err := req.Cookie("exam_session")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got.Value)
	got, err = req.Cookie("csrf")
	require.NoError(t, err)
	assert.Equal(t, "tok", got.Value)
}

func TestAttachCookies_KeepsExisting(t *testing.T) {
	t.Parallel()

	req, err := http.NewRequest(http.MethodPost, "http://exam.test/exams/42/submissions", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "exam_session", Value: "from-page"})

	attachCookies(req, []*proto.NetworkCookie{
		{Name: "exam_session", Value: "from-jar"},
		{Name: "lang", Value: "zh"},
	})

	assert.Len(t, req.Cookies(), 2)
	got, err := req.Cookie("exam_session")
	require.NoError(t, err)
	assert.Equal(t, "from-page", got.Value)
}

func TestAttachCookies_NoCookies(t *testing.T) {
	t.Parallel()

	req, err := http.NewRequest(http.MethodGet, "http://exam.test/", nil)
	require.NoError(t, err)
	attachCookies(req, nil)
	assert.Empty(t, req.Header.Get("Cookie"))
}
