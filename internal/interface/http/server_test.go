package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/lifecycle"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/query"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/module"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/export"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/persistence/memory"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/interface/http/handlers"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type flagSet map[string]bool

func (f flagSet) IsEnabled(feature, _ string) bool { return f[feature] }

func newTestServer(t *testing.T, mutate func(*Config, *Dependencies)) *Server {
	s, _ := newTestServerWithStore(t, mutate)
	return s
}

func newTestServerWithStore(t *testing.T, mutate func(*Config, *Dependencies)) (*Server, *memory.ProgressStore) {
	t.Helper()

	now := func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	catalog := module.MustStaticCatalog(
		module.Definition{
			ID:               "eva-basics",
			Title:            "EVA Basics",
			Category:         "physical",
			RequiredSessions: 1,
			Certification:    module.CertificationSpec{Name: "EVA Ready", Level: "foundation", CreditValue: 200},
		},
		module.Definition{
			ID:               "orbital-mechanics",
			Title:            "Orbital Mechanics",
			Category:         "technical",
			RequiredSessions: 5,
			Certification:    module.CertificationSpec{Name: "Orbital", Level: "intermediate", CreditValue: 400},
		},
	)
	sessions := memory.NewSessionStore()
	store := memory.NewProgressStore(now)

	mgr := lifecycle.NewManager(lifecycle.Deps{
		Sessions: sessions,
		Progress: store,
		Catalog:  catalog,
		Logger:   logger.Nop(),
		Now:      now,
	}, lifecycle.DefaultConfig())

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	cfg.Identity = handlers.IdentityConfig{JWTSecret: testSecret, AllowHeaderIdentity: true}

	deps := Dependencies{
		Lifecycle:      mgr,
		Leaderboard:    query.NewGetLeaderboardHandler(store, nil, nil, "", logger.Nop()),
		Progress:       query.NewGetProgressHandler(store, catalog),
		Certifications: query.NewGetCertificationsHandler(store, now),
		Modules:        query.NewListModulesHandler(catalog),
		Guidance:       query.NewGetGuidanceHandler(store, catalog, nil),
		Exporter:       export.NewLeaderboardExporter(store, now),
		Logger:         logger.Nop(),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	return NewServer(cfg, deps), store
}

type envelope struct {
	Success bool               `json:"success"`
	Data    json.RawMessage    `json:"data"`
	Error   *handlers.APIError `json:"error"`
}

func do(t *testing.T, s *Server, method, path, user string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(handlers.HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") != xlsxContentType && rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION FLOW
// ══════════════════════════════════════════════════════════════════════════════

func TestSessionFlow(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodPost, "/v1/sessions", "alice", map[string]any{"moduleId": "eva-basics"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[map[string]any](t, env.Data)
	assert.Equal(t, "in-progress", sess["status"])
	id := sess["id"].(string)

	rec, _ = do(t, s, http.MethodPost, "/v1/sessions/"+id+"/metrics", "alice", map[string]any{
		"exerciseId": "plank",
		"metrics":    map[string]float64{"seconds": 90},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = do(t, s, http.MethodPost, "/v1/sessions/"+id+"/complete", "alice", map[string]any{
		"completion":      true,
		"durationMinutes": 30,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[map[string]any](t, env.Data)
	assert.Greater(t, result["creditsTotal"].(float64), float64(0))
	assert.NotNil(t, result["certification"])
	assert.NotNil(t, result["guidance"])

	rec, env = do(t, s, http.MethodPost, "/v1/sessions/"+id+"/complete", "alice", map[string]any{"completion": true})
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_state", env.Error.Code)

	rec, env = do(t, s, http.MethodGet, "/v1/users/me/progress", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	progressDTO := decode[map[string]any](t, env.Data)
	assert.Equal(t, "alice", progressDTO["userId"])

	rec, env = do(t, s, http.MethodGet, "/v1/users/alice/certifications", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	certs := decode[[]map[string]any](t, env.Data)
	require.Len(t, certs, 1)
	assert.Equal(t, "eva-basics", certs[0]["moduleId"])

	rec, env = do(t, s, http.MethodGet, "/v1/leaderboard?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[query.GetLeaderboardResult](t, env.Data)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "alice", board.Entries[0].UserID)
	assert.Equal(t, 1, board.Entries[0].Rank)

	rec, env = do(t, s, http.MethodGet, "/v1/sessions", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, env.Data), 1)
}

func TestScheduleBeginAbandon(t *testing.T) {
	s := newTestServer(t, nil)
	at := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	rec, env := do(t, s, http.MethodPost, "/v1/sessions", "bob", map[string]any{"moduleId": "orbital-mechanics", "scheduledFor": at})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[map[string]any](t, env.Data)
	assert.Equal(t, "scheduled", sess["status"])
	id := sess["id"].(string)

	rec, env = do(t, s, http.MethodPost, "/v1/sessions/"+id+"/begin", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in-progress", decode[map[string]any](t, env.Data)["status"])

	rec, env = do(t, s, http.MethodPost, "/v1/sessions/"+id+"/abandon", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "abandoned", decode[map[string]any](t, env.Data)["status"])

	rec, _ = do(t, s, http.MethodPost, "/v1/sessions/"+id+"/begin", "bob", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)

	_, env := do(t, s, http.MethodPost, "/v1/sessions", "alice", map[string]any{"moduleId": "eva-basics"})
	id := decode[map[string]any](t, env.Data)["id"].(string)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		code   string
	}{
		{"no identity", http.MethodGet, "/v1/sessions", "", nil, http.StatusUnauthorized, "unauthorized"},
		{"other user's session", http.MethodGet, "/v1/sessions/" + id, "mallory", nil, http.StatusForbidden, "forbidden"},
		{"other user's progress", http.MethodGet, "/v1/users/alice/progress", "mallory", nil, http.StatusForbidden, "forbidden"},
		{"unknown session", http.MethodGet, "/v1/sessions/nope", "alice", nil, http.StatusNotFound, "not_found"},
		{"unknown module", http.MethodPost, "/v1/sessions", "alice", map[string]any{"moduleId": "warp-drive"}, http.StatusNotFound, "not_found"},
		{"missing module id", http.MethodPost, "/v1/sessions", "alice", map[string]any{}, http.StatusBadRequest, "invalid_input"},
		{"duplicate active session", http.MethodPost, "/v1/sessions", "alice", map[string]any{"moduleId": "eva-basics"}, http.StatusConflict, "invalid_state"},
		{"empty exercise", http.MethodPost, "/v1/sessions/" + id + "/metrics", "alice", map[string]any{"exerciseId": ""}, http.StatusBadRequest, "invalid_input"},
		{"bad limit", http.MethodGet, "/v1/leaderboard?limit=abc", "", nil, http.StatusBadRequest, "invalid_limit"},
		{"no progress yet", http.MethodGet, "/v1/users/me/progress", "carol", nil, http.StatusNotFound, "not_found"},
		{"unknown route", http.MethodGet, "/v1/warp", "alice", nil, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, s, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			require.NotNil(t, env.Error)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestInvalidJSONBody(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString("{not json"))
	req.Header.Set(handlers.HeaderUserID, "alice")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_body")
}

func TestPersistenceFailure(t *testing.T) {
	s, store := newTestServerWithStore(t, nil)

	_, env := do(t, s, http.MethodPost, "/v1/sessions", "alice", map[string]any{"moduleId": "eva-basics"})
	id := decode[map[string]any](t, env.Data)["id"].(string)

	store.FailSaves(assert.AnError)
	rec, env := do(t, s, http.MethodPost, "/v1/sessions/"+id+"/complete", "alice", map[string]any{"completion": true})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "persistence_failure", env.Error.Code)
	assert.NotContains(t, env.Error.Message, assert.AnError.Error())

	store.FailSaves(nil)
	rec, env = do(t, s, http.MethodGet, "/v1/sessions/"+id, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode[map[string]any](t, env.Data)["status"])
}

func TestStatusFor_Unknown(t *testing.T) {
	status, code := statusFor(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", code)
}

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

func TestBearerToken(t *testing.T) {
	s := newTestServer(t, func(c *Config, _ *Dependencies) {
		c.Identity.AllowHeaderIdentity = false
	})

	token, err := handlers.IssueToken("dana", testSecret, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString(`{"moduleId":"eva-basics"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "dana", decode[map[string]any](t, env.Data)["userId"])

	// The header is ignored when header identity is off.
	rec, _ = do(t, s, http.MethodGet, "/v1/sessions", "dana", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// MODULES, HEALTH, LIMITS, EXPORT
// ══════════════════════════════════════════════════════════════════════════════

func TestModules(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodGet, "/v1/modules", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	defs := decode[[]module.Definition](t, env.Data)
	require.Len(t, defs, 2)
	assert.Equal(t, "eva-basics", defs[0].ID)

	rec, _ = do(t, s, http.MethodGet, "/v1/modules/orbital-mechanics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, s, http.MethodGet, "/v1/modules/eva-basics/guidance", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, env.Data)["fallback"])
}

func TestHealthEndpoints(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("store", func(ctx context.Context) error { return nil })
	s := newTestServer(t, func(_ *Config, d *Dependencies) { d.HealthChecker = checker })

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec, _ := do(t, s, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	checker.AddCheck("redis", func(ctx context.Context) error { return assert.AnError })
	rec, _ := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *Config, _ *Dependencies) { c.RateLimitPerMinute = 2 })

	var last int
	for i := 0; i < 5; i++ {
		rec, _ := do(t, s, http.MethodGet, "/v1/modules", "", nil)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestExportLeaderboard(t *testing.T) {
	s := newTestServer(t, nil)

	_, env := do(t, s, http.MethodPost, "/v1/sessions", "alice", map[string]any{"moduleId": "eva-basics"})
	id := decode[map[string]any](t, env.Data)["id"].(string)
	rec, _ := do(t, s, http.MethodPost, "/v1/sessions/"+id+"/complete", "alice", map[string]any{"completion": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/v1/leaderboard/export", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "leaderboard-")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Leaderboard")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 2)
	assert.Equal(t, "alice", rows[1][1])

	gated := newTestServer(t, func(_ *Config, d *Dependencies) {
		d.Flags = flagSet{}
		d.ExportFeature = "leaderboard.export"
	})
	rec, _ = do(t, gated, http.MethodGet, "/v1/leaderboard/export", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
