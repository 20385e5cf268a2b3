package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionline/internal/config"
	"missionline/internal/db"
	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/events"
	"missionline/internal/migrate"
	"missionline/internal/prompt"
	"missionline/internal/repo"
)

const testSecret = "test-secret"

const dailyResult = `{"missions":[
 {"category":"body_wellness","title":"a","content":"...","verification_type":"checkbox","fingerprint":{"action_verb":"climb"}},
 {"category":"growth_career","title":"b","content":"...","verification_type":"text","fingerprint":{"action_verb":"write"}},
 {"category":"mind_connection","title":"c","content":"...","verification_type":"text","fingerprint":{"action_verb":"thank"}}
]}`

type stubGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *stubGenerator) Generate(context.Context, prompt.Prompt) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return json.RawMessage(dailyResult), nil
}

type brokenFingerprints struct {
	engine.FingerprintStore
}

func (brokenFingerprints) UpsertFingerprint(context.Context, domain.MissionFingerprint) error {
	return errors.New("disk full")
}

type testServer struct {
	URL    string
	Engine engine.Engine
	Gen    *stubGenerator
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, tweak func(*engine.Engine), authOpts ...func(*AuthConfig)) *testServer {
	t.Helper()
	conn, d, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn, d))

	gen := &stubGenerator{}
	e, err := engine.New(conn, d, config.Default(), gen)
	require.NoError(t, err)
	if tweak != nil {
		tweak(&e)
	}
	auth := AuthConfig{JWTSecret: testSecret, APIKeyCacheSize: 8}
	for _, opt := range authOpts {
		opt(&auth)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	require.NoError(t, err)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Gen:    gen,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func bearer(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, _, err := SignToken(testSecret, userID, time.Hour, time.Now())
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func TestAuthIsRequiredBeforeAnyWork(t *testing.T) {
	srv := newTestServer(t, nil)
	body := map[string]any{"type": "daily_missions", "refresh": true}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/generate", body, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/generate", body, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	wrongKey, _, err := SignToken("other-secret", "u1", time.Hour, time.Now())
	require.NoError(t, err)
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/generate", body, map[string]string{"Authorization": "Bearer " + wrongKey})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	assert.Zero(t, srv.Gen.calls)
	rows, err := srv.Engine.Repo.ListRefreshQuotas(context.Background(), "u1", time.Now().UTC().Format("2006-01-02"))
	require.NoError(t, err)
	assert.Empty(t, rows)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestDevLoginIsOffByDefault(t *testing.T) {
	srv := newTestServer(t, nil)
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"user_id": "victim"}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"user_id": "victim"}, bearer(t, "u1"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDevLoginThenMe(t *testing.T) {
	srv := newTestServer(t, nil, func(a *AuthConfig) { a.DevLogin = true })
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"user_id": "u-dev"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	require.NotEmpty(t, login.Token)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "u-dev", me.UserID)
	assert.Equal(t, "jwt", me.Source)
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, srv.Engine.Repo.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k1", ActorID: "u-key", KeyHash: repo.HashAPIKey("ml_secret")}))

	for i := 0; i < 2; i++ {
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "ml_secret"})
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		var me WhoAmIResponse
		require.NoError(t, json.Unmarshal(data, &me))
		assert.Equal(t, "u-key", me.UserID)
		assert.Equal(t, "api_key", me.Source)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))
}

func TestGeneratePassesResultThrough(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/generate", map[string]any{
		"type":    "daily_missions",
		"payload": map[string]any{"language": "ko", "profile": map[string]any{"age": 31}},
	}, bearer(t, "u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, dailyResult, string(data))
	assert.NotEmpty(t, res.Header.Get("X-Request-Id"))
	assert.Empty(t, res.Header.Get("X-Persistence-Warnings"))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/fingerprints?days=7", nil, bearer(t, "u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var fps FingerprintsResponse
	require.NoError(t, json.Unmarshal(data, &fps))
	assert.Len(t, fps.Items, 3)
}

func TestRefreshQuotaOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	body := map[string]any{"type": "funplay", "payload": map[string]any{"refresh": true}}
	for i := 1; i <= 3; i++ {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/generate", body, bearer(t, "u1"))
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/generate", body, bearer(t, "u1"))
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "quota_exceeded", errorCode(t, data))
	assert.Equal(t, 3, srv.Gen.calls)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/quota?category=funplay", nil, bearer(t, "u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var q QuotaResponse
	require.NoError(t, json.Unmarshal(data, &q))
	require.Len(t, q.Items, 1)
	assert.Equal(t, 3, q.Items[0].Count)
	assert.Equal(t, 0, q.Items[0].Remaining)
}

func TestGenerationFailureIsBadGateway(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.Gen.err = errors.New("upstream timeout")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/generate", map[string]any{"type": "daily_missions"}, bearer(t, "u1"))
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "generation_failed", errorCode(t, data))
}

func TestBadRequests(t *testing.T) {
	srv := newTestServer(t, nil)
	for _, body := range []map[string]any{
		{"type": "weekly"},
		{"type": "coaching", "payload": map[string]any{}},
		{"type": "daily_missions", "payload": map[string]any{"goal_overrides": map[string]any{"finance": "x"}}},
	} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/generate", body, bearer(t, "u1"))
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
		assert.Equal(t, "bad_request", errorCode(t, data))
	}
	assert.Zero(t, srv.Gen.calls)
}

func TestPersistenceWarningsHeader(t *testing.T) {
	srv := newTestServer(t, func(e *engine.Engine) {
		e.Fingerprints = brokenFingerprints{FingerprintStore: e.Repo}
	})
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/generate", map[string]any{"type": "daily_missions"}, bearer(t, "u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, dailyResult, string(data))
	assert.Contains(t, res.Header.Get("X-Persistence-Warnings"), "fingerprint.upsert:body_wellness")
}

func TestGoalsEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/goals/body_wellness", map[string]any{
		"target":  "5kg 감량",
		"details": map[string]any{"weight_kg": 70},
	}, bearer(t, "u1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var g domain.Goal
	require.NoError(t, json.Unmarshal(data, &g))
	assert.Equal(t, "5kg 감량", g.Target)
	assert.JSONEq(t, `{"weight_kg":70}`, g.DetailsJSON)

	res, _ = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/goals/finance", map[string]any{"target": "x"}, bearer(t, "u1"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/goals", nil, bearer(t, "u1"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	var goals GoalsResponse
	require.NoError(t, json.Unmarshal(data, &goals))
	require.Len(t, goals.Items, 1)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/goals", nil, bearer(t, "u2"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal(data, &goals))
	assert.Empty(t, goals.Items)
}

func TestWebhookDispatcherDeliversFilteredEvents(t *testing.T) {
	conn, d, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, d))
	r := repo.New(conn, d)
	w := events.Writer{DB: conn, Dialect: d}
	ctx := context.Background()

	require.NoError(t, w.Append(ctx, nil, events.TypeGenerationCompleted, "u1", "request", "old", nil))

	var mu sync.Mutex
	var got []webhookEvent
	hook := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		raw, err := io.ReadAll(req.Body)
		assert.NoError(t, err)
		assert.Equal(t, "sha256="+signBody("s3cret", raw), req.Header.Get("X-Missionline-Signature"))
		assert.Equal(t, events.TypeGenerationCompleted, req.Header.Get("X-Missionline-Event"))
		var evt webhookEvent
		assert.NoError(t, json.Unmarshal(raw, &evt))
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	}))
	t.Cleanup(hook.Close)

	disp := newWebhookDispatcher(r, []config.WebhookConfig{{URL: hook.URL, Secret: "s3cret", Events: []string{events.TypeGenerationCompleted}}}, nil)
	disp.dispatchAll(ctx)

	require.NoError(t, w.Append(ctx, nil, events.TypeGoalUpserted, "u1", "goal", "g1", nil))
	require.NoError(t, w.Append(ctx, nil, events.TypeGenerationCompleted, "u1", "request", "new", events.EventPayload{"task": "funplay"}))
	disp.dispatchAll(ctx)
	disp.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].EntityID)
	assert.JSONEq(t, `{"task":"funplay"}`, string(got[0].Payload))
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter([]string{" ", ""})
	assert.True(t, all.match("anything"))
	some := newEventFilter([]string{"generation.completed"})
	assert.True(t, some.match("generation.completed"))
	assert.False(t, some.match("goal.upserted"))
}

func TestDisabledWebhooksAreSkipped(t *testing.T) {
	off := false
	d := newWebhookDispatcher(nil, []config.WebhookConfig{{URL: "http://127.0.0.1:1/x", Enabled: &off}, {URL: " "}}, nil)
	assert.Empty(t, d.hooks)
}
