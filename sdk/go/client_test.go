package missionlinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReadsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/generate", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "daily_missions", body["type"])
		assert.Equal(t, true, body["refresh"])
		w.Header().Set("X-Request-Id", "req-1")
		w.Header().Set("X-Persistence-Warnings", "fingerprint.upsert:body_wellness,quota.increment:daily")
		w.Header().Set("X-Refresh-Count", "2")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"missions":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	res, err := c.Generate(context.Background(), TaskDailyMissions, true, nil)
	require.NoError(t, err)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, 2, res.RefreshCount)
	assert.Equal(t, []string{"fingerprint.upsert:body_wellness", "quota.increment:daily"}, res.Warnings)
	assert.JSONEq(t, `{"missions":[]}`, string(res.Data))
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"quota_exceeded","message":"refresh quota exceeded","details":{"ceiling":3}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "key-1"
	_, err := c.Generate(context.Background(), TaskFunplay, true, map[string]any{"category": "funplay"})
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "quota_exceeded", apiErr.Code)
	assert.EqualValues(t, 3, apiErr.Details["ceiling"])
}

func TestQuotaQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/quota", r.URL.Path)
		assert.Equal(t, "2026-10-19", r.URL.Query().Get("date"))
		assert.Equal(t, "daily", r.URL.Query().Get("category"))
		_, _ = w.Write([]byte(`{"items":[{"date":"2026-10-19","category":"daily","count":1,"ceiling":3,"remaining":2}]}`))
	}))
	defer srv.Close()

	items, err := New(srv.URL).Quota(context.Background(), "2026-10-19", "daily")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Remaining)
}

func TestPutGoalPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v0/goals/body_wellness", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"g1","category":"body_wellness","target":"run 5k"}`))
	}))
	defer srv.Close()

	g, err := New(srv.URL).PutGoal(context.Background(), "body_wellness", "run 5k", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "g1", g.ID)
}
