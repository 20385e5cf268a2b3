package generation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionline/internal/prompt"
)

type capturedRequest struct {
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func fakeCompletions(t *testing.T, status int, body string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		if captured != nil {
			require.NoError(t, json.Unmarshal(data, captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(b)
}

func newClient(url string) *OpenAI {
	return NewOpenAI(Config{APIKey: "test-key", BaseURL: url + "/v1", Model: "test-model", Timeout: 5 * time.Second})
}

func TestGenerateSendsJSONModeRequest(t *testing.T) {
	var got capturedRequest
	srv := fakeCompletions(t, http.StatusOK, completion(`{"insight":"steady","encouragement":"keep going"}`), &got)

	out, err := newClient(srv.URL).Generate(context.Background(), prompt.Prompt{
		Task: prompt.TaskCoaching, System: "sys", User: "usr", Temperature: 0.4,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"insight":"steady","encouragement":"keep going"}`, string(out))

	assert.Equal(t, "test-model", got.Model)
	assert.InDelta(t, 0.4, got.Temperature, 0.0001)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "sys", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestGenerateNoChoices(t *testing.T) {
	srv := fakeCompletions(t, http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`, nil)
	_, err := newClient(srv.URL).Generate(context.Background(), prompt.Prompt{})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestGenerateInvalidJSON(t *testing.T) {
	srv := fakeCompletions(t, http.StatusOK, completion("Sure! Here is your mission: run."), nil)
	_, err := newClient(srv.URL).Generate(context.Background(), prompt.Prompt{})
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestGenerateUpstreamError(t *testing.T) {
	srv := fakeCompletions(t, http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`, nil)
	_, err := newClient(srv.URL).Generate(context.Background(), prompt.Prompt{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidJSON)
}

func TestParseObject(t *testing.T) {
	out, err := ParseObject("  {\"missions\":[]}\n")
	require.NoError(t, err)
	assert.Equal(t, `{"missions":[]}`, string(out))

	for _, bad := range []string{"", "[1,2]", "{\"a\":", "```json\n{}\n```"} {
		_, err := ParseObject(bad)
		assert.ErrorIs(t, err, ErrInvalidJSON, bad)
	}
}
