package app

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionline/internal/config"
	"missionline/internal/db"
	"missionline/internal/engine"
	"missionline/internal/prompt"
)

type echoGenerator struct{}

func (echoGenerator) Generate(context.Context, prompt.Prompt) (json.RawMessage, error) {
	return json.RawMessage(`{"insight":"ok","encouragement":"go"}`), nil
}

func TestOpenMigratesAndWiresEngine(t *testing.T) {
	ws := t.TempDir()
	var logs bytes.Buffer
	cfg := config.Default()
	cfg.Log.Format = "json"
	rt, err := Open(Options{Workspace: ws, Config: cfg, Logger: NewLogger(cfg, &logs), Generator: echoGenerator{}})
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, db.DialectSQLite, rt.Dialect)
	assert.FileExists(t, db.Path(ws))

	_, err = rt.Engine.SetGoal(context.Background(), engineGoal("u1"))
	require.NoError(t, err)
	res, err := rt.Engine.Generate(context.Background(), coachingRequest("u1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"insight":"ok","encouragement":"go"}`, string(res.Data))
	assert.Contains(t, logs.String(), `"msg":"generation finished"`)

	// Opening again must not re-apply migrations.
	rt2, err := Open(Options{Workspace: ws, Config: cfg, Generator: echoGenerator{}})
	require.NoError(t, err)
	rt2.Close()
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "INFO", parseLevel("").String())
	assert.Equal(t, "ERROR", parseLevel("ERROR").String())
}

func engineGoal(userID string) engine.GoalInput {
	return engine.GoalInput{UserID: userID, Category: "body_wellness", Target: "walk 8k steps daily"}
}

func coachingRequest(userID string) engine.Request {
	return engine.Request{UserID: userID, Type: "coaching", Payload: json.RawMessage(`{"category":"body_wellness","stats":{"success_rate":0.5}}`)}
}
