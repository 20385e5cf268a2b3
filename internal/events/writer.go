package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"missionline/internal/db"
)

// Event types written by the generation pipeline.
const (
	TypeGenerationCompleted = "generation.completed"
	TypeQuotaIncremented    = "quota.incremented"
	TypePersistenceWarning  = "persistence.warning"
	TypeGoalUpserted        = "goal.upserted"
)

type Writer struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append writes one event. A nil tx writes outside any transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, userID, entityKind, entityID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	query := db.Rebind(w.Dialect, `INSERT INTO events(ts,type,user_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`)
	args := []any{ts, evtType, userID, entityKind, nullable(entityID), string(data)}
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = w.DB.ExecContext(ctx, query, args...)
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
