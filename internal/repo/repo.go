package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"missionline/internal/db"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var ErrNotFound = errors.New("not found")

// ErrQuotaCeiling is returned by IncrementRefreshQuota when the counter is
// already at the ceiling.
var ErrQuotaCeiling = errors.New("refresh quota ceiling reached")

func New(conn *sql.DB, d db.Dialect) Repo {
	return Repo{DB: conn, Dialect: d}
}

func (r Repo) q(query string) string {
	return db.Rebind(r.Dialect, query)
}

func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, r.q(query), args...)
	}
	return r.DB.ExecContext(ctx, r.q(query), args...)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
