package repo

import (
	"context"
	"database/sql"
	"errors"

	"missionline/internal/domain"
)

// QuotaKey identifies one refresh counter.
type QuotaKey struct {
	UserID   string
	Date     string
	Category string
}

// GetRefreshQuota returns the counter for key, or a zero counter if none exists.
func (r Repo) GetRefreshQuota(ctx context.Context, key QuotaKey) (domain.RefreshQuota, error) {
	q := domain.RefreshQuota{UserID: key.UserID, Date: key.Date, Category: key.Category}
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT count, updated_at FROM refresh_quotas WHERE user_id=? AND day=? AND category=?`),
		key.UserID, key.Date, key.Category).Scan(&q.Count, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return q, nil
	}
	if err != nil {
		return domain.RefreshQuota{}, err
	}
	return q, nil
}

// IncrementRefreshQuota bumps the counter in one statement and returns the new
// value. The update only applies while count < ceiling, so concurrent callers
// can never push the counter past it; the loser gets ErrQuotaCeiling.
func (r Repo) IncrementRefreshQuota(ctx context.Context, key QuotaKey, ceiling int) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, r.q(`INSERT INTO refresh_quotas(user_id,day,category,count,updated_at) VALUES (?,?,?,1,?)
ON CONFLICT(user_id,day,category) DO UPDATE SET count=refresh_quotas.count+1, updated_at=excluded.updated_at
WHERE refresh_quotas.count < ?
RETURNING count`), key.UserID, key.Date, key.Category, nowRFC3339(), ceiling).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrQuotaCeiling
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PutRefreshQuota overwrites the counter with count.
func (r Repo) PutRefreshQuota(ctx context.Context, key QuotaKey, count int) error {
	_, err := r.exec(ctx, nil, `INSERT INTO refresh_quotas(user_id,day,category,count,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(user_id,day,category) DO UPDATE SET count=excluded.count, updated_at=excluded.updated_at`,
		key.UserID, key.Date, key.Category, count, nowRFC3339())
	return err
}

// ListRefreshQuotas returns all counters of a user for a day.
func (r Repo) ListRefreshQuotas(ctx context.Context, userID, day string) ([]domain.RefreshQuota, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT user_id, day, category, count, updated_at FROM refresh_quotas WHERE user_id=? AND day=? ORDER BY category`), userID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RefreshQuota
	for rows.Next() {
		var q domain.RefreshQuota
		if err := rows.Scan(&q.UserID, &q.Date, &q.Category, &q.Count, &q.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}
