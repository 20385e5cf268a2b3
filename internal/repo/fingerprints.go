package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"missionline/internal/domain"
)

const fingerprintColumns = `id,user_id,day,category,COALESCE(pattern_id,''),COALESCE(action_verb,''),COALESCE(tool,''),COALESCE(place,''),COALESCE(social_context,''),COALESCE(mechanic,''),created_at,updated_at`

func scanFingerprint(row rowScanner) (domain.MissionFingerprint, error) {
	var f domain.MissionFingerprint
	err := row.Scan(&f.ID, &f.UserID, &f.Date, &f.Category, &f.PatternID, &f.ActionVerb, &f.Tool, &f.Place, &f.SocialContext, &f.Mechanic, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// FingerprintID is stable per (user, day, category) so repeated writes land on
// the same row.
func FingerprintID(userID, day, category string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("fingerprint|"+userID+"|"+day+"|"+category)).String()
}

// UpsertFingerprint writes the fingerprint for (user, day, category),
// overwriting any earlier one for the same key.
func (r Repo) UpsertFingerprint(ctx context.Context, f domain.MissionFingerprint) error {
	if strings.TrimSpace(f.UserID) == "" || f.Date == "" || f.Category == "" {
		return errors.New("fingerprint requires user_id, date and category")
	}
	now := nowRFC3339()
	if f.ID == "" {
		f.ID = FingerprintID(f.UserID, f.Date, f.Category)
	}
	if f.CreatedAt == "" {
		f.CreatedAt = now
	}
	if f.UpdatedAt == "" {
		f.UpdatedAt = now
	}
	_, err := r.exec(ctx, nil, `INSERT INTO mission_fingerprints(id,user_id,day,category,pattern_id,action_verb,tool,place,social_context,mechanic,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(user_id,day,category) DO UPDATE SET pattern_id=excluded.pattern_id, action_verb=excluded.action_verb, tool=excluded.tool,
place=excluded.place, social_context=excluded.social_context, mechanic=excluded.mechanic, updated_at=excluded.updated_at`,
		f.ID, f.UserID, f.Date, f.Category, nullable(f.PatternID), nullable(f.ActionVerb), nullable(f.Tool), nullable(f.Place),
		nullable(f.SocialContext), nullable(f.Mechanic), f.CreatedAt, f.UpdatedAt)
	return err
}

// FingerprintsBetween returns a user's fingerprints with since <= day <= until,
// newest day first. Days are YYYY-MM-DD strings, which order lexically.
func (r Repo) FingerprintsBetween(ctx context.Context, userID, since, until string) ([]domain.MissionFingerprint, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+fingerprintColumns+` FROM mission_fingerprints
WHERE user_id=? AND day>=? AND day<=? ORDER BY day DESC, category`), userID, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MissionFingerprint
	for rows.Next() {
		f, err := scanFingerprint(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) GetFingerprint(ctx context.Context, userID, day, category string) (domain.MissionFingerprint, error) {
	f, err := scanFingerprint(r.DB.QueryRowContext(ctx, r.q(`SELECT `+fingerprintColumns+` FROM mission_fingerprints
WHERE user_id=? AND day=? AND category=?`), userID, day, category))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MissionFingerprint{}, ErrNotFound
	}
	return f, err
}

// CountFingerprints counts stored rows for a user and day.
func (r Repo) CountFingerprints(ctx context.Context, userID, day string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM mission_fingerprints WHERE user_id=? AND day=?`), userID, day).Scan(&n)
	return n, err
}
