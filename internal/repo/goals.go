package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"missionline/internal/domain"
)

const goalColumns = `id,user_id,category,target,COALESCE(details_json,''),completed,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (domain.Goal, error) {
	var g domain.Goal
	var completed int
	if err := row.Scan(&g.ID, &g.UserID, &g.Category, &g.Target, &g.DetailsJSON, &completed, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return domain.Goal{}, err
	}
	g.Completed = completed != 0
	return g, nil
}

// UpsertGoal stores the user's goal for a category. A user holds at most one
// goal row per category; writing again replaces target, details and completion.
func (r Repo) UpsertGoal(ctx context.Context, g domain.Goal) (domain.Goal, error) {
	if strings.TrimSpace(g.UserID) == "" {
		return domain.Goal{}, errors.New("user_id required")
	}
	if !domain.Category(g.Category).Valid() {
		return domain.Goal{}, errors.New("invalid goal category")
	}
	if strings.TrimSpace(g.Target) == "" {
		return domain.Goal{}, errors.New("target required")
	}
	now := nowRFC3339()
	if g.ID == "" {
		g.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("goal|"+g.UserID+"|"+g.Category)).String()
	}
	if g.CreatedAt == "" {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	_, err := r.exec(ctx, nil, `INSERT INTO goals(id,user_id,category,target,details_json,completed,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET target=excluded.target, details_json=excluded.details_json, completed=excluded.completed, updated_at=excluded.updated_at`,
		g.ID, g.UserID, g.Category, g.Target, nullable(g.DetailsJSON), boolToInt(g.Completed), g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return domain.Goal{}, err
	}
	return r.GetGoal(ctx, g.ID)
}

func (r Repo) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	g, err := scanGoal(r.DB.QueryRowContext(ctx, r.q(`SELECT `+goalColumns+` FROM goals WHERE id=?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Goal{}, ErrNotFound
	}
	return g, err
}

// ListGoals returns all goals of a user, completed ones included.
func (r Repo) ListGoals(ctx context.Context, userID string) ([]domain.Goal, error) {
	return r.listGoals(ctx, `SELECT `+goalColumns+` FROM goals WHERE user_id=? ORDER BY category, updated_at DESC`, userID)
}

// ListActiveGoals returns non-completed goals, most recently updated first.
func (r Repo) ListActiveGoals(ctx context.Context, userID string) ([]domain.Goal, error) {
	return r.listGoals(ctx, `SELECT `+goalColumns+` FROM goals WHERE user_id=? AND completed=0 ORDER BY updated_at DESC, id`, userID)
}

func (r Repo) listGoals(ctx context.Context, query, userID string) ([]domain.Goal, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// ActiveGoalTargets maps category to the target of the most recently updated
// active goal in that category.
func (r Repo) ActiveGoalTargets(ctx context.Context, userID string) (map[domain.Category]string, error) {
	goals, err := r.ListActiveGoals(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Category]string, len(goals))
	for _, g := range goals {
		c := domain.Category(g.Category)
		if _, seen := out[c]; seen {
			continue
		}
		out[c] = g.Target
	}
	return out, nil
}
