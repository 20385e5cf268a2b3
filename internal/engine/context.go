package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"missionline/internal/domain"
)

// DefaultGoals are used for a category with neither an override nor a stored goal.
var DefaultGoals = map[domain.Category]string{
	domain.CategoryBodyWellness:   "build a healthier daily routine",
	domain.CategoryGrowthCareer:   "grow professional skills a little every day",
	domain.CategoryMindConnection: "strengthen relationships and emotional balance",
}

const dateLayout = "2006-01-02"

// Context is what the pipeline knows about the caller before composing.
type Context struct {
	UserID  string
	Today   string
	Since   string
	Stored  map[domain.Category]string
	History []domain.MissionFingerprint
}

// ResolveGoal applies override > stored > default.
func (c Context) ResolveGoal(category domain.Category, overrides map[domain.Category]string) string {
	if v := strings.TrimSpace(overrides[category]); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.Stored[category]); v != "" {
		return v
	}
	return DefaultGoals[category]
}

// ResolveGoals resolves every goal category.
func (c Context) ResolveGoals(overrides map[domain.Category]string) map[domain.Category]string {
	out := make(map[domain.Category]string, len(domain.GoalCategories))
	for _, cat := range domain.GoalCategories {
		out[cat] = c.ResolveGoal(cat, overrides)
	}
	return out
}

// Assemble loads active goals and the trailing fingerprint window. The window
// is inclusive on both ends: today minus WindowDays through today.
func (e Engine) Assemble(ctx context.Context, userID string) (Context, error) {
	today := e.today()
	out := Context{
		UserID: userID,
		Today:  today.Format(dateLayout),
		Since:  today.AddDate(0, 0, -e.windowDays()).Format(dateLayout),
	}
	stored, err := e.Repo.ActiveGoalTargets(ctx, userID)
	if err != nil {
		return Context{}, fmt.Errorf("load goals: %w", err)
	}
	out.Stored = stored
	history, err := e.Fingerprints.FingerprintsBetween(ctx, userID, out.Since, out.Today)
	if err != nil {
		return Context{}, fmt.Errorf("load fingerprints: %w", err)
	}
	out.History = history
	return out, nil
}

func (e Engine) today() time.Time {
	now := e.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (e Engine) windowDays() int {
	if e.Config != nil && e.Config.History.WindowDays > 0 {
		return e.Config.History.WindowDays
	}
	return 7
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}
