package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"missionline/internal/domain"
	"missionline/internal/events"
	"missionline/internal/repo"
)

// GoalInput is a write from the goal editor.
type GoalInput struct {
	UserID    string
	Category  string
	Target    string
	Details   json.RawMessage
	Completed bool
}

// SetGoal stores the user's goal for a category and records an event.
func (e Engine) SetGoal(ctx context.Context, in GoalInput) (domain.Goal, error) {
	if in.UserID == "" {
		return domain.Goal{}, ErrUnauthorized
	}
	if !domain.Category(in.Category).Valid() {
		return domain.Goal{}, invalidf("unknown goal category %q", in.Category)
	}
	if strings.TrimSpace(in.Target) == "" {
		return domain.Goal{}, invalidf("target is required")
	}
	details := ""
	if len(in.Details) > 0 && string(in.Details) != "null" {
		var obj map[string]any
		if err := json.Unmarshal(in.Details, &obj); err != nil {
			return domain.Goal{}, invalidf("details must be a JSON object")
		}
		details = string(in.Details)
	}
	g, err := e.Repo.UpsertGoal(ctx, domain.Goal{
		UserID:      in.UserID,
		Category:    in.Category,
		Target:      strings.TrimSpace(in.Target),
		DetailsJSON: details,
		Completed:   in.Completed,
	})
	if err != nil {
		return domain.Goal{}, err
	}
	e.appendEvent(ctx, events.TypeGoalUpserted, in.UserID, "goal", g.ID, events.EventPayload{
		"category":  g.Category,
		"completed": g.Completed,
	})
	return g, nil
}

func (e Engine) ListGoals(ctx context.Context, userID string) ([]domain.Goal, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	return e.Repo.ListGoals(ctx, userID)
}

// RecentFingerprints returns the caller's fingerprints for the trailing days,
// inclusive, newest first. days <= 0 uses the configured history window.
func (e Engine) RecentFingerprints(ctx context.Context, userID string, days int) ([]domain.MissionFingerprint, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if days <= 0 {
		days = e.windowDays()
	}
	if days > 366 {
		return nil, invalidf("days must be <= 366")
	}
	today := e.today()
	return e.Fingerprints.FingerprintsBetween(ctx, userID,
		today.AddDate(0, 0, -days).Format(dateLayout), today.Format(dateLayout))
}

// QuotaStatus is one refresh counter with its ceiling.
type QuotaStatus struct {
	Date      string `json:"date" format:"date"`
	Category  string `json:"category"`
	Count     int    `json:"count"`
	Ceiling   int    `json:"ceiling"`
	Remaining int    `json:"remaining"`
}

// Quotas reports counters for a day. An empty date means today; an empty
// category lists every counter that exists for the day.
func (e Engine) Quotas(ctx context.Context, userID, date, category string) ([]QuotaStatus, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if date == "" {
		date = e.today().Format(dateLayout)
	} else if !validDate(date) {
		return nil, invalidf("date must be YYYY-MM-DD")
	}
	ceiling := e.Gate.Ceiling
	if category != "" {
		if !quotaCategory(category) {
			return nil, invalidf("unknown category %q", category)
		}
		q, err := e.Repo.GetRefreshQuota(ctx, repo.QuotaKey{UserID: userID, Date: date, Category: category})
		if err != nil {
			return nil, err
		}
		return []QuotaStatus{newQuotaStatus(q, ceiling)}, nil
	}
	rows, err := e.Repo.ListRefreshQuotas(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	out := make([]QuotaStatus, 0, len(rows))
	for _, q := range rows {
		out = append(out, newQuotaStatus(q, ceiling))
	}
	return out, nil
}

func newQuotaStatus(q domain.RefreshQuota, ceiling int) QuotaStatus {
	return QuotaStatus{
		Date:      q.Date,
		Category:  q.Category,
		Count:     q.Count,
		Ceiling:   ceiling,
		Remaining: max(ceiling-q.Count, 0),
	}
}

func validDate(s string) bool {
	_, err := parseDate(s)
	return err == nil
}

// IsNotFound reports whether err means a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
