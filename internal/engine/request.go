package engine

import (
	"bytes"
	"encoding/json"

	"missionline/internal/domain"
	"missionline/internal/prompt"
)

// Request is one generation call on behalf of an authenticated user.
type Request struct {
	UserID  string
	Type    string
	Refresh bool
	Payload json.RawMessage
}

// Payload carries the task-specific fields. Unused fields are ignored per task.
type Payload struct {
	Refresh  bool   `json:"refresh,omitempty"`
	Category string `json:"category,omitempty"`
	Language string `json:"language,omitempty"`

	Profile       map[string]any             `json:"profile,omitempty"`
	GoalOverrides map[domain.Category]string `json:"goal_overrides,omitempty"`

	Options prompt.FunplayOptions `json:"options,omitempty"`

	Goal  *GoalRef             `json:"goal,omitempty"`
	Stats prompt.CoachingStats `json:"stats,omitempty"`
}

// GoalRef points the coaching task at a goal, either by id or by category,
// optionally with the target text the user is looking at.
type GoalRef struct {
	ID       string `json:"id,omitempty"`
	Category string `json:"category,omitempty"`
	Target   string `json:"target,omitempty"`
}

func decodePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return p, nil
	}
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return p, invalidf("payload: %v", err)
	}
	for c := range p.GoalOverrides {
		if !c.Valid() {
			return p, invalidf("goal_overrides: unknown category %q", c)
		}
	}
	if p.Category != "" && !quotaCategory(p.Category) {
		return p, invalidf("unknown category %q", p.Category)
	}
	if p.Stats.SuccessRate < 0 || p.Stats.SuccessRate > 1 {
		return p, invalidf("stats.success_rate must be within [0,1]")
	}
	if p.Stats.Streak < 0 {
		return p, invalidf("stats.streak must be >= 0")
	}
	if p.Options.TimeLimitMinutes < 0 {
		return p, invalidf("options.time_limit_minutes must be >= 0")
	}
	return p, nil
}

func quotaCategory(c string) bool {
	switch domain.Category(c) {
	case domain.CategoryFunplay, domain.CategoryCoaching, domain.CategoryDaily:
		return true
	}
	return domain.Category(c).Valid()
}

// refresh is set either on the request or inside the payload.
func (r Request) refresh(p Payload) bool {
	return r.Refresh || p.Refresh
}
