package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"missionline/internal/domain"
	"missionline/internal/prompt"
	"missionline/internal/repo"
)

// composed is a task's output before the generation call.
type composed struct {
	Prompt         prompt.Prompt
	LanguageRouted bool
	// FingerprintCategory is forced onto every stored fingerprint when set.
	FingerprintCategory domain.Category
	// PatternIDs maps category to the drawn pattern, used when the model
	// omits pattern_id.
	PatternIDs map[domain.Category]string
}

// task is one generation variant.
type task interface {
	Name() prompt.Task
	// QuotaCategory is the default refresh counter category.
	QuotaCategory() domain.Category
	Compose(ctx context.Context, e Engine, c Context, p Payload) (composed, error)
}

var tasks = map[string]task{
	string(prompt.TaskDailyMissions): dailyTask{},
	string(prompt.TaskFunplay):       funplayTask{},
	string(prompt.TaskCoaching):      coachingTask{},
}

// TaskNames lists the accepted request types.
func TaskNames() []string {
	return []string{string(prompt.TaskDailyMissions), string(prompt.TaskFunplay), string(prompt.TaskCoaching)}
}

func lookupTask(name string) (task, error) {
	t, ok := tasks[name]
	if !ok {
		return nil, invalidf("unknown type %q (want one of %s)", name, strings.Join(TaskNames(), ", "))
	}
	return t, nil
}

type dailyTask struct{}

func (dailyTask) Name() prompt.Task               { return prompt.TaskDailyMissions }
func (dailyTask) QuotaCategory() domain.Category { return domain.CategoryDaily }

func (dailyTask) Compose(ctx context.Context, e Engine, c Context, p Payload) (composed, error) {
	goals := c.ResolveGoals(p.GoalOverrides)
	selections := e.Selector.SelectDaily(ctx, goals)
	out := composed{PatternIDs: map[domain.Category]string{}}
	for _, s := range selections {
		out.PatternIDs[s.Category] = s.Pattern.ID
		if s.LanguageRouted {
			out.LanguageRouted = true
		}
	}
	out.Prompt = prompt.Daily(prompt.DailyInput{
		Goals:       goals,
		Selections:  selections,
		History:     c.History,
		Profile:     p.Profile,
		Language:    p.Language,
		Forbidden:   e.Selector.Library.Forbidden,
		WindowDays:  e.windowDays(),
		Temperature: e.Config.LLM.Temperatures.DailyMissions,
	})
	return out, nil
}

type funplayTask struct{}

func (funplayTask) Name() prompt.Task               { return prompt.TaskFunplay }
func (funplayTask) QuotaCategory() domain.Category { return domain.CategoryFunplay }

func (funplayTask) Compose(_ context.Context, e Engine, c Context, p Payload) (composed, error) {
	sel := e.Selector.SelectFunplay()
	return composed{
		FingerprintCategory: domain.CategoryFunplay,
		PatternIDs:          map[domain.Category]string{domain.CategoryFunplay: sel.Archetype.ID},
		Prompt: prompt.Funplay(prompt.FunplayInput{
			Profile:     p.Profile,
			Options:     p.Options,
			Selection:   sel,
			History:     c.History,
			Language:    p.Language,
			Forbidden:   e.Selector.Library.Forbidden,
			WindowDays:  e.windowDays(),
			Temperature: e.Config.LLM.Temperatures.Funplay,
		}),
	}, nil
}

type coachingTask struct{}

func (coachingTask) Name() prompt.Task               { return prompt.TaskCoaching }
func (coachingTask) QuotaCategory() domain.Category { return domain.CategoryCoaching }

func (coachingTask) Compose(ctx context.Context, e Engine, c Context, p Payload) (composed, error) {
	category, target, err := e.coachingGoal(ctx, c, p)
	if err != nil {
		return composed{}, err
	}
	return composed{
		Prompt: prompt.Coaching(prompt.CoachingInput{
			Category:    category,
			Goal:        target,
			Stats:       p.Stats,
			Language:    p.Language,
			Temperature: e.Config.LLM.Temperatures.Coaching,
		}),
	}, nil
}

// coachingGoal resolves the goal being coached. A goal id must belong to the
// caller; otherwise the category goes through the usual precedence with the
// supplied target acting as the override.
func (e Engine) coachingGoal(ctx context.Context, c Context, p Payload) (domain.Category, string, error) {
	ref := GoalRef{}
	if p.Goal != nil {
		ref = *p.Goal
	}
	if ref.ID != "" {
		g, err := e.Repo.GetGoal(ctx, ref.ID)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && g.UserID != c.UserID) {
			return "", "", invalidf("goal %s not found", ref.ID)
		}
		if err != nil {
			return "", "", fmt.Errorf("load goal: %w", err)
		}
		if strings.TrimSpace(ref.Target) != "" {
			return domain.Category(g.Category), ref.Target, nil
		}
		return domain.Category(g.Category), g.Target, nil
	}
	category := domain.Category(ref.Category)
	if category == "" {
		category = domain.Category(p.Category)
	}
	if !category.Valid() {
		return "", "", invalidf("coaching needs goal.id or a goal category")
	}
	overrides := map[domain.Category]string{category: ref.Target}
	if ref.Target == "" {
		overrides = p.GoalOverrides
	}
	return category, c.ResolveGoal(category, overrides), nil
}
