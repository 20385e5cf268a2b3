package patterns

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"missionline/internal/domain"
)

// Selection is the pattern drawn for one category of a daily batch.
type Selection struct {
	Category       domain.Category `json:"category"`
	Pattern        Pattern         `json:"pattern"`
	LanguageRouted bool            `json:"language_routed,omitempty"`
}

// FunplaySelection is the independent archetype/mechanic/twist triple.
type FunplaySelection struct {
	Archetype Pattern `json:"archetype"`
	Mechanic  Pattern `json:"mechanic"`
	Twist     Pattern `json:"twist"`
}

// Selector draws uniformly from the library. IntN defaults to math/rand/v2,
// which is safe for concurrent use.
type Selector struct {
	Library *Library
	IntN    func(n int) int
	Logger  *slog.Logger
}

func (s Selector) intN(n int) int {
	if s.IntN != nil {
		return s.IntN(n)
	}
	return rand.IntN(n)
}

func (s Selector) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s Selector) pick(pool []Pattern) Pattern {
	return pool[s.intN(len(pool))]
}

// SelectDaily draws one pattern per goal category. goals must hold the
// resolved goal text per category; growth_career goals mentioning a language
// are routed to the language pool.
func (s Selector) SelectDaily(ctx context.Context, goals map[domain.Category]string) []Selection {
	out := make([]Selection, 0, len(domain.GoalCategories))
	for _, c := range domain.GoalCategories {
		language := c == domain.CategoryGrowthCareer && s.Library.IsLanguageGoal(goals[c])
		sel := Selection{Category: c, Pattern: s.pick(s.Library.Pool(c, language)), LanguageRouted: language}
		if language {
			s.logger().InfoContext(ctx, "growth goal routed to language patterns",
				slog.String("category", string(c)),
				slog.String("pattern_id", sel.Pattern.ID))
		}
		out = append(out, sel)
	}
	return out
}

// SelectFunplay draws archetype, mechanic and twist independently.
func (s Selector) SelectFunplay() FunplaySelection {
	return FunplaySelection{
		Archetype: s.pick(s.Library.Funplay.Archetypes),
		Mechanic:  s.pick(s.Library.Funplay.Mechanics),
		Twist:     s.pick(s.Library.Funplay.Twists),
	}
}
