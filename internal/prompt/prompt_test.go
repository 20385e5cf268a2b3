package prompt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionline/internal/domain"
	"missionline/internal/patterns"
)

var testHistory = []domain.MissionFingerprint{
	{Date: "2026-10-18", Category: "body_wellness", PatternID: "bw_stair_route", ActionVerb: "climb", Place: "office stairs", SocialContext: "alone"},
	{Date: "2026-10-12", Category: "funplay", Mechanic: "fm_dice", ActionVerb: "roll"},
}

func dailyInput(languageRouted bool) DailyInput {
	career := patterns.Pattern{ID: "gc_ship_small", Brief: "Produce one small finished artifact."}
	if languageRouted {
		career = patterns.Pattern{ID: "gcl_shadowing", Brief: "Shadow a native clip."}
	}
	return DailyInput{
		Goals: map[domain.Category]string{
			domain.CategoryBodyWellness:   "5kg 감량",
			domain.CategoryGrowthCareer:   "영어 회화",
			domain.CategoryMindConnection: "call friends more",
		},
		Selections: []patterns.Selection{
			{Category: domain.CategoryBodyWellness, Pattern: patterns.Pattern{ID: "bw_micro_circuit", Brief: "A short circuit.", Artifact: "photo"}},
			{Category: domain.CategoryGrowthCareer, Pattern: career, LanguageRouted: languageRouted},
			{Category: domain.CategoryMindConnection, Pattern: patterns.Pattern{ID: "mc_specific_thanks", Brief: "Thank someone."}},
		},
		History:     testHistory,
		Profile:     map[string]any{"age": 31, "job": "designer"},
		Language:    "ko",
		Forbidden:   []string{"read a book", "meditate for a few minutes"},
		WindowDays:  7,
		Temperature: 0.8,
	}
}

func TestDailyIncludesEveryIngredient(t *testing.T) {
	p := Daily(dailyInput(false))
	assert.Equal(t, TaskDailyMissions, p.Task)
	assert.Equal(t, 0.8, p.Temperature)

	for _, want := range []string{"5kg 감량", "영어 회화", "call friends more", "bw_micro_circuit", "gc_ship_small", "mc_specific_thanks", `"job": "designer"`} {
		assert.Contains(t, p.User, want)
	}
	assert.Contains(t, p.User, HistoryJSON(testHistory))
	assert.Contains(t, p.User, "HARD CONSTRAINT: do not reuse any action_verb")
	assert.Contains(t, p.User, "semantic equivalent")
	assert.Contains(t, p.System, "the goal wins")
	assert.Contains(t, p.System, "read a book")
	assert.Contains(t, p.System, "meditate for a few minutes")
	assert.Contains(t, p.System, "single JSON object")
	assert.Contains(t, p.System, "Korean")
	assert.Contains(t, p.User, `"missions"`)
	assert.NotContains(t, p.User, "actual sentences in the target language")
}

func TestDailyLanguageRoutedRequiresSentences(t *testing.T) {
	p := Daily(dailyInput(true))
	assert.Contains(t, p.User, "actual sentences in the target language")
	assert.Contains(t, p.User, "gcl_shadowing")
}

func TestDailyIsDeterministic(t *testing.T) {
	assert.Equal(t, Daily(dailyInput(false)), Daily(dailyInput(false)))
}

func TestHistoryJSONIsVerbatim(t *testing.T) {
	var decoded []map[string]string
	require.NoError(t, json.Unmarshal([]byte(HistoryJSON(testHistory)), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "climb", decoded[0]["action_verb"])
	assert.Equal(t, "office stairs", decoded[0]["place"])
	assert.Equal(t, "fm_dice", decoded[1]["mechanic"])

	assert.Equal(t, "[]", HistoryJSON(nil))
}

func TestFunplayPrompt(t *testing.T) {
	p := Funplay(FunplayInput{
		Options: FunplayOptions{Difficulty: "hard", TimeLimitMinutes: 10, Place: "park", Mood: "silly"},
		Selection: patterns.FunplaySelection{
			Archetype: patterns.Pattern{ID: "fa_scavenger", Brief: "Scavenger hunt."},
			Mechanic:  patterns.Pattern{ID: "fm_color_chain", Brief: "Colors chain."},
			Twist:     patterns.Pattern{ID: "ft_silent", Brief: "No talking."},
		},
		History:     testHistory,
		Language:    "en",
		Forbidden:   []string{"read a book"},
		WindowDays:  7,
		Temperature: 1.0,
	})
	assert.Equal(t, TaskFunplay, p.Task)
	assert.Equal(t, 1.0, p.Temperature)
	for _, want := range []string{"fa_scavenger", "fm_color_chain", "ft_silent", `"place": "park"`, `"time_limit_minutes": 10`, `"mechanic"`, HistoryJSON(testHistory)} {
		assert.Contains(t, p.User, want)
	}
	assert.Contains(t, p.System, "English")
	assert.Contains(t, p.System, "read a book")
}

func TestCoachingPrompt(t *testing.T) {
	p := Coaching(CoachingInput{
		Category:    domain.CategoryBodyWellness,
		Goal:        "5kg 감량",
		Stats:       CoachingStats{SuccessRate: 0.75, Streak: 4},
		Temperature: 0.4,
	})
	assert.Equal(t, TaskCoaching, p.Task)
	assert.Equal(t, 0.4, p.Temperature)
	assert.Contains(t, p.User, "5kg 감량")
	assert.Contains(t, p.User, `"success_rate": 0.75`)
	assert.Contains(t, p.User, `"streak": 4`)
	assert.Contains(t, p.User, `"insight"`)
	assert.Contains(t, p.User, `"encouragement"`)
	assert.NotContains(t, p.User, "pattern")
}
