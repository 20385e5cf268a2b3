package patterns

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionline/internal/domain"
)

func ids(pool []Pattern) map[string]bool {
	out := map[string]bool{}
	for _, p := range pool {
		out[p.ID] = true
	}
	return out
}

func TestDefaultLibraryLoads(t *testing.T) {
	lib, err := Default()
	require.NoError(t, err)
	for _, c := range domain.GoalCategories {
		assert.NotEmpty(t, lib.Pool(c, false), c)
	}
	assert.NotEmpty(t, lib.Pool(domain.CategoryGrowthCareer, true))
	assert.Equal(t, lib.Pool(domain.CategoryBodyWellness, false), lib.Pool(domain.CategoryBodyWellness, true))
	assert.NotEmpty(t, lib.Forbidden)

	again, err := Default()
	require.NoError(t, err)
	assert.Same(t, lib, again)

	p, ok := lib.Find("gcl_shadowing")
	require.True(t, ok)
	assert.Equal(t, "practice", p.Type)
}

func TestParseRejectsBrokenLibraries(t *testing.T) {
	_, err := Parse([]byte("daily: {}\n"))
	require.Error(t, err)
	_, err = Parse([]byte(":::"))
	require.Error(t, err)
}

func TestIsLanguageGoal(t *testing.T) {
	lib, err := Default()
	require.NoError(t, err)
	assert.True(t, lib.IsLanguageGoal("영어 회화 실력 늘리기"))
	assert.True(t, lib.IsLanguageGoal("Get better at ENGLISH presentations"))
	assert.True(t, lib.IsLanguageGoal("pass JLPT N2"))
	assert.False(t, lib.IsLanguageGoal("get promoted to senior engineer"))
	assert.False(t, lib.IsLanguageGoal(""))
}

func TestLanguageRoutingNeverLeaks(t *testing.T) {
	lib, err := Default()
	require.NoError(t, err)
	languageIDs := ids(lib.Pool(domain.CategoryGrowthCareer, true))
	generalIDs := ids(lib.Pool(domain.CategoryGrowthCareer, false))
	sel := Selector{Library: lib}
	ctx := context.Background()

	for _, goal := range []string{"영어 공부", "english every day"} {
		for i := 0; i < 200; i++ {
			got := sel.SelectDaily(ctx, map[domain.Category]string{domain.CategoryGrowthCareer: goal})
			career := got[1]
			require.Equal(t, domain.CategoryGrowthCareer, career.Category)
			require.True(t, career.LanguageRouted)
			require.True(t, languageIDs[career.Pattern.ID], "pattern %s not from language pool", career.Pattern.ID)
		}
	}
	for i := 0; i < 200; i++ {
		got := sel.SelectDaily(ctx, map[domain.Category]string{domain.CategoryGrowthCareer: "lead a design review"})
		career := got[1]
		require.False(t, career.LanguageRouted)
		require.True(t, generalIDs[career.Pattern.ID], "pattern %s not from general pool", career.Pattern.ID)
	}
}

func TestSelectDailyOnePerCategory(t *testing.T) {
	lib, err := Default()
	require.NoError(t, err)
	sel := Selector{Library: lib, IntN: func(int) int { return 0 }}
	got := sel.SelectDaily(context.Background(), nil)
	require.Len(t, got, 3)
	for i, c := range domain.GoalCategories {
		assert.Equal(t, c, got[i].Category)
		assert.Equal(t, lib.Pool(c, false)[0], got[i].Pattern)
	}
}

func TestSelectFunplayDrawsEachPoolIndependently(t *testing.T) {
	lib, err := Default()
	require.NoError(t, err)
	var calls []int
	sel := Selector{Library: lib, IntN: func(n int) int {
		calls = append(calls, n)
		return n - 1
	}}
	got := sel.SelectFunplay()
	assert.Equal(t, []int{len(lib.Funplay.Archetypes), len(lib.Funplay.Mechanics), len(lib.Funplay.Twists)}, calls)
	assert.Equal(t, lib.Funplay.Archetypes[len(lib.Funplay.Archetypes)-1], got.Archetype)
	assert.Equal(t, lib.Funplay.Mechanics[len(lib.Funplay.Mechanics)-1], got.Mechanic)
	assert.Equal(t, lib.Funplay.Twists[len(lib.Funplay.Twists)-1], got.Twist)
}
