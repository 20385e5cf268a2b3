package prompt

import (
	"fmt"
	"strings"

	"missionline/internal/domain"
	"missionline/internal/patterns"
)

// DailyInput is everything the daily batch prompt is built from.
type DailyInput struct {
	Goals       map[domain.Category]string
	Selections  []patterns.Selection
	History     []domain.MissionFingerprint
	Profile     map[string]any
	Language    string
	Forbidden   []string
	WindowDays  int
	Temperature float64
}

// Daily composes the one-mission-per-category batch prompt.
func Daily(in DailyInput) Prompt {
	var sys strings.Builder
	sys.WriteString("You design daily micro-missions for a habit app. Each mission is small, concrete, and finishable today.\n")
	fmt.Fprintf(&sys, "Write every user-facing string in %s.\n", languageName(in.Language))
	sys.WriteString("The user's goal is the TOPIC of a mission. The pattern is only a METHOD HINT for its shape. ")
	sys.WriteString("If the pattern and the goal conflict, the goal wins: bend or drop the pattern, never the goal.\n")
	writeForbidden(&sys, in.Forbidden)
	sys.WriteString(jsonOnlyRule)

	var usr strings.Builder
	usr.WriteString("## User profile\n")
	usr.WriteString(mustJSON(profileOrEmpty(in.Profile)))
	usr.WriteString("\n\n## Goals and pattern hints\n")
	languageRouted := false
	for _, sel := range in.Selections {
		fmt.Fprintf(&usr, "- category: %s\n  goal (topic): %s\n  pattern %s (method hint): %s",
			sel.Category, in.Goals[sel.Category], sel.Pattern.ID, sel.Pattern.Brief)
		if sel.Pattern.Artifact != "" {
			fmt.Fprintf(&usr, " [default verification: %s]", sel.Pattern.Artifact)
		}
		usr.WriteString("\n")
		if sel.LanguageRouted {
			languageRouted = true
		}
	}
	if languageRouted {
		fmt.Fprintf(&usr, "\nThe %s goal is about learning a language. That mission's content MUST contain actual sentences in the target language for the user to practise, ", domain.CategoryGrowthCareer)
		usr.WriteString("with a translation for each. A description of studying is not enough.\n")
	}
	writeAntiRepeat(&usr, in.History, in.WindowDays)
	fmt.Fprintf(&usr, "\nReturn exactly one mission per category listed above (%d in total) as:\n", len(in.Selections))
	fmt.Fprintf(&usr, "{\n  \"missions\": [\n%s\n  ]\n}\n", indent(schemaFor(false), "    "))

	return Prompt{Task: TaskDailyMissions, System: sys.String(), User: usr.String(), Temperature: in.Temperature}
}

// FunplayOptions are the user's knobs for a minigame mission.
type FunplayOptions struct {
	Difficulty       string `json:"difficulty,omitempty"`
	TimeLimitMinutes int    `json:"time_limit_minutes,omitempty"`
	Place            string `json:"place,omitempty"`
	Mood             string `json:"mood,omitempty"`
}

// FunplayInput is everything the minigame prompt is built from.
type FunplayInput struct {
	Profile     map[string]any
	Options     FunplayOptions
	Selection   patterns.FunplaySelection
	History     []domain.MissionFingerprint
	Language    string
	Forbidden   []string
	WindowDays  int
	Temperature float64
}

// Funplay composes the standalone minigame mission prompt.
func Funplay(in FunplayInput) Prompt {
	var sys strings.Builder
	sys.WriteString("You design one playful real-world minigame mission. It must feel like a game, with a clear win condition.\n")
	fmt.Fprintf(&sys, "Write every user-facing string in %s.\n", languageName(in.Language))
	sys.WriteString("Combine the archetype, mechanic and twist below into a single coherent mission. Respect the user's options over the archetype when they conflict.\n")
	writeForbidden(&sys, in.Forbidden)
	sys.WriteString(jsonOnlyRule)

	var usr strings.Builder
	usr.WriteString("## User profile\n")
	usr.WriteString(mustJSON(profileOrEmpty(in.Profile)))
	usr.WriteString("\n\n## Options\n")
	usr.WriteString(mustJSON(in.Options))
	usr.WriteString("\n\n## Ingredients\n")
	fmt.Fprintf(&usr, "- archetype %s: %s\n", in.Selection.Archetype.ID, in.Selection.Archetype.Brief)
	fmt.Fprintf(&usr, "- mechanic %s: %s\n", in.Selection.Mechanic.ID, in.Selection.Mechanic.Brief)
	fmt.Fprintf(&usr, "- twist %s: %s\n", in.Selection.Twist.ID, in.Selection.Twist.Brief)
	writeAntiRepeat(&usr, in.History, in.WindowDays)
	usr.WriteString("Also avoid any mechanic that appears in the history.\n")
	fmt.Fprintf(&usr, "\nUse category \"%s\" and pattern_id \"%s\". Return the mission object itself:\n", domain.CategoryFunplay, in.Selection.Archetype.ID)
	usr.WriteString(schemaFor(true))
	usr.WriteString("\n")

	return Prompt{Task: TaskFunplay, System: sys.String(), User: usr.String(), Temperature: in.Temperature}
}

// CoachingStats summarize recent performance on a goal.
type CoachingStats struct {
	SuccessRate float64 `json:"success_rate"`
	Streak      int     `json:"streak"`
}

// CoachingInput is everything the coaching prompt is built from.
type CoachingInput struct {
	Category    domain.Category
	Goal        string
	Stats       CoachingStats
	Language    string
	Temperature float64
}

// Coaching composes the feedback prompt. No pattern library is involved.
func Coaching(in CoachingInput) Prompt {
	var sys strings.Builder
	sys.WriteString("You are a warm, specific habit coach. Base every statement on the numbers given; never invent data.\n")
	fmt.Fprintf(&sys, "Write every user-facing string in %s.\n", languageName(in.Language))
	sys.WriteString(jsonOnlyRule)

	var usr strings.Builder
	fmt.Fprintf(&usr, "## Goal\ncategory: %s\ngoal: %s\n\n", in.Category, in.Goal)
	usr.WriteString("## Stats\n")
	usr.WriteString(mustJSON(in.Stats))
	usr.WriteString("\n\nReturn:\n")
	usr.WriteString("{\n  \"insight\": \"<one observation about the trend in these stats>\",\n  \"encouragement\": \"<one or two sentences pointing at the next concrete step>\"\n}\n")

	return Prompt{Task: TaskCoaching, System: sys.String(), User: usr.String(), Temperature: in.Temperature}
}

func profileOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
