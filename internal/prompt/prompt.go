// Package prompt composes the instruction payloads sent to the text
// generation service. Everything here is pure: the same input always yields
// the same prompt.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"missionline/internal/domain"
)

// Task names the three generation tasks.
type Task string

const (
	TaskDailyMissions Task = "daily_missions"
	TaskFunplay       Task = "funplay"
	TaskCoaching      Task = "coaching"
)

// Prompt is a composed chat request.
type Prompt struct {
	Task        Task    `json:"task"`
	System      string  `json:"system"`
	User        string  `json:"user"`
	Temperature float64 `json:"temperature"`
}

// historyEntry is the serialized form of a fingerprint inside prompts.
type historyEntry struct {
	Date          string `json:"date"`
	Category      string `json:"category"`
	PatternID     string `json:"pattern_id,omitempty"`
	ActionVerb    string `json:"action_verb,omitempty"`
	Tool          string `json:"tool,omitempty"`
	Place         string `json:"place,omitempty"`
	SocialContext string `json:"social_context,omitempty"`
	Mechanic      string `json:"mechanic,omitempty"`
}

// HistoryJSON serializes fingerprints in the order given.
func HistoryJSON(history []domain.MissionFingerprint) string {
	entries := make([]historyEntry, 0, len(history))
	for _, f := range history {
		entries = append(entries, historyEntry{
			Date:          f.Date,
			Category:      f.Category,
			PatternID:     f.PatternID,
			ActionVerb:    f.ActionVerb,
			Tool:          f.Tool,
			Place:         f.Place,
			SocialContext: f.SocialContext,
			Mechanic:      f.Mechanic,
		})
	}
	return mustJSON(entries)
}

func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(b)
}

func languageName(tag string) string {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "", "ko", "ko-kr":
		return "Korean"
	case "en", "en-us", "en-gb":
		return "English"
	case "ja", "ja-jp":
		return "Japanese"
	default:
		return tag
	}
}

const jsonOnlyRule = "Respond with a single JSON object that matches the schema exactly. No markdown, no code fences, no text before or after the JSON."

func writeForbidden(b *strings.Builder, forbidden []string) {
	b.WriteString("Never produce any of these generic missions, in any wording:\n")
	for _, f := range forbidden {
		fmt.Fprintf(b, "- %s\n", f)
	}
}

func writeAntiRepeat(b *strings.Builder, history []domain.MissionFingerprint, windowDays int) {
	fmt.Fprintf(b, "\n## Recent mission history (last %d days)\n", windowDays)
	b.WriteString(HistoryJSON(history))
	b.WriteString("\n\nHARD CONSTRAINT: do not reuse any action_verb from this history, nor a close synonym or semantic equivalent of one. ")
	b.WriteString("Prefer a tool, place and social context that do not appear in the history either.\n")
}

const missionSchema = `{
  "category": "<category>",
  "pattern_id": "<pattern id you were given>",
  "title": "<short imperative title>",
  "content": "<step-by-step instructions, doable in under 30 minutes>",
  "verification_type": "checkbox | text | photo",
  "success_criteria": ["<observable criterion>", "..."],
  "novelty_tags": ["<tag>", "..."],
  "fingerprint": {
    "action_verb": "<primary verb>",
    "tool": "<main tool or object, or empty>",
    "place": "<where it happens>",
    "social_context": "<alone | with_friend | with_family | with_stranger | online>"%s
  },
  "goal_alignment": "<one sentence on how this serves the user's goal>"
}`

func schemaFor(withMechanic bool) string {
	if withMechanic {
		return fmt.Sprintf(missionSchema, ",\n    \"mechanic\": \"<mechanic id>\"")
	}
	return fmt.Sprintf(missionSchema, "")
}
