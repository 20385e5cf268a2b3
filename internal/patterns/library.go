// Package patterns holds the static mission pattern library and the random
// selection over it.
package patterns

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"missionline/internal/domain"
)

//go:embed library.yaml
var embeddedLibrary []byte

// Pattern is one structural mission shape.
type Pattern struct {
	ID       string `yaml:"id" json:"id"`
	Brief    string `yaml:"brief" json:"brief"`
	Type     string `yaml:"type,omitempty" json:"type,omitempty"`
	Artifact string `yaml:"artifact,omitempty" json:"artifact,omitempty"`
}

// Library is the loaded pattern asset. It is never mutated after Load.
type Library struct {
	Version          int                  `yaml:"version"`
	LanguageKeywords []string             `yaml:"language_keywords"`
	Forbidden        []string             `yaml:"forbidden"`
	Daily            map[string][]Pattern `yaml:"daily"`
	Funplay          struct {
		Archetypes []Pattern `yaml:"archetypes"`
		Mechanics  []Pattern `yaml:"mechanics"`
		Twists     []Pattern `yaml:"twists"`
	} `yaml:"funplay"`
}

const languagePoolSuffix = "_language"

// Parse decodes and validates a library document.
func Parse(data []byte) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("invalid pattern library: %w", err)
	}
	if err := lib.validate(); err != nil {
		return nil, err
	}
	for i, kw := range lib.LanguageKeywords {
		lib.LanguageKeywords[i] = strings.ToLower(strings.TrimSpace(kw))
	}
	return &lib, nil
}

func (l *Library) validate() error {
	seen := map[string]bool{}
	check := func(pool string, items []Pattern) error {
		if len(items) == 0 {
			return fmt.Errorf("pattern pool %s is empty", pool)
		}
		for _, p := range items {
			if p.ID == "" || p.Brief == "" {
				return fmt.Errorf("pattern pool %s has an entry without id or brief", pool)
			}
			if seen[p.ID] {
				return fmt.Errorf("duplicate pattern id %s", p.ID)
			}
			seen[p.ID] = true
		}
		return nil
	}
	for _, c := range domain.GoalCategories {
		if err := check(string(c), l.Daily[string(c)]); err != nil {
			return err
		}
	}
	if err := check(string(domain.CategoryGrowthCareer)+languagePoolSuffix, l.Daily[string(domain.CategoryGrowthCareer)+languagePoolSuffix]); err != nil {
		return err
	}
	if err := check("funplay.archetypes", l.Funplay.Archetypes); err != nil {
		return err
	}
	if err := check("funplay.mechanics", l.Funplay.Mechanics); err != nil {
		return err
	}
	if err := check("funplay.twists", l.Funplay.Twists); err != nil {
		return err
	}
	if len(l.LanguageKeywords) == 0 {
		return fmt.Errorf("language_keywords must not be empty")
	}
	return nil
}

var (
	defaultOnce sync.Once
	defaultLib  *Library
	defaultErr  error
)

// Default returns the embedded library, parsed once per process.
func Default() (*Library, error) {
	defaultOnce.Do(func() {
		defaultLib, defaultErr = Parse(embeddedLibrary)
	})
	return defaultLib, defaultErr
}

// Pool returns the daily pool for a category. The language pool only exists
// for growth_career; asking for it elsewhere returns the general pool.
func (l *Library) Pool(c domain.Category, language bool) []Pattern {
	if language && c == domain.CategoryGrowthCareer {
		return l.Daily[string(c)+languagePoolSuffix]
	}
	return l.Daily[string(c)]
}

// IsLanguageGoal reports whether a goal text mentions language learning.
func (l *Library) IsLanguageGoal(goal string) bool {
	text := strings.ToLower(goal)
	for _, kw := range l.LanguageKeywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Find looks up a pattern by id across every pool.
func (l *Library) Find(id string) (Pattern, bool) {
	for _, pool := range l.Daily {
		for _, p := range pool {
			if p.ID == id {
				return p, true
			}
		}
	}
	for _, pool := range [][]Pattern{l.Funplay.Archetypes, l.Funplay.Mechanics, l.Funplay.Twists} {
		for _, p := range pool {
			if p.ID == id {
				return p, true
			}
		}
	}
	return Pattern{}, false
}
