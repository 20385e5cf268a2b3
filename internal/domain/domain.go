package domain

// Category is a life-domain bucket a goal or mission belongs to.
type Category string

const (
	CategoryBodyWellness   Category = "body_wellness"
	CategoryGrowthCareer   Category = "growth_career"
	CategoryMindConnection Category = "mind_connection"
	// CategoryFunplay keys minigame fingerprints and refresh quota.
	CategoryFunplay  Category = "funplay"
	CategoryCoaching Category = "coaching"
	// CategoryDaily is the quota key for a whole daily batch refresh.
	CategoryDaily Category = "daily"
)

// GoalCategories lists the categories a daily batch covers, in output order.
var GoalCategories = []Category{CategoryBodyWellness, CategoryGrowthCareer, CategoryMindConnection}

// Valid reports whether c is one of the goal categories.
func (c Category) Valid() bool {
	for _, gc := range GoalCategories {
		if c == gc {
			return true
		}
	}
	return false
}

type Goal struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Category    string `json:"category" enum:"body_wellness,growth_career,mind_connection"`
	Target      string `json:"target"`
	DetailsJSON string `json:"details_json,omitempty"`
	Completed   bool   `json:"completed"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// MissionFingerprint holds the novelty-relevant attributes of one generated mission.
type MissionFingerprint struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Date          string `json:"date" format:"date"`
	Category      string `json:"category"`
	PatternID     string `json:"pattern_id,omitempty"`
	ActionVerb    string `json:"action_verb,omitempty"`
	Tool          string `json:"tool,omitempty"`
	Place         string `json:"place,omitempty"`
	SocialContext string `json:"social_context,omitempty"`
	Mechanic      string `json:"mechanic,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type RefreshQuota struct {
	UserID    string `json:"user_id"`
	Date      string `json:"date" format:"date"`
	Category  string `json:"category"`
	Count     int    `json:"count"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

// Fingerprint is the novelty block the model returns inside each mission.
type Fingerprint struct {
	ActionVerb    string `json:"action_verb,omitempty"`
	Tool          string `json:"tool,omitempty"`
	Place         string `json:"place,omitempty"`
	SocialContext string `json:"social_context,omitempty"`
	Mechanic      string `json:"mechanic,omitempty"`
}

func (f Fingerprint) Empty() bool {
	return f == Fingerprint{}
}

// GeneratedMission is the structured mission shape requested from the model.
type GeneratedMission struct {
	Category         string       `json:"category"`
	PatternID        string       `json:"pattern_id,omitempty"`
	Title            string       `json:"title"`
	Content          string       `json:"content"`
	VerificationType string       `json:"verification_type" enum:"checkbox,text,photo"`
	SuccessCriteria  []string     `json:"success_criteria,omitempty"`
	NoveltyTags      []string     `json:"novelty_tags,omitempty"`
	Fingerprint      *Fingerprint `json:"fingerprint,omitempty"`
	GoalAlignment    string       `json:"goal_alignment,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
