package server

import (
	"missionline/internal/domain"
)

// Request payloads

type GenerateRequest struct {
	_       struct{}       `json:"-" additionalProperties:"true"`
	Type    string         `json:"type" enum:"daily_missions,funplay,coaching" doc:"Task to run"`
	Refresh bool           `json:"refresh,omitempty" doc:"Regenerate already-shown missions; subject to the daily refresh quota"`
	Payload map[string]any `json:"payload,omitempty" doc:"Task-specific fields: profile, language, goal_overrides, options, goal, stats, category, refresh"`
}

type PutGoalRequest struct {
	Target    string         `json:"target" minLength:"1"`
	Details   map[string]any `json:"details,omitempty"`
	Completed bool           `json:"completed,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id" minLength:"1"`
}

// Responses

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Source string `json:"source" enum:"jwt,api_key,legacy_header"`
}

type GoalsResponse struct {
	Items []domain.Goal `json:"items"`
}

type FingerprintsResponse struct {
	Items []domain.MissionFingerprint `json:"items"`
}

type QuotaItem struct {
	Date      string `json:"date" format:"date"`
	Category  string `json:"category"`
	Count     int    `json:"count"`
	Ceiling   int    `json:"ceiling"`
	Remaining int    `json:"remaining"`
}

type QuotaResponse struct {
	Items []QuotaItem `json:"items"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
