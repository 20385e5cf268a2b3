package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"missionline/internal/domain"
	"missionline/internal/events"
	"missionline/internal/prompt"
)

// FingerprintStore is where novelty history is read and written.
type FingerprintStore interface {
	UpsertFingerprint(ctx context.Context, f domain.MissionFingerprint) error
	FingerprintsBetween(ctx context.Context, userID, since, until string) ([]domain.MissionFingerprint, error)
}

// Missions splits a generation result into its missions: the elements of a
// top-level "missions" array, or the object itself when it looks like a
// single mission. Elements are returned undecoded so one malformed mission
// cannot hide the others.
func Missions(data json.RawMessage) ([]json.RawMessage, error) {
	var batch struct {
		Missions    json.RawMessage `json:"missions"`
		Title       json.RawMessage `json:"title"`
		Fingerprint json.RawMessage `json:"fingerprint"`
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if len(batch.Missions) > 0 && string(batch.Missions) != "null" {
		var missions []json.RawMessage
		if err := json.Unmarshal(batch.Missions, &missions); err != nil {
			return nil, fmt.Errorf("decode missions: %w", err)
		}
		return missions, nil
	}
	if len(batch.Fingerprint) == 0 && len(batch.Title) == 0 {
		return nil, nil
	}
	return []json.RawMessage{data}, nil
}

// missionFingerprint is the part of a mission the novelty history needs.
type missionFingerprint struct {
	Category    string              `json:"category"`
	PatternID   string              `json:"pattern_id"`
	Fingerprint *domain.Fingerprint `json:"fingerprint"`
}

// fingerprintFor builds today's row for one mission. ok is false for
// missions without fingerprint fields or with an unknown category.
func fingerprintFor(c Context, comp composed, m missionFingerprint) (domain.MissionFingerprint, bool) {
	if m.Fingerprint == nil || m.Fingerprint.Empty() {
		return domain.MissionFingerprint{}, false
	}
	category := domain.Category(m.Category)
	if comp.FingerprintCategory != "" {
		category = comp.FingerprintCategory
	} else if !category.Valid() {
		return domain.MissionFingerprint{}, false
	}
	patternID := m.PatternID
	if patternID == "" {
		patternID = comp.PatternIDs[category]
	}
	return domain.MissionFingerprint{
		UserID:        c.UserID,
		Date:          c.Today,
		Category:      string(category),
		PatternID:     patternID,
		ActionVerb:    m.Fingerprint.ActionVerb,
		Tool:          m.Fingerprint.Tool,
		Place:         m.Fingerprint.Place,
		SocialContext: m.Fingerprint.SocialContext,
		Mechanic:      m.Fingerprint.Mechanic,
	}, true
}

// persistFingerprints upserts every fingerprint. Failures become warnings.
func (e Engine) persistFingerprints(ctx context.Context, c Context, comp composed, data json.RawMessage) (int, []PersistenceWarning) {
	if comp.Prompt.Task == prompt.TaskCoaching {
		return 0, nil
	}
	missions, err := Missions(data)
	if err != nil {
		return 0, []PersistenceWarning{{Op: "fingerprint.decode", Err: err}}
	}
	var warnings []PersistenceWarning
	written := 0
	for i, raw := range missions {
		var m missionFingerprint
		if err := json.Unmarshal(raw, &m); err != nil {
			warnings = append(warnings, PersistenceWarning{Op: "fingerprint.decode", Err: fmt.Errorf("mission %d: %w", i, err)})
			continue
		}
		f, ok := fingerprintFor(c, comp, m)
		if !ok {
			continue
		}
		if err := e.Fingerprints.UpsertFingerprint(ctx, f); err != nil {
			warnings = append(warnings, PersistenceWarning{Op: "fingerprint.upsert", Category: f.Category, Err: err})
			continue
		}
		written++
	}
	return written, warnings
}

// recordWarnings logs each warning and appends it to the event log. An event
// write failure is only logged.
func (e Engine) recordWarnings(ctx context.Context, userID, requestID string, warnings []PersistenceWarning) {
	for _, w := range warnings {
		e.logger().WarnContext(ctx, "persistence warning",
			slog.String("request_id", requestID),
			slog.String("user_id", userID),
			slog.String("op", w.Op),
			slog.String("category", w.Category),
			slog.Any("error", w.Err))
		e.appendEvent(ctx, events.TypePersistenceWarning, userID, "request", requestID, events.EventPayload{
			"op":       w.Op,
			"category": w.Category,
			"error":    w.Err.Error(),
		})
	}
}

func (e Engine) appendEvent(ctx context.Context, evtType, userID, entityKind, entityID string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, nil, evtType, userID, entityKind, entityID, payload); err != nil {
		e.logger().WarnContext(ctx, "append event failed",
			slog.String("type", evtType),
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
}
