package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"missionline/internal/domain"
	"missionline/internal/engine"
)

type GenerateResponse struct {
	RequestID  string `header:"X-Request-Id"`
	Warnings   string `header:"X-Persistence-Warnings"`
	QuotaCount string `header:"X-Refresh-Count"`
	Body       any
}

func registerGenerate(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "generate",
		Method:      http.MethodPost,
		Path:        "/generate",
		Summary:     "Generate daily missions, a funplay mission or coaching feedback",
		Description: "Returns the generated JSON object unmodified. Refresh requests are limited per user, day and category.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusTooManyRequests,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body GenerateRequest `json:"body"`
	}) (*GenerateResponse, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var payload json.RawMessage
		if input.Body.Payload != nil {
			data, err := json.Marshal(input.Body.Payload)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid payload", nil)
			}
			payload = data
		}
		res, err := e.Generate(ctx, engine.Request{
			UserID:  userID,
			Type:    input.Body.Type,
			Refresh: input.Body.Refresh,
			Payload: payload,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &GenerateResponse{
			RequestID: res.RequestID,
			Warnings:  engine.WarningCodes(res.Warnings),
			Body:      res.Data,
		}
		if res.Refresh && res.QuotaCount > 0 {
			out.QuotaCount = strconv.Itoa(res.QuotaCount)
		}
		return out, nil
	})
}

func registerGoals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goals",
		Summary:     "List the caller's goals",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body GoalsResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		goals, err := e.ListGoals(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalsResponse `json:"body"`
		}{Body: GoalsResponse{Items: nonNilSlice(goals)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-goal",
		Method:      http.MethodPut,
		Path:        "/goals/{category}",
		Summary:     "Create or replace the caller's goal for a category",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Category string         `path:"category" enum:"body_wellness,growth_career,mind_connection"`
		Body     PutGoalRequest `json:"body"`
	}) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var details json.RawMessage
		if input.Body.Details != nil {
			details, _ = json.Marshal(input.Body.Details)
		}
		g, err := e.SetGoal(ctx, engine.GoalInput{
			UserID:    userID,
			Category:  input.Category,
			Target:    input.Body.Target,
			Details:   details,
			Completed: input.Body.Completed,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})
}

func registerFingerprints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-fingerprints",
		Method:      http.MethodGet,
		Path:        "/fingerprints",
		Summary:     "Recent mission fingerprints, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Days int `query:"days" minimum:"0" maximum:"366" doc:"Trailing days, inclusive; 0 uses the configured window"`
	}) (*struct {
		Body FingerprintsResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.RecentFingerprints(ctx, userID, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FingerprintsResponse `json:"body"`
		}{Body: FingerprintsResponse{Items: nonNilSlice(items)}}, nil
	})
}

func registerQuota(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-quota",
		Method:      http.MethodGet,
		Path:        "/quota",
		Summary:     "Refresh counters for a day",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Date     string `query:"date" doc:"YYYY-MM-DD, defaults to today (UTC)"`
		Category string `query:"category" doc:"Single counter; omitted lists every counter of the day"`
	}) (*struct {
		Body QuotaResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rows, err := e.Quotas(ctx, userID, input.Date, input.Category)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]QuotaItem, 0, len(rows))
		for _, q := range rows {
			items = append(items, QuotaItem(q))
		}
		return &struct {
			Body QuotaResponse `json:"body"`
		}{Body: QuotaResponse{Items: items}}, nil
	})
}
