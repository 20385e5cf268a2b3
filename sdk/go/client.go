package missionlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Missionline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Generation can be slow, so the
// default timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  90 * time.Second,
	}
}

// Task types accepted by Generate.
const (
	TaskDailyMissions = "daily_missions"
	TaskFunplay       = "funplay"
	TaskCoaching      = "coaching"
)

// GenerateResult carries the generated object and response metadata.
type GenerateResult struct {
	RequestID string
	// Warnings lists persistence failures as op:category codes.
	Warnings     []string
	RefreshCount int
	Data         json.RawMessage
}

// Goal represents a stored goal.
type Goal struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Category    string `json:"category"`
	Target      string `json:"target"`
	DetailsJSON string `json:"details_json,omitempty"`
	Completed   bool   `json:"completed"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Fingerprint represents one recorded mission fingerprint.
type Fingerprint struct {
	ID            string `json:"id"`
	Date          string `json:"date"`
	Category      string `json:"category"`
	PatternID     string `json:"pattern_id,omitempty"`
	ActionVerb    string `json:"action_verb,omitempty"`
	Tool          string `json:"tool,omitempty"`
	Place         string `json:"place,omitempty"`
	SocialContext string `json:"social_context,omitempty"`
	Mechanic      string `json:"mechanic,omitempty"`
}

// QuotaStatus is one refresh counter.
type QuotaStatus struct {
	Date      string `json:"date"`
	Category  string `json:"category"`
	Count     int    `json:"count"`
	Ceiling   int    `json:"ceiling"`
	Remaining int    `json:"remaining"`
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string `json:"user_id"`
	Source string `json:"source"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsQuotaExceeded reports whether err is a refresh quota rejection.
func IsQuotaExceeded(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// Generate runs one generation request. payload may be nil.
func (c *Client) Generate(ctx context.Context, taskType string, refresh bool, payload map[string]any) (GenerateResult, error) {
	body := map[string]any{"type": taskType}
	if refresh {
		body["refresh"] = true
	}
	if payload != nil {
		body["payload"] = payload
	}
	var data json.RawMessage
	header, err := c.doWithHeader(ctx, http.MethodPost, "generate", body, &data)
	if err != nil {
		return GenerateResult{}, err
	}
	res := GenerateResult{RequestID: header.Get("X-Request-Id"), Data: data}
	if w := strings.TrimSpace(header.Get("X-Persistence-Warnings")); w != "" {
		res.Warnings = strings.Split(w, ",")
	}
	if n, err := strconv.Atoi(header.Get("X-Refresh-Count")); err == nil {
		res.RefreshCount = n
	}
	return res, nil
}

// Goals lists the caller's goals.
func (c *Client) Goals(ctx context.Context) ([]Goal, error) {
	var resp struct {
		Items []Goal `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "goals", nil, &resp)
	return resp.Items, err
}

// PutGoal creates or replaces the caller's goal for category.
func (c *Client) PutGoal(ctx context.Context, category, target string, details map[string]any, completed bool) (Goal, error) {
	body := map[string]any{
		"target":    target,
		"completed": completed,
	}
	if details != nil {
		body["details"] = details
	}
	var resp Goal
	err := c.do(ctx, http.MethodPut, "goals/"+url.PathEscape(category), body, &resp)
	return resp, err
}

// Fingerprints returns recent fingerprints; days 0 uses the server window.
func (c *Client) Fingerprints(ctx context.Context, days int) ([]Fingerprint, error) {
	endpoint := "fingerprints"
	if days > 0 {
		endpoint += "?days=" + strconv.Itoa(days)
	}
	var resp struct {
		Items []Fingerprint `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Quota returns refresh counters for date (empty means today). An empty
// category lists every counter of the day.
func (c *Client) Quota(ctx context.Context, date, category string) ([]QuotaStatus, error) {
	q := url.Values{}
	if date != "" {
		q.Set("date", date)
	}
	if category != "" {
		q.Set("category", category)
	}
	endpoint := "quota"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []QuotaStatus `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Me returns the authenticated principal.
func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	_, err := c.doWithHeader(ctx, method, endpoint, body, out)
	return err
}

func (c *Client) doWithHeader(ctx context.Context, method, endpoint string, body any, out any) (http.Header, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(endpoint), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return resp.Header, parseAPIError(resp.StatusCode, b)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header, nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) endpoint(p string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base + "/" + strings.TrimLeft(p, "/")
}
