package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"missionline/internal/config"
	"missionline/internal/domain"
	"missionline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// EventSource is the part of the repository the dispatcher reads.
type EventSource interface {
	EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

var _ EventSource = repo.Repo{}

// hookState is one webhook with its delivery cursor. Only the dispatcher
// goroutine touches it.
type hookState struct {
	cfg    config.WebhookConfig
	filter eventFilter
	client *http.Client
	cursor int64
	primed bool
}

type webhookDispatcher struct {
	events   EventSource
	hooks    []*hookState
	logger   *slog.Logger
	interval time.Duration
}

// StartWebhooks forwards new events to the configured webhooks until ctx is
// done. Delivery starts after the newest event present at startup.
func StartWebhooks(ctx context.Context, src EventSource, hooks []config.WebhookConfig, logger *slog.Logger) {
	d := newWebhookDispatcher(src, hooks, logger)
	if len(d.hooks) == 0 {
		return
	}
	go d.run(ctx)
}

func newWebhookDispatcher(src EventSource, hooks []config.WebhookConfig, logger *slog.Logger) *webhookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &webhookDispatcher{events: src, logger: logger, interval: defaultWebhookInterval}
	for _, h := range hooks {
		if (h.Enabled != nil && !*h.Enabled) || strings.TrimSpace(h.URL) == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if h.TimeoutSeconds > 0 {
			timeout = time.Duration(h.TimeoutSeconds) * time.Second
		}
		d.hooks = append(d.hooks, &hookState{
			cfg:    h,
			filter: newEventFilter(h.Events),
			client: &http.Client{Timeout: timeout},
		})
	}
	return d
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for _, h := range d.hooks {
		d.dispatch(ctx, h)
	}
}

// dispatch delivers pending events in order and stops at the first failure,
// so the failed event is retried on the next tick.
func (d *webhookDispatcher) dispatch(ctx context.Context, h *hookState) {
	if !h.primed {
		latest, err := d.events.LatestEventID(ctx)
		if err != nil {
			d.logger.WarnContext(ctx, "webhook cursor init failed", slog.String("url", h.cfg.URL), slog.Any("error", err))
			return
		}
		h.cursor, h.primed = latest, true
	}
	batch, err := d.events.EventsAfter(ctx, defaultWebhookBatch, h.cursor)
	if err != nil {
		d.logger.WarnContext(ctx, "webhook fetch failed", slog.Any("error", err))
		return
	}
	for _, evt := range batch {
		if h.filter.match(evt.Type) {
			if err := d.deliver(ctx, h, evt); err != nil {
				d.logger.WarnContext(ctx, "webhook delivery failed",
					slog.String("url", h.cfg.URL),
					slog.Int64("event_id", evt.ID),
					slog.Any("error", err))
				return
			}
		}
		h.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	UserID     string          `json:"user_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *webhookDispatcher) deliver(ctx context.Context, h *hookState, evt domain.Event) error {
	payload := json.RawMessage(`{}`)
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	body, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		UserID:     evt.UserID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Missionline-Event", evt.Type)
	req.Header.Set("X-Missionline-Delivery", strconv.FormatInt(evt.ID, 10))
	if secret := strings.TrimSpace(h.cfg.Secret); secret != "" {
		req.Header.Set("X-Missionline-Signature", "sha256="+signBody(secret, body))
	}
	res, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// signBody returns the hex HMAC-SHA256 of body under secret.
func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type eventFilter map[string]struct{}

// newEventFilter returns nil, which matches everything, for an empty list.
func newEventFilter(types []string) eventFilter {
	var f eventFilter
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			if f == nil {
				f = eventFilter{}
			}
			f[t] = struct{}{}
		}
	}
	return f
}

func (f eventFilter) match(evtType string) bool {
	if f == nil {
		return true
	}
	_, ok := f[evtType]
	return ok
}
