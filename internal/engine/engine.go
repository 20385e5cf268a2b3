package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"missionline/internal/config"
	"missionline/internal/db"
	"missionline/internal/events"
	"missionline/internal/generation"
	"missionline/internal/patterns"
	"missionline/internal/quota"
	"missionline/internal/repo"
)

// Engine runs the generation pipeline and the goal, history and quota
// operations around it.
type Engine struct {
	DB           *sql.DB
	Repo         repo.Repo
	Events       events.Writer
	Config       *config.Config
	Selector     patterns.Selector
	Generator    generation.Generator
	Gate         quota.Gate
	Quota        quota.Incrementer
	Fingerprints FingerprintStore
	Logger       *slog.Logger
	Now          func() time.Time
	NewRequestID func() string
}

// New wires an Engine over an open, migrated database.
func New(conn *sql.DB, d db.Dialect, cfg *config.Config, gen generation.Generator) (Engine, error) {
	lib, err := patterns.Default()
	if err != nil {
		return Engine{}, err
	}
	r := repo.New(conn, d)
	store := quota.RepoStore{Repo: r}
	inc, err := quota.NewIncrementer(cfg, store)
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:           conn,
		Repo:         r,
		Events:       events.Writer{DB: conn, Dialect: d},
		Config:       cfg,
		Selector:     patterns.Selector{Library: lib},
		Generator:    gen,
		Gate:         quota.Gate{Counter: quota.StoreCounter{Store: store}, Ceiling: cfg.Quota.RefreshCeiling},
		Quota:        inc,
		Fingerprints: r,
		Now:          time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) requestID() string {
	if e.NewRequestID != nil {
		return e.NewRequestID()
	}
	return ulid.Make().String()
}

// Result is a successful generation. Data is the generated JSON as returned
// by the generation service.
type Result struct {
	RequestID      string
	Task           string
	Data           json.RawMessage
	Refresh        bool
	QuotaCount     int
	LanguageRouted bool
	Fingerprints   int
	Warnings       []PersistenceWarning
}

// Generate runs authenticate-checked input through gate, context, patterns,
// prompt, generation and persistence, strictly in that order.
func (e Engine) Generate(ctx context.Context, req Request) (Result, error) {
	if req.UserID == "" {
		return Result{}, ErrUnauthorized
	}
	t, err := lookupTask(req.Type)
	if err != nil {
		return Result{}, err
	}
	payload, err := decodePayload(req.Payload)
	if err != nil {
		return Result{}, err
	}
	res := Result{RequestID: e.requestID(), Task: req.Type, Refresh: req.refresh(payload)}
	log := e.logger().With(
		slog.String("request_id", res.RequestID),
		slog.String("user_id", req.UserID),
		slog.String("task", req.Type))

	key := quota.Key{
		UserID:   req.UserID,
		Date:     e.today().Format(dateLayout),
		Category: string(t.QuotaCategory()),
	}
	if payload.Category != "" {
		key.Category = payload.Category
	}
	if res.Refresh {
		n, err := e.Gate.Check(ctx, key)
		if errors.Is(err, quota.ErrExceeded) {
			log.InfoContext(ctx, "refresh rejected at gate", slog.String("category", key.Category), slog.Int("count", n))
			return Result{}, &QuotaExceededError{Date: key.Date, Category: key.Category, Count: n, Ceiling: e.Gate.Ceiling}
		}
		if err != nil {
			return Result{}, err
		}
	}

	c, err := e.Assemble(ctx, req.UserID)
	if err != nil {
		return Result{}, err
	}
	comp, err := t.Compose(ctx, e, c, payload)
	if err != nil {
		return Result{}, err
	}
	res.LanguageRouted = comp.LanguageRouted

	start := e.now()
	data, err := e.Generator.Generate(ctx, comp.Prompt)
	if err != nil {
		log.WarnContext(ctx, "generation failed", slog.Any("error", err))
		return Result{}, &GenerationError{Err: err}
	}
	log.InfoContext(ctx, "generation finished",
		slog.Duration("elapsed", e.now().Sub(start)),
		slog.Float64("temperature", comp.Prompt.Temperature),
		slog.Bool("language_routed", comp.LanguageRouted))
	res.Data = data

	if res.Refresh {
		n, err := e.Quota.Increment(ctx, key)
		switch {
		case errors.Is(err, quota.ErrExceeded):
			// Another refresh for the same key won between gate and increment.
			log.InfoContext(ctx, "refresh lost quota race", slog.String("category", key.Category))
			return Result{}, &QuotaExceededError{Date: key.Date, Category: key.Category, Count: e.Gate.Ceiling, Ceiling: e.Gate.Ceiling}
		case err != nil:
			res.Warnings = append(res.Warnings, PersistenceWarning{Op: "quota.increment", Category: key.Category, Err: err})
		default:
			res.QuotaCount = n
			e.appendEvent(ctx, events.TypeQuotaIncremented, req.UserID, "refresh_quota", key.Date+"/"+key.Category,
				events.EventPayload{"count": n, "request_id": res.RequestID})
		}
	}

	written, warnings := e.safePersist(ctx, c, comp, data)
	res.Fingerprints = written
	res.Warnings = append(res.Warnings, warnings...)
	e.recordWarnings(ctx, req.UserID, res.RequestID, res.Warnings)

	e.appendEvent(ctx, events.TypeGenerationCompleted, req.UserID, "request", res.RequestID, events.EventPayload{
		"task":            req.Type,
		"refresh":         res.Refresh,
		"language_routed": res.LanguageRouted,
		"fingerprints":    written,
		"warnings":        len(res.Warnings),
		"result":          data,
	})
	return res, nil
}

// safePersist keeps a panicking store from failing a request whose content
// was already generated.
func (e Engine) safePersist(ctx context.Context, c Context, comp composed, data json.RawMessage) (written int, warnings []PersistenceWarning) {
	defer func() {
		if r := recover(); r != nil {
			warnings = append(warnings, PersistenceWarning{Op: "fingerprint.upsert", Err: fmt.Errorf("panic: %v", r)})
		}
	}()
	return e.persistFingerprints(ctx, c, comp, data)
}

// Preview composes the prompt a request would send without calling the
// generation service or touching quota.
func (e Engine) Preview(ctx context.Context, req Request) (Context, []byte, error) {
	t, err := lookupTask(req.Type)
	if err != nil {
		return Context{}, nil, err
	}
	payload, err := decodePayload(req.Payload)
	if err != nil {
		return Context{}, nil, err
	}
	c, err := e.Assemble(ctx, req.UserID)
	if err != nil {
		return Context{}, nil, err
	}
	comp, err := t.Compose(ctx, e, c, payload)
	if err != nil {
		return Context{}, nil, err
	}
	out, err := json.MarshalIndent(comp.Prompt, "", "  ")
	return c, out, err
}
