// Package quota implements the per-user, per-day, per-category refresh limit.
//
// The pipeline only sees Incrementer; which backing is active is decided once
// at startup from configuration.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"missionline/internal/config"
	"missionline/internal/repo"
)

// ErrExceeded means the counter for the key has reached the ceiling.
var ErrExceeded = errors.New("refresh quota exceeded")

// ErrIncrementUnsupported is returned by a backing that cannot increment
// atomically on the current store.
var ErrIncrementUnsupported = errors.New("atomic increment unsupported")

// Key identifies one counter.
type Key = repo.QuotaKey

// Store is the subset of the repository the quota backings use.
type Store interface {
	GetRefreshQuota(ctx context.Context, key repo.QuotaKey) (int, error)
	IncrementRefreshQuota(ctx context.Context, key repo.QuotaKey, ceiling int) (int, error)
	PutRefreshQuota(ctx context.Context, key repo.QuotaKey, count int) error
}

// Incrementer bumps a counter and returns its new value. Implementations
// return ErrExceeded instead of moving past the ceiling.
type Incrementer interface {
	Increment(ctx context.Context, key Key) (int, error)
}

// Counter reads counters for the gate.
type Counter interface {
	Count(ctx context.Context, key Key) (int, error)
}

// RepoStore adapts repo.Repo to Store.
type RepoStore struct {
	Repo repo.Repo
}

func (s RepoStore) GetRefreshQuota(ctx context.Context, key repo.QuotaKey) (int, error) {
	q, err := s.Repo.GetRefreshQuota(ctx, key)
	if err != nil {
		return 0, err
	}
	return q.Count, nil
}

// IncrementRefreshQuota reports ErrIncrementUnsupported when the database
// rejects the conditional upsert syntax (SQLite before 3.35).
func (s RepoStore) IncrementRefreshQuota(ctx context.Context, key repo.QuotaKey, ceiling int) (int, error) {
	n, err := s.Repo.IncrementRefreshQuota(ctx, key, ceiling)
	if err != nil && isSyntaxError(err) {
		return 0, fmt.Errorf("%w: %v", ErrIncrementUnsupported, err)
	}
	return n, err
}

func isSyntaxError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "syntax error") && (strings.Contains(msg, "returning") || strings.Contains(msg, "on conflict"))
}

func (s RepoStore) PutRefreshQuota(ctx context.Context, key repo.QuotaKey, count int) error {
	return s.Repo.PutRefreshQuota(ctx, key, count)
}

// Atomic increments with a single conditional upsert.
type Atomic struct {
	Store   Store
	Ceiling int
}

func (a Atomic) Increment(ctx context.Context, key Key) (int, error) {
	n, err := a.Store.IncrementRefreshQuota(ctx, key, a.Ceiling)
	if errors.Is(err, repo.ErrQuotaCeiling) {
		return n, ErrExceeded
	}
	return n, err
}

// ReadUpsert reads the counter and writes it back plus one. Two concurrent
// callers can both read the same value and both succeed; this backing is only
// safe at single-user interaction rates.
type ReadUpsert struct {
	Store   Store
	Ceiling int
}

func (r ReadUpsert) Increment(ctx context.Context, key Key) (int, error) {
	current, err := r.Store.GetRefreshQuota(ctx, key)
	if err != nil {
		return 0, err
	}
	if current >= r.Ceiling {
		return current, ErrExceeded
	}
	next := current + 1
	if err := r.Store.PutRefreshQuota(ctx, key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Fallback tries Primary and switches to Secondary when Primary reports
// ErrIncrementUnsupported.
type Fallback struct {
	Primary   Incrementer
	Secondary Incrementer
}

func (f Fallback) Increment(ctx context.Context, key Key) (int, error) {
	n, err := f.Primary.Increment(ctx, key)
	if errors.Is(err, ErrIncrementUnsupported) {
		return f.Secondary.Increment(ctx, key)
	}
	return n, err
}

// StoreCounter reads counters straight from the store.
type StoreCounter struct {
	Store Store
}

func (c StoreCounter) Count(ctx context.Context, key Key) (int, error) {
	return c.Store.GetRefreshQuota(ctx, key)
}

// Gate rejects a refresh before any paid work happens.
type Gate struct {
	Counter Counter
	Ceiling int
}

// Check returns the current count, or ErrExceeded when it is at the ceiling.
func (g Gate) Check(ctx context.Context, key Key) (int, error) {
	n, err := g.Counter.Count(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read refresh quota: %w", err)
	}
	if n >= g.Ceiling {
		return n, ErrExceeded
	}
	return n, nil
}

// NewIncrementer builds the backing named by cfg.Quota.Incrementer.
func NewIncrementer(cfg *config.Config, store Store) (Incrementer, error) {
	ceiling := cfg.Quota.RefreshCeiling
	atomic := Atomic{Store: store, Ceiling: ceiling}
	readUpsert := ReadUpsert{Store: store, Ceiling: ceiling}
	switch cfg.Quota.Incrementer {
	case config.IncrementerAtomic:
		return atomic, nil
	case config.IncrementerReadUpsert:
		return readUpsert, nil
	case config.IncrementerFallback, "":
		return Fallback{Primary: atomic, Secondary: readUpsert}, nil
	default:
		return nil, fmt.Errorf("unknown quota incrementer %q", cfg.Quota.Incrementer)
	}
}
