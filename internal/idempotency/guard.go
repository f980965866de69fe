/**
 * @description
 * The idempotency guard ensures a given key executes its side-effecting
 * operation at most once, across retries, concurrent duplicates and process
 * restarts. The fast path is a Redis record created atomically with SETNX and
 * a 24h TTL; the durable fallback is the ledger-backed Postgres store, used
 * when Redis is unreachable and as the write-through target on completion so
 * the guard survives cache eviction.
 *
 * The durable store is consulted before any key is claimed; when it cannot be
 * read the guard fails closed: it never guesses and proceeds.
 *
 * @dependencies
 * - context, encoding/json, regexp, time: Standard Go libraries.
 * - github.com/rs/zerolog: Structured logging.
 */

package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenlabs/token-service/internal/metrics"
)

// Status of an idempotency record.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record binds an idempotency key to the outcome of the first request that
// used it.
type Record struct {
	Key         string          `json:"key"`
	Fingerprint string          `json:"fingerprint"`
	Status      Status          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

func (r Record) resolved() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Cache is the fast-path store. Add must be an atomic create-if-absent.
type Cache interface {
	Add(ctx context.Context, key string, rec Record, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (Record, bool, error)
	Set(ctx context.Context, key string, rec Record, ttl time.Duration) error
}

// Durable is the slower fallback store that survives cache eviction.
// InsertInProgress must rely on a uniqueness constraint for atomicity.
type Durable interface {
	InsertInProgress(ctx context.Context, rec Record) (bool, error)
	Get(ctx context.Context, key string) (Record, bool, error)
	MarkResolved(ctx context.Context, key string, status Status, result json.RawMessage) error
}

// Decision of an acquisition.
type Decision int

const (
	// Proceed: the caller owns the key and must execute the operation.
	Proceed Decision = iota
	// Duplicate: the operation already resolved; Stored holds its result.
	Duplicate
	// Conflict: the key was used before with different parameters.
	Conflict
	// RetryLater: the original request is still in flight; the caller
	// should come back, not execute.
	RetryLater
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Duplicate:
		return "duplicate"
	case Conflict:
		return "conflict"
	default:
		return "retry_later"
	}
}

// Acquisition is the result of Acquire.
type Acquisition struct {
	Decision Decision
	Stored   json.RawMessage
}

var (
	// ErrInvalidKey rejects keys outside the 8-64 char [A-Za-z0-9_-] set.
	ErrInvalidKey = errors.New("idempotency key must be 8-64 characters of [A-Za-z0-9_-]")
	// ErrStoreUnavailable means neither the cache nor the durable store could
	// be consulted. The request must fail rather than risk double execution.
	ErrStoreUnavailable = errors.New("idempotency stores unavailable")
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// ValidKey reports whether key satisfies the allowed format.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Config tunes retention and the bounded duplicate wait.
type Config struct {
	TTL          time.Duration // record retention on the fast path
	WaitTimeout  time.Duration // how long a concurrent duplicate is held
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = 5 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	return c
}

// Guard is the idempotency gatekeeper in front of the reward processor.
type Guard struct {
	cache   Cache
	durable Durable
	cfg     Config
	log     zerolog.Logger
}

// NewGuard builds a guard over the fast-path cache and durable fallback.
func NewGuard(cache Cache, durable Durable, cfg Config, log zerolog.Logger) *Guard {
	return &Guard{
		cache:   cache,
		durable: durable,
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "idempotency").Logger(),
	}
}

// Acquire claims key for the caller, or reports how the key was already used.
func (g *Guard) Acquire(ctx context.Context, key, fingerprint string) (Acquisition, error) {
	if !ValidKey(key) {
		return Acquisition{}, ErrInvalidKey
	}

	now := time.Now().UTC()
	rec := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusInProgress,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.cfg.TTL),
	}

	// The durable store is the source of truth: a completed record older than
	// the cache TTL, or an owner that acquired while the cache was down, may
	// exist only there. An unreadable durable store fails closed rather than
	// guessing that the key is fresh.
	prior, found, derr := g.durable.Get(ctx, key)
	if derr != nil {
		g.log.Warn().Err(derr).Str("key", key).Msg("durable read failed")
		return Acquisition{}, ErrStoreUnavailable
	}
	if found {
		if prior.resolved() {
			_ = g.cache.Set(ctx, key, prior, g.cfg.TTL)
			return g.decide(prior, fingerprint)
		}
		if prior.Fingerprint != "" && prior.Fingerprint != fingerprint {
			metrics.IdempotencyDecisions.WithLabelValues(Conflict.String()).Inc()
			return Acquisition{Decision: Conflict}, nil
		}
		// The original is still in flight; hold the duplicate instead of
		// executing a second time.
		return g.waitForOriginal(ctx, key, fingerprint)
	}

	created, err := g.cache.Add(ctx, key, rec, g.cfg.TTL)
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("cache unreachable, using durable fallback")
		metrics.IdempotencyFallbacks.Inc()
		return g.acquireDurable(ctx, rec)
	}
	if created {
		metrics.IdempotencyDecisions.WithLabelValues(Proceed.String()).Inc()
		return Acquisition{Decision: Proceed}, nil
	}

	existing, found, err := g.cache.Get(ctx, key)
	if err != nil || !found {
		if err != nil {
			g.log.Warn().Err(err).Str("key", key).Msg("cache read failed, using durable fallback")
		}
		metrics.IdempotencyFallbacks.Inc()
		return g.acquireDurable(ctx, rec)
	}

	if existing.Fingerprint != fingerprint {
		metrics.IdempotencyDecisions.WithLabelValues(Conflict.String()).Inc()
		return Acquisition{Decision: Conflict}, nil
	}
	if existing.resolved() {
		metrics.IdempotencyDecisions.WithLabelValues(Duplicate.String()).Inc()
		return Acquisition{Decision: Duplicate, Stored: existing.Result}, nil
	}
	return g.waitForOriginal(ctx, key, fingerprint)
}

// decide maps a resolved prior record onto the caller's acquisition. A record
// written only by the completion upsert carries no fingerprint and cannot
// prove a conflict, so it replays.
func (g *Guard) decide(prior Record, fingerprint string) (Acquisition, error) {
	if prior.Fingerprint != "" && prior.Fingerprint != fingerprint {
		metrics.IdempotencyDecisions.WithLabelValues(Conflict.String()).Inc()
		return Acquisition{Decision: Conflict}, nil
	}
	metrics.IdempotencyDecisions.WithLabelValues(Duplicate.String()).Inc()
	return Acquisition{Decision: Duplicate, Stored: prior.Result}, nil
}

// acquireDurable is the slower path taken when the cache is unreachable.
func (g *Guard) acquireDurable(ctx context.Context, rec Record) (Acquisition, error) {
	created, err := g.durable.InsertInProgress(ctx, rec)
	if err != nil {
		return Acquisition{}, ErrStoreUnavailable
	}
	if created {
		metrics.IdempotencyDecisions.WithLabelValues(Proceed.String()).Inc()
		return Acquisition{Decision: Proceed}, nil
	}
	existing, found, err := g.durable.Get(ctx, rec.Key)
	if err != nil || !found {
		return Acquisition{}, ErrStoreUnavailable
	}
	if existing.resolved() {
		return g.decide(existing, rec.Fingerprint)
	}
	if existing.Fingerprint != rec.Fingerprint {
		metrics.IdempotencyDecisions.WithLabelValues(Conflict.String()).Inc()
		return Acquisition{Decision: Conflict}, nil
	}
	metrics.IdempotencyDecisions.WithLabelValues(RetryLater.String()).Inc()
	return Acquisition{Decision: RetryLater}, nil
}

// waitForOriginal blocks a concurrent duplicate for a short bounded window.
// If the original resolves in time the duplicate gets its result; otherwise
// the duplicate is told to retry later rather than executing twice.
func (g *Guard) waitForOriginal(ctx context.Context, key, fingerprint string) (Acquisition, error) {
	deadline := time.Now().Add(g.cfg.WaitTimeout)
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			metrics.IdempotencyDecisions.WithLabelValues(RetryLater.String()).Inc()
			return Acquisition{Decision: RetryLater}, nil
		case <-ticker.C:
		}
		existing, found, err := g.cache.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		if existing.Fingerprint != fingerprint {
			metrics.IdempotencyDecisions.WithLabelValues(Conflict.String()).Inc()
			return Acquisition{Decision: Conflict}, nil
		}
		if existing.resolved() {
			metrics.IdempotencyDecisions.WithLabelValues(Duplicate.String()).Inc()
			return Acquisition{Decision: Duplicate, Stored: existing.Result}, nil
		}
	}
	metrics.IdempotencyDecisions.WithLabelValues(RetryLater.String()).Inc()
	return Acquisition{Decision: RetryLater}, nil
}

// Complete resolves key with the terminal result. The durable write-through is
// what lets the guard survive cache restarts; a cache write failure only costs
// fast-path hits.
func (g *Guard) Complete(ctx context.Context, key, fingerprint string, status Status, result json.RawMessage) error {
	if status != StatusCompleted && status != StatusFailed {
		return errors.New("complete requires a terminal status")
	}
	now := time.Now().UTC()
	rec := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      status,
		Result:      result,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.cfg.TTL),
	}
	if err := g.cache.Set(ctx, key, rec, g.cfg.TTL); err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("cache write-back failed")
	}
	if err := g.durable.MarkResolved(ctx, key, status, result); err != nil {
		return err
	}
	return nil
}
