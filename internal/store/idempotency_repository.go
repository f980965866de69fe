/**
 * @description
 * Durable idempotency records in PostgreSQL, used by the guard as its fallback
 * when Redis is unreachable and as the write-through target on completion.
 * InsertInProgress leans on the primary-key constraint so two racing inserts
 * resolve to exactly one owner.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - internal/idempotency: Record and status types.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/havenlabs/token-service/internal/idempotency"
)

// IdempotencyRepository implements idempotency.Durable over PostgreSQL.
type IdempotencyRepository struct {
	db *pgxpool.Pool
}

// NewIdempotencyRepository creates a new instance of IdempotencyRepository.
func NewIdempotencyRepository(db *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// InsertInProgress claims rec.Key. Returns false when another request already
// holds the key.
func (r *IdempotencyRepository) InsertInProgress(ctx context.Context, rec idempotency.Record) (bool, error) {
	query := `
		INSERT INTO idempotency_records (key, fingerprint, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO NOTHING`
	tag, err := r.db.Exec(ctx, query, rec.Key, rec.Fingerprint, string(rec.Status), rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("insert idempotency record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get fetches the record for key.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (idempotency.Record, bool, error) {
	var rec idempotency.Record
	var result []byte
	query := `SELECT key, fingerprint, status, result, created_at, expires_at
		FROM idempotency_records WHERE key = $1`
	err := r.db.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.Fingerprint, &rec.Status, &result, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return idempotency.Record{}, false, nil
		}
		return idempotency.Record{}, false, fmt.Errorf("get idempotency record: %w", err)
	}
	rec.Result = json.RawMessage(result)
	return rec, true, nil
}

// MarkResolved stores the terminal status and result for key. Upserts so a
// completion that raced a cache-only acquisition still lands durably.
func (r *IdempotencyRepository) MarkResolved(ctx context.Context, key string, status idempotency.Status, result json.RawMessage) error {
	query := `
		INSERT INTO idempotency_records (key, fingerprint, status, result, created_at, expires_at)
		VALUES ($1, '', $2, $3, NOW(), NOW() + INTERVAL '24 hours')
		ON CONFLICT (key) DO UPDATE
		SET status = EXCLUDED.status, result = EXCLUDED.result`
	if _, err := r.db.Exec(ctx, query, key, string(status), []byte(result)); err != nil {
		return fmt.Errorf("resolve idempotency record: %w", err)
	}
	return nil
}
