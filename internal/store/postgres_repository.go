/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. Amounts are stored
 * as NUMERIC(78,0) in the token's smallest unit and moved through the driver
 * as decimal strings to keep big.Int precision intact.
 *
 * @dependencies
 * - context, errors, fmt, math/big, strings, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/havenlabs/token-service/internal/domain"
)

var (
	ErrMemberNotFound = errors.New("member not found")
	ErrEntryNotFound  = errors.New("ledger entry not found")
	ErrDuplicateEntry = errors.New("ledger entry already exists")
)

// PostgresRepository is the concrete Repository for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateLedgerEntry appends the permanent audit row for an operation. The
// unique constraint on idempotency_key makes double-writes an explicit error.
func (r *PostgresRepository) CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
			(operation_id, idempotency_key, kind, account, amount, reason, status,
			 tx_hash, block_number, attempts, error_detail, source, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.db.Exec(ctx, query,
		entry.OperationID, entry.IdempotencyKey, string(entry.Kind), entry.Account,
		entry.Amount.String(), entry.Reason, string(entry.Status),
		nullableText(entry.TxHash), entry.BlockNumber, entry.Attempts,
		nullableText(entry.ErrorDetail), entry.Source, entry.CreatedAt, entry.ConfirmedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("create ledger entry: %w", err)
	}
	return nil
}

const ledgerColumns = `operation_id, idempotency_key, kind, account, amount::text, reason,
	status, COALESCE(tx_hash, ''), block_number, attempts, COALESCE(error_detail, ''), source,
	created_at, confirmed_at`

// FindLedgerEntryByKey retrieves the entry recorded under an idempotency key.
func (r *PostgresRepository) FindLedgerEntryByKey(ctx context.Context, idempotencyKey string) (*domain.LedgerEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE idempotency_key = $1`, idempotencyKey)
	return scanLedgerEntry(row)
}

// FindLedgerEntryByOperationID retrieves the entry for one operation.
func (r *PostgresRepository) FindLedgerEntryByOperationID(ctx context.Context, operationID uuid.UUID) (*domain.LedgerEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE operation_id = $1`, operationID)
	return scanLedgerEntry(row)
}

// ListLedgerEntries returns entries for the admin view, newest first.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, opts domain.LedgerListOptions) ([]domain.LedgerEntry, error) {
	var conditions []string
	var args []interface{}
	if opts.Status != "" {
		args = append(args, opts.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.Kind != "" {
		args = append(args, opts.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, opts.Offset)
	query := fmt.Sprintf(`SELECT %s FROM ledger_entries%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		ledgerColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// LedgerTotals aggregates confirmed mints and burns for /token/stats.
func (r *PostgresRepository) LedgerTotals(ctx context.Context) (*domain.LedgerTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind = 'mint' AND status = 'confirmed'), 0)::text,
			COALESCE(SUM(amount) FILTER (WHERE kind = 'burn' AND status = 'confirmed'), 0)::text,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'confirmed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM ledger_entries`
	var mintedStr, burnedStr string
	totals := &domain.LedgerTotals{}
	err := r.db.QueryRow(ctx, query).Scan(&mintedStr, &burnedStr,
		&totals.TotalOperations, &totals.ConfirmedEntries, &totals.FailedEntries)
	if err != nil {
		return nil, fmt.Errorf("ledger totals: %w", err)
	}
	var ok bool
	if totals.TotalMinted, ok = new(big.Int).SetString(mintedStr, 10); !ok {
		return nil, fmt.Errorf("ledger totals: bad minted sum %q", mintedStr)
	}
	if totals.TotalBurned, ok = new(big.Int).SetString(burnedStr, 10); !ok {
		return nil, fmt.Errorf("ledger totals: bad burned sum %q", burnedStr)
	}
	return totals, nil
}

// FindMemberByRef resolves a partner-facing member reference to a wallet.
func (r *PostgresRepository) FindMemberByRef(ctx context.Context, memberRef string) (*domain.Member, error) {
	var m domain.Member
	query := `SELECT id, member_ref, COALESCE(email, ''), wallet_address, kyc_verified, created_at
		FROM members WHERE member_ref = $1`
	err := r.db.QueryRow(ctx, query, memberRef).Scan(
		&m.ID, &m.MemberRef, &m.Email, &m.WalletAddress, &m.KYCVerified, &m.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("find member: %w", err)
	}
	return &m, nil
}

// CreateStake records a new governance stake. Replayed webhooks are absorbed
// by the unique stake_id.
func (r *PostgresRepository) CreateStake(ctx context.Context, stake *domain.Stake) error {
	query := `
		INSERT INTO stakes (stake_id, member_ref, amount, status, started_at)
		VALUES ($1, $2, $3::numeric, $4, $5)
		ON CONFLICT (stake_id) DO NOTHING`
	_, err := r.db.Exec(ctx, query,
		stake.StakeID, stake.MemberRef, stake.Amount.String(), stake.Status, stake.StartedAt)
	if err != nil {
		return fmt.Errorf("create stake: %w", err)
	}
	return nil
}

// ListActiveStakes returns stakes eligible for weekly yield.
func (r *PostgresRepository) ListActiveStakes(ctx context.Context) ([]domain.Stake, error) {
	rows, err := r.db.Query(ctx,
		`SELECT stake_id, member_ref, amount::text, status, started_at FROM stakes WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("list active stakes: %w", err)
	}
	defer rows.Close()

	var stakes []domain.Stake
	for rows.Next() {
		var s domain.Stake
		var amountStr string
		if err := rows.Scan(&s.StakeID, &s.MemberRef, &amountStr, &s.Status, &s.StartedAt); err != nil {
			return nil, err
		}
		var ok bool
		if s.Amount, ok = new(big.Int).SetString(amountStr, 10); !ok {
			return nil, fmt.Errorf("stake %s: bad amount %q", s.StakeID, amountStr)
		}
		stakes = append(stakes, s)
	}
	return stakes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLedgerEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var amountStr string
	var confirmedAt *time.Time
	err := row.Scan(&e.OperationID, &e.IdempotencyKey, &e.Kind, &e.Account, &amountStr,
		&e.Reason, &e.Status, &e.TxHash, &e.BlockNumber, &e.Attempts, &e.ErrorDetail,
		&e.Source, &e.CreatedAt, &confirmedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	var ok bool
	if e.Amount, ok = new(big.Int).SetString(amountStr, 10); !ok {
		return nil, fmt.Errorf("ledger entry %s: bad amount %q", e.OperationID, amountStr)
	}
	e.ConfirmedAt = confirmedAt
	return &e, nil
}

func nullableText(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
