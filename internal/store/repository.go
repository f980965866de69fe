/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the token-service needs: the permanent reward ledger, member wallet
 * lookup, and the staking records driven by the weekly yield job. Defining an
 * interface decouples the reward processor from PostgreSQL and lets tests use
 * hand-written stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: Operation identifiers.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/havenlabs/token-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Reward ledger. Entries are written once, after a terminal submission
	// outcome, and never deleted.
	CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
	FindLedgerEntryByKey(ctx context.Context, idempotencyKey string) (*domain.LedgerEntry, error)
	FindLedgerEntryByOperationID(ctx context.Context, operationID uuid.UUID) (*domain.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, opts domain.LedgerListOptions) ([]domain.LedgerEntry, error)
	LedgerTotals(ctx context.Context) (*domain.LedgerTotals, error)

	// Members map partner account references to custody wallets.
	FindMemberByRef(ctx context.Context, memberRef string) (*domain.Member, error)

	// Staking records for the weekly yield job.
	CreateStake(ctx context.Context, stake *domain.Stake) error
	ListActiveStakes(ctx context.Context) ([]domain.Stake, error)
}
