/**
 * @description
 * This file defines the core domain models for the token-service: the Operation
 * requested against the HAVEN token contract, the per-try SubmissionAttempt and
 * terminal SubmissionResult produced by the transaction submitter, the permanent
 * LedgerEntry audit row, and the Outcome returned to API and webhook callers.
 *
 * @dependencies
 * - math/big, time: Standard Go libraries.
 * - github.com/google/uuid: For operation identifiers.
 * - github.com/ethereum/go-ethereum/common: For on-chain account addresses.
 */

package domain

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// OperationKind identifies the state change requested against the token contract.
type OperationKind string

const (
	OperationMint OperationKind = "mint"
	OperationBurn OperationKind = "burn"
)

// Operation is a single requested mint or burn. It is immutable once created:
// the reward processor builds it, the submitter consumes it, the ledger archives it.
type Operation struct {
	ID             uuid.UUID
	Kind           OperationKind
	Account        common.Address
	Amount         *big.Int // smallest token unit (18 decimals)
	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

// NewOperation validates and constructs an Operation.
func NewOperation(kind OperationKind, account common.Address, amount *big.Int, reason, idempotencyKey string) (Operation, error) {
	if kind != OperationMint && kind != OperationBurn {
		return Operation{}, &ValidationError{Field: "kind", Msg: fmt.Sprintf("unknown operation kind %q", kind)}
	}
	if amount == nil || amount.Sign() <= 0 {
		return Operation{}, &ValidationError{Field: "amount", Msg: "amount must be positive"}
	}
	if idempotencyKey == "" {
		return Operation{}, &ValidationError{Field: "idempotency_key", Msg: "idempotency key is required"}
	}
	return Operation{
		ID:             uuid.New(),
		Kind:           kind,
		Account:        account,
		Amount:         new(big.Int).Set(amount),
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// AttemptOutcome is the state of one broadcast try.
type AttemptOutcome string

const (
	AttemptPending         AttemptOutcome = "pending"
	AttemptConfirmed       AttemptOutcome = "confirmed"
	AttemptFailedRetryable AttemptOutcome = "failed_retryable"
	AttemptFailedFatal     AttemptOutcome = "failed_fatal"
)

// SubmissionAttempt records one try at broadcasting an Operation.
type SubmissionAttempt struct {
	Number      int
	Nonce       uint64
	Outcome     AttemptOutcome
	TxHash      string
	ErrorDetail string
	SubmittedAt time.Time
	ConfirmedAt time.Time
}

// SubmissionStatus is the terminal status of a submission loop.
type SubmissionStatus string

const (
	SubmissionConfirmed SubmissionStatus = "confirmed"
	SubmissionFailed    SubmissionStatus = "failed"
)

// SubmissionResult is the terminal outcome of driving one Operation on-chain.
// Exactly one of confirmed or failed is returned for every submit call.
type SubmissionResult struct {
	OperationID uuid.UUID
	Status      SubmissionStatus
	TxHash      string
	BlockNumber uint64
	Attempts    []SubmissionAttempt
	ErrorDetail string
}

// LedgerEntry is the permanent audit row for an Operation's final outcome.
// Written once, after the submitter reaches a terminal state; never deleted.
type LedgerEntry struct {
	OperationID    uuid.UUID
	IdempotencyKey string
	Kind           OperationKind
	Account        string
	Amount         *big.Int
	Reason         string
	Status         SubmissionStatus
	TxHash         string
	BlockNumber    uint64
	Attempts       int
	ErrorDetail    string
	Source         string
	CreatedAt      time.Time
	ConfirmedAt    *time.Time
}

// LedgerTotals aggregates the confirmed ledger for /token/stats.
type LedgerTotals struct {
	TotalMinted      *big.Int
	TotalBurned      *big.Int
	TotalOperations  int64
	ConfirmedEntries int64
	FailedEntries    int64
}

// LedgerListOptions narrows admin ledger queries.
type LedgerListOptions struct {
	Status string
	Kind   string
	Limit  int
	Offset int
}

// OutcomeStatus is the coarse status surfaced to the original caller.
type OutcomeStatus string

const (
	OutcomeConfirmed  OutcomeStatus = "confirmed"
	OutcomeFailed     OutcomeStatus = "failed"
	OutcomeDuplicate  OutcomeStatus = "duplicate"
	OutcomeConflict   OutcomeStatus = "conflict"
	OutcomeRetryLater OutcomeStatus = "retry_later"
	// OutcomeSkipped acknowledges an event that earns nothing, e.g. a review
	// below the bonus threshold. No operation ran.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is what webhook and API callers receive. ErrorDetail is a coarse,
// log-safe string, never a raw infrastructure error.
type Outcome struct {
	Status            OutcomeStatus `json:"status"`
	TransactionID     string        `json:"transaction_id,omitempty"`
	IdempotencyKey    string        `json:"idempotency_key,omitempty"`
	Amount            string        `json:"amount,omitempty"`
	ErrorDetail       string        `json:"error_detail,omitempty"`
	RetryAfterSeconds int           `json:"retry_after_seconds,omitempty"`
}

// Member maps a partner-facing account reference to a custody wallet.
type Member struct {
	ID            uuid.UUID
	MemberRef     string
	Email         string
	WalletAddress string
	KYCVerified   bool
	CreatedAt     time.Time
}

// Stake is an active governance stake accruing weekly yield.
type Stake struct {
	StakeID   string
	MemberRef string
	Amount    *big.Int
	Status    string
	StartedAt time.Time
}

// ValidationError rejects a malformed request before any side effect.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// IsValidation reports whether err is a request-validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
