/**
 * @description
 * The reward processor: the single path every token mint and burn goes through.
 * It validates the event, resolves the member's wallet, claims the idempotency
 * key, drives the submission to a terminal outcome, writes the permanent ledger
 * row, resolves the idempotency record, and publishes the outcome event.
 *
 * The ledger row is written only after the submitter reaches a terminal state,
 * so the ledger never shows an operation that is still in flight.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/common: Wallet address validation.
 * - github.com/rs/zerolog: Structured logging.
 * - internal/domain, internal/idempotency, internal/store: The core types.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/havenlabs/token-service/internal/domain"
	"github.com/havenlabs/token-service/internal/idempotency"
	"github.com/havenlabs/token-service/internal/metrics"
	"github.com/havenlabs/token-service/internal/rewards"
	"github.com/havenlabs/token-service/internal/store"
)

// TokenSubmitter drives one operation to a terminal on-chain outcome.
type TokenSubmitter interface {
	Submit(ctx context.Context, op domain.Operation) domain.SubmissionResult
}

// Publisher publishes outcome events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// EventsExchange is the topic exchange all outcome events go to.
const EventsExchange = "haven.events"

const retryAfterSeconds = 5

// Service coordinates the reward pipeline end to end.
type Service struct {
	repo      store.Repository
	guard     *idempotency.Guard
	submitter TokenSubmitter
	publisher Publisher
	log       zerolog.Logger
}

// NewService creates the reward processor.
func NewService(repo store.Repository, guard *idempotency.Guard, submitter TokenSubmitter, publisher Publisher, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		guard:     guard,
		submitter: submitter,
		publisher: publisher,
		log:       log.With().Str("component", "reward_processor").Logger(),
	}
}

// Process takes one reward event to a terminal outcome. The error return is
// non-nil only for validation failures and idempotency-store outages; a failed
// on-chain submission is a valid outcome, not an error.
func (s *Service) Process(ctx context.Context, event domain.RewardEvent) (domain.Outcome, error) {
	if event.Amount == nil || event.Amount.Sign() <= 0 {
		return domain.Outcome{}, &domain.ValidationError{Field: "amount", Msg: "amount must be positive"}
	}

	key, err := s.resolveKey(event)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !idempotency.ValidKey(key) {
		return domain.Outcome{}, &domain.ValidationError{Field: "idempotency_key", Msg: idempotency.ErrInvalidKey.Error()}
	}

	account, err := s.resolveAccount(ctx, event.AccountRef)
	if err != nil {
		return domain.Outcome{}, err
	}

	fingerprint := event.Fingerprint()
	acq, err := s.guard.Acquire(ctx, key, fingerprint)
	if err != nil {
		if errors.Is(err, idempotency.ErrInvalidKey) {
			return domain.Outcome{}, &domain.ValidationError{Field: "idempotency_key", Msg: err.Error()}
		}
		return domain.Outcome{}, err
	}

	switch acq.Decision {
	case idempotency.Duplicate:
		return s.replay(event, key, acq.Stored), nil
	case idempotency.Conflict:
		s.count(event, domain.OutcomeConflict)
		return domain.Outcome{
			Status:         domain.OutcomeConflict,
			IdempotencyKey: key,
			ErrorDetail:    "idempotency key was already used with different parameters",
		}, nil
	case idempotency.RetryLater:
		s.count(event, domain.OutcomeRetryLater)
		return domain.Outcome{
			Status:            domain.OutcomeRetryLater,
			IdempotencyKey:    key,
			ErrorDetail:       "an identical request is still being processed",
			RetryAfterSeconds: retryAfterSeconds,
		}, nil
	}

	op, err := domain.NewOperation(event.Kind, account, event.Amount, event.Reason, key)
	if err != nil {
		// The key is claimed but the operation never ran; release it as failed
		// so a corrected retry with a new key is not blocked by this one.
		s.resolve(ctx, key, fingerprint, idempotency.StatusFailed, domain.Outcome{
			Status:         domain.OutcomeFailed,
			IdempotencyKey: key,
			ErrorDetail:    err.Error(),
		})
		return domain.Outcome{}, err
	}

	result := s.submitter.Submit(ctx, op)
	outcome := s.finish(ctx, event, op, result)
	s.resolve(ctx, key, fingerprint, terminalStatus(result.Status), outcome)
	s.publish(ctx, event, outcome)
	s.count(event, outcome.Status)
	return outcome, nil
}

// resolveKey applies the burn/mint key rules: burns must carry an explicit
// idempotency key, mints without one get a deterministic source-derived key.
func (s *Service) resolveKey(event domain.RewardEvent) (string, error) {
	if event.IdempotencyKey != "" {
		return event.IdempotencyKey, nil
	}
	if event.Kind == domain.OperationBurn {
		return "", &domain.ValidationError{Field: "idempotency_key", Msg: "burn operations require an explicit idempotency key"}
	}
	if event.Source == "" || event.SourceID == "" {
		return "", &domain.ValidationError{Field: "idempotency_key", Msg: "idempotency key is required when the event has no source id"}
	}
	return fmt.Sprintf("mint_%s_%s", event.Source, event.SourceID), nil
}

// resolveAccount accepts either a raw wallet address or a member reference.
func (s *Service) resolveAccount(ctx context.Context, accountRef string) (common.Address, error) {
	if accountRef == "" {
		return common.Address{}, &domain.ValidationError{Field: "account", Msg: "account reference is required"}
	}
	if common.IsHexAddress(accountRef) {
		return common.HexToAddress(accountRef), nil
	}
	member, err := s.repo.FindMemberByRef(ctx, accountRef)
	if err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			return common.Address{}, &domain.ValidationError{Field: "account", Msg: fmt.Sprintf("unknown member %q", accountRef)}
		}
		return common.Address{}, fmt.Errorf("resolve member %s: %w", accountRef, err)
	}
	if !common.IsHexAddress(member.WalletAddress) {
		return common.Address{}, &domain.ValidationError{Field: "account", Msg: fmt.Sprintf("member %q has no valid wallet", accountRef)}
	}
	return common.HexToAddress(member.WalletAddress), nil
}

// finish writes the ledger row for a terminal submission and shapes the outcome.
func (s *Service) finish(ctx context.Context, event domain.RewardEvent, op domain.Operation, result domain.SubmissionResult) domain.Outcome {
	entry := &domain.LedgerEntry{
		OperationID:    op.ID,
		IdempotencyKey: op.IdempotencyKey,
		Kind:           op.Kind,
		Account:        op.Account.Hex(),
		Amount:         op.Amount,
		Reason:         op.Reason,
		Status:         result.Status,
		TxHash:         result.TxHash,
		BlockNumber:    result.BlockNumber,
		Attempts:       len(result.Attempts),
		ErrorDetail:    result.ErrorDetail,
		Source:         event.Source,
		CreatedAt:      op.CreatedAt,
	}
	if result.Status == domain.SubmissionConfirmed {
		now := time.Now().UTC()
		entry.ConfirmedAt = &now
	}
	if err := s.repo.CreateLedgerEntry(ctx, entry); err != nil && !errors.Is(err, store.ErrDuplicateEntry) {
		s.log.Error().Err(err).Str("operation_id", op.ID.String()).Msg("ledger write failed")
	}

	outcome := domain.Outcome{
		IdempotencyKey: op.IdempotencyKey,
		Amount:         domain.FormatAmount(op.Amount),
	}
	if result.Status == domain.SubmissionConfirmed {
		outcome.Status = domain.OutcomeConfirmed
		outcome.TransactionID = result.TxHash
	} else {
		outcome.Status = domain.OutcomeFailed
		outcome.ErrorDetail = "transaction could not be confirmed"
	}
	return outcome
}

// resolve writes the terminal idempotency record. A failure here is logged and
// swallowed: the caller already has the real outcome and the ledger row exists.
func (s *Service) resolve(ctx context.Context, key, fingerprint string, status idempotency.Status, outcome domain.Outcome) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("outcome marshal failed")
		return
	}
	if err := s.guard.Complete(ctx, key, fingerprint, status, payload); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("idempotency completion failed")
	}
}

// replay returns the first request's stored outcome verbatim, so a repeated
// delivery observes the same status and transaction id as the original caller.
// Only records without a readable payload fall back to a bare duplicate
// acknowledgement.
func (s *Service) replay(event domain.RewardEvent, key string, stored json.RawMessage) domain.Outcome {
	s.count(event, domain.OutcomeDuplicate)
	outcome := domain.Outcome{Status: domain.OutcomeDuplicate, IdempotencyKey: key}
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &outcome); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("stored outcome unreadable")
			return domain.Outcome{Status: domain.OutcomeDuplicate, IdempotencyKey: key}
		}
	}
	return outcome
}

func (s *Service) publish(ctx context.Context, event domain.RewardEvent, outcome domain.Outcome) {
	if s.publisher == nil {
		return
	}
	routingKey := fmt.Sprintf("reward.outcome.%s", outcome.Status)
	payload := struct {
		domain.Outcome
		Source    string    `json:"source"`
		SourceID  string    `json:"source_id,omitempty"`
		Kind      string    `json:"kind"`
		Timestamp time.Time `json:"timestamp"`
	}{outcome, event.Source, event.SourceID, string(event.Kind), time.Now().UTC()}
	if err := s.publisher.Publish(ctx, EventsExchange, routingKey, payload); err != nil {
		s.log.Warn().Err(err).Str("routing_key", routingKey).Msg("outcome publish failed")
	}
}

func (s *Service) count(event domain.RewardEvent, status domain.OutcomeStatus) {
	metrics.RewardsProcessed.WithLabelValues(event.Source, string(event.Kind), string(status)).Inc()
}

func terminalStatus(status domain.SubmissionStatus) idempotency.Status {
	if status == domain.SubmissionConfirmed {
		return idempotency.StatusCompleted
	}
	return idempotency.StatusFailed
}

// RunStakingRewards mints the weekly yield for every active stake. The key is
// derived from the stake and the ISO week, so re-running the job inside the
// same week replays instead of double paying.
func (s *Service) RunStakingRewards(ctx context.Context, now time.Time) error {
	stakes, err := s.repo.ListActiveStakes(ctx)
	if err != nil {
		return fmt.Errorf("list active stakes: %w", err)
	}

	year, week := now.UTC().ISOWeek()
	var firstErr error
	for _, stake := range stakes {
		yield := rewards.StakingYieldWei(stake.Amount)
		if yield.Sign() <= 0 {
			continue
		}
		event := domain.RewardEvent{
			Kind:           domain.OperationMint,
			Source:         domain.SourceJob,
			SourceID:       stake.StakeID,
			AccountRef:     stake.MemberRef,
			Amount:         yield,
			Reason:         "Weekly staking yield",
			IdempotencyKey: fmt.Sprintf("staking_%s_%04d-W%02d", stake.StakeID, year, week),
		}
		outcome, err := s.Process(ctx, event)
		if err != nil {
			s.log.Error().Err(err).Str("stake_id", stake.StakeID).Msg("staking yield failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.log.Info().
			Str("stake_id", stake.StakeID).
			Str("status", string(outcome.Status)).
			Str("amount", outcome.Amount).
			Msg("staking yield processed")
	}
	return firstErr
}
