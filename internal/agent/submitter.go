/**
 * @description
 * The transaction submitter drives one Operation through one or more
 * submission attempts until a terminal outcome. Each attempt reserves a fresh
 * nonce, builds and signs the contract call, broadcasts it through the circuit
 * breaker, and polls for the receipt under a confirmation timeout that is
 * independent of the attempt loop. Failures are classified by the retry
 * policy; a nonce whose broadcast was rejected outright is released back to
 * the allocator, while a broadcast the pool accepted keeps its nonce even if
 * confirmation later times out.
 *
 * Exactly one of confirmed or failed is returned for every call.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum: Transaction types and node interface.
 * - github.com/rs/zerolog: Structured logging.
 * - internal/domain: Operation and submission models.
 */

package agent

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/havenlabs/token-service/internal/domain"
	"github.com/havenlabs/token-service/internal/metrics"
)

// ErrConfirmationTimeout means a broadcast transaction did not confirm within
// the wait window. Classified retryable.
var ErrConfirmationTimeout = errors.New("confirmation wait timed out")

// Backend is the slice of the blockchain node the submitter depends on.
// pkg/chainclient implements it against a real node.
type Backend interface {
	NonceSource
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	MintCalldata(to common.Address, amount *big.Int, reason string) ([]byte, error)
	BurnCalldata(from common.Address, amount *big.Int, reason string) ([]byte, error)
	ContractAddress() common.Address
}

// SubmitterConfig tunes the attempt loop. Zero values fall back to defaults.
type SubmitterConfig struct {
	Policy           Policy
	GasLimitMint     uint64
	GasLimitBurn     uint64
	BroadcastTimeout time.Duration
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
}

func (c SubmitterConfig) withDefaults() SubmitterConfig {
	if c.Policy.MaxAttempts == 0 {
		c.Policy = DefaultPolicy()
	}
	if c.GasLimitMint == 0 {
		c.GasLimitMint = 150_000
	}
	if c.GasLimitBurn == 0 {
		c.GasLimitBurn = 100_000
	}
	if c.BroadcastTimeout == 0 {
		c.BroadcastTimeout = 15 * time.Second
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = 2 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	return c
}

// Submitter builds, signs, broadcasts and confirms token contract calls.
type Submitter struct {
	backend Backend
	signer  *Signer
	nonces  *NonceAllocator
	breaker *CircuitBreaker
	cfg     SubmitterConfig
	log     zerolog.Logger
}

// NewSubmitter wires the submitter's collaborators.
func NewSubmitter(backend Backend, signer *Signer, nonces *NonceAllocator, breaker *CircuitBreaker, cfg SubmitterConfig, log zerolog.Logger) *Submitter {
	return &Submitter{
		backend: backend,
		signer:  signer,
		nonces:  nonces,
		breaker: breaker,
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "submitter").Logger(),
	}
}

// Submit drives op to a terminal outcome.
func (s *Submitter) Submit(ctx context.Context, op domain.Operation) domain.SubmissionResult {
	result := domain.SubmissionResult{OperationID: op.ID}
	from := s.signer.Address()

	var lastErr error
	var lastGasPrice *big.Int
	bumpGas := false

	for attempt := 1; attempt <= s.cfg.Policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if !sleepCtx(ctx, s.cfg.Policy.NextDelay(attempt-1)) {
				return s.failed(result, fmt.Errorf("canceled while backing off: %w", ctx.Err()))
			}
		}

		nonce, err := s.nonces.Reserve(ctx, from)
		if err != nil {
			// No resync, no broadcast. Fail closed.
			return s.failed(result, err)
		}

		gasPrice, err := s.gasPrice(ctx, lastGasPrice, bumpGas)
		if err != nil {
			// The attempt slot is consumed, so the ledger must see it.
			s.nonces.Release(from, nonce)
			lastErr = err
			class := Classify(err)
			rec := domain.SubmissionAttempt{
				Number:      attempt,
				Nonce:       nonce,
				Outcome:     domain.AttemptFailedRetryable,
				SubmittedAt: time.Now().UTC(),
				ErrorDetail: err.Error(),
			}
			if class == Fatal {
				rec.Outcome = domain.AttemptFailedFatal
			}
			result.Attempts = append(result.Attempts, rec)
			metrics.SubmissionAttempts.WithLabelValues(string(rec.Outcome)).Inc()

			s.log.Warn().
				Int("attempt", attempt).
				Str("classification", class.String()).
				Err(err).
				Msg("gas price fetch failed")

			if class == Fatal || attempt == s.cfg.Policy.MaxAttempts {
				return s.failed(result, err)
			}
			continue
		}
		lastGasPrice = gasPrice
		bumpGas = false

		signed, err := s.buildSigned(op, nonce, gasPrice)
		if err != nil {
			s.nonces.Release(from, nonce)
			return s.failed(result, err)
		}

		rec := domain.SubmissionAttempt{
			Number:      attempt,
			Nonce:       nonce,
			Outcome:     domain.AttemptPending,
			SubmittedAt: time.Now().UTC(),
		}

		err = s.breaker.Do(func() error {
			bctx, cancel := context.WithTimeout(ctx, s.cfg.BroadcastTimeout)
			defer cancel()
			return s.backend.SendTransaction(bctx, signed)
		})
		if err != nil {
			// The pool never accepted this nonce; hand it back.
			s.nonces.Release(from, nonce)
			if IsNonceError(err) {
				s.nonces.Invalidate(from)
			}
			lastErr = err
			class := Classify(err)
			rec.Outcome = domain.AttemptFailedRetryable
			if class == Fatal {
				rec.Outcome = domain.AttemptFailedFatal
			}
			rec.ErrorDetail = err.Error()
			result.Attempts = append(result.Attempts, rec)
			metrics.SubmissionAttempts.WithLabelValues(string(rec.Outcome)).Inc()

			s.log.Warn().
				Int("attempt", attempt).
				Uint64("nonce", nonce).
				Str("classification", class.String()).
				Err(err).
				Msg("broadcast failed")

			if class == Fatal || attempt == s.cfg.Policy.MaxAttempts {
				return s.failed(result, err)
			}
			bumpGas = IsGasUnderpriced(err)
			continue
		}

		txHash := signed.Hash()
		rec.TxHash = txHash.Hex()
		s.log.Info().
			Int("attempt", attempt).
			Uint64("nonce", nonce).
			Str("tx_hash", rec.TxHash).
			Str("kind", string(op.Kind)).
			Msg("transaction broadcast")

		receipt, err := s.waitConfirmed(ctx, txHash)
		if err != nil {
			// Accepted by the pool: the nonce is spoken for, do not release.
			lastErr = err
			class := Classify(err)
			rec.Outcome = domain.AttemptFailedRetryable
			if class == Fatal {
				rec.Outcome = domain.AttemptFailedFatal
			}
			rec.ErrorDetail = err.Error()
			result.Attempts = append(result.Attempts, rec)
			metrics.SubmissionAttempts.WithLabelValues(string(rec.Outcome)).Inc()

			s.log.Warn().
				Int("attempt", attempt).
				Str("tx_hash", rec.TxHash).
				Err(err).
				Msg("confirmation wait failed")

			if class == Fatal || attempt == s.cfg.Policy.MaxAttempts {
				return s.failed(result, err)
			}
			continue
		}

		s.nonces.ConfirmUsed(from, nonce)
		rec.ConfirmedAt = time.Now().UTC()
		metrics.ConfirmationSeconds.Observe(rec.ConfirmedAt.Sub(rec.SubmittedAt).Seconds())

		if receipt.Status != types.ReceiptStatusSuccessful {
			rec.Outcome = domain.AttemptFailedFatal
			rec.ErrorDetail = "transaction reverted"
			result.Attempts = append(result.Attempts, rec)
			metrics.SubmissionAttempts.WithLabelValues(string(rec.Outcome)).Inc()
			return s.failed(result, fmt.Errorf("transaction %s reverted", rec.TxHash))
		}

		rec.Outcome = domain.AttemptConfirmed
		result.Attempts = append(result.Attempts, rec)
		metrics.SubmissionAttempts.WithLabelValues(string(rec.Outcome)).Inc()

		result.Status = domain.SubmissionConfirmed
		result.TxHash = rec.TxHash
		if receipt.BlockNumber != nil {
			result.BlockNumber = receipt.BlockNumber.Uint64()
		}
		s.log.Info().
			Str("tx_hash", result.TxHash).
			Uint64("block", result.BlockNumber).
			Int("attempts", attempt).
			Msg("transaction confirmed")
		return result
	}

	return s.failed(result, lastErr)
}

func (s *Submitter) failed(result domain.SubmissionResult, err error) domain.SubmissionResult {
	result.Status = domain.SubmissionFailed
	if err != nil {
		result.ErrorDetail = err.Error()
	}
	return result
}

// gasPrice asks the node for the current price and, after an underpriced
// failure, offers at least 120% of the previous attempt's price.
func (s *Submitter) gasPrice(ctx context.Context, last *big.Int, bump bool) (*big.Int, error) {
	var suggested *big.Int
	err := s.breaker.Do(func() error {
		bctx, cancel := context.WithTimeout(ctx, s.cfg.BroadcastTimeout)
		defer cancel()
		var gerr error
		suggested, gerr = s.backend.SuggestGasPrice(bctx)
		return gerr
	})
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	if bump && last != nil {
		bumped := new(big.Int).Div(new(big.Int).Mul(last, big.NewInt(120)), big.NewInt(100))
		if bumped.Cmp(suggested) > 0 {
			return bumped, nil
		}
	}
	return suggested, nil
}

func (s *Submitter) buildSigned(op domain.Operation, nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
	var (
		calldata []byte
		gasLimit uint64
		err      error
	)
	switch op.Kind {
	case domain.OperationMint:
		calldata, err = s.backend.MintCalldata(op.Account, op.Amount, op.Reason)
		gasLimit = s.cfg.GasLimitMint
	case domain.OperationBurn:
		calldata, err = s.backend.BurnCalldata(op.Account, op.Amount, op.Reason)
		gasLimit = s.cfg.GasLimitBurn
	default:
		return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("pack %s calldata: %w", op.Kind, err)
	}

	contract := s.backend.ContractAddress()
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &contract,
		Data:     calldata,
	})
	signed, err := s.signer.Sign(tx)
	if err != nil {
		return nil, err
	}
	return signed, nil
}

// waitConfirmed polls for the receipt until the confirmation timeout.
func (s *Submitter) waitConfirmed(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(s.cfg.ConfirmTimeout)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval)
		receipt, err := s.backend.TransactionReceipt(rctx, txHash)
		cancel()
		if err == nil && receipt != nil {
			return receipt, nil
		}
		// Receipt not found yet is the normal pending case; anything else is
		// still worth waiting out until the deadline.

		if time.Now().After(deadline) {
			return nil, ErrConfirmationTimeout
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrConfirmationTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
