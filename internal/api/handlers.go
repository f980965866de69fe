/**
 * @description
 * This file contains the HTTP handlers for the token-service's direct API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the reward processor or the read models, and writing the HTTP response. They
 * act as the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/ethereum/go-ethereum/common: Wallet address handling.
 * - internal/app, internal/domain, internal/store: Service logic, models, errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/havenlabs/token-service/internal/app"
	"github.com/havenlabs/token-service/internal/domain"
	"github.com/havenlabs/token-service/internal/idempotency"
	"github.com/havenlabs/token-service/internal/rewards"
	"github.com/havenlabs/token-service/internal/store"
	"github.com/havenlabs/token-service/pkg/chainclient"
)

// ChainViews is the read-only slice of the token contract the API serves.
type ChainViews interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
	Paused(ctx context.Context) (bool, error)
	GetEmissionStats(ctx context.Context) (*chainclient.EmissionStats, error)
}

// NonceAdmin exposes the allocator operation behind the admin resync endpoint.
type NonceAdmin interface {
	Resync(ctx context.Context, account common.Address) (uint64, error)
}

// TokenHandlers holds the collaborators the HTTP handlers use.
type TokenHandlers struct {
	service    *app.Service
	repo       store.Repository
	chain      ChainViews
	nonces     NonceAdmin
	signerAddr common.Address
	log        zerolog.Logger
}

// NewTokenHandlers creates a new instance of TokenHandlers.
func NewTokenHandlers(service *app.Service, repo store.Repository, chain ChainViews, nonces NonceAdmin, signerAddr common.Address, log zerolog.Logger) *TokenHandlers {
	return &TokenHandlers{
		service:    service,
		repo:       repo,
		chain:      chain,
		nonces:     nonces,
		signerAddr: signerAddr,
		log:        log.With().Str("component", "api").Logger(),
	}
}

type mintRequest struct {
	Account        string `json:"account"`
	Amount         string `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// MintHandler mints tokens to a member or raw wallet address.
func (h *TokenHandlers) MintHandler(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		h.writeProcessError(w, err)
		return
	}
	outcome, err := h.service.Process(r.Context(), domain.RewardEvent{
		Kind:           domain.OperationMint,
		Source:         domain.SourceAPI,
		AccountRef:     req.Account,
		Amount:         amount,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeProcessError(w, err)
		return
	}
	h.writeOutcome(w, outcome)
}

type redeemRequest struct {
	Account        string `json:"account"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type redeemResponse struct {
	domain.Outcome
	PayoutAmount string `json:"payout_amount,omitempty"`
}

// RedeemHandler burns redeemed tokens. The fiat payout (98% after the burn
// fee) is settled by the partner; the response reports the payout share.
func (h *TokenHandlers) RedeemHandler(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		h.writeProcessError(w, err)
		return
	}
	outcome, err := h.service.Process(r.Context(), domain.RewardEvent{
		Kind:           domain.OperationBurn,
		Source:         domain.SourceAPI,
		AccountRef:     req.Account,
		Amount:         amount,
		Reason:         "Token redemption",
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeProcessError(w, err)
		return
	}

	resp := redeemResponse{Outcome: outcome}
	if outcome.Status == domain.OutcomeConfirmed || outcome.Status == domain.OutcomeDuplicate {
		resp.PayoutAmount = domain.FormatAmount(rewards.RedemptionPayout(amount))
	}
	h.writeJSON(w, outcomeStatusCode(outcome), resp)
}

// BalanceHandler returns the on-chain balance for a member ref or address.
func (h *TokenHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	var account common.Address
	if common.IsHexAddress(ref) {
		account = common.HexToAddress(ref)
	} else {
		member, err := h.repo.FindMemberByRef(r.Context(), ref)
		if err != nil {
			if errors.Is(err, store.ErrMemberNotFound) {
				h.writeError(w, http.StatusNotFound, "Member not found")
				return
			}
			h.log.Error().Err(err).Str("ref", ref).Msg("member lookup failed")
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		account = common.HexToAddress(member.WalletAddress)
	}

	balance, err := h.chain.BalanceOf(r.Context(), account)
	if err != nil {
		h.log.Error().Err(err).Str("account", account.Hex()).Msg("balance query failed")
		h.writeError(w, http.StatusBadGateway, "Balance unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"balance": domain.FormatAmount(balance),
	})
}

// StatsHandler combines the ledger aggregates with live contract state.
func (h *TokenHandlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	totals, err := h.repo.LedgerTotals(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("ledger totals failed")
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := map[string]interface{}{
		"total_minted":      domain.FormatAmount(totals.TotalMinted),
		"total_burned":      domain.FormatAmount(totals.TotalBurned),
		"total_operations":  totals.TotalOperations,
		"confirmed_entries": totals.ConfirmedEntries,
		"failed_entries":    totals.FailedEntries,
	}
	if supply, err := h.chain.TotalSupply(r.Context()); err == nil {
		resp["total_supply"] = domain.FormatAmount(supply)
	}
	if paused, err := h.chain.Paused(r.Context()); err == nil {
		resp["paused"] = paused
	}
	if stats, err := h.chain.GetEmissionStats(r.Context()); err == nil {
		resp["emission"] = map[string]interface{}{
			"minted": domain.FormatAmount(stats.Minted),
			"burned": domain.FormatAmount(stats.Burned),
			"cap":    domain.FormatAmount(stats.Cap),
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// LedgerHandler lists ledger entries for the admin console.
func (h *TokenHandlers) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.LedgerListOptions{
		Status: r.URL.Query().Get("status"),
		Kind:   r.URL.Query().Get("kind"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = n
	}

	entries, err := h.repo.ListLedgerEntries(r.Context(), opts)
	if err != nil {
		h.log.Error().Err(err).Msg("ledger list failed")
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"operation_id":    e.OperationID.String(),
			"idempotency_key": e.IdempotencyKey,
			"kind":            e.Kind,
			"account":         e.Account,
			"amount":          domain.FormatAmount(e.Amount),
			"reason":          e.Reason,
			"status":          e.Status,
			"tx_hash":         e.TxHash,
			"block_number":    e.BlockNumber,
			"attempts":        e.Attempts,
			"error_detail":    e.ErrorDetail,
			"source":          e.Source,
			"created_at":      e.CreatedAt,
			"confirmed_at":    e.ConfirmedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": out, "count": len(out)})
}

// NonceResyncHandler forces the allocator back to the node's pending nonce.
func (h *TokenHandlers) NonceResyncHandler(w http.ResponseWriter, r *http.Request) {
	next, err := h.nonces.Resync(r.Context(), h.signerAddr)
	if err != nil {
		h.log.Error().Err(err).Msg("nonce resync failed")
		h.writeError(w, http.StatusBadGateway, "Nonce source unavailable")
		return
	}
	admin, _ := AdminSubject(r.Context())
	h.log.Info().Str("admin", admin).Uint64("next_nonce", next).Msg("nonce pool resynced")
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":    h.signerAddr.Hex(),
		"next_nonce": next,
	})
}

// HealthHandler reports liveness plus contract reachability.
func (h *TokenHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "healthy"}
	if paused, err := h.chain.Paused(r.Context()); err != nil {
		resp["chain"] = "unreachable"
	} else {
		resp["chain"] = "ok"
		resp["paused"] = paused
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// outcomeStatusCode maps a processor outcome onto the HTTP status surface.
func outcomeStatusCode(outcome domain.Outcome) int {
	switch outcome.Status {
	case domain.OutcomeConfirmed, domain.OutcomeDuplicate, domain.OutcomeSkipped:
		return http.StatusOK
	case domain.OutcomeConflict:
		return http.StatusConflict
	case domain.OutcomeRetryLater:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func (h *TokenHandlers) writeOutcome(w http.ResponseWriter, outcome domain.Outcome) {
	if outcome.Status == domain.OutcomeRetryLater && outcome.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(outcome.RetryAfterSeconds))
	}
	h.writeJSON(w, outcomeStatusCode(outcome), outcome)
}

// writeProcessError maps processor errors onto HTTP statuses: bad requests get
// 400, an idempotency-store outage fails closed with 503, the rest are 500.
func (h *TokenHandlers) writeProcessError(w http.ResponseWriter, err error) {
	if domain.IsValidation(err) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, idempotency.ErrStoreUnavailable) {
		h.writeError(w, http.StatusServiceUnavailable, "Idempotency stores unavailable; request not executed")
		return
	}
	h.log.Error().Err(err).Msg("reward processing failed")
	h.writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (h *TokenHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("response encode failed")
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TokenHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
