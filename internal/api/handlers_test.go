package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/havenlabs/token-service/internal/domain"
	"github.com/havenlabs/token-service/internal/idempotency"
	"github.com/havenlabs/token-service/internal/store"
	"github.com/havenlabs/token-service/pkg/chainclient"
)

type stubChain struct {
	balance *big.Int
	supply  *big.Int
	paused  bool
	stats   *chainclient.EmissionStats
	err     error
}

func (c *stubChain) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.balance, c.err
}

func (c *stubChain) TotalSupply(ctx context.Context) (*big.Int, error) {
	return c.supply, c.err
}

func (c *stubChain) Paused(ctx context.Context) (bool, error) {
	return c.paused, c.err
}

func (c *stubChain) GetEmissionStats(ctx context.Context) (*chainclient.EmissionStats, error) {
	return c.stats, c.err
}

type stubLedger struct {
	store.Repository
	totals *domain.LedgerTotals
}

func (s *stubLedger) LedgerTotals(ctx context.Context) (*domain.LedgerTotals, error) {
	return s.totals, nil
}

func TestOutcomeStatusCodes(t *testing.T) {
	cases := []struct {
		status domain.OutcomeStatus
		want   int
	}{
		{domain.OutcomeConfirmed, http.StatusOK},
		{domain.OutcomeDuplicate, http.StatusOK},
		{domain.OutcomeSkipped, http.StatusOK},
		{domain.OutcomeConflict, http.StatusConflict},
		{domain.OutcomeRetryLater, http.StatusTooManyRequests},
		{domain.OutcomeFailed, http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := outcomeStatusCode(domain.Outcome{Status: tc.status}); got != tc.want {
			t.Fatalf("status %s: expected %d, got %d", tc.status, tc.want, got)
		}
	}
}

func TestWriteOutcomeSetsRetryAfter(t *testing.T) {
	h := &TokenHandlers{log: zerolog.Nop()}
	rr := httptest.NewRecorder()
	h.writeOutcome(rr, domain.Outcome{
		Status:            domain.OutcomeRetryLater,
		IdempotencyKey:    "aurora_booking_BK-1",
		RetryAfterSeconds: 5,
	})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "5" {
		t.Fatalf("expected Retry-After 5, got %q", got)
	}
}

func TestWriteProcessErrorMapping(t *testing.T) {
	h := &TokenHandlers{log: zerolog.Nop()}
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &domain.ValidationError{Field: "amount", Msg: "amount must be positive"}, http.StatusBadRequest},
		{"stores down", idempotency.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.writeProcessError(rr, tc.err)
		if rr.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rr.Code)
		}
	}
}

func TestStatsHandlerMergesLedgerAndChainViews(t *testing.T) {
	chain := &stubChain{
		supply: domain.TokensToWei(1000),
		stats: &chainclient.EmissionStats{
			Minted: domain.TokensToWei(1200),
			Burned: domain.TokensToWei(200),
			Cap:    domain.TokensToWei(1_000_000),
		},
	}
	ledger := &stubLedger{totals: &domain.LedgerTotals{
		TotalMinted:     domain.TokensToWei(1200),
		TotalBurned:     domain.TokensToWei(200),
		TotalOperations: 7,
	}}
	h := NewTokenHandlers(nil, ledger, chain, nil, common.Address{}, zerolog.Nop())

	rr := httptest.NewRecorder()
	h.StatsHandler(rr, httptest.NewRequest(http.MethodGet, "/token/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if resp["total_supply"] != "1000" {
		t.Fatalf("expected total_supply 1000, got %v", resp["total_supply"])
	}
	emission, ok := resp["emission"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected emission stats in the response, got %v", resp["emission"])
	}
	if emission["minted"] != "1200" || emission["burned"] != "200" || emission["cap"] != "1000000" {
		t.Fatalf("unexpected emission stats: %v", emission)
	}
}

func TestStatsHandlerOmitsChainViewsWhenNodeDown(t *testing.T) {
	chain := &stubChain{err: errors.New("connection refused")}
	ledger := &stubLedger{totals: &domain.LedgerTotals{
		TotalMinted: big.NewInt(0),
		TotalBurned: big.NewInt(0),
	}}
	h := NewTokenHandlers(nil, ledger, chain, nil, common.Address{}, zerolog.Nop())

	rr := httptest.NewRecorder()
	h.StatsHandler(rr, httptest.NewRequest(http.MethodGet, "/token/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ledger aggregates must survive a node outage, got %d", rr.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if _, ok := resp["emission"]; ok {
		t.Fatal("emission stats must be omitted when the node is unreachable")
	}
	if _, ok := resp["total_supply"]; ok {
		t.Fatal("total supply must be omitted when the node is unreachable")
	}
}
