package agent

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/havenlabs/token-service/internal/domain"
)

// Hardhat's well-known first development key. Never funded on a real network.
const testSignerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeBackend struct {
	mu            sync.Mutex
	pendingNonce  uint64
	gasPrice      *big.Int
	gasErrs       []error
	gasCalls      int
	sendErrs      []error
	sendCalls     int
	sentNonces    []uint64
	sentGasPrices []*big.Int
	receiptStatus uint64
	receiptErr    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		gasPrice:      big.NewInt(100),
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingNonce, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.gasCalls
	f.gasCalls++
	if call < len(f.gasErrs) && f.gasErrs[call] != nil {
		return nil, f.gasErrs[call]
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentNonces = append(f.sentNonces, tx.Nonce())
	f.sentGasPrices = append(f.sentGasPrices, tx.GasPrice())
	call := f.sendCalls
	f.sendCalls++
	if call < len(f.sendErrs) {
		return f.sendErrs[call]
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return &types.Receipt{Status: f.receiptStatus, BlockNumber: big.NewInt(77)}, nil
}

func (f *fakeBackend) MintCalldata(to common.Address, amount *big.Int, reason string) ([]byte, error) {
	return []byte{0x01}, nil
}

func (f *fakeBackend) BurnCalldata(from common.Address, amount *big.Int, reason string) ([]byte, error) {
	return []byte{0x02}, nil
}

func (f *fakeBackend) ContractAddress() common.Address {
	return common.HexToAddress("0x2222222222222222222222222222222222222222")
}

func newTestSubmitter(t *testing.T, backend *fakeBackend) (*Submitter, *NonceAllocator) {
	t.Helper()
	signer, err := NewSigner(testSignerKey, big.NewInt(84532))
	if err != nil {
		t.Fatalf("NewSigner returned error: %v", err)
	}
	nonces := NewNonceAllocator(backend)
	breaker := NewCircuitBreaker(100, time.Minute)
	cfg := SubmitterConfig{
		Policy:           Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
		BroadcastTimeout: time.Second,
		ConfirmTimeout:   200 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
	}
	return NewSubmitter(backend, signer, nonces, breaker, cfg, zerolog.Nop()), nonces
}

func testOperation(t *testing.T) domain.Operation {
	t.Helper()
	op, err := domain.NewOperation(
		domain.OperationMint,
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		big.NewInt(1_000_000),
		"test mint",
		"test_key_12345678",
	)
	if err != nil {
		t.Fatalf("NewOperation returned error: %v", err)
	}
	return op
}

func TestSubmitConfirmsFirstAttempt(t *testing.T) {
	backend := newFakeBackend()
	sub, _ := newTestSubmitter(t, backend)

	result := sub.Submit(context.Background(), testOperation(t))
	if result.Status != domain.SubmissionConfirmed {
		t.Fatalf("expected confirmed, got %s (%s)", result.Status, result.ErrorDetail)
	}
	if result.TxHash == "" {
		t.Fatal("expected a transaction hash")
	}
	if result.BlockNumber != 77 {
		t.Fatalf("expected block 77, got %d", result.BlockNumber)
	}
	if len(result.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(result.Attempts))
	}
	if result.Attempts[0].Outcome != domain.AttemptConfirmed {
		t.Fatalf("expected confirmed attempt, got %s", result.Attempts[0].Outcome)
	}
}

func TestSubmitRetriesTransientBroadcastFailures(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErrs = []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		nil,
	}
	sub, _ := newTestSubmitter(t, backend)

	result := sub.Submit(context.Background(), testOperation(t))
	if result.Status != domain.SubmissionConfirmed {
		t.Fatalf("expected confirmed after retries, got %s (%s)", result.Status, result.ErrorDetail)
	}
	if len(result.Attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(result.Attempts))
	}
	// Rejected broadcasts release their nonce; every attempt reuses it.
	for i, n := range backend.sentNonces {
		if n != backend.sentNonces[0] {
			t.Fatalf("attempt %d used nonce %d, expected reuse of %d", i, n, backend.sentNonces[0])
		}
	}
}

func TestSubmitFatalErrorShortCircuits(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErrs = []error{errors.New("insufficient funds for gas * price + value")}
	sub, _ := newTestSubmitter(t, backend)

	result := sub.Submit(context.Background(), testOperation(t))
	if result.Status != domain.SubmissionFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if backend.sendCalls != 1 {
		t.Fatalf("fatal error must not be retried, got %d broadcasts", backend.sendCalls)
	}
	if result.Attempts[0].Outcome != domain.AttemptFailedFatal {
		t.Fatalf("expected fatal attempt outcome, got %s", result.Attempts[0].Outcome)
	}
}

func TestSubmitBumpsGasAfterUnderpriced(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErrs = []error{errors.New("replacement transaction underpriced"), nil}
	sub, _ := newTestSubmitter(t, backend)

	result := sub.Submit(context.Background(), testOperation(t))
	if result.Status != domain.SubmissionConfirmed {
		t.Fatalf("expected confirmed, got %s (%s)", result.Status, result.ErrorDetail)
	}
	if len(backend.sentGasPrices) != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", len(backend.sentGasPrices))
	}
	first, second := backend.sentGasPrices[0], backend.sentGasPrices[1]
	want := new(big.Int).Div(new(big.Int).Mul(first, big.NewInt(120)), big.NewInt(100))
	if second.Cmp(want) < 0 {
		t.Fatalf("expected second gas price >= %s (120%% of %s), got %s", want, first, second)
	}
}

func TestSubmitStopsAtAttemptCeiling(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErrs = []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		errors.New("connection refused"),
	}
	sub, _ := newTestSubmitter(t, backend)

	result := sub.Submit(context.Background(), testOperation(t))
	if result.Status != domain.SubmissionFailed {
		t.Fatalf("expected failed at ceiling, got %s", result.Status)
	}
	if backend.sendCalls != 3 {
		t.Fatalf("expected exactly 3 broadcasts, got %d", backend.sendCalls)
	}
	if len(result.Attempts) != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", len(result.Attempts))
	}
}

func TestSubmitGasPriceFailuresStillRecordAttempts(t *testing.T) {
	backend := newFakeBackend()
	backend.gasErrs = []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		errors.New("connection refused"),
	}
	sub, _ := newTestSubmitter(t, backend)

	result := sub.Submit(context.Background(), testOperation(t))
	if result.Status != domain.SubmissionFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if backend.sendCalls != 0 {
		t.Fatalf("nothing may broadcast without a gas price, got %d broadcasts", backend.sendCalls)
	}
	if len(result.Attempts) != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", len(result.Attempts))
	}
	for i, a := range result.Attempts {
		if a.Outcome != domain.AttemptFailedRetryable {
			t.Fatalf("attempt %d: expected retryable outcome, got %s", i+1, a.Outcome)
		}
	}
}

func TestSubmitRevertedReceiptIsFatal(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptStatus = types.ReceiptStatusFailed
	sub, _ := newTestSubmitter(t, backend)

	result := sub.Submit(context.Background(), testOperation(t))
	if result.Status != domain.SubmissionFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if backend.sendCalls != 1 {
		t.Fatalf("a revert must not be retried, got %d broadcasts", backend.sendCalls)
	}
	last := result.Attempts[len(result.Attempts)-1]
	if last.Outcome != domain.AttemptFailedFatal {
		t.Fatalf("expected fatal attempt outcome, got %s", last.Outcome)
	}
}

func TestSubmitConfirmationTimeoutKeepsNonce(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptErr = errors.New("not found")
	sub, nonces := newTestSubmitter(t, backend)
	sub.cfg.Policy.MaxAttempts = 1

	result := sub.Submit(context.Background(), testOperation(t))
	if result.Status != domain.SubmissionFailed {
		t.Fatalf("expected failed after confirmation timeout, got %s", result.Status)
	}
	if result.Attempts[0].Outcome != domain.AttemptFailedRetryable {
		t.Fatalf("confirmation timeout must be retryable, got %s", result.Attempts[0].Outcome)
	}

	// The pool accepted the broadcast: its nonce stays consumed.
	next, err := nonces.Reserve(context.Background(), sub.signer.Address())
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if next != backend.sentNonces[0]+1 {
		t.Fatalf("expected next nonce %d, got %d (nonce was released)", backend.sentNonces[0]+1, next)
	}
}
