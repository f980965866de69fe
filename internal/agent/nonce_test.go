package agent

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type stubNonceSource struct {
	mu      sync.Mutex
	pending uint64
	err     error
	calls   int
}

func (s *stubNonceSource) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.pending, nil
}

var testAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestReserveConcurrentNoncesAreUnique(t *testing.T) {
	alloc := NewNonceAllocator(&stubNonceSource{pending: 10})

	const workers = 50
	results := make(chan uint64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := alloc.Reserve(context.Background(), testAddr)
			if err != nil {
				t.Errorf("Reserve returned error: %v", err)
				return
			}
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	var nonces []uint64
	for n := range results {
		nonces = append(nonces, n)
	}
	if len(nonces) != workers {
		t.Fatalf("expected %d nonces, got %d", workers, len(nonces))
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, n := range nonces {
		if want := uint64(10 + i); n != want {
			t.Fatalf("nonce %d: expected %d, got %d (gaps or duplicates)", i, want, n)
		}
	}
}

func TestReleaseReturnsNonceForReuse(t *testing.T) {
	alloc := NewNonceAllocator(&stubNonceSource{pending: 5})
	ctx := context.Background()

	a, _ := alloc.Reserve(ctx, testAddr)
	b, _ := alloc.Reserve(ctx, testAddr)
	if a != 5 || b != 6 {
		t.Fatalf("expected nonces 5,6 got %d,%d", a, b)
	}

	alloc.Release(testAddr, a)
	c, err := alloc.Reserve(ctx, testAddr)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if c != a {
		t.Fatalf("expected released nonce %d to be reused, got %d", a, c)
	}
}

func TestReleaseOfLatestNonceRewindsCounter(t *testing.T) {
	alloc := NewNonceAllocator(&stubNonceSource{pending: 0})
	ctx := context.Background()

	n, _ := alloc.Reserve(ctx, testAddr)
	alloc.Release(testAddr, n)
	again, _ := alloc.Reserve(ctx, testAddr)
	if again != n {
		t.Fatalf("expected rewound nonce %d, got %d", n, again)
	}
}

func TestResyncTakesMaxOfLocalAndNetwork(t *testing.T) {
	source := &stubNonceSource{pending: 3}
	alloc := NewNonceAllocator(source)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := alloc.Reserve(ctx, testAddr); err != nil {
			t.Fatalf("Reserve returned error: %v", err)
		}
	}

	// Network is behind local: local counter wins.
	next, err := alloc.Resync(ctx, testAddr)
	if err != nil {
		t.Fatalf("Resync returned error: %v", err)
	}
	if next != 8 {
		t.Fatalf("expected local counter 8 to win, got %d", next)
	}

	// Network jumps ahead (transactions sent outside the service).
	source.mu.Lock()
	source.pending = 50
	source.mu.Unlock()
	next, err = alloc.Resync(ctx, testAddr)
	if err != nil {
		t.Fatalf("Resync returned error: %v", err)
	}
	if next != 50 {
		t.Fatalf("expected network nonce 50 to win, got %d", next)
	}
}

func TestResyncDropsConsumedReleasedNonces(t *testing.T) {
	source := &stubNonceSource{pending: 0}
	alloc := NewNonceAllocator(source)
	ctx := context.Background()

	a, _ := alloc.Reserve(ctx, testAddr) // 0
	b, _ := alloc.Reserve(ctx, testAddr) // 1
	alloc.Reserve(ctx, testAddr)         // 2 keeps next ahead
	alloc.Release(testAddr, a)
	alloc.Release(testAddr, b)

	// The network moved past both released nonces.
	source.mu.Lock()
	source.pending = 2
	source.mu.Unlock()
	if _, err := alloc.Resync(ctx, testAddr); err != nil {
		t.Fatalf("Resync returned error: %v", err)
	}

	n, err := alloc.Reserve(ctx, testAddr)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if n < 2 {
		t.Fatalf("expected consumed nonce not to be reissued, got %d", n)
	}
}

func TestReserveFailsClosedWhenSourceDown(t *testing.T) {
	alloc := NewNonceAllocator(&stubNonceSource{err: errors.New("connection refused")})

	_, err := alloc.Reserve(context.Background(), testAddr)
	if !errors.Is(err, ErrNonceSourceUnavailable) {
		t.Fatalf("expected ErrNonceSourceUnavailable, got %v", err)
	}
}

func TestInvalidateForcesResync(t *testing.T) {
	source := &stubNonceSource{pending: 0}
	alloc := NewNonceAllocator(source)
	ctx := context.Background()

	alloc.Reserve(ctx, testAddr)
	before := source.calls

	alloc.Invalidate(testAddr)
	alloc.Reserve(ctx, testAddr)
	if source.calls != before+1 {
		t.Fatalf("expected a resync call after Invalidate, calls went %d -> %d", before, source.calls)
	}
}

func TestConfirmUsedAdvancesCounter(t *testing.T) {
	alloc := NewNonceAllocator(&stubNonceSource{pending: 0})
	ctx := context.Background()

	n, _ := alloc.Reserve(ctx, testAddr)
	alloc.ConfirmUsed(testAddr, n)
	next, _ := alloc.Reserve(ctx, testAddr)
	if next != n+1 {
		t.Fatalf("expected next nonce %d after confirm, got %d", n+1, next)
	}
}
