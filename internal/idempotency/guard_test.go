package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	failing bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]Record)}
}

var errStoreDown = errors.New("store down")

func (m *memoryStore) Add(ctx context.Context, key string, rec Record, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return false, errStoreDown
	}
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.records[key] = rec
	return true, nil
}

func (m *memoryStore) Get(ctx context.Context, key string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return Record{}, false, errStoreDown
	}
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errStoreDown
	}
	m.records[key] = rec
	return nil
}

func (m *memoryStore) InsertInProgress(ctx context.Context, rec Record) (bool, error) {
	return m.Add(ctx, rec.Key, rec, 0)
}

func (m *memoryStore) MarkResolved(ctx context.Context, key string, status Status, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errStoreDown
	}
	rec := m.records[key]
	rec.Key = key
	rec.Status = status
	rec.Result = result
	m.records[key] = rec
	return nil
}

func newTestGuard(cache *memoryStore, durable *memoryStore) *Guard {
	return NewGuard(cache, durable, Config{
		TTL:          time.Hour,
		WaitTimeout:  100 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, zerolog.Nop())
}

const (
	testKey = "order_12345_reward"
	fpA     = "fingerprint-a"
	fpB     = "fingerprint-b"
)

func TestAcquireFirstCallerProceeds(t *testing.T) {
	g := newTestGuard(newMemoryStore(), newMemoryStore())

	acq, err := g.Acquire(context.Background(), testKey, fpA)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if acq.Decision != Proceed {
		t.Fatalf("expected Proceed, got %s", acq.Decision)
	}
}

func TestAcquireReplaysCompletedResult(t *testing.T) {
	g := newTestGuard(newMemoryStore(), newMemoryStore())
	ctx := context.Background()

	if _, err := g.Acquire(ctx, testKey, fpA); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	stored := json.RawMessage(`{"status":"confirmed","transaction_id":"0xabc"}`)
	if err := g.Complete(ctx, testKey, fpA, StatusCompleted, stored); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	acq, err := g.Acquire(ctx, testKey, fpA)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if acq.Decision != Duplicate {
		t.Fatalf("expected Duplicate, got %s", acq.Decision)
	}
	if string(acq.Stored) != string(stored) {
		t.Fatalf("expected stored result %s, got %s", stored, acq.Stored)
	}
}

func TestAcquireDetectsFingerprintConflict(t *testing.T) {
	g := newTestGuard(newMemoryStore(), newMemoryStore())
	ctx := context.Background()

	if _, err := g.Acquire(ctx, testKey, fpA); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	acq, err := g.Acquire(ctx, testKey, fpB)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if acq.Decision != Conflict {
		t.Fatalf("expected Conflict, got %s", acq.Decision)
	}
}

func TestAcquireConcurrentDuplicateGetsRetryLater(t *testing.T) {
	g := newTestGuard(newMemoryStore(), newMemoryStore())
	ctx := context.Background()

	if _, err := g.Acquire(ctx, testKey, fpA); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	// The original never resolves: the duplicate must not execute.
	acq, err := g.Acquire(ctx, testKey, fpA)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if acq.Decision != RetryLater {
		t.Fatalf("expected RetryLater, got %s", acq.Decision)
	}
}

func TestAcquireDuplicateReceivesResultResolvedDuringWait(t *testing.T) {
	g := newTestGuard(newMemoryStore(), newMemoryStore())
	ctx := context.Background()

	if _, err := g.Acquire(ctx, testKey, fpA); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	stored := json.RawMessage(`{"status":"confirmed"}`)
	go func() {
		time.Sleep(30 * time.Millisecond)
		g.Complete(ctx, testKey, fpA, StatusCompleted, stored)
	}()

	acq, err := g.Acquire(ctx, testKey, fpA)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if acq.Decision != Duplicate {
		t.Fatalf("expected Duplicate once the original resolved, got %s", acq.Decision)
	}
}

func TestAcquireRejectsInvalidKeys(t *testing.T) {
	g := newTestGuard(newMemoryStore(), newMemoryStore())

	for _, key := range []string{"", "short", "has spaces in it", "bad!chars#here", strings.Repeat("a", 65)} {
		if _, err := g.Acquire(context.Background(), key, fpA); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestAcquireFallsBackToDurableWhenCacheDown(t *testing.T) {
	cache := newMemoryStore()
	cache.failing = true
	durable := newMemoryStore()
	g := newTestGuard(cache, durable)
	ctx := context.Background()

	acq, err := g.Acquire(ctx, testKey, fpA)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if acq.Decision != Proceed {
		t.Fatalf("expected Proceed via durable fallback, got %s", acq.Decision)
	}

	// A second acquisition sees the durable in-progress record.
	acq, err = g.Acquire(ctx, testKey, fpA)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if acq.Decision != RetryLater {
		t.Fatalf("expected RetryLater from durable record, got %s", acq.Decision)
	}
}

func TestAcquireFailsClosedWhenBothStoresDown(t *testing.T) {
	cache := newMemoryStore()
	cache.failing = true
	durable := newMemoryStore()
	durable.failing = true
	g := newTestGuard(cache, durable)

	_, err := g.Acquire(context.Background(), testKey, fpA)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestAcquireRestoresDurableResultAfterCacheEviction(t *testing.T) {
	cache := newMemoryStore()
	durable := newMemoryStore()
	g := newTestGuard(cache, durable)
	ctx := context.Background()

	if _, err := g.Acquire(ctx, testKey, fpA); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	stored := json.RawMessage(`{"status":"confirmed"}`)
	if err := g.Complete(ctx, testKey, fpA, StatusCompleted, stored); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	// Simulate cache eviction or restart: only the durable record survives.
	cache.mu.Lock()
	cache.records = make(map[string]Record)
	cache.mu.Unlock()

	acq, err := g.Acquire(ctx, testKey, fpA)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if acq.Decision != Duplicate {
		t.Fatalf("expected Duplicate from durable store, got %s", acq.Decision)
	}
	if string(acq.Stored) != string(stored) {
		t.Fatalf("expected stored result %s, got %s", stored, acq.Stored)
	}
}

func TestAcquireHoldsDuplicateOfDurableOwnerAfterCacheRecovers(t *testing.T) {
	cache := newMemoryStore()
	cache.failing = true
	durable := newMemoryStore()
	g := newTestGuard(cache, durable)
	ctx := context.Background()

	acq, err := g.Acquire(ctx, testKey, fpA)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if acq.Decision != Proceed {
		t.Fatalf("expected Proceed via durable fallback, got %s", acq.Decision)
	}

	// The cache comes back while the original is still running. The duplicate
	// must not get a second Proceed.
	cache.mu.Lock()
	cache.failing = false
	cache.mu.Unlock()

	acq, err = g.Acquire(ctx, testKey, fpA)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if acq.Decision != RetryLater {
		t.Fatalf("expected RetryLater while the durable owner runs, got %s", acq.Decision)
	}

	// Different parameters against the in-flight record are a conflict.
	acq, err = g.Acquire(ctx, testKey, fpB)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if acq.Decision != Conflict {
		t.Fatalf("expected Conflict against the in-flight record, got %s", acq.Decision)
	}
}

func TestAcquireDuplicateOfDurableOwnerReceivesResult(t *testing.T) {
	cache := newMemoryStore()
	cache.failing = true
	durable := newMemoryStore()
	g := newTestGuard(cache, durable)
	ctx := context.Background()

	if _, err := g.Acquire(ctx, testKey, fpA); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	cache.mu.Lock()
	cache.failing = false
	cache.mu.Unlock()

	stored := json.RawMessage(`{"status":"confirmed","transaction_id":"0xabc"}`)
	go func() {
		time.Sleep(30 * time.Millisecond)
		g.Complete(ctx, testKey, fpA, StatusCompleted, stored)
	}()

	acq, err := g.Acquire(ctx, testKey, fpA)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if acq.Decision != Duplicate {
		t.Fatalf("expected Duplicate once the durable owner resolved, got %s", acq.Decision)
	}
	if string(acq.Stored) != string(stored) {
		t.Fatalf("expected stored result %s, got %s", stored, acq.Stored)
	}
}

func TestAcquireFailsClosedWhenDurableUnreadable(t *testing.T) {
	cache := newMemoryStore()
	durable := newMemoryStore()
	durable.failing = true
	g := newTestGuard(cache, durable)

	// A completed record older than the cache TTL lives only in the durable
	// store; proceeding without reading it risks a second execution.
	_, err := g.Acquire(context.Background(), testKey, fpA)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestCompleteRequiresTerminalStatus(t *testing.T) {
	g := newTestGuard(newMemoryStore(), newMemoryStore())

	if err := g.Complete(context.Background(), testKey, fpA, StatusInProgress, nil); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestValidKey(t *testing.T) {
	valid := []string{"abcd1234", "mint_aurora_BK-123", "staking_stake-1_2026-W35", "A_b-C_d-1234"}
	for _, key := range valid {
		if !ValidKey(key) {
			t.Fatalf("expected %q to be valid", key)
		}
	}
	invalid := []string{"", "1234567", "white space_key", "key!with!bangs"}
	for _, key := range invalid {
		if ValidKey(key) {
			t.Fatalf("expected %q to be invalid", key)
		}
	}
}
