/**
 * @description
 * Per-account nonce allocation for the backend signing wallet. Two concurrent
 * callers never receive the same value; a reserved-but-unused nonce is returned
 * to a per-account pool so later reservations reuse it instead of leaving a gap
 * that would strand every subsequent transaction.
 *
 * The allocator lazily synchronizes each account against the node's pending
 * nonce and always chooses max(local, network), which tolerates transactions
 * sent outside this service. Accounts contend only on their own mutex.
 *
 * @dependencies
 * - context, errors, sort, sync: Standard Go libraries.
 * - github.com/ethereum/go-ethereum/common: Account addresses.
 */

package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/havenlabs/token-service/internal/metrics"
)

// ErrNonceSourceUnavailable means the authoritative pending-nonce source could
// not be reached. Callers must not broadcast without a successful resync.
var ErrNonceSourceUnavailable = errors.New("nonce source unavailable")

// NonceSource is the authoritative "next nonce for account" view, normally the
// blockchain node.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type accountNonces struct {
	mu       sync.Mutex
	synced   bool
	next     uint64
	released []uint64 // reserved but never accepted, ascending
}

// NonceAllocator hands out monotonically increasing nonces per signing account.
type NonceAllocator struct {
	source NonceSource

	mu       sync.Mutex // guards the accounts map only
	accounts map[common.Address]*accountNonces
}

// NewNonceAllocator creates an allocator backed by the given authoritative source.
func NewNonceAllocator(source NonceSource) *NonceAllocator {
	return &NonceAllocator{
		source:   source,
		accounts: make(map[common.Address]*accountNonces),
	}
}

func (a *NonceAllocator) account(addr common.Address) *accountNonces {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct, ok := a.accounts[addr]
	if !ok {
		acct = &accountNonces{}
		a.accounts[addr] = acct
	}
	return acct
}

// Reserve returns the next nonce for addr. Released nonces are reused lowest
// first. The first reservation after startup (or after Invalidate) resyncs
// against the source; if the source is unreachable the reservation fails and
// no nonce is handed out.
func (a *NonceAllocator) Reserve(ctx context.Context, addr common.Address) (uint64, error) {
	acct := a.account(addr)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if !acct.synced {
		if err := a.resyncLocked(ctx, addr, acct); err != nil {
			return 0, err
		}
	}

	if len(acct.released) > 0 {
		n := acct.released[0]
		acct.released = acct.released[1:]
		return n, nil
	}
	n := acct.next
	acct.next++
	return n, nil
}

// Release returns a reserved nonce whose broadcast was never accepted by the
// network, so the next reservation reuses it.
func (a *NonceAllocator) Release(addr common.Address, nonce uint64) {
	acct := a.account(addr)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if nonce+1 == acct.next {
		acct.next = nonce
		return
	}
	if nonce >= acct.next {
		return
	}
	i := sort.Search(len(acct.released), func(i int) bool { return acct.released[i] >= nonce })
	if i < len(acct.released) && acct.released[i] == nonce {
		return
	}
	acct.released = append(acct.released, 0)
	copy(acct.released[i+1:], acct.released[i:])
	acct.released[i] = nonce
}

// ConfirmUsed marks a nonce as consumed by the network. No-op when the counter
// has already moved past it.
func (a *NonceAllocator) ConfirmUsed(addr common.Address, nonce uint64) {
	acct := a.account(addr)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if i := sort.Search(len(acct.released), func(i int) bool { return acct.released[i] >= nonce }); i < len(acct.released) && acct.released[i] == nonce {
		acct.released = append(acct.released[:i], acct.released[i+1:]...)
	}
	if nonce >= acct.next {
		acct.next = nonce + 1
	}
}

// Invalidate forces a resync on the next reservation. The submitter calls this
// after a nonce-classified failure, mirroring recovery from drift.
func (a *NonceAllocator) Invalidate(addr common.Address) {
	acct := a.account(addr)
	acct.mu.Lock()
	acct.synced = false
	acct.mu.Unlock()
}

// Resync refreshes the local counter from the authoritative source immediately.
func (a *NonceAllocator) Resync(ctx context.Context, addr common.Address) (uint64, error) {
	acct := a.account(addr)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if err := a.resyncLocked(ctx, addr, acct); err != nil {
		return 0, err
	}
	return acct.next, nil
}

func (a *NonceAllocator) resyncLocked(ctx context.Context, addr common.Address, acct *accountNonces) error {
	network, err := a.source.PendingNonceAt(ctx, addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNonceSourceUnavailable, err)
	}
	if network > acct.next {
		acct.next = network
	}
	// Anything below the network view has been consumed on-chain.
	kept := acct.released[:0]
	for _, n := range acct.released {
		if n >= network {
			kept = append(kept, n)
		}
	}
	acct.released = kept
	acct.synced = true
	metrics.NonceResyncs.Inc()
	return nil
}
