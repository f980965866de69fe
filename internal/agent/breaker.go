/**
 * @description
 * A small circuit breaker guarding calls to the blockchain node. After a run of
 * consecutive failures the circuit opens and calls fail fast until the cooldown
 * elapses; the next call then probes half-open. An open circuit is surfaced as
 * a retryable error so the submitter's backoff, not the caller, absorbs it.
 */

package agent

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the wrapped call.
var ErrCircuitOpen = errors.New("chain client circuit open")

// CircuitBreaker tracks consecutive failures of node calls.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	open      bool
	now       func() time.Time
}

// NewCircuitBreaker opens after threshold consecutive failures and probes
// again after cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Do runs fn unless the circuit is open.
func (b *CircuitBreaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.open {
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		// Half-open: let one probe through.
		b.open = false
		b.failures = b.threshold - 1
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.failures >= b.threshold {
			b.open = true
			b.openedAt = b.now()
		}
		return err
	}
	b.failures = 0
	return nil
}
