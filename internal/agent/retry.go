/**
 * @description
 * Retry policy for the blockchain submission path: classifies node errors as
 * retryable or fatal and computes capped exponential backoff. Classification is
 * pattern-based because execution-layer clients surface these conditions as
 * message strings rather than typed errors.
 */

package agent

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Classification of a submission failure.
type Classification int

const (
	// Retryable failures are transient: retried inside the submitter up to
	// the attempt ceiling, invisible to the caller except as latency.
	Retryable Classification = iota
	// Fatal failures are terminal: insufficient balance, reverts, paused
	// contract, authorization. No automatic retry.
	Fatal
)

func (c Classification) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// Policy bounds the submitter's retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy: three attempts, 2s base delay doubling per attempt, 30s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// NextDelay returns the backoff before the attempt following attemptNumber.
// Attempt numbering starts at 1: delay(n) = min(cap, base * 2^(n-1)).
func (p Policy) NextDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}
	d := p.BaseDelay
	for i := 1; i < attemptNumber; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// retryablePatterns mirror the error surface of execution-layer nodes.
var retryablePatterns = []string{
	"nonce too low",
	"nonce has already been used",
	"replacement transaction underpriced",
	"already known",
	"timeout",
	"timed out",
	"connection",
	"network",
	"gas price too low",
	"max fee per gas less than block base fee",
}

var gasUnderpricedPatterns = []string{
	"gas price too low",
	"max fee per gas less than block base fee",
	"replacement transaction underpriced",
}

var noncePatterns = []string{
	"nonce too low",
	"nonce has already been used",
	"invalid nonce",
}

// Classify decides whether a submission failure may be retried.
func Classify(err error) Classification {
	if err == nil {
		return Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrConfirmationTimeout) {
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return Retryable
		}
	}
	return Fatal
}

// IsGasUnderpriced reports whether the failure calls for a gas-price bump on
// the next attempt.
func IsGasUnderpriced(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range gasUnderpricedPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsNonceError reports whether the failure indicates local nonce drift.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range noncePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
