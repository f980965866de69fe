/**
 * @description
 * This file defines the normalized RewardEvent consumed by the reward processor.
 * Partner webhook payloads (Aurora PMS, Tribe app) and direct API requests are
 * all translated into this one shape before the idempotency and submission core
 * ever sees them. Unknown or malformed partner payloads never reach the core.
 */

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Event sources, used for metrics labels and derived idempotency keys.
const (
	SourceAurora = "aurora"
	SourceTribe  = "tribe"
	SourceAPI    = "api"
	SourceJob    = "job"
)

// RewardEvent is the tagged, validated form of an inbound reward-bearing event.
type RewardEvent struct {
	Kind           OperationKind
	Source         string
	SourceID       string
	AccountRef     string
	Amount         *big.Int
	Reason         string
	IdempotencyKey string
}

// Fingerprint summarizes the event's parameters. Two requests reusing one
// idempotency key with different fingerprints are a conflict, not a duplicate.
func (e RewardEvent) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", e.Kind, e.AccountRef, e.Amount.String(), e.Reason)
	return hex.EncodeToString(h.Sum(nil))
}
