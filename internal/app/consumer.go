/**
 * @description
 * AMQP consumer for queued reward events. Partners that prefer asynchronous
 * delivery publish to the events exchange instead of calling the webhooks; the
 * consumer funnels those messages through the same reward processor. The ack
 * decision is the re-drive policy: malformed or invalid messages are dropped,
 * transient outcomes are requeued for another pass.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenlabs/token-service/internal/domain"
	"github.com/havenlabs/token-service/internal/idempotency"
)

// QueuedRewardEvent is the wire shape of an asynchronous reward request.
// Amount is a decimal token string.
type QueuedRewardEvent struct {
	Kind           string `json:"kind"`
	Source         string `json:"source"`
	SourceID       string `json:"source_id"`
	MemberRef      string `json:"member_ref"`
	Amount         string `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// RewardEventConsumer adapts queue deliveries to the reward processor.
type RewardEventConsumer struct {
	service *Service
	log     zerolog.Logger
}

// NewRewardEventConsumer creates a consumer over the given processor.
func NewRewardEventConsumer(service *Service, log zerolog.Logger) *RewardEventConsumer {
	return &RewardEventConsumer{
		service: service,
		log:     log.With().Str("component", "reward_consumer").Logger(),
	}
}

// HandleMessage processes one delivery. Returning false requeues the message.
func (c *RewardEventConsumer) HandleMessage(body []byte) bool {
	var msg QueuedRewardEvent
	if err := json.Unmarshal(body, &msg); err != nil {
		c.log.Warn().Err(err).Msg("dropping unreadable reward message")
		return true
	}

	amount, err := domain.ParseAmount(msg.Amount)
	if err != nil {
		c.log.Warn().Err(err).Str("source_id", msg.SourceID).Msg("dropping reward message with bad amount")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	outcome, err := c.service.Process(ctx, domain.RewardEvent{
		Kind:           domain.OperationKind(msg.Kind),
		Source:         msg.Source,
		SourceID:       msg.SourceID,
		AccountRef:     msg.MemberRef,
		Amount:         amount,
		Reason:         msg.Reason,
		IdempotencyKey: msg.IdempotencyKey,
	})
	if err != nil {
		if domain.IsValidation(err) {
			c.log.Warn().Err(err).Str("source_id", msg.SourceID).Msg("dropping invalid reward message")
			return true
		}
		if errors.Is(err, idempotency.ErrStoreUnavailable) {
			c.log.Error().Str("source_id", msg.SourceID).Msg("idempotency stores down; requeueing")
			return false
		}
		c.log.Error().Err(err).Str("source_id", msg.SourceID).Msg("reward processing error; requeueing")
		return false
	}

	if outcome.Status == domain.OutcomeRetryLater {
		return false
	}

	c.log.Info().
		Str("source", msg.Source).
		Str("source_id", msg.SourceID).
		Str("status", string(outcome.Status)).
		Msg("queued reward processed")
	return true
}
