package service

import (
	"context"
	"time"

	"token-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// OutboxRelay forwards outbox rows written alongside ledger entries to the
// message bus. Delivery is at-least-once: a row is marked sent only after the
// producer acknowledged it.
type OutboxRelay struct {
	outboxRepo ports.OutboxRepository
	producer   ports.MessageProducer
	interval   time.Duration
	batchSize  int
	maxRetries int
	log        zerolog.Logger
}

// NewOutboxRelay creates a relay polling every interval for up to batchSize
// pending rows. A row failing maxRetries times is parked as FAILED.
func NewOutboxRelay(
	outboxRepo ports.OutboxRepository,
	producer ports.MessageProducer,
	interval time.Duration,
	batchSize int,
	maxRetries int,
	log zerolog.Logger,
) *OutboxRelay {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &OutboxRelay{
		outboxRepo: outboxRepo,
		producer:   producer,
		interval:   interval,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		log:        log,
	}
}

// Run polls until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	r.log.Info().Dur("interval", r.interval).Int("batch", r.batchSize).Msg("outbox relay started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("outbox relay stopped")
			return
		case <-ticker.C:
			r.RelayOnce(ctx)
		}
	}
}

// RelayOnce sends one batch of pending rows and returns how many were
// delivered. Once a row fails, later rows with the same key wait for the next
// batch so a wallet's events never overtake each other.
func (r *OutboxRelay) RelayOnce(ctx context.Context) int {
	messages, err := r.outboxRepo.GetPending(ctx, r.batchSize)
	if err != nil {
		r.log.Error().Err(err).Msg("outbox: failed to fetch pending messages")
		return 0
	}

	sent := 0
	held := make(map[string]struct{})
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if _, ok := held[msg.MessageKey]; ok {
			continue
		}
		if err := r.producer.Send(ctx, msg.Topic, msg.MessageKey, msg.Payload); err != nil {
			held[msg.MessageKey] = struct{}{}
			r.log.Warn().Err(err).Int64("id", msg.ID).Int("retry_count", msg.RetryCount).Msg("outbox: send failed")
			if err := r.outboxRepo.MarkRetry(ctx, msg.ID, r.maxRetries); err != nil {
				r.log.Error().Err(err).Int64("id", msg.ID).Msg("outbox: failed to record retry")
			}
			if msg.RetryCount+1 >= r.maxRetries {
				r.log.Error().Int64("id", msg.ID).Str("topic", msg.Topic).Msg("outbox: retries exhausted, message parked as FAILED")
			}
			continue
		}

		if err := r.outboxRepo.MarkSent(ctx, msg.ID); err != nil {
			// The row will be sent again, so nothing newer may go out first.
			held[msg.MessageKey] = struct{}{}
			r.log.Error().Err(err).Int64("id", msg.ID).Msg("outbox: failed to mark message sent")
			continue
		}
		sent++
	}

	if sent > 0 {
		r.log.Debug().Int("sent", sent).Int("fetched", len(messages)).Msg("outbox batch relayed")
	}
	return sent
}
