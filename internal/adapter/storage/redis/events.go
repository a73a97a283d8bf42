package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"token-ledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BalanceEvents fans balance changes out over Redis pub/sub, one channel per
// user, so every API instance can serve live streams.
type BalanceEvents struct {
	client *goredis.Client
	prefix string
	log    zerolog.Logger
}

// NewBalanceEvents creates a Redis-backed publisher/subscriber pair.
func NewBalanceEvents(client *goredis.Client, log zerolog.Logger) *BalanceEvents {
	return &BalanceEvents{
		client: client,
		prefix: "ledger:balance:",
		log:    log,
	}
}

func (b *BalanceEvents) channel(userID string) string {
	return b.prefix + userID
}

// Publish sends event to the owning user's channel.
func (b *BalanceEvents) Publish(ctx context.Context, event domain.BalanceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal balance event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(event.UserID), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe streams events for userID until ctx is done; the returned channel
// is closed afterwards. Malformed messages are logged and skipped.
func (b *BalanceEvents) Subscribe(ctx context.Context, userID string) (<-chan domain.BalanceEvent, error) {
	sub := b.client.Subscribe(ctx, b.channel(userID))
	// Wait for the subscription confirmation so no publish after return is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan domain.BalanceEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event domain.BalanceEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed balance event")
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
