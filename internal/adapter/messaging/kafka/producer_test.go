package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_Send(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"amount":10}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})

	p := NewProducerWithClient(mp, zerolog.Nop())
	require.NoError(t, p.Send(context.Background(), "ledger.entries", "wallet-1", []byte(`{"amount":10}`)))
	require.NoError(t, p.Close())
}

func TestProducer_SendFailure(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	p := NewProducerWithClient(mp, zerolog.Nop())
	err := p.Send(context.Background(), "ledger.entries", "wallet-1", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	assert.Contains(t, err.Error(), "sending to ledger.entries")
	require.NoError(t, p.Close())
}

func TestProducer_SendCancelled(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	p := NewProducerWithClient(mp, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Send(ctx, "ledger.entries", "wallet-1", nil), context.Canceled)
	require.NoError(t, p.Close())
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 3, cfg.Producer.Retry.Max)
	assert.True(t, cfg.Producer.Return.Successes)
	assert.True(t, cfg.Producer.Idempotent)
	require.NoError(t, cfg.Validate())
}
