package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"token-ledger/internal/core/domain"
	"token-ledger/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func newTestRelay(ctrl *gomock.Controller) (*OutboxRelay, *mocks.MockOutboxRepository, *mocks.MockMessageProducer) {
	repo := mocks.NewMockOutboxRepository(ctrl)
	producer := mocks.NewMockMessageProducer(ctrl)
	return NewOutboxRelay(repo, producer, 10*time.Millisecond, 50, 3, zerolog.Nop()), repo, producer
}

func TestOutboxRelay_RelayOnce_SendsAndMarks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	relay, repo, producer := newTestRelay(ctrl)

	ctx := context.Background()
	msgs := []domain.OutboxMessage{
		{ID: 1, Topic: testTopic, MessageKey: "w-1", Payload: []byte(`{"amount":10}`)},
		{ID: 2, Topic: testTopic, MessageKey: "w-2", Payload: []byte(`{"amount":20}`)},
	}

	repo.EXPECT().GetPending(ctx, 50).Return(msgs, nil)
	gomock.InOrder(
		producer.EXPECT().Send(ctx, testTopic, "w-1", msgs[0].Payload).Return(nil),
		repo.EXPECT().MarkSent(ctx, int64(1)).Return(nil),
		producer.EXPECT().Send(ctx, testTopic, "w-2", msgs[1].Payload).Return(nil),
		repo.EXPECT().MarkSent(ctx, int64(2)).Return(nil),
	)

	assert.Equal(t, 2, relay.RelayOnce(ctx))
}

func TestOutboxRelay_RelayOnce_SendFailureRecordsRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	relay, repo, producer := newTestRelay(ctrl)

	ctx := context.Background()
	msgs := []domain.OutboxMessage{
		{ID: 7, Topic: testTopic, MessageKey: "w-1", RetryCount: 2},
		{ID: 8, Topic: testTopic, MessageKey: "w-2"},
	}

	repo.EXPECT().GetPending(ctx, 50).Return(msgs, nil)
	producer.EXPECT().Send(ctx, testTopic, "w-1", gomock.Any()).Return(errors.New("broker down"))
	repo.EXPECT().MarkRetry(ctx, int64(7), 3).Return(nil)
	producer.EXPECT().Send(ctx, testTopic, "w-2", gomock.Any()).Return(nil)
	repo.EXPECT().MarkSent(ctx, int64(8)).Return(nil)

	assert.Equal(t, 1, relay.RelayOnce(ctx))
}

func TestOutboxRelay_RelayOnce_FailedKeyHoldsLaterRows(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	relay, repo, producer := newTestRelay(ctrl)

	ctx := context.Background()
	stale := domain.OutboxMessage{ID: 1, Topic: testTopic, MessageKey: "w-1", Payload: []byte(`{"balance":70}`)}
	fresh := domain.OutboxMessage{ID: 2, Topic: testTopic, MessageKey: "w-1", Payload: []byte(`{"balance":100}`)}
	other := domain.OutboxMessage{ID: 3, Topic: testTopic, MessageKey: "w-2", Payload: []byte(`{"balance":5}`)}

	var delivered []string
	record := func(_ context.Context, _, _ string, payload []byte) error {
		delivered = append(delivered, string(payload))
		return nil
	}

	// First batch: the stale row fails, so the fresh row for the same wallet
	// must not go out ahead of it. Other wallets are unaffected.
	repo.EXPECT().GetPending(ctx, 50).Return([]domain.OutboxMessage{stale, fresh, other}, nil)
	producer.EXPECT().Send(ctx, testTopic, "w-1", stale.Payload).Return(errors.New("broker down"))
	repo.EXPECT().MarkRetry(ctx, int64(1), 3).Return(nil)
	producer.EXPECT().Send(ctx, testTopic, "w-2", other.Payload).DoAndReturn(record)
	repo.EXPECT().MarkSent(ctx, int64(3)).Return(nil)

	assert.Equal(t, 1, relay.RelayOnce(ctx))

	// Second batch: both rows for the wallet go out in id order.
	stale.RetryCount = 1
	repo.EXPECT().GetPending(ctx, 50).Return([]domain.OutboxMessage{stale, fresh}, nil)
	gomock.InOrder(
		producer.EXPECT().Send(ctx, testTopic, "w-1", stale.Payload).DoAndReturn(record),
		repo.EXPECT().MarkSent(ctx, int64(1)).Return(nil),
		producer.EXPECT().Send(ctx, testTopic, "w-1", fresh.Payload).DoAndReturn(record),
		repo.EXPECT().MarkSent(ctx, int64(2)).Return(nil),
	)

	assert.Equal(t, 2, relay.RelayOnce(ctx))
	assert.Equal(t, []string{`{"balance":5}`, `{"balance":70}`, `{"balance":100}`}, delivered)
}

func TestOutboxRelay_RelayOnce_UnmarkedRowHoldsLaterRows(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	relay, repo, producer := newTestRelay(ctrl)

	ctx := context.Background()
	msgs := []domain.OutboxMessage{
		{ID: 4, Topic: testTopic, MessageKey: "w-1"},
		{ID: 5, Topic: testTopic, MessageKey: "w-1"},
	}

	repo.EXPECT().GetPending(ctx, 50).Return(msgs, nil)
	producer.EXPECT().Send(ctx, testTopic, "w-1", gomock.Any()).Return(nil).Times(1)
	repo.EXPECT().MarkSent(ctx, int64(4)).Return(errors.New("db down"))

	assert.Equal(t, 0, relay.RelayOnce(ctx))
}

func TestOutboxRelay_RelayOnce_MarkSentFailureNotCounted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	relay, repo, producer := newTestRelay(ctrl)

	ctx := context.Background()
	repo.EXPECT().GetPending(ctx, 50).Return([]domain.OutboxMessage{{ID: 1, Topic: testTopic}}, nil)
	producer.EXPECT().Send(ctx, testTopic, "", gomock.Any()).Return(nil)
	repo.EXPECT().MarkSent(ctx, int64(1)).Return(errors.New("db down"))

	assert.Equal(t, 0, relay.RelayOnce(ctx))
}

func TestOutboxRelay_RelayOnce_FetchError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	relay, repo, _ := newTestRelay(ctrl)

	repo.EXPECT().GetPending(gomock.Any(), 50).Return(nil, errors.New("db down"))

	assert.Equal(t, 0, relay.RelayOnce(context.Background()))
}

func TestOutboxRelay_Run_StopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	relay, repo, _ := newTestRelay(ctrl)

	repo.EXPECT().GetPending(gomock.Any(), 50).Return(nil, nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestNewOutboxRelay_Defaults(t *testing.T) {
	relay := NewOutboxRelay(nil, nil, 0, 0, 0, zerolog.Nop())
	assert.Equal(t, 500*time.Millisecond, relay.interval)
	assert.Equal(t, 100, relay.batchSize)
	assert.Equal(t, 5, relay.maxRetries)
}
