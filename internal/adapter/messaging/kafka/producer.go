package kafka

import (
	"context"
	"fmt"

	"token-ledger/config"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// Producer publishes outbox rows to Kafka. Messages are keyed by wallet id so
// one wallet's entries stay ordered on a single partition.
type Producer struct {
	producer sarama.SyncProducer
	log      zerolog.Logger
}

// NewConfig returns the producer settings used for ledger events.
func NewConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_8_0_0
	return cfg
}

// NewProducer connects a synchronous producer to the configured brokers.
func NewProducer(cfg config.KafkaConfig, log zerolog.Logger) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewConfig())
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	log.Info().Strs("brokers", cfg.Brokers).Msg("kafka producer connected")
	return NewProducerWithClient(producer, log), nil
}

// NewProducerWithClient wraps an existing sarama producer.
func NewProducerWithClient(producer sarama.SyncProducer, log zerolog.Logger) *Producer {
	return &Producer{producer: producer, log: log}
}

// Send blocks until the brokers acknowledged the message.
func (p *Producer) Send(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("sending to %s: %w", topic, err)
	}

	p.log.Debug().Str("topic", topic).Str("key", key).Int32("partition", partition).Int64("offset", offset).Msg("kafka message sent")
	return nil
}

// Close flushes and closes the producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}
