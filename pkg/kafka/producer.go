package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

type Producer interface {
	PushMessage(ctx context.Context, key, value []byte, topic string) (partition int32, offset int64, err error)
	Close() error
}

type ProducerOption func(cfg *sarama.Config)

var (
	RoundRobin = sarama.NewRoundRobinPartitioner
	Hash       = sarama.NewHashPartitioner
)

const (
	RequireNone  = sarama.NoResponse
	RequireLocal = sarama.WaitForLocal
	RequireAll   = sarama.WaitForAll
)

func WithBalancer(partitioner sarama.PartitionerConstructor) ProducerOption {
	return func(cfg *sarama.Config) {
		cfg.Producer.Partitioner = partitioner
	}
}

func WithRequiredAcks(acks sarama.RequiredAcks) ProducerOption {
	return func(cfg *sarama.Config) {
		cfg.Producer.RequiredAcks = acks
	}
}

func WithClientID(id string) ProducerOption {
	return func(cfg *sarama.Config) {
		cfg.ClientID = id
	}
}

type producer struct {
	sync sarama.SyncProducer
}

func NewProducer(brokers []string, opts ...ProducerOption) (Producer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	for _, opt := range opts {
		opt(cfg)
	}

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	return &producer{sync: sp}, nil
}

// PushMessage blocks until the broker acks; ctx is only checked before sending
// because the sarama sync producer has no per-call cancellation.
func (p *producer) PushMessage(ctx context.Context, key, value []byte, topic string) (int32, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to send message: %w", err)
	}

	return partition, offset, nil
}

func (p *producer) Close() error {
	return p.sync.Close()
}
