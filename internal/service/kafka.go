package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/model"
	"github.com/kai-familiar/marmot-cli/pkg/kafka"
)

const DefaultKafkaTopic = "marmot.notifications"

// KafkaService forwards notifications to a topic keyed by message id, which is
// what the relay consumes on the other side.
type KafkaService struct {
	log      *zap.Logger
	producer kafka.Producer
	topic    string
}

func NewKafkaService(log *zap.Logger, producer kafka.Producer, topic string) (*KafkaService, error) {
	if topic == "" {
		return nil, apperrors.Config(errors.New("kafka topic is empty"))
	}

	return &KafkaService{
		log:      log,
		producer: producer,
		topic:    topic,
	}, nil
}

func (s *KafkaService) Name() string {
	return "kafka"
}

func (s *KafkaService) Handle(ctx context.Context, env *model.Envelope) error {
	partition, offset, err := s.producer.PushMessage(ctx, []byte(env.MessageID), env.Body, s.topic)
	if err != nil {
		return apperrors.Downstream(fmt.Errorf("push to %s: %w", s.topic, err))
	}

	s.log.Debug("Notification published",
		zap.String("topic", s.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)

	return nil
}
