package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/model"
)

const DefaultRedisChannel = "marmot:notifications"

type ChannelRepository interface {
	Publish(ctx context.Context, channel string, payload []byte, history int64) (int64, error)
}

type RedisService struct {
	log     *zap.Logger
	repo    ChannelRepository
	channel string
	history int64
}

func NewRedisService(log *zap.Logger, repo ChannelRepository, channel string, history int64) (*RedisService, error) {
	if channel == "" {
		return nil, apperrors.Config(errors.New("redis channel is empty"))
	}

	if history < 0 {
		history = 0
	}

	return &RedisService{
		log:     log,
		repo:    repo,
		channel: channel,
		history: history,
	}, nil
}

func (s *RedisService) Name() string {
	return "redis"
}

func (s *RedisService) Handle(ctx context.Context, env *model.Envelope) error {
	receivers, err := s.repo.Publish(ctx, s.channel, env.Body, s.history)
	if err != nil {
		return apperrors.Downstream(fmt.Errorf("publish: %w", err))
	}

	s.log.Debug("Notification published", zap.String("channel", s.channel), zap.Int64("receivers", receivers))

	return nil
}
