package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/model"
)

type IndexRepository interface {
	EnsureIndex(ctx context.Context) error
	IndexNotification(ctx context.Context, rec *model.Record) error
}

type IndexService struct {
	log  *zap.Logger
	repo IndexRepository
	now  func() time.Time
}

func NewIndexService(log *zap.Logger, repo IndexRepository) *IndexService {
	return &IndexService{
		log:  log,
		repo: repo,
		now:  time.Now,
	}
}

func (s *IndexService) Name() string {
	return "index"
}

func (s *IndexService) Handle(ctx context.Context, env *model.Envelope) error {
	if err := s.repo.EnsureIndex(ctx); err != nil {
		return apperrors.Downstream(fmt.Errorf("ensure index: %w", err))
	}

	if err := s.repo.IndexNotification(ctx, model.NewRecord(env, s.now())); err != nil {
		return apperrors.Downstream(fmt.Errorf("index notification: %w", err))
	}

	s.log.Debug("Notification indexed", zap.String("messageID", env.MessageID))

	return nil
}
