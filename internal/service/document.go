package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/model"
)

type DocumentRepository interface {
	InsertNotification(ctx context.Context, rec *model.Record) (bool, error)
}

type DocumentService struct {
	log  *zap.Logger
	repo DocumentRepository
	now  func() time.Time
}

func NewDocumentService(log *zap.Logger, repo DocumentRepository) *DocumentService {
	return &DocumentService{
		log:  log,
		repo: repo,
		now:  time.Now,
	}
}

func (s *DocumentService) Name() string {
	return "mongo"
}

func (s *DocumentService) Handle(ctx context.Context, env *model.Envelope) error {
	inserted, err := s.repo.InsertNotification(ctx, model.NewRecord(env, s.now()))
	if err != nil {
		return apperrors.Downstream(fmt.Errorf("store notification: %w", err))
	}

	if !inserted {
		s.log.Info("Notification already stored", zap.String("messageID", env.MessageID))
	}

	return nil
}
