package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/model"
	"github.com/kai-familiar/marmot-cli/internal/repository"
)

type ArchiveRepository interface {
	InsertNotification(ctx context.Context, ext repository.RepoExtension, rec *model.Record) (bool, error)
}

type ArchiveService struct {
	log  *zap.Logger
	repo ArchiveRepository
	now  func() time.Time
}

func NewArchiveService(log *zap.Logger, repo ArchiveRepository) *ArchiveService {
	return &ArchiveService{
		log:  log,
		repo: repo,
		now:  time.Now,
	}
}

func (s *ArchiveService) Name() string {
	return "archive"
}

// Handle stores the notification once; a redelivered message id is not an error.
func (s *ArchiveService) Handle(ctx context.Context, env *model.Envelope) error {
	inserted, err := s.repo.InsertNotification(ctx, nil, model.NewRecord(env, s.now()))
	if err != nil {
		return apperrors.Downstream(fmt.Errorf("archive notification: %w", err))
	}

	if !inserted {
		s.log.Info("Notification already archived", zap.String("messageID", env.MessageID))
	}

	return nil
}
