package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/dispatch"
	"github.com/kai-familiar/marmot-cli/internal/ledger"
	"github.com/kai-familiar/marmot-cli/internal/model"
)

type Dispatcher interface {
	Deliver(ctx context.Context, delivery dispatch.Delivery) dispatch.Result
}

// DeliveryService is the engine side of the handler contract for notifications
// that arrive over the network: each message id is handed to the handler at most once.
type DeliveryService struct {
	log        *zap.Logger
	ledger     ledger.Ledger
	dispatcher Dispatcher
	metrics    *dispatch.Metrics
	now        func() time.Time
}

// NewDeliveryService accepts a nil dispatcher: notifications are then only deduplicated.
func NewDeliveryService(log *zap.Logger, l ledger.Ledger, dispatcher Dispatcher, metrics *dispatch.Metrics) *DeliveryService {
	return &DeliveryService{
		log:        log,
		ledger:     l,
		dispatcher: dispatcher,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Accept claims the message id. It returns ErrDuplicate for an id seen before.
// A ledger failure is returned as is and the message is not delivered.
func (s *DeliveryService) Accept(ctx context.Context, env *model.Envelope) error {
	claimed, err := s.ledger.Claim(ctx, env.MessageID, ledger.Entry{
		DeliveredAt: s.now().UTC(),
		ExitCode:    ledger.PendingExitCode,
	})
	if err != nil {
		return fmt.Errorf("claim %s: %w", env.MessageID, err)
	}

	if !claimed {
		s.metrics.IncDuplicate()
		s.log.Info("Duplicate notification dropped", zap.String("messageID", env.MessageID))

		return apperrors.ErrDuplicate
	}

	return nil
}

// Release gives up an accepted notification that will not be dispatched, so a
// resend of the same id is accepted.
func (s *DeliveryService) Release(ctx context.Context, env *model.Envelope) error {
	if err := s.ledger.Release(ctx, env.MessageID); err != nil {
		return fmt.Errorf("release %s: %w", env.MessageID, err)
	}

	s.log.Info("Notification released", zap.String("messageID", env.MessageID))

	return nil
}

// Dispatch runs the handler for an accepted notification and records its exit code.
func (s *DeliveryService) Dispatch(ctx context.Context, env *model.Envelope) (dispatch.Result, error) {
	if s.dispatcher == nil {
		return dispatch.Result{MessageID: env.MessageID}, nil
	}

	res := s.dispatcher.Deliver(ctx, dispatch.Delivery{
		MessageID: env.MessageID,
		Body:      env.Body,
	})

	if err := s.ledger.Record(ctx, env.MessageID, ledger.Entry{
		DeliveredAt: s.now().UTC(),
		ExitCode:    res.ExitCode,
	}); err != nil {
		return res, fmt.Errorf("record %s: %w", env.MessageID, err)
	}

	return res, nil
}

// Deliver is Accept followed by Dispatch.
func (s *DeliveryService) Deliver(ctx context.Context, env *model.Envelope) (dispatch.Result, error) {
	if err := s.Accept(ctx, env); err != nil {
		return dispatch.Result{MessageID: env.MessageID}, err
	}

	return s.Dispatch(ctx, env)
}
