package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/dispatch"
	"github.com/kai-familiar/marmot-cli/internal/model"
	"github.com/kai-familiar/marmot-cli/pkg/kafka"
)

const messagePipeBuffer = 100

type DeliveryService interface {
	Deliver(ctx context.Context, env *model.Envelope) (dispatch.Result, error)
}

type Config struct {
	WorkerCount int
	Topic       string
}

// Subscriber re-delivers notifications published by the kafka handler to a local
// on-message command. Offsets are marked for every message, whatever happened to it.
// A delivery in progress when ctx is canceled runs to completion: its id is
// already claimed, so a killed handler would lose the message.
type Subscriber struct {
	l        *zap.Logger
	cfg      Config
	consumer kafka.ConsumerGroupRunner
	delivery DeliveryService

	started atomic.Bool
	done    chan struct{}
}

func NewSubscriber(l *zap.Logger, cfg Config, consumer kafka.ConsumerGroupRunner, delivery DeliveryService) *Subscriber {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}

	return &Subscriber{
		l:        l,
		cfg:      cfg,
		consumer: consumer,
		delivery: delivery,
		done:     make(chan struct{}),
	}
}

// Run returns once every worker has finished its current delivery.
func (s *Subscriber) Run(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	defer close(s.done)

	go func() {
		s.consumer.Run()
	}()

	messagePipe := make(chan *kafka.MessageWithMarkFunc, messagePipeBuffer)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, i, messagePipe)
		}()
	}

	defer func() {
		close(messagePipe)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			s.l.Info("Context canceled, stopping relay")

			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.l.Info("Consumer messages channel closed")

				return
			}

			select {
			case messagePipe <- msg:
			case <-ctx.Done():
				s.l.Info("Context canceled, stopping relay")

				return
			}
		}
	}
}

// Stop closes the consumer and waits for Run to return.
func (s *Subscriber) Stop() error {
	err := s.consumer.Shutdown()

	if s.started.Load() {
		<-s.done
	}

	if err != nil {
		return fmt.Errorf("failed to close relay consumer: %w", err)
	}

	return nil
}

func (s *Subscriber) worker(ctx context.Context, id int, messagePipe <-chan *kafka.MessageWithMarkFunc) {
	s.l.Info("Relay worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			s.l.Info("Worker stopping", zap.Int("worker_id", id))

			return
		case msg, ok := <-messagePipe:
			if !ok {
				s.l.Info("Message channel closed", zap.Int("worker_id", id))

				return
			}

			// unmarked messages are redelivered by kafka after a restart
			if ctx.Err() != nil {
				return
			}

			if err := s.process(context.WithoutCancel(ctx), msg); err != nil {
				s.l.Error("Error processing message",
					zap.Int("worker_id", id),
					zap.String("key", string(msg.Message.Key)),
					zap.Int64("offset", msg.Message.Offset),
					zap.Error(err),
				)
			}

			msg.Mark()
		}
	}
}

func (s *Subscriber) process(ctx context.Context, msg *kafka.MessageWithMarkFunc) error {
	env, err := model.Decode(msg.Message.Value)
	if err != nil {
		return fmt.Errorf("malformed notification: %w", err)
	}

	if key := string(msg.Message.Key); key != "" && key != env.MessageID {
		s.l.Warn("Message key does not match message_id", zap.String("key", key), zap.String("message_id", env.MessageID))
	}

	res, err := s.delivery.Deliver(ctx, env)
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			return nil
		}
		return err
	}

	s.l.Debug("Message relayed",
		zap.String("message_id", env.MessageID),
		zap.String("delivery_id", res.DeliveryID.String()),
		zap.String("result", res.Outcome()),
	)

	return nil
}
