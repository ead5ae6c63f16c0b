package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/model"
)

const DefaultQueueSize = 256

var ErrQueueClosed = errors.New("dispatch queue closed")

// DispatchQueue hands accepted notifications to the delivery service one at a
// time, in the order they were enqueued.
type DispatchQueue struct {
	log      *zap.Logger
	delivery *DeliveryService

	mu     sync.RWMutex
	closed bool
	ch     chan *model.Envelope
}

func NewDispatchQueue(log *zap.Logger, delivery *DeliveryService, size int) *DispatchQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &DispatchQueue{
		log:      log,
		delivery: delivery,
		ch:       make(chan *model.Envelope, size),
	}
}

// Enqueue blocks while the queue is full and gives up when ctx is done.
func (q *DispatchQueue) Enqueue(ctx context.Context, env *model.Envelope) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches until Close is called and the backlog is drained.
func (q *DispatchQueue) Run(ctx context.Context) {
	for env := range q.ch {
		if _, err := q.delivery.Dispatch(ctx, env); err != nil {
			q.log.Error("Failed to dispatch notification",
				zap.String("messageID", env.MessageID),
				zap.Error(err),
			)
		}
	}
}

func (q *DispatchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.ch)
}
