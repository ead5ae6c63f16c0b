package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/hook"
	"github.com/kai-familiar/marmot-cli/internal/model"
)

type NotificationService interface {
	Accept(ctx context.Context, env *model.Envelope) error
	Release(ctx context.Context, env *model.Envelope) error
}

type NotificationQueue interface {
	Enqueue(ctx context.Context, env *model.Envelope) error
}

type Broadcaster interface {
	Broadcast(env *model.Envelope)
}

type NotificationHandler struct {
	log   *zap.Logger
	svc   NotificationService
	queue NotificationQueue
	hub   Broadcaster
	limit int64
}

// NewNotificationHandler accepts a nil queue when no on_message command is configured.
func NewNotificationHandler(
	log *zap.Logger,
	svc NotificationService,
	queue NotificationQueue,
	hub Broadcaster,
	limit int64,
) *NotificationHandler {
	if limit <= 0 {
		limit = hook.DefaultInputLimit
	}

	return &NotificationHandler{
		log:   log,
		svc:   svc,
		queue: queue,
		hub:   hub,
		limit: limit,
	}
}

// Create
// @Summary Receive a message notification.
// @Description Validates the notification, drops duplicates by message_id and fans it out.
// @Tags Notifications
// @Accept json
// @Produce json
// @Success 202 {object} ResponseWithData "Accepted"
// @Success 200 {object} ResponseWithMessage "Duplicate"
// @Failure 400 {object} ResponseWithMessage "Invalid notification"
// @Failure 413 {object} ResponseWithMessage "Body too large"
// @Failure 503 {object} ResponseWithMessage "Ledger or queue unavailable"
// @Router /notifications [post]
func (h *NotificationHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	env, err := hook.Read(c.Request.Body, h.limit)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, apperrors.ErrInputTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}

		c.JSON(status, ResponseWithMessage{
			Status:  StatusInvalidInput,
			Message: err.Error(),
		})

		return
	}

	if err := h.svc.Accept(ctx, env); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			c.JSON(http.StatusOK, ResponseWithMessage{Status: StatusDuplicate})
			return
		}

		h.log.Error("Failed to accept notification", zap.String("messageID", env.MessageID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, ResponseWithMessage{
			Status:  StatusErr,
			Message: "delivery ledger unavailable",
		})

		return
	}

	if h.queue != nil {
		if err := h.queue.Enqueue(ctx, env); err != nil {
			h.log.Error("Failed to queue notification", zap.String("messageID", env.MessageID), zap.Error(err))

			// the sender sees 503, so a resend must not be answered "duplicate"
			if err := h.svc.Release(context.WithoutCancel(ctx), env); err != nil {
				h.log.Error("Failed to release notification", zap.String("messageID", env.MessageID), zap.Error(err))
			}

			c.JSON(http.StatusServiceUnavailable, ResponseWithMessage{
				Status:  StatusErr,
				Message: "dispatch queue unavailable",
			})

			return
		}
	}

	h.hub.Broadcast(env)

	c.JSON(http.StatusAccepted, ResponseWithData{
		Status: StatusAccepted,
		Data:   gin.H{"message_id": env.MessageID},
	})
}
