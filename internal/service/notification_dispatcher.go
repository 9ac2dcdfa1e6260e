package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-guard-api/internal/models"
	"github.com/noah-isme/sma-guard-api/pkg/jobs"
)

const notificationJobType = "guard_notification"

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type notificationDeliverer interface {
	Deliver(ctx context.Context, event models.NotificationEvent) error
}

// NotificationDispatcher hands guard duty events to the background queue.
type NotificationDispatcher struct {
	queue  jobEnqueuer
	logger *zap.Logger
}

// NewNotificationDispatcher constructs a dispatcher over an already built queue.
func NewNotificationDispatcher(queue jobEnqueuer, logger *zap.Logger) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationDispatcher{queue: queue, logger: logger}
}

// Dispatch enqueues the event. Failures are logged and never reach the caller.
func (d *NotificationDispatcher) Dispatch(_ context.Context, event models.NotificationEvent) {
	if d == nil || d.queue == nil {
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: notificationJobType, Payload: event}
	if err := d.queue.Enqueue(job); err != nil {
		d.logger.Warn("failed to enqueue notification",
			zap.String("type", string(event.Type)),
			zap.String("guard_duty_id", event.GuardDutyID),
			zap.Error(err),
		)
	}
}

// NotificationJobHandler adapts a deliverer to the queue's handler signature.
func NotificationJobHandler(deliverer notificationDeliverer) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(models.NotificationEvent)
		if !ok {
			return fmt.Errorf("unexpected notification payload %T", job.Payload)
		}
		return deliverer.Deliver(ctx, event)
	}
}
