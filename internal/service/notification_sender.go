package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/noah-isme/sma-guard-api/internal/models"
)

const (
	channelStore   = "store"
	channelPublish = "publish"
	channelMail    = "mail"
)

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

type eventPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type escalationMailer interface {
	Enabled() bool
	SendEscalation(ctx context.Context, event models.NotificationEvent) error
}

// NotificationSenderConfig tunes delivery.
type NotificationSenderConfig struct {
	RatePerSec   int
	EventChannel string
}

// NotificationSender delivers one event: inbox row first, then the Redis fan-out and escalation mail.
type NotificationSender struct {
	store     notificationStore
	publisher eventPublisher
	mailer    escalationMailer
	metrics   *MetricsService
	limiter   *rate.Limiter
	channel   string
	logger    *zap.Logger
}

// NewNotificationSender wires the sender. publisher and mailer are optional.
func NewNotificationSender(store notificationStore, publisher eventPublisher, mailer escalationMailer, metrics *MetricsService, cfg NotificationSenderConfig, logger *zap.Logger) *NotificationSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return &NotificationSender{
		store:     store,
		publisher: publisher,
		mailer:    mailer,
		metrics:   metrics,
		limiter:   limiter,
		channel:   cfg.EventChannel,
		logger:    logger,
	}
}

// Deliver persists the event and fans it out. Only a storage failure is returned so the
// queue retry never duplicates inbox rows.
func (s *NotificationSender) Deliver(ctx context.Context, event models.NotificationEvent) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for delivery slot: %w", err)
		}
	}

	log := s.logger.With(zap.String("type", string(event.Type)), zap.String("guard_duty_id", event.GuardDutyID))

	row := toNotification(event)
	err := s.store.Create(ctx, row)
	s.metrics.ObserveNotification(string(event.Type), channelStore, err)
	if err != nil {
		log.Error("failed to store notification", zap.Error(err))
		return err
	}

	if s.publisher != nil && s.channel != "" {
		payload, err := json.Marshal(event)
		if err == nil {
			err = s.publisher.Publish(ctx, s.channel, payload)
		}
		s.metrics.ObserveNotification(string(event.Type), channelPublish, err)
		if err != nil {
			log.Warn("failed to publish guard duty event", zap.String("channel", s.channel), zap.Error(err))
		}
	}

	if event.Escalates() && s.mailer != nil && s.mailer.Enabled() {
		err := s.mailer.SendEscalation(ctx, event)
		s.metrics.ObserveNotification(string(event.Type), channelMail, err)
		if err != nil {
			log.Warn("failed to send escalation mail", zap.Error(err))
		}
	}

	log.Debug("notification delivered", zap.String("recipient", event.RecipientID))
	return nil
}

func toNotification(event models.NotificationEvent) *models.Notification {
	return &models.Notification{
		InstituteID: event.InstituteID,
		Recipient:   event.RecipientID,
		Type:        event.Type,
		Title:       event.Title,
		Content:     event.Message,
		RelatedType: "guard_duty",
		RelatedID:   event.GuardDutyID,
		CreatedAt:   event.OccurredAt,
	}
}
