package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-guard-api/internal/models"
)

type pendingGuardLister interface {
	ListPendingOn(ctx context.Context, date time.Time) ([]models.GuardDuty, error)
}

// PendingReminderConfig schedules the reminder.
type PendingReminderConfig struct {
	Spec     string
	Timezone string
	Timeout  time.Duration
}

// PendingGuardReminder re-notifies management about guard duties still waiting for a substitute today.
type PendingGuardReminder struct {
	duties   pendingGuardLister
	notifier notificationDispatcher
	cfg      PendingReminderConfig
	parser   cron.Parser
	logger   *zap.Logger
	now      func() time.Time

	mu  sync.Mutex
	loc *time.Location
	c   *cron.Cron
}

// NewPendingGuardReminder builds the reminder. The cron expression is validated on Start.
func NewPendingGuardReminder(duties pendingGuardLister, notifier notificationDispatcher, cfg PendingReminderConfig, logger *zap.Logger) *PendingGuardReminder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &PendingGuardReminder{
		duties:   duties,
		notifier: notifier,
		cfg:      cfg,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		now:      time.Now,
		loc:      time.UTC,
	}
}

// Start registers the cron entry. Calling it twice is a no-op.
func (r *PendingGuardReminder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}

	schedule, err := r.parser.Parse(r.cfg.Spec)
	if err != nil {
		return fmt.Errorf("parse reminder schedule %q: %w", r.cfg.Spec, err)
	}
	loc, err := time.LoadLocation(r.cfg.Timezone)
	if err != nil {
		r.logger.Warn("unknown reminder timezone, falling back to UTC", zap.String("timezone", r.cfg.Timezone), zap.Error(err))
		loc = time.UTC
	}
	r.loc = loc

	r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(loc))
	r.c.Schedule(schedule, cron.FuncJob(func() {
		runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		if _, err := r.RunOnce(runCtx); err != nil {
			r.logger.Error("pending guard reminder failed", zap.Error(err))
		}
	}))
	r.c.Start()
	r.logger.Info("pending guard reminder started", zap.String("spec", r.cfg.Spec), zap.String("tz", loc.String()))
	return nil
}

// Stop halts the cron and waits for a running job.
func (r *PendingGuardReminder) Stop() {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce emits one reminder per pending guard duty dated today and returns how many were sent.
func (r *PendingGuardReminder) RunOnce(ctx context.Context) (int, error) {
	r.mu.Lock()
	loc := r.loc
	r.mu.Unlock()

	local := r.now().In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	pending, err := r.duties.ListPendingOn(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("list pending guard duties: %w", err)
	}
	for _, duty := range pending {
		r.notifier.Dispatch(ctx, models.NotificationEvent{
			Type:        models.NotificationGuardPendingReminder,
			GuardDutyID: duty.ID,
			InstituteID: duty.InstituteID,
			RecipientID: models.AudienceManagement,
			Title:       "Guard duty still unassigned",
			Message:     fmt.Sprintf("Class %s has no substitute for %s today.", duty.ClassID, today.Format(dateLayout)),
			OccurredAt:  r.now().UTC(),
		})
	}
	if len(pending) > 0 {
		r.logger.Info("pending guard reminders dispatched", zap.Int("count", len(pending)))
	}
	return len(pending), nil
}
