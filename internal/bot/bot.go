package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/00083ns/mtgnotif/internal/calendar"
	"github.com/00083ns/mtgnotif/internal/config"
	"github.com/00083ns/mtgnotif/internal/notify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Bot coordinates fetching, the daily digest, and reminder scheduling.
type Bot struct {
	cfg       *config.Config
	fetcher   calendar.Fetcher
	notifier  notify.Notifier
	reminders *Scheduler
	cron      *cron.Cron
	logger    *zap.Logger
}

// New creates a fully configured Bot instance.
func New(cfg *config.Config, fetcher calendar.Fetcher, notifier notify.Notifier, logger *zap.Logger) *Bot {
	c := cron.New(cron.WithLocation(cfg.LocalTimezone))
	return &Bot{
		cfg:       cfg,
		fetcher:   fetcher,
		notifier:  notifier,
		reminders: NewScheduler(notifier, cfg.ReminderOffset, cfg.LocalTimezone, logger),
		cron:      c,
		logger:    logger,
	}
}

// Run fetches today's events, posts the digest and schedules reminders.
// Every failure ends the run and is reported to the chat channel instead of
// being returned.
func (b *Bot) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("run: panic", zap.Any("panic", r))
			b.report(ctx, FormatFailure(r))
		}
	}()

	events, err := b.fetcher.FetchToday(ctx)
	if err != nil {
		b.logger.Error("run: fetch failed", zap.Error(err))
		b.report(ctx, fetchFailureMessage(err))
		return
	}

	if err := b.notifier.Notify(ctx, FormatDigest(events)); err != nil {
		b.logger.Error("run: digest not delivered", zap.Error(err))
		b.report(ctx, fmt.Sprintf(notifyFailed, err))
		return
	}

	jobs := b.reminders.Schedule(events)
	b.logger.Info("run: done", zap.Int("events", len(events)), zap.Int("reminders", len(jobs)))
}

// report sends a failure message. Delivery errors are only logged.
func (b *Bot) report(ctx context.Context, message string) {
	if err := b.notifier.Notify(context.WithoutCancel(ctx), message); err != nil {
		b.logger.Error("failure notice not delivered", zap.Error(err), zap.String("message", message))
	}
}

// StartScheduler registers the digest job on the configured cron spec and
// starts the scheduler loop.
func (b *Bot) StartScheduler() error {
	if b.cfg.DigestSchedule == "" {
		return errors.New("digest schedule is not configured")
	}
	_, err := b.cron.AddFunc(b.cfg.DigestSchedule, func() {
		b.Run(context.Background())
	})
	if err != nil {
		return fmt.Errorf("digest schedule %q: %w", b.cfg.DigestSchedule, err)
	}
	b.cron.Start()
	b.logger.Info("scheduler started", zap.String("spec", b.cfg.DigestSchedule), zap.String("timezone", b.cfg.LocalTimezone.String()))
	return nil
}

// StopScheduler stops the cron scheduler gracefully and cancels pending reminders.
func (b *Bot) StopScheduler() {
	ctx := b.cron.Stop()
	<-ctx.Done()
	b.reminders.Stop()
}

// Wait blocks until every scheduled reminder has fired or ctx is done.
// On ctx cancellation pending reminders are dropped.
func (b *Bot) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.reminders.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		b.reminders.Stop()
		<-done
		return ctx.Err()
	}
}
