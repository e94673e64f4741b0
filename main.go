package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/00083ns/mtgnotif/internal/auth"
	"github.com/00083ns/mtgnotif/internal/bot"
	"github.com/00083ns/mtgnotif/internal/calendar"
	"github.com/00083ns/mtgnotif/internal/config"
	"github.com/00083ns/mtgnotif/internal/database"
	"github.com/00083ns/mtgnotif/internal/notify"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier := newNotifier(cfg, logger)

	fetcher, err := newFetcher(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		if nerr := notifier.Notify(ctx, bot.FormatFailure(err)); nerr != nil {
			logger.Error("failure notice not delivered", zap.Error(nerr))
		}
		os.Exit(1)
	}

	reminderBot := bot.New(cfg, fetcher, notifier, logger)

	if cfg.DigestSchedule != "" {
		if err := reminderBot.StartScheduler(); err != nil {
			logger.Fatal("scheduler start", zap.Error(err))
		}
		<-ctx.Done()
		logger.Info("shutting down...")
		reminderBot.StopScheduler()
		return
	}

	reminderBot.Run(ctx)
	if err := reminderBot.Wait(ctx); err != nil {
		logger.Info("stopped before all reminders fired", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("mtgnotif"), nil
}

func newNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	if cfg.Notifier == config.NotifierTwilio {
		return notify.NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppNumber, cfg.TwilioWhatsAppTo, logger)
	}
	return notify.NewSlack(cfg.SlackWebhookURL, cfg.HTTPTimeout)
}

func newFetcher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (calendar.Fetcher, error) {
	if cfg.CalendarICSURL != "" {
		client := &http.Client{Timeout: cfg.HTTPTimeout}
		return calendar.NewICS(cfg.CalendarICSURL, client, cfg.LocalTimezone, logger), nil
	}

	db, err := database.New(cfg.DatabaseURL, cfg.SQLitePath, logger)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	creds, err := auth.NewProvider(cfg.GoogleCredentialsPath, cfg.GoogleTokenPath, cfg.GoogleAccount, db, logger)
	if err != nil {
		return nil, err
	}
	if cfg.GoogleAuthCode != "" {
		if err := creds.Exchange(ctx, cfg.GoogleAuthCode); err != nil {
			return nil, err
		}
	}

	return calendar.NewGoogle(creds, cfg.CalendarID, cfg.LocalTimezone, logger), nil
}
