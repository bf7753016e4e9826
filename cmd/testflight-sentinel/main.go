package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nholik/testflight-sentinel/internal/config"
	"github.com/nholik/testflight-sentinel/internal/healthcheck"
	"github.com/nholik/testflight-sentinel/internal/logging"
	"github.com/nholik/testflight-sentinel/internal/metrics"
	"github.com/nholik/testflight-sentinel/internal/notify"
	"github.com/nholik/testflight-sentinel/internal/page"
	"github.com/nholik/testflight-sentinel/internal/runner"
	"github.com/nholik/testflight-sentinel/internal/server"
	"github.com/nholik/testflight-sentinel/internal/state"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logger := logging.New()
		logger.Error().Err(err).Msg("invalid configuration")
		return 1
	}

	logger, closer := logging.NewWithOptions(logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxFiles,
	})
	defer closer.Close()

	logger.Info().
		Dur("check_interval", cfg.CheckInterval).
		Str("apps_config_path", cfg.AppsConfigPath).
		Bool("dry_run", cfg.DryRun).
		Msg("testflight-sentinel starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := notify.NewTelegramNotifier(logger, cfg.TelegramToken, cfg.TelegramChatID,
		notify.WithTelegramAPIURL(cfg.TelegramAPIURL),
	)
	if cfg.DryRun {
		notifier = notify.NewDryRunNotifier(logger, notifier)
	}

	m := metrics.New()
	tracker := healthcheck.NewTracker()
	server.Start(ctx, logger, server.Options{
		CheckInterval: cfg.CheckInterval,
		Tracker:       tracker,
		Metrics:       m,
		HealthPort:    cfg.HealthPort,
		MetricsPort:   cfg.MetricsPort,
	})

	r := runner.New(logger, cfg.CheckInterval,
		runner.WithStateStore(state.NewFileStore(cfg.AppsConfigPath, logger)),
		runner.WithFetcher(page.NewHTTPFetcher(logger, cfg.FetchTimeout, page.WithUserAgent(cfg.FetchUserAgent))),
		runner.WithNotifier(notifier),
		runner.WithMetrics(m),
		runner.WithTracker(tracker),
	)

	if err := r.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("runner exited")
		return 1
	}
	logger.Info().Msg("testflight-sentinel stopped")
	return 0
}
