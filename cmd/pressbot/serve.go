package main

import (
	"context"
	"fmt"

	"pressbot/internal/audit"
	"pressbot/internal/bus"
	"pressbot/internal/channel"
	"pressbot/internal/command"
	"pressbot/internal/config"
	"pressbot/internal/credentials"
	"pressbot/internal/metrics"
	"pressbot/internal/publisher"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		Long:  "Long-polls Telegram for commands and publishes to WordPress. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.RequireToken(cfg); err != nil {
		return err
	}
	sites, err := loadSites(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	events := bus.NewEventBus(logger)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(version)
		collector.Attach(events)
	}

	var auditStore *audit.SQLiteStore
	if cfg.Audit.Enabled {
		auditStore, err = audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		defer auditStore.Close()
		auditStore.Attach(events)
		logger.Info("audit log enabled", "db", cfg.Audit.DBPath)
	}

	bot, err := channel.Connect(cfg.Telegram.Token)
	if err != nil {
		return err
	}
	logger.Info("authorized on telegram", "username", bot.Self.UserName)

	handler := command.NewHandler(command.HandlerConfig{
		Publisher: publisher.NewClient(publisher.ClientConfig{
			Sites:   sites,
			Timeout: cfg.HTTP.Timeout(),
			Logger:  logger,
		}),
		Downloader: channel.NewDownloader(channel.DownloaderConfig{
			Resolver:   bot,
			HTTPClient: publisher.NewHTTPClient(cfg.HTTP.DownloadTimeout()),
			Timeout:    cfg.HTTP.DownloadTimeout(),
			Logger:     logger,
		}),
		TempDir: cfg.General.TempDir,
		Events:  events,
		Logger:  logger,
	})

	telegram := channel.NewTelegram(channel.TelegramConfig{
		Bot:           bot,
		BotUserName:   bot.Self.UserName,
		Handler:       handler,
		AllowFrom:     cfg.Telegram.AllowFrom,
		PollTimeout:   cfg.Telegram.PollTimeoutSeconds,
		MaxConcurrent: cfg.General.MaxConcurrentCommands,
		Events:        events,
		Logger:        logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()
	// Stopping the bot also stops the ops server.
	g.Go(func() error {
		defer cancel()
		return telegram.Start(runCtx)
	})

	if collector != nil {
		ops := metrics.NewServer(metrics.ServerConfig{
			Addr:      cfg.Metrics.Addr(),
			Version:   version,
			Collector: collector,
			Logger:    logger,
		})
		ops.AddCheck("credentials", credentialsCheck(sites))
		if auditStore != nil {
			ops.AddCheck("audit", func(ctx context.Context) metrics.CheckResult {
				if err := auditStore.Ping(ctx); err != nil {
					return metrics.CheckResult{Status: metrics.StatusUnhealthy, Message: err.Error()}
				}
				return metrics.CheckResult{Status: metrics.StatusHealthy}
			})
		}
		g.Go(func() error { return ops.Run(runCtx) })
	}

	logger.Info("pressbot started. Press Ctrl+C to stop.", "sites", sites.Len(), "version", version)
	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// credentialsCheck reports degraded when no site is configured.
func credentialsCheck(sites *credentials.Store) metrics.HealthCheck {
	return func(context.Context) metrics.CheckResult {
		if sites.Len() == 0 {
			return metrics.CheckResult{Status: metrics.StatusDegraded, Message: "no sites configured"}
		}
		return metrics.CheckResult{Status: metrics.StatusHealthy, Message: fmt.Sprintf("%d sites", sites.Len())}
	}
}
