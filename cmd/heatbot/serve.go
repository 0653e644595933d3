package main

import (
	"context"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"heatbot/internal/bot"
	"heatbot/internal/config"
	"heatbot/internal/health"
	"heatbot/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot and the health endpoint",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// logPresence says which required settings are configured without printing them.
func logPresence(c config.Config, log *zap.Logger) {
	presence := c.Presence()
	names := make([]string, 0, len(presence))
	for name := range presence {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if presence[name] {
			log.Info("setting configured", zap.String("name", name))
		} else {
			log.Warn("setting missing", zap.String("name", name))
		}
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logPresence(cfg, logger)
	if err := cfg.Validate(true); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}
	logger.Info("starting heatbot", zap.Object("config", cfg))

	tel, err := telemetry.Setup(ctx, cfg, logger)
	if err != nil {
		logger.Warn("telemetry disabled", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.shutdown(context.Background()); err != nil {
			logger.Warn("driver shutdown", zap.Error(err))
		}
	}()

	tg, err := bot.NewTelegram(bot.TelegramOptions{
		Token:         cfg.Bot.Token,
		PollTimeout:   cfg.Bot.PollTimeout,
		MaxConcurrent: cfg.Bot.MaxConcurrent,
		PollRestarts:  cfg.Bot.PollRestarts,
		Debug:         cfg.Bot.Debug,
		Logger:        logger.Named("telegram"),
	})
	if err != nil {
		return err
	}
	dispatcher := bot.NewDispatcher(a.fetcher, a.renderer, tg, bot.DispatcherOptions{
		Format: a.format,
		Logger: logger.Named("dispatch"),
	})

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Health.Enabled {
		hs := health.NewServer(health.Options{
			Port:        cfg.Health.Port,
			Bot:         tg.Username(),
			Environment: cfg.Server.Environment,
			Version:     cfg.Server.Version,
			Sessions:    a.sessions,
			Logger:      logger.Named("health"),
		})
		g.Go(func() error { return hs.Run(gctx) })
	}
	g.Go(func() error {
		return tg.Run(gctx, func(ctx context.Context, m bot.Message) {
			_ = dispatcher.Handle(ctx, m)
		})
	})

	err = g.Wait()
	logger.Info("heatbot stopped", zap.Error(err))
	return err
}
