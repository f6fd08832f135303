package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/driftwatch/internal/aggregate"
	"github.com/good-yellow-bee/driftwatch/internal/api"
	"github.com/good-yellow-bee/driftwatch/internal/cache"
	"github.com/good-yellow-bee/driftwatch/internal/config"
	"github.com/good-yellow-bee/driftwatch/internal/detect"
	"github.com/good-yellow-bee/driftwatch/internal/evaluate"
	"github.com/good-yellow-bee/driftwatch/internal/feedback"
	"github.com/good-yellow-bee/driftwatch/internal/flags"
	"github.com/good-yellow-bee/driftwatch/internal/logger"
	"github.com/good-yellow-bee/driftwatch/internal/metrics"
	"github.com/good-yellow-bee/driftwatch/internal/notify"
	"github.com/good-yellow-bee/driftwatch/internal/suppress"
	"github.com/good-yellow-bee/driftwatch/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the driftwatch server",
	Long: `Start the HTTP trigger API, the Prometheus metrics endpoint,
and the webhook retry sweeper. Shuts down cleanly on SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	memCache := cache.NewMemory()

	suppressor := suppress.New(store, memCache, cfg.Suppression)
	webhooks := webhook.NewService(store, cfg.Webhook)

	dispatcher, err := notify.NewDispatcher(store, suppressor, cfg.Notify, notify.NoArtifacts{}, webhooks)
	if err != nil {
		return err
	}

	apiServer, err := api.New(&api.Config{Address: cfg.Server.HTTPAddress}, api.Deps{
		Storage:    store,
		Aggregator: aggregate.New(store),
		Detector:   detect.New(store, cfg.Detection),
		Evaluator:  evaluate.New(store),
		Suppressor: suppressor,
		Dispatcher: dispatcher,
		Feedback:   feedback.New(store),
		Webhooks:   webhooks,
		Gate:       flags.New(store, memCache, cfg.Flags, cfg.Environment),
	})
	if err != nil {
		return err
	}

	metricsServer := metrics.NewServer(cfg.Server.MetricsAddress)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiServer.Run(gctx)
	})

	g.Go(func() error {
		return metricsServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return webhooks.Run(gctx)
	})

	// Hot-reload is limited to log level. Everything else requires a
	// restart because services capture their config at construction.
	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, func(updated *config.Config) {
				logger.Init(updated.Log.Level)
				log.Info().Str("level", updated.Log.Level).Msg("config reloaded")
			})
		})
	}

	log.Info().
		Str("http", cfg.Server.HTTPAddress).
		Str("metrics", cfg.Server.MetricsAddress).
		Str("database", cfg.Database.Path).
		Str("environment", cfg.Environment).
		Msg("driftwatch started")

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Info().Msg("driftwatch stopped")
	return nil
}
