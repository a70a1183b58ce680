package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mvoland/orq/internal/api"
	"github.com/mvoland/orq/internal/config"
	"github.com/mvoland/orq/internal/dispatch"
	"github.com/mvoland/orq/internal/events"
	"github.com/mvoland/orq/internal/logging"
	"github.com/mvoland/orq/internal/middleware"
	"github.com/mvoland/orq/internal/notify"
	"github.com/mvoland/orq/internal/orchestrator"
	"github.com/mvoland/orq/internal/progress"
	"github.com/mvoland/orq/internal/registry"
	"github.com/mvoland/orq/internal/repository"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		bootLog := logging.New("info")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logging.New(cfg.LogLevel)

	dispatcher, err := dispatch.NewRedisDispatcher(cfg.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable")
	}

	reg := registry.New()
	bus := events.NewBus()
	orc := orchestrator.New(
		reg,
		progress.NewTracker(reg),
		bus,
		dispatcher,
		logging.Component(log, "orchestrator"),
		orchestrator.WithHealthPolicy(orchestrator.HealthPolicy{
			HealthyRatio:  cfg.Health.HealthyRatio,
			DegradedRatio: cfg.Health.DegradedRatio,
		}),
	)

	for _, w := range cfg.Workers {
		if err := orc.RegisterWorker(registry.Kind(w.Kind), w.Capabilities); err != nil {
			log.Fatal().Err(err).Str("kind", w.Kind).Msg("worker registration failed")
		}
	}

	if cfg.PostgresDSN != "" {
		archive, err := repository.NewPostgresArchive(cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable")
		}
		defer func() {
			if err := archive.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close archive")
			}
		}()

		archiveLog := logging.Component(log, "archive")
		archiveTerminal := func(e events.Event) {
			p, ok := e.Payload.(*progress.Progress)
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := archive.Save(ctx, p); err != nil {
				archiveLog.Error().Err(err).Str("task_id", e.TaskID).Msg("task not archived")
			}
		}
		bus.Subscribe(events.TaskCompleted, archiveTerminal)
		bus.Subscribe(events.TaskFailed, archiveTerminal)
	}

	if cfg.Alerts.SendgridAPIKey != "" {
		notifier := notify.NewEmailNotifier(
			cfg.Alerts.SendgridAPIKey,
			cfg.Alerts.FromName,
			cfg.Alerts.FromAddress,
			cfg.Alerts.ToAddress,
			logging.Component(log, "notify"),
		)
		bus.Subscribe(events.TaskFailed, notifier.FailureHandler())
	}

	pump, err := dispatch.NewEventPump(cfg.RedisAddr, orc, logging.Component(log, "pump"))
	if err != nil {
		log.Fatal().Err(err).Msg("event pump setup failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pump.Run(ctx)
	go watchHeartbeats(ctx, orc, cfg.Health.HeartbeatTimeout.Std())

	mux := http.NewServeMux()
	mux.Handle("/api/", middleware.MetricsMiddleware(api.NewAPI(orc, logging.Component(log, "api"))))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("redis", cfg.RedisAddr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	orc.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("forced server close")
	}

	if err := pump.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close event pump")
	}
	if err := dispatcher.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close dispatcher")
	}
}

func watchHeartbeats(ctx context.Context, orc *orchestrator.Orchestrator, timeout time.Duration) {
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			orc.CheckHeartbeats(timeout)
		}
	}
}
