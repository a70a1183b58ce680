package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mvoland/orq/internal/agent"
	"github.com/mvoland/orq/internal/dispatch"
	"github.com/mvoland/orq/internal/logging"
	"github.com/mvoland/orq/internal/registry"
)

func main() {
	log := logging.New(os.Getenv("LOG_LEVEL"))

	kind := registry.Kind(os.Getenv("WORKER_KIND"))
	if kind == "" {
		log.Fatal().Msg("WORKER_KIND is required")
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	client, err := dispatch.NewWorkerClient(redisAddr, kind)
	if err != nil {
		log.Fatal().Err(err).Str("addr", redisAddr).Msg("redis unavailable")
	}

	defer func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close worker client")
		}
	}()

	a := agent.New(kind, client, logging.Component(log, string(kind)))

	a.RegisterHandler("build feature", agent.SubtaskWalker(buildStep))
	a.RegisterHandler("run migration", agent.SubtaskWalker(migrationStep))
	a.RegisterHandler("health check", healthCheckHandler)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info().Msg("shutting down agent")
		cancel()
	}()

	log.Info().Str("kind", string(kind)).Msg("agent starting")
	a.Run(ctx)
}

func buildStep(_ context.Context, subtask string) error {
	if strings.Contains(subtask, "fail") {
		return fmt.Errorf("subtask %q failed", subtask)
	}

	time.Sleep(500 * time.Millisecond)
	return nil
}

func migrationStep(ctx context.Context, subtask string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return nil
	}
}

func healthCheckHandler(_ context.Context, env *dispatch.Envelope, report agent.ProgressFunc) error {
	if env.Definition.Metadata["target"] == "" {
		return errors.New("missing 'target' metadata")
	}

	report(50)
	time.Sleep(200 * time.Millisecond)
	return nil
}
