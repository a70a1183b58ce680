// Package agent provides the worker-process runtime that consumes dispatched
// task fragments and reports progress back through the transport. It lives
// outside the orchestrator core: from the core's point of view an agent is
// just the thing that eventually answers a dispatch.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mvoland/orq/internal/dispatch"
	"github.com/mvoland/orq/internal/registry"
)

// ProgressFunc reports a fragment's completion percentage. Values are
// clamped to [0,99]; the agent itself reports 100 once the handler returns.
type ProgressFunc func(percent int)

// Handler executes one task fragment for this worker kind.
type Handler func(ctx context.Context, env *dispatch.Envelope, report ProgressFunc) error

type Agent struct {
	kind        registry.Kind
	client      *dispatch.WorkerClient
	handlers    map[string]Handler
	pollTimeout time.Duration
	log         zerolog.Logger
}

func New(kind registry.Kind, client *dispatch.WorkerClient, log zerolog.Logger) *Agent {
	return &Agent{
		kind:        kind,
		client:      client,
		handlers:    make(map[string]Handler),
		pollTimeout: time.Second,
		log:         log,
	}
}

// RegisterHandler binds a handler to a task name.
func (a *Agent) RegisterHandler(taskName string, h Handler) {
	a.handlers[taskName] = h
}

func (a *Agent) SetPollTimeout(d time.Duration) {
	a.pollTimeout = d
}

// Run polls for dispatched fragments until ctx is cancelled, sending a
// heartbeat on every idle poll cycle.
func (a *Agent) Run(ctx context.Context) {
	a.log.Info().Str("worker", string(a.kind)).Msg("agent started")

	for {
		if ctx.Err() != nil {
			a.log.Info().Str("worker", string(a.kind)).Msg("agent stopped")
			return
		}

		env, err := a.client.Next(ctx, a.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			a.log.Error().Err(err).Msg("failed to poll for dispatches")
			time.Sleep(a.pollTimeout)
			continue
		}
		if env == nil {
			if err := a.client.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn().Err(err).Msg("heartbeat failed")
			}
			continue
		}

		a.process(ctx, env)
	}
}

func (a *Agent) process(ctx context.Context, env *dispatch.Envelope) {
	a.log.Info().Str("task_id", env.TaskID).Str("name", env.Definition.Name).Msg("processing fragment")

	handler, ok := a.handlers[env.Definition.Name]
	if !ok {
		a.fail(ctx, env.TaskID, fmt.Sprintf("no handler for task %q on worker %s", env.Definition.Name, a.kind))
		return
	}

	report := func(percent int) {
		if percent < 0 {
			percent = 0
		}
		if percent > 99 {
			percent = 99
		}
		if err := a.client.ReportProgress(ctx, env.TaskID, percent); err != nil {
			a.log.Warn().Err(err).Str("task_id", env.TaskID).Msg("progress report failed")
		}
	}

	if err := handler(ctx, env, report); err != nil {
		a.fail(ctx, env.TaskID, err.Error())
		return
	}

	if err := a.client.ReportProgress(ctx, env.TaskID, 100); err != nil {
		a.log.Error().Err(err).Str("task_id", env.TaskID).Msg("completion report failed")
		return
	}
	a.log.Info().Str("task_id", env.TaskID).Msg("fragment completed")
}

func (a *Agent) fail(ctx context.Context, taskID, reason string) {
	if err := a.client.ReportFailure(ctx, taskID, reason); err != nil {
		a.log.Error().Err(err).Str("task_id", taskID).Msg("failure report failed")
		return
	}
	a.log.Warn().Str("task_id", taskID).Str("reason", reason).Msg("fragment failed")
}

// SubtaskWalker is a convenience handler that walks the definition's
// subtasks through step, reporting evenly spaced progress between them.
func SubtaskWalker(step func(ctx context.Context, subtask string) error) Handler {
	return func(ctx context.Context, env *dispatch.Envelope, report ProgressFunc) error {
		subtasks := env.Definition.Subtasks
		if len(subtasks) == 0 {
			return nil
		}

		for i, sub := range subtasks {
			if err := step(ctx, sub); err != nil {
				return fmt.Errorf("subtask %q: %w", sub, err)
			}
			report((i + 1) * 100 / len(subtasks))
		}
		return nil
	}
}
