// Package orchestrator is the public entry point of the task distribution
// core. It validates submissions against the worker registry, fans task
// fragments out through the dispatch boundary, relays inbound worker events
// into the progress tracker, and republishes lifecycle events on the message
// channel.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mvoland/orq/internal/events"
	"github.com/mvoland/orq/internal/metrics"
	"github.com/mvoland/orq/internal/progress"
	"github.com/mvoland/orq/internal/registry"
	"github.com/mvoland/orq/internal/task"
)

var (
	ErrWorkerBusy    = errors.New("assigned worker is busy with another task")
	ErrShutdown      = errors.New("orchestrator is shut down")
	ErrInvalidSignal = errors.New("worker event carries neither progress nor failure")
	ErrInvalidTask   = errors.New("invalid task definition")
)

// Dispatcher is the fire-and-forget boundary to the real worker processes.
// The worker is responsible for eventually calling back into
// IngestWorkerEvent through whatever transport hosts it.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind registry.Kind, def *task.Definition) error
}

// Signal is one inbound worker event: a completion percentage or a failure
// reason, never both.
type Signal struct {
	Progress *int   `json:"progress,omitempty"`
	Failure  string `json:"failure,omitempty"`
}

// HealthStatus is the aggregate orchestrator health level.
type HealthStatus string

const (
	SystemHealthy   HealthStatus = "healthy"
	SystemDegraded  HealthStatus = "degraded"
	SystemUnhealthy HealthStatus = "unhealthy"
)

// HealthPolicy holds the ratio thresholds for aggregate health. The defaults
// follow the stated policy: healthy at >=80% healthy workers, degraded at
// >=50%.
type HealthPolicy struct {
	HealthyRatio  float64
	DegradedRatio float64
}

func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{HealthyRatio: 0.8, DegradedRatio: 0.5}
}

// HealthReport is the snapshot returned by SystemHealth.
type HealthReport struct {
	Status         HealthStatus                       `json:"status"`
	HealthyWorkers int                                `json:"healthy_workers"`
	TotalWorkers   int                                `json:"total_workers"`
	Workers        map[registry.Kind]registry.Health `json:"workers"`
}

// WorkerInfo combines a worker kind's declaration with its live records.
type WorkerInfo struct {
	Kind         registry.Kind   `json:"kind"`
	Capabilities []string        `json:"capabilities"`
	Status       registry.Status `json:"status"`
	Health       registry.Health `json:"health"`
}

// Orchestrator owns the registry, tracker and message channel. A single
// mutex serializes every state mutation, which realizes the one-event-at-a-
// time processing model inside a concurrent HTTP host.
type Orchestrator struct {
	mu         sync.Mutex
	reg        *registry.Registry
	tracker    *progress.Tracker
	bus        *events.Bus
	dispatcher Dispatcher
	policy     HealthPolicy
	log        zerolog.Logger
	down       bool
}

type Option func(*Orchestrator)

func WithHealthPolicy(p HealthPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func New(reg *registry.Registry, tracker *progress.Tracker, bus *events.Bus, d Dispatcher, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reg:        reg,
		tracker:    tracker,
		bus:        bus,
		dispatcher: d,
		policy:     DefaultHealthPolicy(),
		log:        log,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.publish(events.Event{Name: events.OrchestratorInitialized})
	return o
}

// RegisterWorker declares a worker kind with its capabilities.
func (o *Orchestrator) RegisterWorker(kind registry.Kind, capabilities []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.reg.Register(kind, capabilities); err != nil {
		return err
	}

	metrics.UpdateRegisteredWorkers(o.reg.Len())
	o.log.Info().Str("worker", string(kind)).Strs("capabilities", capabilities).Msg("worker registered")
	return nil
}

// SubmitTask validates the definition, marks every assigned worker busy,
// starts progress tracking and dispatches a fragment to each worker. All
// validation happens before any state mutation, so a rejected submission has
// no side effects. Submitting against a busy worker is rejected rather than
// queued.
func (o *Orchestrator) SubmitTask(ctx context.Context, def *task.Definition) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.down {
		metrics.RecordSubmissionRejected("shutdown")
		return "", ErrShutdown
	}
	if def == nil || def.Name == "" {
		metrics.RecordSubmissionRejected("invalid_definition")
		return "", ErrInvalidTask
	}
	if !def.Complexity.Valid() {
		metrics.RecordSubmissionRejected("invalid_complexity")
		return "", ErrInvalidTask
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if len(def.AssignedWorkers) == 0 {
		metrics.RecordSubmissionRejected("empty_assignment")
		return "", progress.ErrEmptyAssignment
	}
	seen := make(map[registry.Kind]struct{}, len(def.AssignedWorkers))
	for _, kind := range def.AssignedWorkers {
		if _, dup := seen[kind]; dup {
			metrics.RecordSubmissionRejected("duplicate_assignment")
			return "", ErrInvalidTask
		}
		seen[kind] = struct{}{}

		status, err := o.reg.GetStatus(kind)
		if err != nil {
			metrics.RecordSubmissionRejected("unknown_worker")
			return "", progress.ErrUnknownWorkerReference
		}
		if status.State != registry.StateIdle {
			metrics.RecordSubmissionRejected("worker_busy")
			return "", ErrWorkerBusy
		}
	}

	p, err := o.tracker.Start(def)
	if err != nil {
		metrics.RecordSubmissionRejected("tracker_rejected")
		return "", err
	}

	for _, kind := range def.AssignedWorkers {
		// cannot fail: every worker was verified idle above
		_ = o.reg.SetBusy(kind, def.ID)
	}
	o.updateBusyGauge()

	for _, kind := range def.AssignedWorkers {
		if err := o.dispatcher.Dispatch(ctx, kind, def); err != nil {
			metrics.RecordDispatchError(string(kind))
			o.log.Warn().Err(err).Str("task_id", def.ID).Str("worker", string(kind)).Msg("dispatch failed")
		}
	}

	metrics.RecordTaskSubmitted(def.Complexity)
	o.log.Info().Str("task_id", def.ID).Str("name", def.Name).Int("workers", len(def.AssignedWorkers)).Msg("task distributed")
	o.publish(events.Event{Name: events.TaskDistributed, TaskID: def.ID, Payload: p})

	return def.ID, nil
}

// IngestWorkerEvent relays one inbound progress or failure signal into the
// tracker. Terminal transitions release every assigned worker, update
// health counters and republish the matching lifecycle event.
func (o *Orchestrator) IngestWorkerEvent(ctx context.Context, taskID string, kind registry.Kind, sig Signal) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.down {
		return ErrShutdown
	}

	switch {
	case sig.Progress != nil && sig.Failure == "":
		return o.ingestProgress(taskID, kind, *sig.Progress)
	case sig.Progress == nil && sig.Failure != "":
		return o.ingestFailure(taskID, kind, sig.Failure)
	default:
		return ErrInvalidSignal
	}
}

func (o *Orchestrator) ingestProgress(taskID string, kind registry.Kind, percent int) error {
	p, err := o.tracker.ReportProgress(taskID, kind, percent)
	if err != nil {
		return err
	}

	if p.Status == progress.StatusCompleted {
		o.releaseWorkers(p, progress.StatusCompleted, kind)
		metrics.RecordTaskCompleted(p.Definition.Complexity, p.Duration.Std())
		o.log.Info().Str("task_id", taskID).Dur("duration", p.Duration.Std()).Msg("task completed")
		o.publish(events.Event{Name: events.TaskCompleted, TaskID: taskID, Payload: p})
		return nil
	}

	o.publish(events.Event{
		Name:    events.TaskProgress,
		TaskID:  taskID,
		Worker:  string(kind),
		Payload: p,
	})
	return nil
}

func (o *Orchestrator) ingestFailure(taskID string, kind registry.Kind, reason string) error {
	p, err := o.tracker.ReportFailure(taskID, kind, reason)
	if err != nil {
		return err
	}

	o.releaseWorkers(p, progress.StatusFailed, kind)
	metrics.RecordTaskFailed(p.Definition.Complexity, p.Duration.Std())
	o.log.Warn().Str("task_id", taskID).Str("worker", string(kind)).Str("reason", reason).Msg("task failed")
	o.publish(events.Event{Name: events.TaskFailed, TaskID: taskID, Worker: string(kind), Payload: p})
	return nil
}

// releaseWorkers sets every assigned worker idle and records the outcome.
// On completion every worker gets a completion credit; on failure only the
// failing worker's failure counter moves, the rest are just released.
func (o *Orchestrator) releaseWorkers(p *progress.Progress, outcome progress.Status, failedKind registry.Kind) {
	for _, kind := range p.Workers() {
		_ = o.reg.SetIdle(kind)
		switch {
		case outcome == progress.StatusCompleted:
			_ = o.reg.RecordCompletion(kind)
		case kind == failedKind:
			_ = o.reg.RecordFailure(kind)
		}
	}
	o.updateBusyGauge()
}

// Heartbeat refreshes a worker's liveness record. Heartbeats arrive from the
// transport collaborator, not from task events.
func (o *Orchestrator) Heartbeat(kind registry.Kind) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.reg.Heartbeat(kind)
}

// CheckHeartbeats marks workers whose last heartbeat is older than timeout
// as unreachable. Informational extension: staleness never fails a task.
func (o *Orchestrator) CheckHeartbeats(timeout time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	for _, kind := range o.reg.Kinds() {
		h, err := o.reg.GetHealth(kind)
		if err != nil {
			continue
		}
		if now.Sub(h.LastHeartbeat) > timeout && h.State != registry.HealthUnreachable {
			_ = o.reg.MarkUnreachable(kind)
			o.log.Warn().Str("worker", string(kind)).Time("last_heartbeat", h.LastHeartbeat).Msg("worker unreachable")
		}
	}
}

// SystemHealth aggregates per-worker health into one orchestrator level.
// With no registered workers the system reports unhealthy.
func (o *Orchestrator) SystemHealth() HealthReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := HealthReport{
		Status:  SystemUnhealthy,
		Workers: make(map[registry.Kind]registry.Health),
	}
	for _, kind := range o.reg.Kinds() {
		h, err := o.reg.GetHealth(kind)
		if err != nil {
			continue
		}
		report.Workers[kind] = h
		report.TotalWorkers++
		if h.State == registry.HealthHealthy {
			report.HealthyWorkers++
		}
	}

	if report.TotalWorkers == 0 {
		return report
	}

	ratio := float64(report.HealthyWorkers) / float64(report.TotalWorkers)
	switch {
	case ratio >= o.policy.HealthyRatio:
		report.Status = SystemHealthy
	case ratio >= o.policy.DegradedRatio:
		report.Status = SystemDegraded
	}
	return report
}

// Shutdown marks every worker offline and stops accepting submissions.
// Calling it twice is a no-op.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.down {
		return
	}
	o.down = true

	for _, kind := range o.reg.Kinds() {
		_ = o.reg.SetOffline(kind)
	}
	o.updateBusyGauge()

	o.log.Info().Msg("orchestrator shut down")
	o.publish(events.Event{Name: events.OrchestratorShutdown})
}

// TaskProgress returns a snapshot of one task's progress record.
func (o *Orchestrator) TaskProgress(taskID string) (*progress.Progress, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.tracker.Get(taskID)
}

// Tasks returns snapshots of all tracked tasks, newest first.
func (o *Orchestrator) Tasks() []*progress.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.tracker.List()
}

// Workers returns the declaration and live records of every worker kind.
func (o *Orchestrator) Workers() []WorkerInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	kinds := o.reg.Kinds()
	out := make([]WorkerInfo, 0, len(kinds))
	for _, kind := range kinds {
		caps, _ := o.reg.Capabilities(kind)
		status, _ := o.reg.GetStatus(kind)
		health, _ := o.reg.GetHealth(kind)
		out = append(out, WorkerInfo{Kind: kind, Capabilities: caps, Status: status, Health: health})
	}
	return out
}

// WorkerStatus returns one worker's live status record.
func (o *Orchestrator) WorkerStatus(kind registry.Kind) (registry.Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.reg.GetStatus(kind)
}

func (o *Orchestrator) publish(e events.Event) {
	metrics.RecordEventPublished(e.Name)
	o.bus.Publish(e)
}

func (o *Orchestrator) updateBusyGauge() {
	busy := 0
	for _, kind := range o.reg.Kinds() {
		if s, err := o.reg.GetStatus(kind); err == nil && s.State == registry.StateBusy {
			busy++
		}
	}
	metrics.UpdateBusyWorkers(busy)
}
