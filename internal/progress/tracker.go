// Package progress owns the lifecycle of each task's progress record, from
// acceptance to its terminal state. Overall progress is the rounded
// arithmetic mean of the per-worker completion percentages; a task completes
// only when every assigned worker independently reaches 100, and any single
// worker failure fails the whole task immediately.
package progress

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/mvoland/orq/internal/registry"
	"github.com/mvoland/orq/internal/task"
)

type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	ErrEmptyAssignment        = errors.New("task has no assigned workers")
	ErrUnknownWorkerReference = errors.New("task references an unregistered worker kind")
	ErrUnknownTask            = errors.New("unknown task")
	ErrDuplicateTask          = errors.New("task id already tracked")
	ErrProgressRegression     = errors.New("progress regression: percent lower than previously reported")
	ErrInvalidPercent         = errors.New("progress percent must be between 0 and 100")
	ErrTaskFinished           = errors.New("task already reached a terminal state")
)

// WorkerRecord is one worker's contribution to a task.
type WorkerRecord struct {
	Percent       int    `json:"percent"`
	Status        Status `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Progress is the aggregated progress record for a single task.
type Progress struct {
	TaskID     string                          `json:"task_id"`
	Definition *task.Definition                `json:"definition"`
	Status     Status                          `json:"status"`
	PerWorker  map[registry.Kind]*WorkerRecord `json:"per_worker"`
	Overall    int                             `json:"overall_progress"`
	StartTime  time.Time                       `json:"start_time"`
	EndTime    *time.Time                      `json:"end_time,omitempty"`
	Duration   task.DurationMS                 `json:"duration_ms,omitempty"`
}

// Workers returns the task's assigned worker kinds in stable order.
func (p *Progress) Workers() []registry.Kind {
	kinds := make([]registry.Kind, 0, len(p.PerWorker))
	for kind := range p.PerWorker {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (p *Progress) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

func (p *Progress) clone() *Progress {
	cp := *p
	cp.PerWorker = make(map[registry.Kind]*WorkerRecord, len(p.PerWorker))
	for kind, rec := range p.PerWorker {
		c := *rec
		cp.PerWorker[kind] = &c
	}
	if p.EndTime != nil {
		end := *p.EndTime
		cp.EndTime = &end
	}
	return &cp
}

// Tracker keeps every task's progress record, terminal ones included so
// snapshots stay available to callers. Like the registry, it is a passive
// store serialized by the orchestrator.
type Tracker struct {
	registry *registry.Registry
	tasks    map[string]*Progress
}

func NewTracker(reg *registry.Registry) *Tracker {
	return &Tracker{
		registry: reg,
		tasks:    make(map[string]*Progress),
	}
}

// Start accepts a task definition and initializes every assigned worker at
// zero percent. Nothing is recorded if validation fails.
func (t *Tracker) Start(def *task.Definition) (*Progress, error) {
	if len(def.AssignedWorkers) == 0 {
		return nil, ErrEmptyAssignment
	}
	for _, kind := range def.AssignedWorkers {
		if !t.registry.Has(kind) {
			return nil, ErrUnknownWorkerReference
		}
	}
	if _, exists := t.tasks[def.ID]; exists {
		return nil, ErrDuplicateTask
	}

	p := &Progress{
		TaskID:     def.ID,
		Definition: def,
		Status:     StatusInProgress,
		PerWorker:  make(map[registry.Kind]*WorkerRecord, len(def.AssignedWorkers)),
		StartTime:  time.Now(),
	}
	for _, kind := range def.AssignedWorkers {
		p.PerWorker[kind] = &WorkerRecord{Status: StatusInProgress}
	}

	t.tasks[def.ID] = p
	return p.clone(), nil
}

// ReportProgress records a worker's completion percentage. Percent must be
// within [0,100] and monotonically non-decreasing per worker; a lower value
// than previously recorded fails with ErrProgressRegression so out-of-order
// transports surface instead of silently rewinding progress.
func (t *Tracker) ReportProgress(taskID string, kind registry.Kind, percent int) (*Progress, error) {
	p, ok := t.tasks[taskID]
	if !ok {
		return nil, ErrUnknownTask
	}
	if p.Terminal() {
		return nil, ErrTaskFinished
	}

	rec, ok := p.PerWorker[kind]
	if !ok {
		return nil, ErrUnknownWorkerReference
	}
	if percent < 0 || percent > 100 {
		return nil, ErrInvalidPercent
	}
	if percent < rec.Percent {
		return nil, ErrProgressRegression
	}

	rec.Percent = percent
	if percent == 100 {
		rec.Status = StatusCompleted
	}
	p.Overall = overall(p)

	if allCompleted(p) {
		finish(p, StatusCompleted)
	}

	return p.clone(), nil
}

// ReportFailure marks the worker's sub-progress failed and fails the whole
// task immediately. Other workers' recorded percentages are kept as-is.
func (t *Tracker) ReportFailure(taskID string, kind registry.Kind, reason string) (*Progress, error) {
	p, ok := t.tasks[taskID]
	if !ok {
		return nil, ErrUnknownTask
	}
	if p.Terminal() {
		return nil, ErrTaskFinished
	}

	rec, ok := p.PerWorker[kind]
	if !ok {
		return nil, ErrUnknownWorkerReference
	}

	rec.Status = StatusFailed
	rec.FailureReason = reason
	finish(p, StatusFailed)

	return p.clone(), nil
}

// Get returns a snapshot of the task's current progress record.
func (t *Tracker) Get(taskID string) (*Progress, error) {
	p, ok := t.tasks[taskID]
	if !ok {
		return nil, ErrUnknownTask
	}
	return p.clone(), nil
}

// List returns snapshots of every tracked task, newest first.
func (t *Tracker) List() []*Progress {
	out := make([]*Progress, 0, len(t.tasks))
	for _, p := range t.tasks {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

// overall is the rounded mean of per-worker percents, capped at 99 until
// every worker reaches 100 so that 100 is reported exactly when the task
// completes.
func overall(p *Progress) int {
	if len(p.PerWorker) == 0 {
		return 0
	}

	sum := 0
	for _, rec := range p.PerWorker {
		sum += rec.Percent
	}

	mean := int(math.Round(float64(sum) / float64(len(p.PerWorker))))
	if mean == 100 && !allCompleted(p) {
		return 99
	}
	return mean
}

func allCompleted(p *Progress) bool {
	for _, rec := range p.PerWorker {
		if rec.Percent < 100 {
			return false
		}
	}
	return true
}

func finish(p *Progress, status Status) {
	now := time.Now()
	p.Status = status
	p.EndTime = &now
	p.Duration = task.DurationMS(now.Sub(p.StartTime))
	p.Overall = overall(p)
}
