// Package registry holds the capability table and live status/health records
// for every worker kind known to the orchestrator. It is the single source of
// truth for whether a worker kind exists and what it can do.
package registry

import (
	"errors"
	"slices"
	"sort"
	"time"
)

type (
	Kind        string
	State       string
	HealthState string
)

const (
	KindFrontend    Kind = "frontend"
	KindBackend     Kind = "backend"
	KindAIServices  Kind = "ai-services"
	KindDatabase    Kind = "database"
	KindIntegration Kind = "integration"
)

const (
	StateIdle    State = "idle"
	StateBusy    State = "busy"
	StateOffline State = "offline"
)

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnreachable HealthState = "unreachable"
)

var (
	ErrDuplicateKind     = errors.New("worker kind already registered with different capabilities")
	ErrUnknownWorker     = errors.New("unknown worker kind")
	ErrInvalidTransition = errors.New("invalid worker state transition")
)

// Status is the live assignment record for a worker kind. CurrentTaskID is
// empty while the worker is idle or offline.
type Status struct {
	State         State     `json:"state"`
	CurrentTaskID string    `json:"current_task_id,omitempty"`
	LastActivity  time.Time `json:"last_activity"`
}

// Health accumulates per-worker outcome counters across tasks.
type Health struct {
	State          HealthState `json:"state"`
	LastHeartbeat  time.Time   `json:"last_heartbeat"`
	TasksCompleted int         `json:"tasks_completed"`
	TasksFailed    int         `json:"tasks_failed"`
}

// Registry is a passive store. It is not safe for concurrent use on its own;
// the orchestrator owns it exclusively and serializes access.
type Registry struct {
	capabilities map[Kind][]string
	status       map[Kind]*Status
	health       map[Kind]*Health
}

func New() *Registry {
	return &Registry{
		capabilities: make(map[Kind][]string),
		status:       make(map[Kind]*Status),
		health:       make(map[Kind]*Health),
	}
}

// Register declares a worker kind with its capability tags. Registering the
// same kind with identical capabilities is a no-op; a different capability
// set fails with ErrDuplicateKind.
func (r *Registry) Register(kind Kind, capabilities []string) error {
	if existing, ok := r.capabilities[kind]; ok {
		if slices.Equal(existing, capabilities) {
			return nil
		}
		return ErrDuplicateKind
	}

	now := time.Now()
	r.capabilities[kind] = slices.Clone(capabilities)
	r.status[kind] = &Status{State: StateIdle, LastActivity: now}
	r.health[kind] = &Health{State: HealthHealthy, LastHeartbeat: now}
	return nil
}

func (r *Registry) Has(kind Kind) bool {
	_, ok := r.capabilities[kind]
	return ok
}

func (r *Registry) Capabilities(kind Kind) ([]string, error) {
	caps, ok := r.capabilities[kind]
	if !ok {
		return nil, ErrUnknownWorker
	}
	return slices.Clone(caps), nil
}

// GetStatus returns a copy of the worker's status record.
func (r *Registry) GetStatus(kind Kind) (Status, error) {
	s, ok := r.status[kind]
	if !ok {
		return Status{}, ErrUnknownWorker
	}
	return *s, nil
}

// GetHealth returns a copy of the worker's health record.
func (r *Registry) GetHealth(kind Kind) (Health, error) {
	h, ok := r.health[kind]
	if !ok {
		return Health{}, ErrUnknownWorker
	}
	return *h, nil
}

// SetBusy assigns the worker to taskID. A worker already busy with a
// different task cannot be reassigned: there is no task preemption.
func (r *Registry) SetBusy(kind Kind, taskID string) error {
	s, ok := r.status[kind]
	if !ok {
		return ErrUnknownWorker
	}
	if s.State == StateBusy && s.CurrentTaskID != taskID {
		return ErrInvalidTransition
	}
	if s.State == StateOffline {
		return ErrInvalidTransition
	}

	s.State = StateBusy
	s.CurrentTaskID = taskID
	s.LastActivity = time.Now()
	return nil
}

// SetIdle releases the worker from its current assignment.
func (r *Registry) SetIdle(kind Kind) error {
	s, ok := r.status[kind]
	if !ok {
		return ErrUnknownWorker
	}

	s.State = StateIdle
	s.CurrentTaskID = ""
	s.LastActivity = time.Now()
	return nil
}

// SetOffline marks the worker offline, dropping any current assignment.
func (r *Registry) SetOffline(kind Kind) error {
	s, ok := r.status[kind]
	if !ok {
		return ErrUnknownWorker
	}

	s.State = StateOffline
	s.CurrentTaskID = ""
	s.LastActivity = time.Now()
	return nil
}

// RecordCompletion counts a successful task outcome for the worker and
// refreshes its heartbeat.
func (r *Registry) RecordCompletion(kind Kind) error {
	h, ok := r.health[kind]
	if !ok {
		return ErrUnknownWorker
	}

	h.TasksCompleted++
	h.LastHeartbeat = time.Now()
	h.State = deriveHealth(h)
	return nil
}

// RecordFailure counts a failed task outcome for the worker and refreshes
// its heartbeat.
func (r *Registry) RecordFailure(kind Kind) error {
	h, ok := r.health[kind]
	if !ok {
		return ErrUnknownWorker
	}

	h.TasksFailed++
	h.LastHeartbeat = time.Now()
	h.State = deriveHealth(h)
	return nil
}

// Heartbeat refreshes the worker's heartbeat timestamp. A heartbeat from an
// unreachable worker restores it to its counter-derived health state.
func (r *Registry) Heartbeat(kind Kind) error {
	h, ok := r.health[kind]
	if !ok {
		return ErrUnknownWorker
	}

	h.LastHeartbeat = time.Now()
	h.State = deriveHealth(h)
	return nil
}

// MarkUnreachable flags a worker whose heartbeat went stale.
func (r *Registry) MarkUnreachable(kind Kind) error {
	h, ok := r.health[kind]
	if !ok {
		return ErrUnknownWorker
	}

	h.State = HealthUnreachable
	return nil
}

// Kinds returns all registered worker kinds in stable order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.capabilities))
	for kind := range r.capabilities {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (r *Registry) Len() int {
	return len(r.capabilities)
}

// A worker whose failures outnumber its completions is degraded. Unreachable
// is never derived from counters, only from heartbeat staleness.
func deriveHealth(h *Health) HealthState {
	if h.TasksFailed > h.TasksCompleted {
		return HealthDegraded
	}
	return HealthHealthy
}
