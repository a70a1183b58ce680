// Package task defines the task definition submitted to the orchestrator.
// A definition is immutable once accepted; progress state lives in the
// progress package.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mvoland/orq/internal/registry"
)

type Complexity string

const (
	ComplexityLow      Complexity = "low"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
	ComplexityCritical Complexity = "critical"
)

func (c Complexity) Valid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh, ComplexityCritical:
		return true
	}
	return false
}

// DurationMS is a duration that marshals as integer milliseconds, matching
// the _ms field names on the wire.
type DurationMS time.Duration

func (d DurationMS) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

func (d *DurationMS) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}

	*d = DurationMS(time.Duration(ms) * time.Millisecond)
	return nil
}

func (d DurationMS) Std() time.Duration {
	return time.Duration(d)
}

// Definition describes a unit of work fanned out to one or more worker
// kinds. EstimatedDuration is informational only, never an enforced
// deadline.
type Definition struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	AssignedWorkers   []registry.Kind   `json:"assigned_workers"`
	Complexity        Complexity        `json:"complexity"`
	EstimatedDuration DurationMS        `json:"estimated_duration_ms"`
	Subtasks          []string          `json:"subtasks,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

func NewDefinition(name string, workers []registry.Kind, complexity Complexity) *Definition {
	return &Definition{
		ID:              uuid.New().String(),
		Name:            name,
		AssignedWorkers: workers,
		Complexity:      complexity,
		CreatedAt:       time.Now(),
	}
}

func (d *Definition) ToJSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func FromJSON(data string) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, err
	}

	return &d, nil
}
