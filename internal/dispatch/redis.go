// Package dispatch implements the transport collaborator between the
// orchestrator and its worker processes on Redis lists. Outbound task
// fragments go to one list per worker kind; inbound worker events come back
// on a single FIFO list, preserving per-task arrival order the way the
// orchestrator core expects.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mvoland/orq/internal/orchestrator"
	"github.com/mvoland/orq/internal/registry"
	"github.com/mvoland/orq/internal/task"
)

const (
	dispatchKeyPrefix = "orq:dispatch:"
	eventsKey         = "orq:events"
)

const (
	EventProgress  = "progress"
	EventFailure   = "failure"
	EventHeartbeat = "heartbeat"
)

// Envelope is one dispatched task fragment.
type Envelope struct {
	TaskID     string           `json:"task_id"`
	Worker     registry.Kind    `json:"worker"`
	Definition *task.Definition `json:"definition"`
}

// WorkerEvent is one inbound signal from a worker process.
type WorkerEvent struct {
	Type     string        `json:"type"`
	TaskID   string        `json:"task_id,omitempty"`
	Worker   registry.Kind `json:"worker"`
	Progress *int          `json:"progress,omitempty"`
	Failure  string        `json:"failure,omitempty"`
}

func dispatchKey(kind registry.Kind) string {
	return dispatchKeyPrefix + string(kind)
}

// RedisDispatcher pushes task fragments onto per-kind dispatch lists.
// Dispatch is fire-and-forget: the orchestrator never blocks on execution.
type RedisDispatcher struct {
	client *redis.Client
}

func NewRedisDispatcher(redisAddr string) (*RedisDispatcher, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDispatcher{client: client}, nil
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, kind registry.Kind, def *task.Definition) error {
	payload, err := json.Marshal(Envelope{TaskID: def.ID, Worker: kind, Definition: def})
	if err != nil {
		return err
	}

	return d.client.RPush(ctx, dispatchKey(kind), payload).Err()
}

func (d *RedisDispatcher) Close() error {
	return d.client.Close()
}

// EventSink is what the pump feeds. The orchestrator satisfies it.
type EventSink interface {
	IngestWorkerEvent(ctx context.Context, taskID string, kind registry.Kind, sig orchestrator.Signal) error
	Heartbeat(kind registry.Kind) error
}

// EventPump drains the inbound event list and feeds the sink one event at a
// time, so the orchestrator sees the same FIFO order workers emitted.
type EventPump struct {
	client *redis.Client
	sink   EventSink
	log    zerolog.Logger
}

func NewEventPump(redisAddr string, sink EventSink, log zerolog.Logger) (*EventPump, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &EventPump{client: client, sink: sink, log: log}, nil
}

// Run blocks until ctx is cancelled. Sink errors are logged, never retried:
// a rejected event (late progress for a finished task, a regression from a
// reordering transport) is the worker's problem to tolerate, per the core's
// propagation policy.
func (p *EventPump) Run(ctx context.Context) {
	for {
		if err := p.pumpOne(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error().Err(err).Msg("event pump read failed")
			time.Sleep(time.Second)
		}
	}
}

func (p *EventPump) pumpOne(ctx context.Context) error {
	res, err := p.client.BLPop(ctx, time.Second, eventsKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(res) != 2 {
		return nil
	}

	var evt WorkerEvent
	if err := json.Unmarshal([]byte(res[1]), &evt); err != nil {
		p.log.Warn().Err(err).Msg("dropping malformed worker event")
		return nil
	}

	p.deliver(ctx, evt)
	return nil
}

func (p *EventPump) deliver(ctx context.Context, evt WorkerEvent) {
	switch evt.Type {
	case EventHeartbeat:
		if err := p.sink.Heartbeat(evt.Worker); err != nil {
			p.log.Warn().Err(err).Str("worker", string(evt.Worker)).Msg("heartbeat rejected")
		}
	case EventProgress, EventFailure:
		sig := orchestrator.Signal{Progress: evt.Progress, Failure: evt.Failure}
		if err := p.sink.IngestWorkerEvent(ctx, evt.TaskID, evt.Worker, sig); err != nil {
			p.log.Warn().
				Err(err).
				Str("task_id", evt.TaskID).
				Str("worker", string(evt.Worker)).
				Msg("worker event rejected")
		}
	default:
		p.log.Warn().Str("type", evt.Type).Msg("unknown worker event type")
	}
}

func (p *EventPump) Close() error {
	return p.client.Close()
}

// WorkerClient is the worker-process side of the transport: it pulls
// dispatched fragments for one worker kind and pushes events back.
type WorkerClient struct {
	client *redis.Client
	kind   registry.Kind
}

func NewWorkerClient(redisAddr string, kind registry.Kind) (*WorkerClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &WorkerClient{client: client, kind: kind}, nil
}

// Next blocks up to timeout for the next dispatched fragment. It returns
// (nil, nil) when the timeout elapses with nothing queued.
func (c *WorkerClient) Next(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	res, err := c.client.BLPop(ctx, timeout, dispatchKey(c.kind)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, nil
	}

	var env Envelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return nil, fmt.Errorf("malformed dispatch envelope: %w", err)
	}

	return &env, nil
}

func (c *WorkerClient) ReportProgress(ctx context.Context, taskID string, percent int) error {
	return c.push(ctx, WorkerEvent{Type: EventProgress, TaskID: taskID, Worker: c.kind, Progress: &percent})
}

func (c *WorkerClient) ReportFailure(ctx context.Context, taskID string, reason string) error {
	return c.push(ctx, WorkerEvent{Type: EventFailure, TaskID: taskID, Worker: c.kind, Failure: reason})
}

func (c *WorkerClient) Heartbeat(ctx context.Context) error {
	return c.push(ctx, WorkerEvent{Type: EventHeartbeat, Worker: c.kind})
}

func (c *WorkerClient) push(ctx context.Context, evt WorkerEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	return c.client.RPush(ctx, eventsKey, payload).Err()
}

func (c *WorkerClient) Close() error {
	return c.client.Close()
}
