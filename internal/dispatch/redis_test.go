package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvoland/orq/internal/orchestrator"
	"github.com/mvoland/orq/internal/registry"
	"github.com/mvoland/orq/internal/task"
)

type recordedEvent struct {
	taskID string
	kind   registry.Kind
	sig    orchestrator.Signal
}

type fakeSink struct {
	mu         sync.Mutex
	events     []recordedEvent
	heartbeats []registry.Kind
	err        error
}

func (s *fakeSink) IngestWorkerEvent(_ context.Context, taskID string, kind registry.Kind, sig orchestrator.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{taskID: taskID, kind: kind, sig: sig})
	return s.err
}

func (s *fakeSink) Heartbeat(kind registry.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats = append(s.heartbeats, kind)
	return s.err
}

func (s *fakeSink) snapshot() ([]recordedEvent, []registry.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...), append([]registry.Kind(nil), s.heartbeats...)
}

func TestDispatchAndNext(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	d, err := NewRedisDispatcher(mr.Addr())
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	wc, err := NewWorkerClient(mr.Addr(), registry.KindBackend)
	require.NoError(t, err)
	defer func() { _ = wc.Close() }()

	def := task.NewDefinition("migrate", []registry.Kind{registry.KindBackend}, task.ComplexityHigh)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, registry.KindBackend, def))

	env, err := wc.Next(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, def.ID, env.TaskID)
	assert.Equal(t, registry.KindBackend, env.Worker)
	assert.Equal(t, "migrate", env.Definition.Name)
}

func TestDispatchKeysAreSeparatedByKind(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	d, err := NewRedisDispatcher(mr.Addr())
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	def := task.NewDefinition("split", []registry.Kind{registry.KindFrontend, registry.KindBackend}, task.ComplexityLow)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, registry.KindFrontend, def))
	require.NoError(t, d.Dispatch(ctx, registry.KindBackend, def))

	frontend, err := NewWorkerClient(mr.Addr(), registry.KindFrontend)
	require.NoError(t, err)
	defer func() { _ = frontend.Close() }()

	env, err := frontend.Next(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, registry.KindFrontend, env.Worker)

	// no second envelope for frontend
	env, err = frontend.Next(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestNextTimesOutEmpty(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	wc, err := NewWorkerClient(mr.Addr(), registry.KindDatabase)
	require.NoError(t, err)
	defer func() { _ = wc.Close() }()

	env, err := wc.Next(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestPumpDeliversEventsInOrder(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	wc, err := NewWorkerClient(mr.Addr(), registry.KindFrontend)
	require.NoError(t, err)
	defer func() { _ = wc.Close() }()

	ctx := context.Background()
	require.NoError(t, wc.ReportProgress(ctx, "t1", 25))
	require.NoError(t, wc.ReportProgress(ctx, "t1", 75))
	require.NoError(t, wc.Heartbeat(ctx))
	require.NoError(t, wc.ReportFailure(ctx, "t1", "disk full"))

	sink := &fakeSink{}
	pump, err := NewEventPump(mr.Addr(), sink, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = pump.Close() }()

	for i := 0; i < 4; i++ {
		require.NoError(t, pump.pumpOne(ctx))
	}

	evts, beats := sink.snapshot()
	require.Len(t, evts, 3)
	require.Len(t, beats, 1)

	assert.Equal(t, registry.KindFrontend, beats[0])
	require.NotNil(t, evts[0].sig.Progress)
	assert.Equal(t, 25, *evts[0].sig.Progress)
	require.NotNil(t, evts[1].sig.Progress)
	assert.Equal(t, 75, *evts[1].sig.Progress)
	assert.Equal(t, "disk full", evts[2].sig.Failure)
	assert.Equal(t, "t1", evts[2].taskID)
}

func TestPumpDropsMalformedEvents(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	require.NoError(t, client.RPush(context.Background(), "orq:events", "{malformed").Err())

	sink := &fakeSink{}
	pump, err := NewEventPump(mr.Addr(), sink, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = pump.Close() }()

	require.NoError(t, pump.pumpOne(context.Background()))

	evts, beats := sink.snapshot()
	assert.Empty(t, evts)
	assert.Empty(t, beats)
}

func TestConnectFailure(t *testing.T) {
	_, err := NewRedisDispatcher("127.0.0.1:1")
	assert.Error(t, err)

	_, err = NewWorkerClient("127.0.0.1:1", registry.KindBackend)
	assert.Error(t, err)

	_, err = NewEventPump("127.0.0.1:1", &fakeSink{}, zerolog.Nop())
	assert.Error(t, err)
}
