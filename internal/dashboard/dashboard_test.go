package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvoland/orq/internal/events"
	"github.com/mvoland/orq/internal/orchestrator"
	"github.com/mvoland/orq/internal/progress"
	"github.com/mvoland/orq/internal/registry"
	"github.com/mvoland/orq/internal/task"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(_ context.Context, _ registry.Kind, _ *task.Definition) error {
	return nil
}

func setupOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()

	reg := registry.New()
	orc := orchestrator.New(reg, progress.NewTracker(reg), events.NewBus(), nopDispatcher{}, zerolog.Nop())

	require.NoError(t, orc.RegisterWorker(registry.KindFrontend, []string{"react"}))
	require.NoError(t, orc.RegisterWorker(registry.KindBackend, []string{"api"}))
	return orc
}

func submit(t *testing.T, orc *orchestrator.Orchestrator, name string, kinds ...registry.Kind) string {
	t.Helper()

	def := task.NewDefinition(name, kinds, task.ComplexityLow)
	id, err := orc.SubmitTask(context.Background(), def)
	require.NoError(t, err)
	return id
}

func report(t *testing.T, orc *orchestrator.Orchestrator, id string, kind registry.Kind, pct int) {
	t.Helper()

	sig := orchestrator.Signal{Progress: &pct}
	require.NoError(t, orc.IngestWorkerEvent(context.Background(), id, kind, sig))
}

func TestGetStats(t *testing.T) {
	orc := setupOrchestrator(t)
	dash := NewDashboard(orc)

	completed := submit(t, orc, "ship frontend", registry.KindFrontend)
	report(t, orc, completed, registry.KindFrontend, 100)

	submit(t, orc, "migrate db", registry.KindBackend)

	w := httptest.NewRecorder()
	dash.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))

	assert.Equal(t, 2, stats.TotalTasks)
	assert.Equal(t, 1, stats.CompletedTasks)
	assert.Equal(t, 1, stats.RunningTasks)
	assert.Equal(t, 2, stats.TasksByComplexity["low"])
	assert.Equal(t, 1, stats.BusyWorkers)
	assert.Equal(t, 1, stats.IdleWorkers)
	assert.NotEqual(t, "N/A", stats.AverageDuration)
}

func TestGetStatsEmpty(t *testing.T) {
	dash := NewDashboard(setupOrchestrator(t))

	w := httptest.NewRecorder()
	dash.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.TotalTasks)
	assert.Equal(t, "N/A", stats.AverageDuration)
	assert.Equal(t, 2, stats.IdleWorkers)
}

func TestGetHistoryOnlyFinishedTasks(t *testing.T) {
	orc := setupOrchestrator(t)
	dash := NewDashboard(orc)

	finished := submit(t, orc, "ship frontend", registry.KindFrontend)
	report(t, orc, finished, registry.KindFrontend, 100)

	submit(t, orc, "migrate db", registry.KindBackend)

	w := httptest.NewRecorder()
	dash.GetHistory(w, httptest.NewRequest(http.MethodGet, "/api/dashboard/history", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var history []TaskHistory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))

	require.Len(t, history, 1)
	assert.Equal(t, finished, history[0].TaskID)
	assert.Equal(t, progress.StatusCompleted, history[0].Status)
	assert.Equal(t, 100, history[0].OverallProgress)
	assert.NotNil(t, history[0].EndTime)
}
