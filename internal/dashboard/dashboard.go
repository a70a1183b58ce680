// Package dashboard implements the web-based monitoring interface for
// orchestration stats and task history.
package dashboard

import (
	"net/http"
	"time"

	"github.com/mvoland/orq/internal/httputil"
	"github.com/mvoland/orq/internal/orchestrator"
	"github.com/mvoland/orq/internal/progress"
	"github.com/mvoland/orq/internal/registry"
)

type Dashboard struct {
	orc *orchestrator.Orchestrator
}

type Stats struct {
	TotalTasks        int            `json:"total_tasks"`
	RunningTasks      int            `json:"running_tasks"`
	CompletedTasks    int            `json:"completed_tasks"`
	FailedTasks       int            `json:"failed_tasks"`
	TasksByComplexity map[string]int `json:"tasks_by_complexity"`
	IdleWorkers       int            `json:"idle_workers"`
	BusyWorkers       int            `json:"busy_workers"`
	OfflineWorkers    int            `json:"offline_workers"`
	AverageDuration   string         `json:"average_duration"`
	LastUpdated       time.Time      `json:"last_updated"`
}

type TaskHistory struct {
	TaskID          string          `json:"task_id"`
	Name            string          `json:"name"`
	Status          progress.Status `json:"status"`
	OverallProgress int             `json:"overall_progress"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         *time.Time      `json:"end_time"`
	Duration        string          `json:"duration"`
}

func NewDashboard(orc *orchestrator.Orchestrator) *Dashboard {
	return &Dashboard{orc: orc}
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	tasks := d.orc.Tasks()

	stats := Stats{
		TotalTasks:        len(tasks),
		TasksByComplexity: make(map[string]int),
		LastUpdated:       time.Now(),
	}

	var totalDuration time.Duration
	finished := 0

	for _, p := range tasks {
		switch p.Status {
		case progress.StatusInProgress:
			stats.RunningTasks++
		case progress.StatusCompleted:
			stats.CompletedTasks++
		case progress.StatusFailed:
			stats.FailedTasks++
		}

		stats.TasksByComplexity[string(p.Definition.Complexity)]++

		if p.Terminal() {
			totalDuration += p.Duration.Std()
			finished++
		}
	}

	if finished > 0 {
		avg := totalDuration / time.Duration(finished)
		stats.AverageDuration = avg.Round(time.Millisecond).String()
	} else {
		stats.AverageDuration = "N/A"
	}

	for _, info := range d.orc.Workers() {
		switch info.Status.State {
		case registry.StateIdle:
			stats.IdleWorkers++
		case registry.StateBusy:
			stats.BusyWorkers++
		case registry.StateOffline:
			stats.OfflineWorkers++
		}
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

// GetHistory lists finished tasks, newest first.
func (d *Dashboard) GetHistory(w http.ResponseWriter, r *http.Request) {
	history := make([]TaskHistory, 0)

	for _, p := range d.orc.Tasks() {
		if !p.Terminal() {
			continue
		}

		history = append(history, TaskHistory{
			TaskID:          p.TaskID,
			Name:            p.Definition.Name,
			Status:          p.Status,
			OverallProgress: p.Overall,
			StartTime:       p.StartTime,
			EndTime:         p.EndTime,
			Duration:        p.Duration.Std().Round(time.Millisecond).String(),
		})
	}

	httputil.WriteJSON(w, http.StatusOK, history)
}
