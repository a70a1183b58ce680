package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvoland/orq/internal/progress"
	"github.com/mvoland/orq/internal/registry"
	"github.com/mvoland/orq/internal/task"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresArchive) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, &PostgresArchive{db: db}
}

func terminalProgress(status progress.Status) *progress.Progress {
	def := task.NewDefinition("deploy", []registry.Kind{registry.KindFrontend}, task.ComplexityMedium)
	now := time.Now()
	end := now.Add(3 * time.Second)

	return &progress.Progress{
		TaskID:     def.ID,
		Definition: def,
		Status:     status,
		PerWorker: map[registry.Kind]*progress.WorkerRecord{
			registry.KindFrontend: {Percent: 100, Status: progress.StatusCompleted},
		},
		Overall:   100,
		StartTime: now,
		EndTime:   &end,
		Duration:  task.DurationMS(3 * time.Second),
	}
}

func TestNewPostgresArchiveConnectionFailure(t *testing.T) {
	_, err := NewPostgresArchive("invalid connection string")
	assert.Error(t, err)
}

func TestSaveTerminalTask(t *testing.T) {
	db, mock, archive := setupMockDB(t)
	defer func() { _ = db.Close() }()

	p := terminalProgress(progress.StatusCompleted)

	mock.ExpectExec("INSERT INTO task_archive").
		WithArgs(
			p.TaskID, "deploy", "medium", "completed", 100,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(3000),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := archive.Save(context.Background(), p)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRejectsNonTerminalTask(t *testing.T) {
	db, _, archive := setupMockDB(t)
	defer func() { _ = db.Close() }()

	p := terminalProgress(progress.StatusInProgress)

	err := archive.Save(context.Background(), p)
	assert.Error(t, err)
}

func TestListRecent(t *testing.T) {
	db, mock, archive := setupMockDB(t)
	defer func() { _ = db.Close() }()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"task_id", "name", "complexity", "status", "overall_progress",
		"started_at", "completed_at", "duration_ms",
	}).
		AddRow("t2", "migrate", "high", "failed", 40, now, now.Add(time.Second), 1000).
		AddRow("t1", "deploy", "medium", "completed", 100, now, now.Add(2*time.Second), 2000)

	mock.ExpectQuery("FROM task_archive").
		WithArgs(10).
		WillReturnRows(rows)

	archived, err := archive.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, archived, 2)
	assert.Equal(t, "t2", archived[0].TaskID)
	assert.Equal(t, progress.Status("failed"), archived[0].Status)
	assert.Equal(t, int64(2000), archived[1].DurationMs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecentQueryError(t *testing.T) {
	db, mock, archive := setupMockDB(t)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("FROM task_archive").
		WithArgs(5).
		WillReturnError(sql.ErrConnDone)

	_, err := archive.ListRecent(context.Background(), 5)
	assert.Error(t, err)
}
