// Package repository archives terminal task records to PostgreSQL. The
// orchestrator core keeps no persistent state; archiving happens in a
// message channel subscriber owned by the embedding process.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mvoland/orq/internal/progress"
)

// ArchivedTask is one terminal task row.
type ArchivedTask struct {
	TaskID      string          `json:"task_id"`
	Name        string          `json:"name"`
	Complexity  string          `json:"complexity"`
	Status      progress.Status `json:"status"`
	Overall     int             `json:"overall_progress"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	DurationMs  int64           `json:"duration_ms"`
}

type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(connectionString string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresArchive{db: db}, nil
}

// Save archives a terminal progress record. Saving the same task twice
// keeps the first terminal outcome.
func (a *PostgresArchive) Save(ctx context.Context, p *progress.Progress) error {
	if !p.Terminal() {
		return fmt.Errorf("task %s is not terminal", p.TaskID)
	}

	perWorker, err := json.Marshal(p.PerWorker)
	if err != nil {
		return fmt.Errorf("failed to marshal per-worker progress: %w", err)
	}

	query := `
		INSERT INTO task_archive (
			task_id, name, complexity, status, overall_progress,
			per_worker, started_at, completed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id) DO NOTHING
	`

	var completedAt any
	if p.EndTime != nil {
		completedAt = *p.EndTime
	}

	_, err = a.db.ExecContext(
		ctx,
		query,
		p.TaskID,
		p.Definition.Name,
		string(p.Definition.Complexity),
		string(p.Status),
		p.Overall,
		perWorker,
		p.StartTime,
		completedAt,
		p.Duration.Std().Milliseconds(),
	)

	return err
}

// ListRecent returns the most recently completed or failed tasks.
func (a *PostgresArchive) ListRecent(ctx context.Context, limit int) ([]ArchivedTask, error) {
	query := `
		SELECT task_id, name, complexity, status, overall_progress,
		       started_at, completed_at, duration_ms
		FROM task_archive
		ORDER BY completed_at DESC
		LIMIT $1
	`

	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ArchivedTask
	for rows.Next() {
		var t ArchivedTask
		var completedAt sql.NullTime
		if err := rows.Scan(
			&t.TaskID,
			&t.Name,
			&t.Complexity,
			&t.Status,
			&t.Overall,
			&t.StartedAt,
			&completedAt,
			&t.DurationMs,
		); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			t.CompletedAt = completedAt.Time
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

func (a *PostgresArchive) Close() error {
	return a.db.Close()
}
