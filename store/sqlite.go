// Package store persists task history and the file change journal in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/martinemde/taskloop/agentloop"
	"github.com/martinemde/taskloop/tools"
)

// ErrNotFound is returned when a task or change does not exist.
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed task history and change journal. It implements
// tools.Journal and subagent.Recorder.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps ":memory:" a
	// single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		result TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		tools_used TEXT NOT NULL DEFAULT '[]',
		tokens_used INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0.0,
		rounds INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME,
		duration_ns INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		task_id TEXT NOT NULL DEFAULT '',
		tool TEXT NOT NULL,
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		existed BOOLEAN NOT NULL DEFAULT FALSE,
		before_content BLOB,
		after_content BLOB,
		recorded_at DATETIME NOT NULL,
		undone BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_started_at ON tasks(started_at);
	CREATE INDEX IF NOT EXISTS idx_changes_task_id ON changes(task_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// RecordTask inserts or replaces a task.
func (s *Store) RecordTask(ctx context.Context, task *agentloop.Task) error {
	toolsUsed, err := json.Marshal(task.ToolsUsed)
	if err != nil {
		return fmt.Errorf("encode tools used: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tasks
			(id, agent_id, description, status, result, error, tools_used,
			 tokens_used, cost_usd, rounds, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.AgentID, task.Description, string(task.Status), task.Result, task.Error,
		string(toolsUsed), task.TokensUsed, task.CostUSD, task.Rounds,
		task.StartTime.UTC(), int64(task.Duration))
	if err != nil {
		return fmt.Errorf("record task %s: %w", task.ID, err)
	}
	return nil
}

const taskColumns = `id, agent_id, description, status, result, error, tools_used,
	tokens_used, cost_usd, rounds, started_at, duration_ns`

// Tasks returns up to limit tasks, most recent first. A non-positive limit
// returns every task.
func (s *Store) Tasks(ctx context.Context, limit int) ([]agentloop.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks ORDER BY started_at DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []agentloop.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Task returns one task by id.
func (s *Store) Task(ctx context.Context, id string) (agentloop.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return agentloop.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(sc scanner) (agentloop.Task, error) {
	var (
		t         agentloop.Task
		status    string
		toolsUsed string
		started   sql.NullTime
		duration  int64
	)
	err := sc.Scan(&t.ID, &t.AgentID, &t.Description, &status, &t.Result, &t.Error, &toolsUsed,
		&t.TokensUsed, &t.CostUSD, &t.Rounds, &started, &duration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan task: %w", err)
	}
	t.Status = agentloop.TaskStatus(status)
	if err := json.Unmarshal([]byte(toolsUsed), &t.ToolsUsed); err != nil {
		return t, fmt.Errorf("decode tools used for %s: %w", t.ID, err)
	}
	if started.Valid {
		t.StartTime = started.Time
	}
	t.Duration = time.Duration(duration)
	return t, nil
}

// Record implements tools.Journal.
func (s *Store) Record(ctx context.Context, c tools.Change) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO changes (id, task_id, tool, path, kind, existed, before_content, after_content, recorded_at, undone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.Tool, c.Path, string(c.Kind), c.Existed, c.Before, c.After, c.Time.UTC(), c.Undone)
	if err != nil {
		return fmt.Errorf("record change %s: %w", c.ID, err)
	}
	return nil
}

// Changes implements tools.Journal. Changes are returned oldest first.
func (s *Store) Changes(ctx context.Context) ([]tools.Change, error) {
	return s.queryChanges(ctx, "")
}

// ChangesForTask returns the changes recorded while task id ran.
func (s *Store) ChangesForTask(ctx context.Context, taskID string) ([]tools.Change, error) {
	return s.queryChanges(ctx, taskID)
}

func (s *Store) queryChanges(ctx context.Context, taskID string) ([]tools.Change, error) {
	query := `SELECT id, task_id, tool, path, kind, existed, before_content, after_content, recorded_at, undone FROM changes`
	var args []interface{}
	if taskID != "" {
		query += " WHERE task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var changes []tools.Change
	for rows.Next() {
		var (
			c    tools.Change
			kind string
		)
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Tool, &c.Path, &kind, &c.Existed,
			&c.Before, &c.After, &c.Time, &c.Undone); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Kind = tools.ChangeKind(kind)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// MarkUndone implements tools.Journal.
func (s *Store) MarkUndone(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE changes SET undone = TRUE WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark change %s undone: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark change %s undone: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("change %s: %w", id, ErrNotFound)
	}
	return nil
}
