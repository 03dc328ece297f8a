package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrisonrobin/tasksync/pkg/model"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps each task as a JSON blob in a single sqlite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes every write.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM tasks ORDER BY due_unix, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task, err := decodeTask(data)
		if err != nil {
			log.Printf("Warning: skipping unreadable task %s: %v", id, err)
			continue
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}
	// due_unix has second precision; re-sort on the decoded timestamps.
	sortByDue(tasks)
	return tasks, nil
}

func (s *SQLiteStore) Find(ctx context.Context, id string) (model.Task, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM tasks WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return model.Task{}, false, nil
	}
	if err != nil {
		return model.Task{}, false, fmt.Errorf("failed to query task %s: %w", id, err)
	}
	task, err := decodeTask(data)
	if err != nil {
		log.Printf("Warning: treating unreadable task %s as missing: %v", id, err)
		return model.Task{}, false, nil
	}
	return task, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, task model.Task) error {
	data, err := encodeTask(task)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, due_unix, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET due_unix = excluded.due_unix, data = excluded.data`,
		task.ID, task.DueDate.Unix(), data)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}
