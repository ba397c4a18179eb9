// Package store keeps the workflow catalog, run reports and scheduled
// requests in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/rahul/reenact/internal/engine"
	"github.com/rahul/reenact/internal/workflow"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	DB *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection, so ":memory:" is one database and writes serialize
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			definition TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			failed_step INTEGER,
			report TEXT NOT NULL,
			started_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS reports_workflow ON reports (workflow_id, started_at);`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL,
			request TEXT NOT NULL,
			interval_seconds INTEGER NOT NULL,
			last_run INTEGER NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// SaveWorkflow validates def and inserts or replaces it by id.
func (s *Store) SaveWorkflow(def *workflow.Definition) error {
	if err := workflow.Validate(def); err != nil {
		return err
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encoding workflow %s: %w", def.ID, err)
	}
	_, err = s.DB.Exec(`INSERT OR REPLACE INTO workflows (id, name, definition, created_at) VALUES (?, ?, ?, ?)`,
		def.ID, def.Name, string(data), def.CreatedAt.UnixMilli())
	return err
}

func (s *Store) GetWorkflow(id string) (*workflow.Definition, error) {
	var data string
	err := s.DB.QueryRow(`SELECT definition FROM workflows WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeWorkflow(data)
}

// ListWorkflows returns the catalog oldest first. Catalog order is what
// the matcher uses to break similarity ties.
func (s *Store) ListWorkflows(f Filter) ([]*workflow.Definition, error) {
	query := `SELECT definition FROM workflows`
	var args []any
	if f.Name != "" {
		query += ` WHERE instr(lower(name), ?) > 0`
		args = append(args, strings.ToLower(f.Name))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*workflow.Definition
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		def, err := decodeWorkflow(data)
		if err != nil {
			return nil, err
		}
		if f.Tag != "" && !def.HasTag(f.Tag) {
			continue
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *Store) DeleteWorkflow(id string) error {
	res, err := s.DB.Exec(`DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	return nil
}

func decodeWorkflow(data string) (*workflow.Definition, error) {
	var def workflow.Definition
	if err := json.Unmarshal([]byte(data), &def); err != nil {
		return nil, fmt.Errorf("decoding stored workflow: %w", err)
	}
	return &def, nil
}

func (s *Store) SaveReport(rep *engine.Report) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encoding report %s: %w", rep.RunID, err)
	}
	var failed sql.NullInt64
	if rep.FailedStep != nil {
		failed = sql.NullInt64{Int64: int64(*rep.FailedStep), Valid: true}
	}
	_, err = s.DB.Exec(`INSERT OR REPLACE INTO reports (run_id, workflow_id, success, failed_step, report, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rep.RunID, rep.WorkflowID, rep.Success, failed, string(data), rep.StartedAt.UnixMilli())
	return err
}

func (s *Store) GetReport(runID string) (*engine.Report, error) {
	var data string
	err := s.DB.QueryRow(`SELECT report FROM reports WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %q: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rep engine.Report
	if err := json.Unmarshal([]byte(data), &rep); err != nil {
		return nil, fmt.Errorf("decoding stored report: %w", err)
	}
	return &rep, nil
}

// ListReports returns the newest limit runs of a workflow, newest first.
func (s *Store) ListReports(workflowID string, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.Query(`SELECT run_id, workflow_id, success, failed_step, started_at
		FROM reports WHERE workflow_id = ? ORDER BY started_at DESC LIMIT ?`, workflowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportSummary
	for rows.Next() {
		var r ReportSummary
		var failed sql.NullInt64
		var started int64
		if err := rows.Scan(&r.RunID, &r.WorkflowID, &r.Success, &failed, &started); err != nil {
			return nil, err
		}
		if failed.Valid {
			step := int(failed.Int64)
			r.FailedStep = &step
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddSchedule stores a request that is due immediately.
func (s *Store) AddSchedule(chatID, request string, interval time.Duration) (int64, error) {
	res, err := s.DB.Exec(`INSERT INTO schedules (chat_id, request, interval_seconds, last_run) VALUES (?, ?, ?, 0)`,
		chatID, request, int64(interval/time.Second))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PendingSchedules returns every schedule due at now.
func (s *Store) PendingSchedules(now time.Time) ([]Schedule, error) {
	return s.schedules(`SELECT id, chat_id, request, interval_seconds, last_run FROM schedules
		WHERE last_run + interval_seconds <= ? ORDER BY id`, now.Unix())
}

func (s *Store) ListSchedules(chatID string) ([]Schedule, error) {
	return s.schedules(`SELECT id, chat_id, request, interval_seconds, last_run FROM schedules
		WHERE chat_id = ? ORDER BY id`, chatID)
}

func (s *Store) schedules(query string, args ...any) ([]Schedule, error) {
	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sc Schedule
		var interval, last int64
		if err := rows.Scan(&sc.ID, &sc.ChatID, &sc.Request, &interval, &last); err != nil {
			return nil, err
		}
		sc.Interval = time.Duration(interval) * time.Second
		sc.LastRun = time.Unix(last, 0).UTC()
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) MarkScheduleRun(id int64, at time.Time) error {
	_, err := s.DB.Exec(`UPDATE schedules SET last_run = ? WHERE id = ?`, at.Unix(), id)
	return err
}

func (s *Store) DeleteSchedule(chatID string, id int64) error {
	res, err := s.DB.Exec(`DELETE FROM schedules WHERE chat_id = ? AND id = ?`, chatID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) ClearSchedules(chatID string) error {
	_, err := s.DB.Exec(`DELETE FROM schedules WHERE chat_id = ?`, chatID)
	return err
}
