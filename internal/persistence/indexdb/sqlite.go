package indexdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is the durable index of cross-agent task records and routed
// commands. Writes go through a single writer goroutine so the behavior
// loops never block on disk.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqTask reqKind = iota + 1
	reqCommand
	reqFlush
)

type req struct {
	kind reqKind

	task TaskRow
	cmd  CommandRow
	done chan struct{}
}

// TaskRow mirrors one shared-store task record.
type TaskRow struct {
	TaskID     string
	Kind       string
	Status     string // pending|in_progress|completed|failed
	AssignedTo string
	Payload    string
	CreatedMs  int64
	UpdatedMs  int64
}

// CommandRow is one routed command (authorized or rejected).
type CommandRow struct {
	AtMs     int64
	SenderID string
	Trust    int
	Verb     string
	Target   string
	OK       bool
	Code     string
}

func Open(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_records (
			task_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			assigned_to TEXT,
			payload TEXT,
			created_ms INTEGER NOT NULL,
			updated_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON task_records(status, updated_ms);`,
		`CREATE TABLE IF NOT EXISTS command_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at_ms INTEGER NOT NULL,
			sender_id TEXT NOT NULL,
			trust INTEGER NOT NULL,
			verb TEXT NOT NULL,
			target TEXT,
			ok INTEGER NOT NULL,
			code TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_at ON command_audit(at_ms);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// UpsertTask enqueues a task-record upsert. Drops when the indexer falls
// behind; the in-memory store remains the source of truth.
func (s *SQLiteIndex) UpsertTask(row TaskRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqTask, task: row}:
	default:
	}
}

func (s *SQLiteIndex) WriteCommand(row CommandRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqCommand, cmd: row}:
	default:
	}
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqTask:
			_, _ = s.db.Exec(
				`INSERT INTO task_records(task_id, kind, status, assigned_to, payload, created_ms, updated_ms)
				 VALUES(?,?,?,?,?,?,?)
				 ON CONFLICT(task_id) DO UPDATE SET
				   status=excluded.status,
				   assigned_to=excluded.assigned_to,
				   payload=excluded.payload,
				   updated_ms=excluded.updated_ms;`,
				r.task.TaskID, r.task.Kind, r.task.Status, r.task.AssignedTo,
				r.task.Payload, r.task.CreatedMs, r.task.UpdatedMs,
			)
		case reqCommand:
			ok := 0
			if r.cmd.OK {
				ok = 1
			}
			_, _ = s.db.Exec(
				`INSERT INTO command_audit(at_ms, sender_id, trust, verb, target, ok, code)
				 VALUES(?,?,?,?,?,?,?);`,
				r.cmd.AtMs, r.cmd.SenderID, r.cmd.Trust, r.cmd.Verb, r.cmd.Target, ok, r.cmd.Code,
			)
		case reqFlush:
			close(r.done)
		}
	}
}

// Flush blocks until previously enqueued writes are applied. Used by tests
// and shutdown paths.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqFlush, done: done}
	<-done
}

// TaskHistory returns the current row for one task id.
func (s *SQLiteIndex) TaskHistory(taskID string) (TaskRow, bool, error) {
	var row TaskRow
	err := s.db.QueryRow(
		`SELECT task_id, kind, status, COALESCE(assigned_to,''), COALESCE(payload,''), created_ms, updated_ms
		 FROM task_records WHERE task_id = ?;`, taskID,
	).Scan(&row.TaskID, &row.Kind, &row.Status, &row.AssignedTo, &row.Payload, &row.CreatedMs, &row.UpdatedMs)
	if err == sql.ErrNoRows {
		return row, false, nil
	}
	if err != nil {
		return row, false, err
	}
	return row, true, nil
}

// RecentCommands returns the most recent routed commands, newest first.
func (s *SQLiteIndex) RecentCommands(limit int) ([]CommandRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT at_ms, sender_id, trust, verb, COALESCE(target,''), ok, COALESCE(code,'')
		 FROM command_audit ORDER BY at_ms DESC, id DESC LIMIT ?;`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var (
			r  CommandRow
			ok int
		)
		if err := rows.Scan(&r.AtMs, &r.SenderID, &r.Trust, &r.Verb, &r.Target, &ok, &r.Code); err != nil {
			return nil, err
		}
		r.OK = ok == 1
		out = append(out, r)
	}
	return out, rows.Err()
}
