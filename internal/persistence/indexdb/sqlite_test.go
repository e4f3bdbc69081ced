package indexdb

import (
	"path/filepath"
	"testing"
)

func open(t *testing.T) *SQLiteIndex {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTaskUpsert(t *testing.T) {
	s := open(t)
	s.UpsertTask(TaskRow{TaskID: "T1", Kind: "GUARD", Status: "pending", CreatedMs: 100, UpdatedMs: 100})
	s.UpsertTask(TaskRow{TaskID: "T1", Kind: "GUARD", Status: "in_progress", AssignedTo: "alpha", CreatedMs: 100, UpdatedMs: 200})
	s.Flush()

	row, ok, err := s.TaskHistory("T1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !ok {
		t.Fatalf("task not found")
	}
	if row.Status != "in_progress" || row.AssignedTo != "alpha" {
		t.Fatalf("unexpected row: %+v", row)
	}

	if _, ok, _ := s.TaskHistory("missing"); ok {
		t.Fatalf("missing task should not be found")
	}
}

func TestCommandAudit(t *testing.T) {
	s := open(t)
	s.WriteCommand(CommandRow{AtMs: 1, SenderID: "U1", Trust: 2, Verb: "guard", Target: "alpha", OK: true})
	s.WriteCommand(CommandRow{AtMs: 2, SenderID: "U2", Trust: 0, Verb: "attack", Target: "alpha", OK: false, Code: "E_UNAUTHORIZED"})
	s.Flush()

	rows, err := s.RecentCommands(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("want 2 rows, got %d", len(rows))
	}
	if rows[0].Verb != "attack" || rows[0].OK || rows[0].Code != "E_UNAUTHORIZED" {
		t.Fatalf("newest first expected: %+v", rows[0])
	}
}

func TestCloseIsIdempotentAndWritesAfterCloseDrop(t *testing.T) {
	s := open(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	// Must not panic.
	s.UpsertTask(TaskRow{TaskID: "T2"})
	s.WriteCommand(CommandRow{SenderID: "U1"})
	s.Flush()
}
