package store

import (
	"time"

	"voxelfleet.ai/internal/geom"
)

// Task statuses for cross-agent task claiming. These records are independent
// of any one agent's current task slot.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

type TaskRecord struct {
	ID         string
	Kind       string
	Status     string
	AssignedTo string
	Pos        geom.Vec3
	Payload    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TaskIndex mirrors task records to durable storage. Implementations must
// not block (the sqlite index enqueues to a writer goroutine).
type TaskIndex interface {
	RecordTask(TaskRecord)
}

// SetTaskIndex attaches the durable mirror. Safe to leave unset.
func (s *Store) SetTaskIndex(idx TaskIndex) {
	s.mu.Lock()
	s.taskIndex = idx
	s.mu.Unlock()
}

func (s *Store) taskIndexSnapshot() TaskIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskIndex
}

// PutTask creates or overwrites a task record.
func (s *Store) PutTask(rec TaskRecord) {
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = TaskPending
	}
	s.writeTask(rec)
}

// ClaimTask transitions a pending task to in_progress for agentID. The first
// claimer wins; anything else returns false.
func (s *Store) ClaimTask(id, agentID string) bool {
	s.mu.Lock()
	e, ok := s.cats[CategoryTasks][id]
	if !ok || e.Data["status"] != TaskPending {
		s.mu.Unlock()
		return false
	}
	data := cloneData(e.Data)
	data["status"] = TaskInProgress
	data["assigned_to"] = agentID
	e.Data = data
	e.UpdatedAt = s.now()
	s.cats[CategoryTasks][id] = e
	s.mu.Unlock()

	s.notify(Change{Category: CategoryTasks, Entry: e})
	s.mirrorTask(e)
	return true
}

// CompleteTask marks an in_progress task done; only the assignee may.
func (s *Store) CompleteTask(id, agentID string) bool {
	return s.finishTask(id, agentID, TaskCompleted)
}

// FailTask marks an in_progress task failed; only the assignee may.
func (s *Store) FailTask(id, agentID string) bool {
	return s.finishTask(id, agentID, TaskFailed)
}

func (s *Store) finishTask(id, agentID, status string) bool {
	s.mu.Lock()
	e, ok := s.cats[CategoryTasks][id]
	if !ok || e.Data["status"] != TaskInProgress || e.Data["assigned_to"] != agentID {
		s.mu.Unlock()
		return false
	}
	data := cloneData(e.Data)
	data["status"] = status
	e.Data = data
	e.UpdatedAt = s.now()
	s.cats[CategoryTasks][id] = e
	s.mu.Unlock()

	s.notify(Change{Category: CategoryTasks, Entry: e})
	s.mirrorTask(e)
	return true
}

// Task returns one task record by id.
func (s *Store) Task(id string) (TaskRecord, bool) {
	e, ok := s.Get(CategoryTasks, id)
	if !ok {
		return TaskRecord{}, false
	}
	return taskFromEntry(e), true
}

// PendingTasks returns unclaimed tasks, oldest first.
func (s *Store) PendingTasks() []TaskRecord {
	s.mu.RLock()
	var out []TaskRecord
	for _, e := range s.cats[CategoryTasks] {
		if e.Data["status"] == TaskPending {
			out = append(out, taskFromEntry(e))
		}
	}
	s.mu.RUnlock()
	sortTasks(out)
	return out
}

func (s *Store) writeTask(rec TaskRecord) {
	e := Entry{
		Key: rec.ID,
		Pos: rec.Pos,
		Data: map[string]string{
			"kind":        rec.Kind,
			"status":      rec.Status,
			"assigned_to": rec.AssignedTo,
			"payload":     rec.Payload,
			"created_ms":  formatMs(rec.CreatedAt),
		},
		UpdatedAt: rec.UpdatedAt,
	}
	s.Put(CategoryTasks, e)
	s.mirrorTask(e)
}

// cloneData copies an entry's field map. Entries handed out by Get, queries,
// and subscriber changes alias the stored map, so status transitions must
// write to a fresh one.
func cloneData(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) mirrorTask(e Entry) {
	if idx := s.taskIndexSnapshot(); idx != nil {
		idx.RecordTask(taskFromEntry(e))
	}
}
