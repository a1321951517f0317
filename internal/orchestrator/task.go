package orchestrator

import "fmt"

// TaskStatus is the lifecycle state of a single queued task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

func (s TaskStatus) terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is a single item in a session's task queue.
type Task struct {
	ID          string
	Description string
	Status      TaskStatus
}

// TaskQueue holds a session's ordered task list. At most one task may be
// InProgress at a time; PopNextTask enforces that invariant.
type TaskQueue struct {
	tasks []*Task
}

// NewTaskQueue builds a queue from descriptions, all starting Pending.
func NewTaskQueue(descriptions []string) *TaskQueue {
	q := &TaskQueue{}
	for i, d := range descriptions {
		q.tasks = append(q.tasks, &Task{
			ID:          fmt.Sprintf("task-%d", i+1),
			Description: d,
			Status:      TaskPending,
		})
	}
	return q
}

// IsEmpty reports whether the queue has no tasks at all.
func (q *TaskQueue) IsEmpty() bool {
	return len(q.tasks) == 0
}

// AllComplete reports whether every task has reached a terminal status.
func (q *TaskQueue) AllComplete() bool {
	for _, t := range q.tasks {
		if !t.Status.terminal() {
			return false
		}
	}
	return true
}

// InProgressCount returns how many tasks are currently InProgress; used
// to assert the single-InProgress invariant in tests and Fatal checks.
func (q *TaskQueue) InProgressCount() int {
	n := 0
	for _, t := range q.tasks {
		if t.Status == TaskInProgress {
			n++
		}
	}
	return n
}

// PopNextTask atomically advances the queue: the first Pending task is
// flipped to InProgress and returned. Returns nil if there is no Pending
// task, or if a task is already InProgress — the queue only ever runs one
// task at a time, so the caller must Complete the running task first.
func (q *TaskQueue) PopNextTask() *Task {
	if q.InProgressCount() > 0 {
		return nil
	}
	for _, t := range q.tasks {
		if t.Status == TaskPending {
			t.Status = TaskInProgress
			return t
		}
	}
	return nil
}

// FatalInconsistentState reports the "inconsistent state" branch named in
// spec.md's open question: queue non-empty, nothing Pending, nothing
// InProgress, yet not all complete. Per the decision recorded in
// DESIGN.md this is treated as an invariant violation, not a retry path.
func (q *TaskQueue) FatalInconsistentState() bool {
	if q.IsEmpty() || q.AllComplete() {
		return false
	}
	for _, t := range q.tasks {
		if t.Status == TaskPending || t.Status == TaskInProgress {
			return false
		}
	}
	return true
}

// Complete marks a task by id as Completed or Failed.
func (q *TaskQueue) Complete(id string, failed bool) error {
	for _, t := range q.tasks {
		if t.ID == id {
			if failed {
				t.Status = TaskFailed
			} else {
				t.Status = TaskCompleted
			}
			return nil
		}
	}
	return fmt.Errorf("orchestrator: no task with id %q", id)
}

// All returns a copy of the task list for read-only inspection.
func (q *TaskQueue) All() []*Task {
	out := make([]*Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}

// Snapshot returns the queue's tasks for persistence.
func (q *TaskQueue) Snapshot() []*Task {
	return q.All()
}

// RestoreTaskQueue rebuilds a TaskQueue from a persisted task list.
func RestoreTaskQueue(tasks []*Task) *TaskQueue {
	return &TaskQueue{tasks: tasks}
}
