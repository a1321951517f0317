// Package triggers turns scheduled configuration into synthetic dispatch
// traffic: a tasks.Scheduler (cron-oriented task/execution bookkeeping)
// drives a DispatchExecutor that feeds each due task through
// dispatcher.Dispatch as if it were an inbound message, so heartbeat-style
// agent runs share the exact same bounded tool loop and capability policy
// as a real channel message.
//
// Grounded on the teacher's internal/tasks (Scheduler/Store/Executor) and
// internal/agents/heartbeat's active-hours runner idiom, rebuilt against
// internal/dispatcher.Dispatcher instead of the retired agent.Runtime.
package triggers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaykit/relay/internal/tasks"
)

// MemoryStore keeps scheduled tasks and their executions in memory,
// modeled on internal/cron.MemoryExecutionStore's clone-on-read/write
// discipline. It implements tasks.Store without a database, matching
// this module's CLI-first, single-process scope — a durable deployment
// would swap in tasks.NewCockroachStoreFromDSN instead.
type MemoryStore struct {
	mu         sync.Mutex
	tasks      map[string]*tasks.ScheduledTask
	executions map[string]*tasks.TaskExecution
	execOrder  []string
}

// NewMemoryStore creates an in-memory tasks.Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]*tasks.ScheduledTask),
		executions: make(map[string]*tasks.TaskExecution),
	}
}

func cloneTask(t *tasks.ScheduledTask) *tasks.ScheduledTask {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

func cloneExec(e *tasks.TaskExecution) *tasks.TaskExecution {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// CreateTask stores a new scheduled task.
func (s *MemoryStore) CreateTask(ctx context.Context, task *tasks.ScheduledTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("triggers: task requires an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("triggers: task %q already exists", task.ID)
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// GetTask retrieves a task by id.
func (s *MemoryStore) GetTask(ctx context.Context, id string) (*tasks.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTask(s.tasks[id]), nil
}

// UpdateTask replaces a task's stored state.
func (s *MemoryStore) UpdateTask(ctx context.Context, task *tasks.ScheduledTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("triggers: task requires an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; !exists {
		return fmt.Errorf("triggers: task %q not found", task.ID)
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// DeleteTask removes a task by id.
func (s *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

// ListTasks returns tasks matching the given filter.
func (s *MemoryStore) ListTasks(ctx context.Context, opts tasks.ListTasksOptions) ([]*tasks.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*tasks.ScheduledTask
	for _, t := range s.tasks {
		if opts.Status != nil && t.Status != *opts.Status {
			continue
		}
		if opts.AgentID != "" && t.AgentID != opts.AgentID {
			continue
		}
		if !opts.IncludeDisabled && t.Status == tasks.TaskStatusDisabled {
			continue
		}
		out = append(out, cloneTask(t))
	}
	return paginateTasks(out, opts.Offset, opts.Limit), nil
}

func paginateTasks(all []*tasks.ScheduledTask, offset, limit int) []*tasks.ScheduledTask {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

// CreateExecution stores a new execution record.
func (s *MemoryStore) CreateExecution(ctx context.Context, exec *tasks.TaskExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("triggers: execution requires an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[exec.ID]; !exists {
		s.execOrder = append(s.execOrder, exec.ID)
	}
	s.executions[exec.ID] = cloneExec(exec)
	return nil
}

// GetExecution retrieves an execution by id.
func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*tasks.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneExec(s.executions[id]), nil
}

// UpdateExecution replaces an execution's stored state.
func (s *MemoryStore) UpdateExecution(ctx context.Context, exec *tasks.TaskExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("triggers: execution requires an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = cloneExec(exec)
	return nil
}

// ListExecutions returns executions for a task.
func (s *MemoryStore) ListExecutions(ctx context.Context, taskID string, opts tasks.ListExecutionsOptions) ([]*tasks.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*tasks.TaskExecution
	for _, id := range s.execOrder {
		exec, ok := s.executions[id]
		if !ok || exec.TaskID != taskID {
			continue
		}
		if opts.Status != nil && exec.Status != *opts.Status {
			continue
		}
		if opts.Since != nil && exec.ScheduledAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && exec.ScheduledAt.After(*opts.Until) {
			continue
		}
		out = append(out, cloneExec(exec))
	}
	return paginateExecs(out, opts.Offset, opts.Limit), nil
}

func paginateExecs(all []*tasks.TaskExecution, offset, limit int) []*tasks.TaskExecution {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

// GetDueTasks returns active tasks whose NextRunAt has arrived.
func (s *MemoryStore) GetDueTasks(ctx context.Context, now time.Time, limit int) ([]*tasks.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*tasks.ScheduledTask
	for _, t := range s.tasks {
		if t.Status != tasks.TaskStatusActive {
			continue
		}
		if t.NextRunAt.IsZero() || t.NextRunAt.After(now) {
			continue
		}
		out = append(out, cloneTask(t))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AcquireExecution claims the oldest pending execution for this worker.
// The single-process in-memory store has no contention to arbitrate, so
// this is a plain scan rather than the teacher's SELECT FOR UPDATE SKIP
// LOCKED pattern (internal/tasks/cockroach.go), which is only meaningful
// across multiple worker processes sharing one database.
func (s *MemoryStore) AcquireExecution(ctx context.Context, workerID string, lockDuration time.Duration) (*tasks.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, id := range s.execOrder {
		exec := s.executions[id]
		if exec == nil || exec.Status != tasks.ExecutionStatusPending {
			continue
		}
		exec.Status = tasks.ExecutionStatusRunning
		exec.WorkerID = workerID
		lockedAt := now
		lockedUntil := now.Add(lockDuration)
		exec.LockedAt = &lockedAt
		exec.LockedUntil = &lockedUntil
		exec.StartedAt = &lockedAt
		return cloneExec(exec), nil
	}
	return nil, nil
}

// ReleaseExecution unlocks an execution without completing it.
func (s *MemoryStore) ReleaseExecution(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return nil
	}
	exec.Status = tasks.ExecutionStatusPending
	exec.WorkerID = ""
	exec.LockedAt = nil
	exec.LockedUntil = nil
	return nil
}

// CompleteExecution marks an execution terminal with its outcome.
func (s *MemoryStore) CompleteExecution(ctx context.Context, executionID string, status tasks.ExecutionStatus, response string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return fmt.Errorf("triggers: execution %q not found", executionID)
	}
	now := time.Now()
	exec.Status = status
	exec.Response = response
	exec.Error = errMsg
	exec.FinishedAt = &now
	if exec.StartedAt != nil {
		exec.Duration = now.Sub(*exec.StartedAt)
	}
	return nil
}

// GetRunningExecutions returns executions currently in flight for a task.
func (s *MemoryStore) GetRunningExecutions(ctx context.Context, taskID string) ([]*tasks.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*tasks.TaskExecution
	for _, exec := range s.executions {
		if exec.TaskID == taskID && exec.Status == tasks.ExecutionStatusRunning {
			out = append(out, cloneExec(exec))
		}
	}
	return out, nil
}

// CleanupStaleExecutions marks long-running executions as timed out.
func (s *MemoryStore) CleanupStaleExecutions(ctx context.Context, timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-timeout)
	count := 0
	for _, exec := range s.executions {
		if exec.Status != tasks.ExecutionStatusRunning || exec.StartedAt == nil {
			continue
		}
		if exec.StartedAt.Before(cutoff) {
			now := time.Now()
			exec.Status = tasks.ExecutionStatusTimedOut
			exec.Error = "execution exceeded stale timeout"
			exec.FinishedAt = &now
			count++
		}
	}
	return count, nil
}
