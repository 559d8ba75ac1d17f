package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task statuses. A task moves through these under caller control; the
// store only validates that the value is one of the set.
const (
	TaskPending   = "pending"
	TaskActive    = "active"
	TaskPaused    = "paused"
	TaskCancelled = "cancelled"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

var validStatuses = map[string]bool{
	TaskPending: true, TaskActive: true, TaskPaused: true,
	TaskCancelled: true, TaskCompleted: true, TaskFailed: true,
}

// Task is a unit of multi-step work. StepResults and StepToolCalls are
// keyed by the same step-identifier space; SubtaskResults is keyed by
// subtask id.
type Task struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Plan           string            `json:"plan,omitempty"`
	Status         string            `json:"status"`
	CurrentStep    int               `json:"current_step"`
	StepResults    map[string]string `json:"step_results,omitempty"`
	StepToolCalls  map[string]string `json:"tool_calls_json,omitempty"`
	WorkflowType   string            `json:"workflow_type,omitempty"`
	ParentTaskID   string            `json:"parent_task_id,omitempty"`
	SubtaskResults map[string]string `json:"subtask_results,omitempty"`
	Logs           string            `json:"logs,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TaskAction selects a ManageTask operation.
type TaskAction string

// ManageTask actions.
const (
	TaskActionCreate      TaskAction = "create"
	TaskActionUpdate      TaskAction = "update"
	TaskActionActivate    TaskAction = "activate"
	TaskActionUpdatePlan  TaskAction = "update_plan"
	TaskActionAdvanceStep TaskAction = "advance_step"
	TaskActionDelete      TaskAction = "delete"
	TaskActionList        TaskAction = "list"
)

// TaskParams carries the inputs for ManageTask. Only the fields the
// chosen action needs are consulted.
type TaskParams struct {
	ID           string
	Title        string
	Plan         string
	Status       string
	WorkflowType string
	ParentTaskID string

	// StepID keys StepResults/StepToolCalls for advance_step.
	StepID string
	// StepResult is recorded under StepID on advance.
	StepResult string
	// StepToolCallsJSON is the serialized tool-call list for StepID.
	StepToolCallsJSON string
	// MaxSteps is the workflow's step ceiling; CurrentStep never
	// exceeds it. Zero means unbounded.
	MaxSteps int
}

// TaskResult is what ManageTask returns: the affected task (or task
// list for the list action).
type TaskResult struct {
	Task  *Task  `json:"task,omitempty"`
	Tasks []Task `json:"tasks,omitempty"`
}

// ManageTask dispatches a task operation by action name. This is the
// single entry point exposed to tool dispatchers; direct callers can
// use the typed methods below.
func (s *Store) ManageTask(action TaskAction, p TaskParams) (*TaskResult, error) {
	switch action {
	case TaskActionCreate:
		t, err := s.CreateTask(p.Title, p.Plan, p.WorkflowType, p.ParentTaskID)
		if err != nil {
			return nil, err
		}
		return &TaskResult{Task: t}, nil
	case TaskActionUpdate:
		if err := s.UpdateTaskStatus(p.ID, p.Status); err != nil {
			return nil, err
		}
		return s.taskResult(p.ID)
	case TaskActionActivate:
		if err := s.UpdateTaskStatus(p.ID, TaskActive); err != nil {
			return nil, err
		}
		return s.taskResult(p.ID)
	case TaskActionUpdatePlan:
		if err := s.UpdateTaskPlan(p.ID, p.Plan); err != nil {
			return nil, err
		}
		return s.taskResult(p.ID)
	case TaskActionAdvanceStep:
		if err := s.AdvanceTaskStep(p.ID, p.StepID, p.StepResult, p.StepToolCallsJSON, p.MaxSteps); err != nil {
			return nil, err
		}
		return s.taskResult(p.ID)
	case TaskActionDelete:
		return nil, s.DeleteTask(p.ID)
	case TaskActionList:
		tasks, err := s.ListTasks(p.Status)
		if err != nil {
			return nil, err
		}
		return &TaskResult{Tasks: tasks}, nil
	default:
		return nil, fmt.Errorf("unknown task action %q", action)
	}
}

func (s *Store) taskResult(id string) (*TaskResult, error) {
	t, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	return &TaskResult{Task: t}, nil
}

// CreateTask inserts a new pending task. When parentID is non-empty the
// parent must already exist.
func (s *Store) CreateTask(title, plan, workflowType, parentID string) (*Task, error) {
	if title == "" {
		return nil, errors.New("task title required")
	}
	if parentID != "" {
		if _, err := s.GetTask(parentID); err != nil {
			return nil, fmt.Errorf("parent task: %w", err)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO tasks (id, title, plan, status, workflow_type,
			parent_task_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), title, plan, TaskPending, workflowType,
		nullable(parentID), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	return s.GetTask(id.String())
}

// UpdateTaskStatus sets a task's status.
func (s *Store) UpdateTaskStatus(id, status string) error {
	if !validStatuses[status] {
		return fmt.Errorf("invalid task status %q", status)
	}
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return requireRow(res, id)
}

// UpdateTaskPlan replaces a task's plan text.
func (s *Store) UpdateTaskPlan(id, plan string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET plan = ?, updated_at = ? WHERE id = ?
	`, plan, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update task plan: %w", err)
	}
	return requireRow(res, id)
}

// AdvanceTaskStep records a step's result and tool calls under stepID
// and increments the step counter. The counter never exceeds maxSteps
// (when positive): advancing at the ceiling records the result but
// leaves the counter in place.
func (s *Store) AdvanceTaskStep(id, stepID, result, toolCallsJSON string, maxSteps int) error {
	t, err := s.GetTask(id)
	if err != nil {
		return err
	}

	if t.StepResults == nil {
		t.StepResults = make(map[string]string)
	}
	if t.StepToolCalls == nil {
		t.StepToolCalls = make(map[string]string)
	}
	if stepID != "" {
		t.StepResults[stepID] = result
		if toolCallsJSON != "" {
			t.StepToolCalls[stepID] = toolCallsJSON
		}
	}

	next := t.CurrentStep + 1
	if maxSteps > 0 && next > maxSteps {
		next = t.CurrentStep
	}

	resultsJSON, err := json.Marshal(t.StepResults)
	if err != nil {
		return fmt.Errorf("marshal step results: %w", err)
	}
	callsJSON, err := json.Marshal(t.StepToolCalls)
	if err != nil {
		return fmt.Errorf("marshal step tool calls: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE tasks SET current_step = ?, step_results = ?,
			tool_calls_json = ?, updated_at = ?
		WHERE id = ?
	`, next, string(resultsJSON), string(callsJSON), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("advance task step: %w", err)
	}
	return nil
}

// DeleteTask removes a task row. This is the only hard-delete path for
// tasks.
func (s *Store) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRow(res, id)
}

// GetTask returns a task by id.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, title, plan, status, current_step, step_results,
			tool_calls_json, workflow_type, parent_task_id,
			subtask_results, logs, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row.Scan)
}

// ListTasks returns tasks, optionally filtered by status, newest first.
func (s *Store) ListTasks(status string) ([]Task, error) {
	query := `
		SELECT id, title, plan, status, current_step, step_results,
			tool_calls_json, workflow_type, parent_task_id,
			subtask_results, logs, created_at, updated_at
		FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// Subtasks returns the direct children of a task, oldest first.
func (s *Store) Subtasks(parentID string) ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT id, title, plan, status, current_step, step_results,
			tool_calls_json, workflow_type, parent_task_id,
			subtask_results, logs, created_at, updated_at
		FROM tasks WHERE parent_task_id = ?
		ORDER BY created_at ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateSubtaskResults records a finished subtask's result on its
// parent, keyed by subtask id.
func (s *Store) UpdateSubtaskResults(parentID, subtaskID, result string) error {
	t, err := s.GetTask(parentID)
	if err != nil {
		return err
	}

	if t.SubtaskResults == nil {
		t.SubtaskResults = make(map[string]string)
	}
	t.SubtaskResults[subtaskID] = result

	data, err := json.Marshal(t.SubtaskResults)
	if err != nil {
		return fmt.Errorf("marshal subtask results: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE tasks SET subtask_results = ?, updated_at = ? WHERE id = ?
	`, string(data), time.Now().UTC(), parentID)
	if err != nil {
		return fmt.Errorf("update subtask results: %w", err)
	}
	return nil
}

// AppendTaskLog appends a timestamped line to a task's free-text log.
func (s *Store) AppendTaskLog(id, line string) error {
	stamp := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE tasks
		SET logs = logs || ?, updated_at = ?
		WHERE id = ?
	`, fmt.Sprintf("[%s] %s\n", stamp, line), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("append task log: %w", err)
	}
	return requireRow(res, id)
}

func scanTask(scan func(...any) error) (*Task, error) {
	var t Task
	var stepResults, stepCalls, subtaskResults string
	var parentID sql.NullString
	err := scan(&t.ID, &t.Title, &t.Plan, &t.Status, &t.CurrentStep,
		&stepResults, &stepCalls, &t.WorkflowType, &parentID,
		&subtaskResults, &t.Logs, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.ParentTaskID = parentID.String

	if err := json.Unmarshal([]byte(stepResults), &t.StepResults); err != nil {
		return nil, fmt.Errorf("decode step results: %w", err)
	}
	if err := json.Unmarshal([]byte(stepCalls), &t.StepToolCalls); err != nil {
		return nil, fmt.Errorf("decode step tool calls: %w", err)
	}
	if err := json.Unmarshal([]byte(subtaskResults), &t.SubtaskResults); err != nil {
		return nil, fmt.Errorf("decode subtask results: %w", err)
	}
	return &t, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}
