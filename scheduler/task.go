package scheduler

import "time"

// TaskType classifies background work.
type TaskType string

const (
	TaskConsolidation TaskType = "consolidation"
	TaskCleanup       TaskType = "cleanup"
	TaskOptimization  TaskType = "optimization"
	TaskValidation    TaskType = "validation"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskConsolidation, TaskCleanup, TaskOptimization, TaskValidation:
		return true
	}
	return false
}

// Priority orders task execution within a pass. High and critical tasks
// additionally run inline at scheduling time.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// rank maps priorities onto a comparable order; higher runs first.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Status is a task's lifecycle state. Completed and failed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one unit of scheduled background work. Tasks transition
// pending → running → {completed, failed} and are retained until an
// age-based cleanup purges them.
type Task struct {
	ID          string     `json:"id"`
	Type        TaskType   `json:"type"`
	Priority    Priority   `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	Status      Status     `json:"status"`
	Result      any        `json:"result,omitempty"`
	Err         string     `json:"error,omitempty"`
}

// clone returns a caller-owned copy.
func (t *Task) clone() *Task {
	cp := *t
	if t.ExecutedAt != nil {
		ts := *t.ExecutedAt
		cp.ExecutedAt = &ts
	}
	return &cp
}
