package domain

import "time"

// TaskStatus is the escrow-side lifecycle of a funded task.
type TaskStatus uint8

const (
	TaskCreated TaskStatus = iota
	TaskInProgress
	TaskCompleted
	TaskFailed
	TaskCancelled
	TaskDisputed
)

// String returns a human-readable representation of the task status.
func (s TaskStatus) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskInProgress:
		return "in_progress"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	case TaskDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskDisputed:
		return true
	default:
		return false
	}
}

// Task is the ledger's read model of one funded unit of work.
type Task struct {
	ID                 uint64     `json:"id"`
	Client             string     `json:"client"`
	CoordinatorRole    Role       `json:"coordinator_role"`
	TaskHash           string     `json:"task_hash"`
	TotalBudget        uint64     `json:"total_budget"`
	RemainingBudget    uint64     `json:"remaining_budget"`
	PendingAllocations uint64     `json:"pending_allocations"`
	CoordinatorFee     uint64     `json:"coordinator_fee"`
	Status             TaskStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	Deadline           time.Time  `json:"deadline"`
}

// RequestStatus is the lifecycle of one budget allocation.
type RequestStatus uint8

const (
	RequestPending RequestStatus = iota
	RequestCompleted
	RequestFailed
	RequestCancelled
)

// String returns a human-readable representation of the request status.
func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestCompleted:
		return "completed"
	case RequestFailed:
		return "failed"
	case RequestCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// AgentRequest is one budget slice offered to one role within one task.
// It is settled exactly once and never mutated afterward.
type AgentRequest struct {
	ID        uint64        `json:"id"`
	TaskID    uint64        `json:"task_id"`
	FromRole  Role          `json:"from_role"`
	ToRole    Role          `json:"to_role"`
	Amount    uint64        `json:"amount"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// AuditEntry records one completed pipeline step.
type AuditEntry struct {
	Role      Role   `json:"role"`
	RequestID uint64 `json:"request_id"`
	Output    string `json:"output"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// RunResult is what the orchestrator returns for one task run.
type RunResult struct {
	RunID       string       `json:"run_id"`
	TaskID      uint64       `json:"task_id"`
	FinalOutput string       `json:"final_output"`
	Audit       []AuditEntry `json:"audit"`
	Status      TaskStatus   `json:"status"`
	Err         string       `json:"error,omitempty"`
}
