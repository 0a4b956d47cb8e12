// Package ports declares the interfaces the application layer depends on.
// Adapters under pkg/adapters provide the implementations.
package ports

import (
	"context"

	"github.com/mbellido/agentpay/pkg/domain"
)

// Ledger is the external authority holding task funds. Implementations must
// enforce the escrow state rules: at most one pending allocation per task is
// ever created by the orchestrator, a settlement is accepted exactly once,
// and a failed settlement transitions the owning task to Failed with an
// automatic refund of all remaining budget to the client.
type Ledger interface {
	// OpenTask locks totalBudget of the client's deposited funds and
	// returns the new task id. The coordinator's fee is reserved out of the
	// budget and paid at close.
	OpenTask(ctx context.Context, client string, coordinator domain.PricedRole, totalBudget uint64, taskHash string) (uint64, error)

	// Allocate earmarks amount for toRole and returns the allocation id.
	// The task must be in the Created or InProgress state and amount must
	// not exceed the remaining budget.
	Allocate(ctx context.Context, taskID uint64, toRole domain.Role, amount uint64) (uint64, error)

	// Settle resolves a pending allocation. On success the amount is paid
	// to the role's account; on failure the allocation is voided and the
	// owning task fails with a full refund of the remaining budget.
	Settle(ctx context.Context, requestID uint64, success bool) error

	// CloseTask finishes a task with no outstanding allocations: the
	// coordinator fee is paid and the remaining budget refunded.
	CloseTask(ctx context.Context, taskID uint64, success bool) error

	// CancelTask refunds the full remaining budget of an active task.
	CancelTask(ctx context.Context, taskID uint64) error

	// GetTask returns the authoritative task state.
	GetTask(ctx context.Context, taskID uint64) (*domain.Task, error)
}

// StepResult is the outcome of one pipeline step. Output is always usable:
// when the backend fails or violates the output contract the role's fallback
// text is substituted and Degraded is set.
type StepResult struct {
	Output   string
	Model    string
	Degraded bool
}

// StepExecutor produces output text for a role. Implementations absorb
// backend failures via the fallback policy and therefore never error;
// a payment decision must never be blocked by a flaky text backend.
type StepExecutor interface {
	Run(ctx context.Context, role domain.Role, input string) StepResult
}

// GenerateRequest is one raw text-generation call to a backend.
type GenerateRequest struct {
	Role      domain.Role
	System    string
	Input     string
	MaxTokens int
}

// StepBackend is the opaque text-generation transport behind the executor.
type StepBackend interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// EventHandler processes a single event from the bus.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and consumes run lifecycle events.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
}

// MetricsCollector records orchestrator metrics.
type MetricsCollector interface {
	RecordRunSubmitted(status string)
	RecordRunFinished(status string, seconds float64)
	RecordAllocation(role string)
	RecordSettlement(role, status string)
	RecordFallback(role string)
	RecordStepDuration(role string, seconds float64)
	RecordLedgerCall(op, outcome string, seconds float64)
	SetActiveRuns(n int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
