package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbellido/agentpay/pkg/domain"
	"github.com/mbellido/agentpay/pkg/ports"
)

// RunEventsTopic is the event bus topic carrying all run lifecycle events.
const RunEventsTopic = "runs"

// RunRequest describes one run: who pays, who coordinates, the ordered
// priced pipeline, and the initial text handed to the first role.
type RunRequest struct {
	Client       string              `json:"client"`
	Coordinator  domain.PricedRole   `json:"coordinator"`
	Pipeline     []domain.PricedRole `json:"pipeline"`
	InitialInput string              `json:"initial_input"`
	TaskHash     string              `json:"task_hash"`
}

// Runner drives a single run from ledger open to terminal state.
type Runner struct {
	ledger     ports.Ledger
	executor   ports.StepExecutor
	eventBus   ports.EventBus
	metrics    ports.MetricsCollector
	accountant *Accountant
	logger     *zap.Logger

	ledgerTimeout time.Duration
}

// NewRunner creates a new run state machine
func NewRunner(
	ledger ports.Ledger,
	executor ports.StepExecutor,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	ledgerTimeout time.Duration,
) *Runner {
	return &Runner{
		ledger:        ledger,
		executor:      executor,
		eventBus:      eventBus,
		metrics:       metrics,
		accountant:    NewAccountant(),
		logger:        logger,
		ledgerTimeout: ledgerTimeout,
	}
}

// RunTask executes one run end to end. Every allocation is settled before
// the next role is allocated, so the ledger never sees more than one
// pending allocation per task. A ledger error halts the run immediately
// and leaves the task to the ledger's own failure handling; a backend
// error only degrades the affected step's output.
func (r *Runner) RunTask(ctx context.Context, runID string, req RunRequest) *domain.RunResult {
	result := &domain.RunResult{
		RunID:  runID,
		Status: domain.TaskFailed,
	}

	if strings.TrimSpace(req.InitialInput) == "" {
		result.Err = "initial input is empty"
		r.publish(ctx, domain.EventTypeRunFailed, runID, 0, "", map[string]interface{}{"error": result.Err})
		return result
	}

	plan, err := r.accountant.Plan(req.Coordinator, req.Pipeline)
	if err != nil {
		result.Err = err.Error()
		r.publish(ctx, domain.EventTypeRunFailed, runID, 0, "", map[string]interface{}{"error": result.Err})
		return result
	}

	taskHash := req.TaskHash
	if taskHash == "" {
		taskHash = "task://pipeline"
	}

	var taskID uint64
	err = r.ledgerCall(ctx, "open_task", func(ctx context.Context) error {
		var err error
		taskID, err = r.ledger.OpenTask(ctx, req.Client, req.Coordinator, plan.TotalBudget, taskHash)
		return err
	})
	if err != nil {
		r.logger.Error("failed to open task",
			zap.String("run_id", runID),
			zap.Uint64("total_budget", plan.TotalBudget),
			zap.Error(err))
		result.Err = err.Error()
		r.publish(ctx, domain.EventTypeRunFailed, runID, 0, "", map[string]interface{}{"error": result.Err})
		return result
	}
	result.TaskID = taskID

	r.logger.Info("task opened",
		zap.String("run_id", runID),
		zap.Uint64("task_id", taskID),
		zap.Uint64("total_budget", plan.TotalBudget),
		zap.Int("pipeline_len", len(plan.Order)))
	r.publish(ctx, domain.EventTypeTaskOpened, runID, taskID, "", map[string]interface{}{
		"total_budget": plan.TotalBudget,
		"pipeline":     plan.Order,
	})

	current := req.InitialInput
	var settled uint64

	for _, role := range plan.Order {
		// Cancellation takes effect only at this boundary, never during
		// an in-flight ledger call.
		if ctx.Err() != nil {
			return r.cancel(ctx, runID, taskID, result)
		}

		amount := plan.PerRole[role]

		var requestID uint64
		err = r.ledgerCall(ctx, "allocate", func(ctx context.Context) error {
			var err error
			requestID, err = r.ledger.Allocate(ctx, taskID, role, amount)
			return err
		})
		if err != nil {
			return r.halt(ctx, runID, taskID, role, "allocate", err, result)
		}
		r.metrics.RecordAllocation(string(role))
		r.publish(ctx, domain.EventTypeStepAllocated, runID, taskID, role, map[string]interface{}{
			"request_id": requestID,
			"amount":     amount,
		})

		if err := r.reconcile(ctx, taskID, settled, plan.TotalBudget); err != nil {
			return r.halt(ctx, runID, taskID, role, "reconcile", err, result)
		}

		stepStart := time.Now()
		step := r.executor.Run(ctx, role, current)
		r.metrics.RecordStepDuration(string(role), time.Since(stepStart).Seconds())
		if step.Degraded {
			r.metrics.RecordFallback(string(role))
			r.publish(ctx, domain.EventTypeStepDegraded, runID, taskID, role, map[string]interface{}{
				"request_id": requestID,
			})
		}

		err = r.ledgerCall(ctx, "settle", func(ctx context.Context) error {
			return r.ledger.Settle(ctx, requestID, true)
		})
		if err != nil {
			r.metrics.RecordSettlement(string(role), "error")
			return r.halt(ctx, runID, taskID, role, "settle", err, result)
		}
		r.metrics.RecordSettlement(string(role), "completed")
		settled += amount
		r.publish(ctx, domain.EventTypeStepSettled, runID, taskID, role, map[string]interface{}{
			"request_id": requestID,
			"amount":     amount,
			"degraded":   step.Degraded,
		})

		if err := r.reconcile(ctx, taskID, settled, plan.TotalBudget); err != nil {
			return r.halt(ctx, runID, taskID, role, "reconcile", err, result)
		}

		// Output chaining: the literal step output becomes the next
		// role's input.
		current = step.Output
		result.Audit = append(result.Audit, domain.AuditEntry{
			Role:      role,
			RequestID: requestID,
			Output:    step.Output,
			Degraded:  step.Degraded,
		})
	}

	err = r.ledgerCall(ctx, "close_task", func(ctx context.Context) error {
		return r.ledger.CloseTask(ctx, taskID, true)
	})
	if err != nil {
		return r.halt(ctx, runID, taskID, req.Coordinator.Role, "close_task", err, result)
	}

	result.Status = domain.TaskCompleted
	result.FinalOutput = current
	r.logger.Info("run completed",
		zap.String("run_id", runID),
		zap.Uint64("task_id", taskID),
		zap.Int("steps", len(result.Audit)))
	r.publish(ctx, domain.EventTypeRunCompleted, runID, taskID, "", map[string]interface{}{
		"steps": len(result.Audit),
	})
	return result
}

// halt terminates the run after a fatal ledger-side error. closeTask is
// deliberately not called: a failed settlement already refunded the client
// inside the ledger, and any other ledger error leaves the task to external
// dispute or timeout handling.
func (r *Runner) halt(ctx context.Context, runID string, taskID uint64, role domain.Role, op string, err error, result *domain.RunResult) *domain.RunResult {
	r.logger.Error("run halted on ledger error",
		zap.String("run_id", runID),
		zap.Uint64("task_id", taskID),
		zap.String("role", string(role)),
		zap.String("operation", op),
		zap.Error(err))

	result.Status = domain.TaskFailed
	result.Err = fmt.Sprintf("%s: %v", op, err)
	r.publish(ctx, domain.EventTypeRunFailed, runID, taskID, role, map[string]interface{}{
		"operation": op,
		"error":     err.Error(),
	})
	return result
}

// cancel refunds the remaining budget at a step boundary. No allocation is
// pending here, so the ledger cancel cannot be rejected for outstanding
// requests.
func (r *Runner) cancel(ctx context.Context, runID string, taskID uint64, result *domain.RunResult) *domain.RunResult {
	err := r.ledgerCall(ctx, "cancel_task", func(ctx context.Context) error {
		return r.ledger.CancelTask(ctx, taskID)
	})
	if err != nil {
		r.logger.Error("failed to cancel task",
			zap.String("run_id", runID),
			zap.Uint64("task_id", taskID),
			zap.Error(err))
		result.Status = domain.TaskFailed
		result.Err = fmt.Sprintf("cancel_task: %v", err)
		return result
	}

	r.logger.Info("run cancelled",
		zap.String("run_id", runID),
		zap.Uint64("task_id", taskID))
	result.Status = domain.TaskCancelled
	result.Err = "run cancelled"
	r.publish(ctx, domain.EventTypeRunCancelled, runID, taskID, "", nil)
	return result
}

// reconcile rereads the task from the ledger and checks budget
// conservation. The ledger is authoritative; a mismatch is fatal and never
// silently corrected.
func (r *Runner) reconcile(ctx context.Context, taskID uint64, settled, total uint64) error {
	var task *domain.Task
	err := r.ledgerCall(ctx, "get_task", func(ctx context.Context) error {
		var err error
		task, err = r.ledger.GetTask(ctx, taskID)
		return err
	})
	if err != nil {
		return err
	}
	return r.accountant.Reconcile(task.RemainingBudget, task.PendingAllocations, settled, total)
}

// ledgerCall runs one ledger operation under the configured timeout and
// records its latency and outcome. The call is detached from the run's
// cancel signal: cancellation is honored only at step boundaries, never by
// aborting an in-flight ledger call, so an allocation is never left
// permanently pending.
func (r *Runner) ledgerCall(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx := context.WithoutCancel(ctx)
	if r.ledgerTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, r.ledgerTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(callCtx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrLedgerTimeout) {
			err = fmt.Errorf("%w: %s: %v", domain.ErrLedgerTimeout, op, err)
		}
	}
	r.metrics.RecordLedgerCall(op, outcome, time.Since(start).Seconds())
	return err
}

// publish emits one run lifecycle event. Terminal events outlive the run
// context, so publication is detached from its cancellation.
func (r *Runner) publish(ctx context.Context, eventType domain.EventType, runID string, taskID uint64, role domain.Role, data map[string]interface{}) {
	ctx = context.WithoutCancel(ctx)
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		TaskID:    taskID,
		Role:      role,
		Timestamp: time.Now(),
		Data:      data,
	}

	if err := r.eventBus.Publish(ctx, RunEventsTopic, event); err != nil {
		r.logger.Error("failed to publish event",
			zap.String("run_id", runID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
