package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	ledgermem "github.com/mbellido/agentpay/pkg/adapters/ledger/memory"
	"github.com/mbellido/agentpay/pkg/domain"
	"github.com/mbellido/agentpay/pkg/ports"
)

type nopMetrics struct{}

func (nopMetrics) RecordRunSubmitted(string)                {}
func (nopMetrics) RecordRunFinished(string, float64)        {}
func (nopMetrics) RecordAllocation(string)                  {}
func (nopMetrics) RecordSettlement(string, string)          {}
func (nopMetrics) RecordFallback(string)                    {}
func (nopMetrics) RecordStepDuration(string, float64)       {}
func (nopMetrics) RecordLedgerCall(string, string, float64) {}
func (nopMetrics) SetActiveRuns(int)                        {}
func (nopMetrics) RecordWorkerPoolStatus(int, int, int)     {}

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, _ string, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, ports.EventHandler) error {
	return nil
}

func (b *recordingBus) typesSeen() map[domain.EventType]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[domain.EventType]int)
	for _, ev := range b.events {
		seen[ev.Type]++
	}
	return seen
}

// stubExecutor returns a deterministic output per call.
type stubExecutor struct {
	run func(role domain.Role, input string) ports.StepResult
}

func (s *stubExecutor) Run(_ context.Context, role domain.Role, input string) ports.StepResult {
	return s.run(role, input)
}

func chainingExecutor() *stubExecutor {
	return &stubExecutor{run: func(role domain.Role, input string) ports.StepResult {
		return ports.StepResult{Output: string(role) + " on: " + input, Model: "stub"}
	}}
}

// faultyLedger wraps the in-memory ledger and fails a chosen settle call.
type faultyLedger struct {
	*ledgermem.Ledger

	failSettleAt int
	settleCalls  int
	allocations  int
	closeCalls   int
	mu           sync.Mutex
}

func (f *faultyLedger) Allocate(ctx context.Context, taskID uint64, toRole domain.Role, amount uint64) (uint64, error) {
	f.mu.Lock()
	f.allocations++
	f.mu.Unlock()
	return f.Ledger.Allocate(ctx, taskID, toRole, amount)
}

func (f *faultyLedger) Settle(ctx context.Context, requestID uint64, success bool) error {
	f.mu.Lock()
	f.settleCalls++
	n := f.settleCalls
	f.mu.Unlock()
	if n == f.failSettleAt {
		return domain.ErrLedgerUnavailable
	}
	return f.Ledger.Settle(ctx, requestID, success)
}

func (f *faultyLedger) CloseTask(ctx context.Context, taskID uint64, success bool) error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	return f.Ledger.CloseTask(ctx, taskID, success)
}

func defaultRequest() RunRequest {
	return RunRequest{
		Client:      "client-1",
		Coordinator: domain.PricedRole{Role: domain.RoleCoordinator, Price: 5},
		Pipeline: []domain.PricedRole{
			{Role: domain.RoleResearcher, Price: 7},
			{Role: domain.RoleAnalyst, Price: 8},
			{Role: domain.RoleWriter, Price: 7},
		},
		InitialInput: "write a market report",
	}
}

func newTestRunner(ledger ports.Ledger, executor ports.StepExecutor, bus ports.EventBus) *Runner {
	return NewRunner(ledger, executor, bus, nopMetrics{}, zap.NewNop(), time.Second)
}

func TestRunTaskCompletesAndPaysEveryRole(t *testing.T) {
	ledger := ledgermem.NewLedger(time.Hour)
	ledger.Deposit("client-1", 27)
	bus := &recordingBus{}

	r := newTestRunner(ledger, chainingExecutor(), bus)
	result := r.RunTask(context.Background(), "run-1", defaultRequest())

	if result.Status != domain.TaskCompleted {
		t.Fatalf("expected Completed, got %s (err=%q)", result.Status, result.Err)
	}
	if len(result.Audit) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(result.Audit))
	}

	// Output chaining: each step's literal output fed the next role.
	if !strings.HasPrefix(result.FinalOutput, "writer on: analyst on: researcher on:") {
		t.Errorf("unexpected final output: %q", result.FinalOutput)
	}

	if got := ledger.Earnings(domain.RoleResearcher); got != 7 {
		t.Errorf("researcher earned %d, want 7", got)
	}
	if got := ledger.Earnings(domain.RoleCoordinator); got != 5 {
		t.Errorf("coordinator earned %d, want 5", got)
	}
	if got := ledger.Balance("client-1"); got != 0 {
		t.Errorf("client refunded %d, want 0", got)
	}

	task, err := ledger.GetTask(context.Background(), result.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != domain.TaskCompleted {
		t.Errorf("ledger task status %s, want Completed", task.Status)
	}

	seen := bus.typesSeen()
	for _, want := range []domain.EventType{
		domain.EventTypeTaskOpened,
		domain.EventTypeStepAllocated,
		domain.EventTypeStepSettled,
		domain.EventTypeRunCompleted,
	} {
		if seen[want] == 0 {
			t.Errorf("event %s was never published", want)
		}
	}
}

func TestRunTaskFailsOnInsufficientFunds(t *testing.T) {
	ledger := ledgermem.NewLedger(time.Hour)
	ledger.Deposit("client-1", 10)

	r := newTestRunner(ledger, chainingExecutor(), &recordingBus{})
	result := r.RunTask(context.Background(), "run-1", defaultRequest())

	if result.Status != domain.TaskFailed {
		t.Fatalf("expected Failed, got %s", result.Status)
	}
	if !strings.Contains(result.Err, "insufficient funds") {
		t.Errorf("unexpected error: %q", result.Err)
	}
	if got := ledger.Balance("client-1"); got != 10 {
		t.Errorf("client balance %d, want untouched 10", got)
	}
}

func TestRunTaskRejectsEmptyInput(t *testing.T) {
	ledger := ledgermem.NewLedger(time.Hour)
	ledger.Deposit("client-1", 27)

	req := defaultRequest()
	req.InitialInput = "   "

	r := newTestRunner(ledger, chainingExecutor(), &recordingBus{})
	result := r.RunTask(context.Background(), "run-1", req)

	if result.Status != domain.TaskFailed {
		t.Fatalf("expected Failed, got %s", result.Status)
	}
	if got := ledger.Balance("client-1"); got != 27 {
		t.Errorf("client balance %d, want untouched 27", got)
	}
}

func TestSettlementErrorHaltsWithoutClose(t *testing.T) {
	// Second settle (analyst) fails at the transport level.
	ledger := &faultyLedger{
		Ledger:       ledgermem.NewLedger(time.Hour),
		failSettleAt: 2,
	}
	ledger.Deposit("client-1", 27)

	r := newTestRunner(ledger, chainingExecutor(), &recordingBus{})
	result := r.RunTask(context.Background(), "run-1", defaultRequest())

	if result.Status != domain.TaskFailed {
		t.Fatalf("expected Failed, got %s", result.Status)
	}
	if len(result.Audit) != 1 {
		t.Errorf("expected 1 audit entry, got %d", len(result.Audit))
	}
	if ledger.allocations != 2 {
		t.Errorf("writer should never be allocated: %d allocations", ledger.allocations)
	}
	if ledger.closeCalls != 0 {
		t.Errorf("closeTask must not be called on a halted run")
	}

	// The task is left to external recovery, not closed by the runner.
	task, err := ledger.GetTask(context.Background(), result.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != domain.TaskInProgress {
		t.Errorf("ledger task status %s, want InProgress", task.Status)
	}
}

func TestDegradedStepStillSettles(t *testing.T) {
	ledger := ledgermem.NewLedger(time.Hour)
	ledger.Deposit("client-1", 27)

	executor := &stubExecutor{run: func(role domain.Role, input string) ports.StepResult {
		if role == domain.RoleAnalyst {
			return ports.StepResult{Output: "canned analysis", Model: "fallback", Degraded: true}
		}
		return ports.StepResult{Output: string(role) + " output", Model: "stub"}
	}}
	bus := &recordingBus{}

	r := newTestRunner(ledger, executor, bus)
	result := r.RunTask(context.Background(), "run-1", defaultRequest())

	if result.Status != domain.TaskCompleted {
		t.Fatalf("expected Completed, got %s (err=%q)", result.Status, result.Err)
	}
	if !result.Audit[1].Degraded {
		t.Errorf("analyst audit entry should be marked degraded")
	}
	if got := ledger.Earnings(domain.RoleAnalyst); got != 8 {
		t.Errorf("degraded analyst earned %d, want full 8", got)
	}
	if bus.typesSeen()[domain.EventTypeStepDegraded] != 1 {
		t.Errorf("expected exactly one degraded event")
	}
}

func TestCancellationTakesEffectAtStepBoundary(t *testing.T) {
	ledger := ledgermem.NewLedger(time.Hour)
	ledger.Deposit("client-1", 27)

	ctx, cancel := context.WithCancel(context.Background())
	executor := &stubExecutor{run: func(role domain.Role, input string) ports.StepResult {
		if role == domain.RoleResearcher {
			// Signal arrives mid-step; the researcher must still settle.
			cancel()
		}
		return ports.StepResult{Output: string(role) + " output", Model: "stub"}
	}}

	r := newTestRunner(ledger, executor, &recordingBus{})
	result := r.RunTask(ctx, "run-1", defaultRequest())

	if result.Status != domain.TaskCancelled {
		t.Fatalf("expected Cancelled, got %s (err=%q)", result.Status, result.Err)
	}
	if len(result.Audit) != 1 {
		t.Errorf("expected 1 settled step before cancellation, got %d", len(result.Audit))
	}
	if got := ledger.Earnings(domain.RoleResearcher); got != 7 {
		t.Errorf("researcher earned %d, want 7", got)
	}
	if got := ledger.Balance("client-1"); got != 20 {
		t.Errorf("client refunded %d, want 20", got)
	}

	task, err := ledger.GetTask(context.Background(), result.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != domain.TaskCancelled {
		t.Errorf("ledger task status %s, want Cancelled", task.Status)
	}
}

// ctxLedger wraps the in-memory ledger and honors context cancellation on
// every call, the way a networked adapter does.
type ctxLedger struct {
	*ledgermem.Ledger
}

func (c *ctxLedger) OpenTask(ctx context.Context, client string, coordinator domain.PricedRole, totalBudget uint64, taskHash string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	return c.Ledger.OpenTask(ctx, client, coordinator, totalBudget, taskHash)
}

func (c *ctxLedger) Allocate(ctx context.Context, taskID uint64, toRole domain.Role, amount uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	return c.Ledger.Allocate(ctx, taskID, toRole, amount)
}

func (c *ctxLedger) Settle(ctx context.Context, requestID uint64, success bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	return c.Ledger.Settle(ctx, requestID, success)
}

func (c *ctxLedger) CloseTask(ctx context.Context, taskID uint64, success bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	return c.Ledger.CloseTask(ctx, taskID, success)
}

func (c *ctxLedger) CancelTask(ctx context.Context, taskID uint64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	return c.Ledger.CancelTask(ctx, taskID)
}

func (c *ctxLedger) GetTask(ctx context.Context, taskID uint64) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	return c.Ledger.GetTask(ctx, taskID)
}

func TestCancelMidStepNeverAbortsTheSettlement(t *testing.T) {
	// The ledger rejects any call made with a cancelled context. The
	// settle, reconcile and cancel calls after a mid-step cancellation
	// must therefore run detached from the run context.
	ledger := &ctxLedger{Ledger: ledgermem.NewLedger(time.Hour)}
	ledger.Deposit("client-1", 27)

	ctx, cancel := context.WithCancel(context.Background())
	executor := &stubExecutor{run: func(role domain.Role, input string) ports.StepResult {
		if role == domain.RoleResearcher {
			cancel()
		}
		return ports.StepResult{Output: string(role) + " output", Model: "stub"}
	}}

	r := newTestRunner(ledger, executor, &recordingBus{})
	result := r.RunTask(ctx, "run-1", defaultRequest())

	if result.Status != domain.TaskCancelled {
		t.Fatalf("expected Cancelled, got %s (err=%q)", result.Status, result.Err)
	}
	if got := ledger.Earnings(domain.RoleResearcher); got != 7 {
		t.Errorf("researcher earned %d, want 7", got)
	}
	if got := ledger.Balance("client-1"); got != 20 {
		t.Errorf("client refunded %d, want 20", got)
	}

	task, err := ledger.GetTask(context.Background(), result.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.PendingAllocations != 0 {
		t.Errorf("pending allocations %d, want 0", task.PendingAllocations)
	}
	if task.Status != domain.TaskCancelled {
		t.Errorf("ledger task status %s, want Cancelled", task.Status)
	}
}

func TestInconsistentLedgerReadIsFatal(t *testing.T) {
	ledger := &corruptedLedger{Ledger: ledgermem.NewLedger(time.Hour)}
	ledger.Deposit("client-1", 27)

	r := newTestRunner(ledger, chainingExecutor(), &recordingBus{})
	result := r.RunTask(context.Background(), "run-1", defaultRequest())

	if result.Status != domain.TaskFailed {
		t.Fatalf("expected Failed, got %s", result.Status)
	}
	if !strings.Contains(result.Err, "inconsistency") {
		t.Errorf("unexpected error: %q", result.Err)
	}
}

// corruptedLedger reports a remaining budget that breaks conservation.
type corruptedLedger struct {
	*ledgermem.Ledger
}

func (c *corruptedLedger) GetTask(ctx context.Context, taskID uint64) (*domain.Task, error) {
	task, err := c.Ledger.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	task.RemainingBudget++
	return task, nil
}
