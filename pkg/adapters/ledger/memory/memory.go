package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mbellido/agentpay/pkg/domain"
)

// Ledger implements the ledger port in process memory. It is the test double
// for the orchestrator and the backend for offline demos.
//
// The coordinator fee is reserved inside RemainingBudget until the task is
// closed, so remaining + pending + settled == total holds after every call.
type Ledger struct {
	mu sync.Mutex

	deadline time.Duration

	nextTaskID    uint64
	nextRequestID uint64

	deposits map[string]uint64      // client account -> available funds
	earnings map[domain.Role]uint64 // role -> total paid out

	tasks    map[uint64]*taskState
	requests map[uint64]*domain.AgentRequest
}

// taskState carries the settled sum alongside the task so the conservation
// invariant can be checked without walking all requests.
type taskState struct {
	task    domain.Task
	settled uint64
}

// NewLedger creates an empty in-memory ledger. Every opened task gets
// now+deadline as its withdrawal deadline.
func NewLedger(deadline time.Duration) *Ledger {
	return &Ledger{
		deadline: deadline,
		deposits: make(map[string]uint64),
		earnings: make(map[domain.Role]uint64),
		tasks:    make(map[uint64]*taskState),
		requests: make(map[uint64]*domain.AgentRequest),
	}
}

// Deposit credits funds to a client account.
func (l *Ledger) Deposit(client string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deposits[client] += amount
}

// Balance returns a client's available funds.
func (l *Ledger) Balance(client string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deposits[client]
}

// Earnings returns the total amount paid out to a role.
func (l *Ledger) Earnings(role domain.Role) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.earnings[role]
}

// OpenTask locks totalBudget of the client's funds in escrow.
func (l *Ledger) OpenTask(ctx context.Context, client string, coordinator domain.PricedRole, totalBudget uint64, taskHash string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if totalBudget < coordinator.Price {
		return 0, fmt.Errorf("%w: budget %d below coordinator fee %d", domain.ErrInvalidPricing, totalBudget, coordinator.Price)
	}
	if l.deposits[client] < totalBudget {
		return 0, fmt.Errorf("%w: client %s has %d, need %d", domain.ErrInsufficientFunds, client, l.deposits[client], totalBudget)
	}

	l.deposits[client] -= totalBudget
	l.nextTaskID++
	now := time.Now()

	st := &taskState{
		task: domain.Task{
			ID:              l.nextTaskID,
			Client:          client,
			CoordinatorRole: coordinator.Role,
			TaskHash:        taskHash,
			TotalBudget:     totalBudget,
			RemainingBudget: totalBudget,
			CoordinatorFee:  coordinator.Price,
			Status:          domain.TaskCreated,
			CreatedAt:       now,
			Deadline:        now.Add(l.deadline),
		},
	}
	l.tasks[st.task.ID] = st

	return st.task.ID, nil
}

// Allocate earmarks amount of the remaining budget for toRole.
func (l *Ledger) Allocate(ctx context.Context, taskID uint64, toRole domain.Role, amount uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.tasks[taskID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", domain.ErrTaskNotFound, taskID)
	}
	if st.task.Status != domain.TaskCreated && st.task.Status != domain.TaskInProgress {
		return 0, fmt.Errorf("%w: task %d is %s", domain.ErrTaskNotActive, taskID, st.task.Status)
	}
	if amount > st.task.RemainingBudget {
		return 0, fmt.Errorf("%w: %d > %d remaining", domain.ErrBudgetExceeded, amount, st.task.RemainingBudget)
	}

	st.task.Status = domain.TaskInProgress
	st.task.RemainingBudget -= amount
	st.task.PendingAllocations += amount

	l.nextRequestID++
	req := &domain.AgentRequest{
		ID:        l.nextRequestID,
		TaskID:    taskID,
		FromRole:  st.task.CoordinatorRole,
		ToRole:    toRole,
		Amount:    amount,
		Status:    domain.RequestPending,
		CreatedAt: time.Now(),
	}
	l.requests[req.ID] = req

	return req.ID, nil
}

// Settle resolves a pending allocation exactly once. On failure the owning
// task fails and all unspent budget, the unpaid coordinator fee included,
// returns to the client in the same operation.
func (l *Ledger) Settle(ctx context.Context, requestID uint64, success bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[requestID]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrRequestNotFound, requestID)
	}
	if req.Status != domain.RequestPending {
		return fmt.Errorf("%w: request %d is %s", domain.ErrRequestNotPending, requestID, req.Status)
	}
	st, ok := l.tasks[req.TaskID]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrTaskNotFound, req.TaskID)
	}

	st.task.PendingAllocations -= req.Amount

	if success {
		req.Status = domain.RequestCompleted
		l.earnings[req.ToRole] += req.Amount
		st.settled += req.Amount
		return nil
	}

	// Halt-and-refund: the voided amount returns to the budget and the task
	// fails with a full refund of everything unspent.
	req.Status = domain.RequestFailed
	st.task.RemainingBudget += req.Amount
	l.deposits[st.task.Client] += st.task.RemainingBudget
	st.task.RemainingBudget = 0
	st.task.Status = domain.TaskFailed

	return nil
}

// CloseTask pays the coordinator fee out of the remaining budget and refunds
// the rest to the client.
func (l *Ledger) CloseTask(ctx context.Context, taskID uint64, success bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrTaskNotFound, taskID)
	}
	if st.task.Status != domain.TaskInProgress {
		return fmt.Errorf("%w: task %d is %s", domain.ErrTaskNotActive, taskID, st.task.Status)
	}
	if st.task.PendingAllocations > 0 {
		return fmt.Errorf("%w: %d outstanding on task %d", domain.ErrPendingAllocations, st.task.PendingAllocations, taskID)
	}
	if st.task.RemainingBudget < st.task.CoordinatorFee {
		return fmt.Errorf("%w: remaining %d cannot cover coordinator fee %d", domain.ErrLedgerInconsistency, st.task.RemainingBudget, st.task.CoordinatorFee)
	}

	l.earnings[st.task.CoordinatorRole] += st.task.CoordinatorFee
	st.settled += st.task.CoordinatorFee
	l.deposits[st.task.Client] += st.task.RemainingBudget - st.task.CoordinatorFee
	st.task.RemainingBudget = 0

	if success {
		st.task.Status = domain.TaskCompleted
	} else {
		st.task.Status = domain.TaskFailed
	}

	return nil
}

// CancelTask refunds everything unspent and terminates the task.
func (l *Ledger) CancelTask(ctx context.Context, taskID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrTaskNotFound, taskID)
	}
	if st.task.Status != domain.TaskCreated && st.task.Status != domain.TaskInProgress {
		return fmt.Errorf("%w: task %d is %s", domain.ErrTaskNotActive, taskID, st.task.Status)
	}
	if st.task.PendingAllocations > 0 {
		return fmt.Errorf("%w: %d outstanding on task %d", domain.ErrPendingAllocations, st.task.PendingAllocations, taskID)
	}

	l.deposits[st.task.Client] += st.task.RemainingBudget
	st.task.RemainingBudget = 0
	st.task.Status = domain.TaskCancelled

	return nil
}

// GetTask returns a copy of the authoritative task state.
func (l *Ledger) GetTask(ctx context.Context, taskID uint64) (*domain.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrTaskNotFound, taskID)
	}

	task := st.task
	return &task, nil
}

// SettledSum returns the sum of successfully settled allocations for a task,
// the coordinator fee included once paid.
func (l *Ledger) SettledSum(taskID uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.tasks[taskID]; ok {
		return st.settled
	}
	return 0
}
