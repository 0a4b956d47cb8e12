package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mbellido/agentpay/pkg/domain"
)

// Ledger implements the ledger port on Redis. Task and request records are
// stored as JSON; escrow mutations run inside WATCH transactions so that a
// settlement is accepted exactly once even with concurrent orchestrators.
type Ledger struct {
	client   *redis.Client
	logger   *zap.Logger
	deadline time.Duration
}

// taskRecord is the persisted task state plus the settled sum.
type taskRecord struct {
	domain.Task
	Settled uint64 `json:"settled"`
}

// NewLedger creates a Redis-backed ledger.
func NewLedger(client *redis.Client, deadline time.Duration, logger *zap.Logger) *Ledger {
	return &Ledger{
		client:   client,
		logger:   logger,
		deadline: deadline,
	}
}

// Deposit credits funds to a client account.
func (l *Ledger) Deposit(ctx context.Context, client string, amount uint64) error {
	if err := l.client.IncrBy(ctx, balanceKey(client), int64(amount)).Err(); err != nil {
		return wrapTransport("deposit", err)
	}
	return nil
}

// OpenTask locks totalBudget of the client's funds in escrow.
func (l *Ledger) OpenTask(ctx context.Context, client string, coordinator domain.PricedRole, totalBudget uint64, taskHash string) (uint64, error) {
	if totalBudget < coordinator.Price {
		return 0, fmt.Errorf("%w: budget %d below coordinator fee %d", domain.ErrInvalidPricing, totalBudget, coordinator.Price)
	}

	var taskID uint64
	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		balance, err := tx.Get(ctx, balanceKey(client)).Uint64()
		if err != nil && err != redis.Nil {
			return err
		}
		if balance < totalBudget {
			return fmt.Errorf("%w: client %s has %d, need %d", domain.ErrInsufficientFunds, client, balance, totalBudget)
		}

		taskID, err = l.client.Incr(ctx, "agentpay:seq:task").Uint64()
		if err != nil {
			return err
		}

		now := time.Now()
		rec := taskRecord{Task: domain.Task{
			ID:              taskID,
			Client:          client,
			CoordinatorRole: coordinator.Role,
			TaskHash:        taskHash,
			TotalBudget:     totalBudget,
			RemainingBudget: totalBudget,
			CoordinatorFee:  coordinator.Price,
			Status:          domain.TaskCreated,
			CreatedAt:       now,
			Deadline:        now.Add(l.deadline),
		}}
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.DecrBy(ctx, balanceKey(client), int64(totalBudget))
			pipe.Set(ctx, taskKey(taskID), data, 0)
			return nil
		})
		return err
	}, balanceKey(client))

	if err != nil {
		return 0, classify("open task", err)
	}

	l.logger.Debug("task opened",
		zap.Uint64("task_id", taskID),
		zap.String("client", client),
		zap.Uint64("total_budget", totalBudget))

	return taskID, nil
}

// Allocate earmarks amount of the remaining budget for toRole.
func (l *Ledger) Allocate(ctx context.Context, taskID uint64, toRole domain.Role, amount uint64) (uint64, error) {
	var requestID uint64
	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := l.getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if rec.Status != domain.TaskCreated && rec.Status != domain.TaskInProgress {
			return fmt.Errorf("%w: task %d is %s", domain.ErrTaskNotActive, taskID, rec.Status)
		}
		if amount > rec.RemainingBudget {
			return fmt.Errorf("%w: %d > %d remaining", domain.ErrBudgetExceeded, amount, rec.RemainingBudget)
		}

		requestID, err = l.client.Incr(ctx, "agentpay:seq:request").Uint64()
		if err != nil {
			return err
		}

		rec.Status = domain.TaskInProgress
		rec.RemainingBudget -= amount
		rec.PendingAllocations += amount

		req := domain.AgentRequest{
			ID:        requestID,
			TaskID:    taskID,
			FromRole:  rec.CoordinatorRole,
			ToRole:    toRole,
			Amount:    amount,
			Status:    domain.RequestPending,
			CreatedAt: time.Now(),
		}

		return l.writeTx(ctx, tx, rec, &req)
	}, taskKey(taskID))

	if err != nil {
		return 0, classify("allocate", err)
	}

	l.logger.Debug("budget allocated",
		zap.Uint64("task_id", taskID),
		zap.Uint64("request_id", requestID),
		zap.String("role", string(toRole)),
		zap.Uint64("amount", amount))

	return requestID, nil
}

// Settle resolves a pending allocation exactly once. On failure the owning
// task fails and all unspent budget returns to the client.
func (l *Ledger) Settle(ctx context.Context, requestID uint64, success bool) error {
	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		req, err := l.getRequestTx(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != domain.RequestPending {
			return fmt.Errorf("%w: request %d is %s", domain.ErrRequestNotPending, requestID, req.Status)
		}
		rec, err := l.getTaskTx(ctx, tx, req.TaskID)
		if err != nil {
			return err
		}

		rec.PendingAllocations -= req.Amount

		if success {
			req.Status = domain.RequestCompleted
			rec.Settled += req.Amount
			return l.writeTxPay(ctx, tx, rec, req, earningsKey(req.ToRole), req.Amount, "", 0)
		}

		// Halt-and-refund in one transaction.
		req.Status = domain.RequestFailed
		refund := rec.RemainingBudget + req.Amount
		rec.RemainingBudget = 0
		rec.Status = domain.TaskFailed
		return l.writeTxPay(ctx, tx, rec, req, "", 0, balanceKey(rec.Client), refund)
	}, requestKey(requestID))

	if err != nil {
		return classify("settle", err)
	}

	l.logger.Debug("request settled",
		zap.Uint64("request_id", requestID),
		zap.Bool("success", success))

	return nil
}

// CloseTask pays the coordinator fee out of the remaining budget and refunds
// the rest to the client.
func (l *Ledger) CloseTask(ctx context.Context, taskID uint64, success bool) error {
	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := l.getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if rec.Status != domain.TaskInProgress {
			return fmt.Errorf("%w: task %d is %s", domain.ErrTaskNotActive, taskID, rec.Status)
		}
		if rec.PendingAllocations > 0 {
			return fmt.Errorf("%w: %d outstanding on task %d", domain.ErrPendingAllocations, rec.PendingAllocations, taskID)
		}
		if rec.RemainingBudget < rec.CoordinatorFee {
			return fmt.Errorf("%w: remaining %d cannot cover coordinator fee %d", domain.ErrLedgerInconsistency, rec.RemainingBudget, rec.CoordinatorFee)
		}

		refund := rec.RemainingBudget - rec.CoordinatorFee
		rec.Settled += rec.CoordinatorFee
		rec.RemainingBudget = 0
		if success {
			rec.Status = domain.TaskCompleted
		} else {
			rec.Status = domain.TaskFailed
		}

		return l.writeTxPay(ctx, tx, rec, nil, earningsKey(rec.CoordinatorRole), rec.CoordinatorFee, balanceKey(rec.Client), refund)
	}, taskKey(taskID))

	if err != nil {
		return classify("close task", err)
	}

	l.logger.Debug("task closed",
		zap.Uint64("task_id", taskID),
		zap.Bool("success", success))

	return nil
}

// CancelTask refunds everything unspent and terminates the task.
func (l *Ledger) CancelTask(ctx context.Context, taskID uint64) error {
	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := l.getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if rec.Status != domain.TaskCreated && rec.Status != domain.TaskInProgress {
			return fmt.Errorf("%w: task %d is %s", domain.ErrTaskNotActive, taskID, rec.Status)
		}
		if rec.PendingAllocations > 0 {
			return fmt.Errorf("%w: %d outstanding on task %d", domain.ErrPendingAllocations, rec.PendingAllocations, taskID)
		}

		refund := rec.RemainingBudget
		rec.RemainingBudget = 0
		rec.Status = domain.TaskCancelled

		return l.writeTxPay(ctx, tx, rec, nil, "", 0, balanceKey(rec.Client), refund)
	}, taskKey(taskID))

	if err != nil {
		return classify("cancel task", err)
	}

	l.logger.Debug("task cancelled", zap.Uint64("task_id", taskID))
	return nil
}

// GetTask returns the authoritative task state.
func (l *Ledger) GetTask(ctx context.Context, taskID uint64) (*domain.Task, error) {
	data, err := l.client.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %d", domain.ErrTaskNotFound, taskID)
		}
		return nil, classify("get task", err)
	}

	var rec taskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	task := rec.Task
	return &task, nil
}

// getTaskTx reads a task record inside a WATCH transaction.
func (l *Ledger) getTaskTx(ctx context.Context, tx *redis.Tx, taskID uint64) (*taskRecord, error) {
	data, err := tx.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %d", domain.ErrTaskNotFound, taskID)
		}
		return nil, err
	}
	var rec taskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &rec, nil
}

// getRequestTx reads a request record inside a WATCH transaction.
func (l *Ledger) getRequestTx(ctx context.Context, tx *redis.Tx, requestID uint64) (*domain.AgentRequest, error) {
	data, err := tx.Get(ctx, requestKey(requestID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %d", domain.ErrRequestNotFound, requestID)
		}
		return nil, err
	}
	var req domain.AgentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	return &req, nil
}

// writeTx persists a task record and optionally a request record.
func (l *Ledger) writeTx(ctx context.Context, tx *redis.Tx, rec *taskRecord, req *domain.AgentRequest) error {
	return l.writeTxPay(ctx, tx, rec, req, "", 0, "", 0)
}

// writeTxPay persists the records and applies up to two account credits in
// the same MULTI/EXEC block.
func (l *Ledger) writeTxPay(ctx context.Context, tx *redis.Tx, rec *taskRecord, req *domain.AgentRequest, payKey string, payAmount uint64, refundKey string, refundAmount uint64) error {
	taskData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	var reqData []byte
	if req != nil {
		if reqData, err = json.Marshal(req); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(rec.ID), taskData, 0)
		if req != nil {
			pipe.Set(ctx, requestKey(req.ID), reqData, 0)
		}
		if payKey != "" && payAmount > 0 {
			pipe.IncrBy(ctx, payKey, int64(payAmount))
		}
		if refundKey != "" && refundAmount > 0 {
			pipe.IncrBy(ctx, refundKey, int64(refundAmount))
		}
		return nil
	})
	return err
}

// classify maps transport failures onto the ledger error taxonomy while
// passing domain errors through untouched.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidPricing),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrRequestNotFound),
		errors.Is(err, domain.ErrTaskNotActive),
		errors.Is(err, domain.ErrRequestNotPending),
		errors.Is(err, domain.ErrPendingAllocations),
		errors.Is(err, domain.ErrBudgetExceeded),
		errors.Is(err, domain.ErrLedgerInconsistency):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", domain.ErrLedgerTimeout, op, err)
	default:
		return wrapTransport(op, err)
	}
}

func wrapTransport(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrLedgerUnavailable, op, err)
}

func taskKey(id uint64) string {
	return fmt.Sprintf("agentpay:task:%d", id)
}

func requestKey(id uint64) string {
	return fmt.Sprintf("agentpay:request:%d", id)
}

func balanceKey(client string) string {
	return fmt.Sprintf("agentpay:balance:%s", client)
}

func earningsKey(role domain.Role) string {
	return fmt.Sprintf("agentpay:earnings:%s", role)
}
