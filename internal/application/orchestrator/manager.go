package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbellido/agentpay/internal/application/workers"
	"github.com/mbellido/agentpay/pkg/domain"
	"github.com/mbellido/agentpay/pkg/ports"
)

// RunStatus is a point-in-time snapshot of one run.
type RunStatus struct {
	RunID       string            `json:"run_id"`
	Status      domain.TaskStatus `json:"status"`
	SubmittedAt time.Time         `json:"submitted_at"`
	Result      *domain.RunResult `json:"result,omitempty"`
}

// Manager coordinates run execution
type Manager struct {
	runner   *Runner
	pool     *workers.Pool
	eventBus ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	// Track active and finished runs
	runs   sync.Map // map[string]*runContext
	active int
	mu     sync.Mutex

	runTimeout time.Duration
}

// runContext holds state for a single run
type runContext struct {
	runID       string
	status      domain.TaskStatus
	submittedAt time.Time
	cancelFunc  context.CancelFunc
	result      *domain.RunResult
	mu          sync.RWMutex
}

// NewManager creates a new run manager
func NewManager(
	runner *Runner,
	pool *workers.Pool,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	runTimeout time.Duration,
) *Manager {
	return &Manager{
		runner:     runner,
		pool:       pool,
		eventBus:   eventBus,
		metrics:    metrics,
		logger:     logger,
		runTimeout: runTimeout,
	}
}

// Submit validates a run request and enqueues it for execution. The
// returned run id can be used to query status, stream events, or cancel.
func (m *Manager) Submit(ctx context.Context, req RunRequest) (string, error) {
	// Catch misconfiguration before anything touches the ledger.
	if _, err := m.runner.accountant.Plan(req.Coordinator, req.Pipeline); err != nil {
		m.metrics.RecordRunSubmitted("rejected")
		return "", err
	}
	if req.Client == "" {
		m.metrics.RecordRunSubmitted("rejected")
		return "", fmt.Errorf("%w: client reference is required", domain.ErrInvalidPricing)
	}

	runID := uuid.New().String()

	rc := &runContext{
		runID:       runID,
		status:      domain.TaskCreated,
		submittedAt: time.Now(),
	}
	m.runs.Store(runID, rc)

	if err := m.pool.Submit(func(poolCtx context.Context) {
		m.execute(poolCtx, rc, req)
	}); err != nil {
		m.runs.Delete(runID)
		m.metrics.RecordRunSubmitted("rejected")
		return "", fmt.Errorf("failed to enqueue run: %w", err)
	}

	m.metrics.RecordRunSubmitted("accepted")
	m.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("client", req.Client),
		zap.Int("pipeline_len", len(req.Pipeline)))

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeRunSubmitted,
		RunID:     runID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"client":       req.Client,
			"pipeline_len": len(req.Pipeline),
		},
	}
	if err := m.eventBus.Publish(ctx, RunEventsTopic, event); err != nil {
		m.logger.Error("failed to publish run submitted event",
			zap.String("run_id", runID),
			zap.Error(err))
	}

	return runID, nil
}

// execute runs one run on a pool worker
func (m *Manager) execute(poolCtx context.Context, rc *runContext, req RunRequest) {
	runCtx, cancel := context.WithTimeout(poolCtx, m.runTimeout)
	defer cancel()

	rc.mu.Lock()
	if rc.status.Terminal() {
		// Cancelled while still queued.
		rc.mu.Unlock()
		return
	}
	rc.status = domain.TaskInProgress
	rc.cancelFunc = cancel
	rc.mu.Unlock()

	m.mu.Lock()
	m.active++
	m.metrics.SetActiveRuns(m.active)
	m.mu.Unlock()

	start := time.Now()
	result := m.runner.RunTask(runCtx, rc.runID, req)

	rc.mu.Lock()
	rc.status = result.Status
	rc.result = result
	rc.mu.Unlock()

	m.mu.Lock()
	m.active--
	m.metrics.SetActiveRuns(m.active)
	m.mu.Unlock()

	m.metrics.RecordRunFinished(result.Status.String(), time.Since(start).Seconds())
}

// Status retrieves the current status of a run
func (m *Manager) Status(runID string) (*RunStatus, error) {
	val, ok := m.runs.Load(runID)
	if !ok {
		return nil, domain.ErrRunNotFound
	}

	rc := val.(*runContext)
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return &RunStatus{
		RunID:       rc.runID,
		Status:      rc.status,
		SubmittedAt: rc.submittedAt,
		Result:      rc.result,
	}, nil
}

// Cancel requests cancellation of a run. The signal takes effect at the
// next step boundary; an in-flight ledger call is never aborted.
func (m *Manager) Cancel(runID string) error {
	val, ok := m.runs.Load(runID)
	if !ok {
		return domain.ErrRunNotFound
	}

	rc := val.(*runContext)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.status.Terminal() {
		return fmt.Errorf("run already in terminal state: %s", rc.status)
	}

	if rc.cancelFunc != nil {
		rc.cancelFunc()
	} else {
		// Still queued; mark cancelled so the worker skips it.
		rc.status = domain.TaskCancelled
		rc.result = &domain.RunResult{
			RunID:  rc.runID,
			Status: domain.TaskCancelled,
			Err:    "run cancelled before execution",
		}
	}

	m.logger.Info("run cancellation requested", zap.String("run_id", runID))
	return nil
}

// Shutdown cancels all active runs
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down run manager")

	m.runs.Range(func(key, value interface{}) bool {
		rc := value.(*runContext)
		rc.mu.RLock()
		cancel := rc.cancelFunc
		terminal := rc.status.Terminal()
		rc.mu.RUnlock()
		if cancel != nil && !terminal {
			cancel()
		}
		return true
	})

	m.logger.Info("run manager shut down complete")
	return nil
}
