package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mbellido/agentpay/internal/application/workers"
	ledgermem "github.com/mbellido/agentpay/pkg/adapters/ledger/memory"
	"github.com/mbellido/agentpay/pkg/domain"
)

func newTestManager(t *testing.T, ledger *ledgermem.Ledger) *Manager {
	t.Helper()

	pool := workers.NewPool(2, 8, nopMetrics{}, zap.NewNop(), time.Minute)
	if err := pool.Start(); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	bus := &recordingBus{}
	runner := NewRunner(ledger, chainingExecutor(), bus, nopMetrics{}, zap.NewNop(), time.Second)
	return NewManager(runner, pool, bus, nopMetrics{}, zap.NewNop(), 10*time.Second)
}

func waitForTerminal(t *testing.T, m *Manager, runID string) *RunStatus {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := m.Status(runID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.Status.Terminal() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a terminal state", runID)
	return nil
}

func TestSubmitRunsToCompletion(t *testing.T) {
	ledger := ledgermem.NewLedger(time.Hour)
	ledger.Deposit("client-1", 27)

	m := newTestManager(t, ledger)

	runID, err := m.Submit(context.Background(), defaultRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := waitForTerminal(t, m, runID)
	if st.Status != domain.TaskCompleted {
		t.Fatalf("expected Completed, got %s", st.Status)
	}
	if st.Result == nil || len(st.Result.Audit) != 3 {
		t.Errorf("expected a full 3-entry audit log")
	}
}

func TestSubmitRejectsBadPricingBeforeEnqueue(t *testing.T) {
	m := newTestManager(t, ledgermem.NewLedger(time.Hour))

	req := defaultRequest()
	req.Pipeline = nil

	if _, err := m.Submit(context.Background(), req); !errors.Is(err, domain.ErrInvalidPricing) {
		t.Errorf("expected ErrInvalidPricing, got %v", err)
	}

	req = defaultRequest()
	req.Client = ""
	if _, err := m.Submit(context.Background(), req); err == nil {
		t.Errorf("expected error for missing client")
	}
}

func TestStatusUnknownRun(t *testing.T) {
	m := newTestManager(t, ledgermem.NewLedger(time.Hour))

	if _, err := m.Status("nope"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if err := m.Cancel("nope"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestCancelTerminalRunIsRejected(t *testing.T) {
	ledger := ledgermem.NewLedger(time.Hour)
	ledger.Deposit("client-1", 27)

	m := newTestManager(t, ledger)

	runID, err := m.Submit(context.Background(), defaultRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForTerminal(t, m, runID)

	if err := m.Cancel(runID); err == nil {
		t.Errorf("expected error cancelling a finished run")
	}
}
