package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mbellido/agentpay/internal/application/orchestrator"
	"github.com/mbellido/agentpay/internal/application/workers"
	eventsmem "github.com/mbellido/agentpay/pkg/adapters/events/memory"
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

type echoExecutor struct{}

func (echoExecutor) Run(_ context.Context, role domain.Role, input string) ports.StepResult {
	return ports.StepResult{Output: string(role) + ": " + input, Model: "stub"}
}

func newTestServer(t *testing.T) (*Server, *ledgermem.Ledger) {
	t.Helper()

	ledger := ledgermem.NewLedger(time.Hour)
	ledger.Deposit("client-1", 1000)

	pool := workers.NewPool(2, 8, nopMetrics{}, zap.NewNop(), time.Minute)
	if err := pool.Start(); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	bus := eventsmem.NewInMemoryEventBus()
	runner := orchestrator.NewRunner(ledger, echoExecutor{}, bus, nopMetrics{}, zap.NewNop(), time.Second)
	manager := orchestrator.NewManager(runner, pool, bus, nopMetrics{}, zap.NewNop(), 10*time.Second)

	return NewServer(&Config{
		Port:    0,
		Manager: manager,
		Ledger:  ledger,
		Pool:    pool,
		Logger:  zap.NewNop(),
	}), ledger
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func submitBody() string {
	return `{
		"client": "client-1",
		"coordinator": {"role": "coordinator", "price": 5},
		"pipeline": [
			{"role": "researcher", "price": 7},
			{"role": "analyst", "price": 8},
			{"role": "writer", "price": 7}
		],
		"initial_input": "write a market report"
	}`
}

func waitForRun(t *testing.T, s *Server, runID string) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := doRequest(s, http.MethodGet, "/api/runs/"+runID, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET run returned %d: %s", w.Code, w.Body.String())
		}

		var status map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
			t.Fatalf("invalid status body: %v", err)
		}
		if status["result"] != nil {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never finished", runID)
	return nil
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestListRoles(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/roles", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Roles           []RoleInfo    `json:"roles"`
		DefaultPipeline []domain.Role `json:"default_pipeline"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(resp.Roles) != 5 {
		t.Errorf("expected 5 built-in roles, got %d", len(resp.Roles))
	}
	if resp.Roles[0].AgentID != 1 {
		t.Errorf("coordinator agent id %d, want 1", resp.Roles[0].AgentID)
	}
	if len(resp.DefaultPipeline) != 4 {
		t.Errorf("expected 4 roles in default pipeline, got %d", len(resp.DefaultPipeline))
	}
}

func TestSubmitRunLifecycle(t *testing.T) {
	s, ledger := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/runs", submitBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp RunSubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.RunID == "" {
		t.Fatal("missing run_id in response")
	}

	status := waitForRun(t, s, resp.RunID)
	if status["status"] != float64(domain.TaskCompleted) {
		t.Errorf("unexpected terminal status: %v", status["status"])
	}

	if got := ledger.Earnings(domain.RoleWriter); got != 7 {
		t.Errorf("writer earned %d, want 7", got)
	}
}

func TestSubmitRunRejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/runs", `{"client": `)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", w.Code)
	}
}

func TestSubmitRunRejectsInvalidPricing(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"client": "client-1", "coordinator": {"role": "coordinator", "price": 5}, "pipeline": [], "initial_input": "x"}`
	w := doRequest(s, http.MethodPost, "/api/runs", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "INVALID_PRICING") {
		t.Errorf("expected INVALID_PRICING code, got: %s", w.Body.String())
	}
}

func TestGetRunNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/runs/does-not-exist", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCancelRunNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/runs/does-not-exist/cancel", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetTaskReadModel(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/runs", submitBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var resp RunSubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	status := waitForRun(t, s, resp.RunID)

	result := status["result"].(map[string]interface{})
	taskID := uint64(result["task_id"].(float64))

	w = doRequest(s, http.MethodGet, fmt.Sprintf("/api/tasks/%d", taskID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var task domain.Task
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("invalid task body: %v", err)
	}
	if task.TotalBudget != 27 {
		t.Errorf("task total budget %d, want 27", task.TotalBudget)
	}
	if task.Status != domain.TaskCompleted {
		t.Errorf("task status %s, want Completed", task.Status)
	}
}

func TestGetTaskRejectsBadID(t *testing.T) {
	s, _ := newTestServer(t)

	if w := doRequest(s, http.MethodGet, "/api/tasks/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if w := doRequest(s, http.MethodGet, "/api/tasks/999", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
