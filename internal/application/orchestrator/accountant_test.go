package orchestrator

import (
	"errors"
	"math"
	"testing"

	"github.com/mbellido/agentpay/pkg/domain"
)

func TestPlanSumsCoordinatorAndPipeline(t *testing.T) {
	a := NewAccountant()

	plan, err := a.Plan(
		domain.PricedRole{Role: domain.RoleCoordinator, Price: 5},
		[]domain.PricedRole{
			{Role: domain.RoleResearcher, Price: 7},
			{Role: domain.RoleAnalyst, Price: 8},
			{Role: domain.RoleWriter, Price: 7},
		},
	)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	if plan.TotalBudget != 27 {
		t.Errorf("expected total budget 27, got %d", plan.TotalBudget)
	}
	if len(plan.Order) != 3 {
		t.Errorf("expected 3 roles in order, got %d", len(plan.Order))
	}
	if plan.PerRole[domain.RoleAnalyst] != 8 {
		t.Errorf("expected analyst price 8, got %d", plan.PerRole[domain.RoleAnalyst])
	}
}

func TestPlanRejectsInvalidPipelines(t *testing.T) {
	coordinator := domain.PricedRole{Role: domain.RoleCoordinator, Price: 5}

	tests := []struct {
		name     string
		pipeline []domain.PricedRole
	}{
		{
			name:     "empty pipeline",
			pipeline: nil,
		},
		{
			name: "unknown role",
			pipeline: []domain.PricedRole{
				{Role: domain.Role("astrologer"), Price: 3},
			},
		},
		{
			name: "duplicate role",
			pipeline: []domain.PricedRole{
				{Role: domain.RoleResearcher, Price: 7},
				{Role: domain.RoleResearcher, Price: 7},
			},
		},
		{
			name: "coordinator in pipeline",
			pipeline: []domain.PricedRole{
				{Role: domain.RoleCoordinator, Price: 1},
			},
		},
		{
			name: "overflowing total",
			pipeline: []domain.PricedRole{
				{Role: domain.RoleResearcher, Price: math.MaxUint64},
			},
		},
	}

	a := NewAccountant()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Plan(coordinator, tt.pipeline)
			if !errors.Is(err, domain.ErrInvalidPricing) {
				t.Errorf("expected ErrInvalidPricing, got %v", err)
			}
		})
	}
}

func TestReconcileEnforcesConservation(t *testing.T) {
	a := NewAccountant()

	if err := a.Reconcile(12, 8, 7, 27); err != nil {
		t.Errorf("balanced ledger reported inconsistent: %v", err)
	}

	err := a.Reconcile(12, 8, 8, 27)
	if !errors.Is(err, domain.ErrLedgerInconsistency) {
		t.Errorf("expected ErrLedgerInconsistency, got %v", err)
	}
}
