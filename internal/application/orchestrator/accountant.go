package orchestrator

import (
	"fmt"
	"math"

	"github.com/mbellido/agentpay/pkg/domain"
)

// BudgetPlan is the expected budget decomposition for one run, computed
// before any ledger call.
type BudgetPlan struct {
	TotalBudget uint64
	PerRole     map[domain.Role]uint64
	Order       []domain.Role
}

// Accountant performs the client-side budget arithmetic. It is stateless;
// it verifies ledger responses but never overrides them.
type Accountant struct{}

// NewAccountant creates a new budget accountant
func NewAccountant() *Accountant {
	return &Accountant{}
}

// Plan sums the coordinator fee and the per-role prices into the total
// budget the ledger must lock. The pipeline must be a non-empty sequence of
// distinct known roles, none of them the coordinator.
func (a *Accountant) Plan(coordinator domain.PricedRole, pipeline []domain.PricedRole) (*BudgetPlan, error) {
	if len(pipeline) == 0 {
		return nil, fmt.Errorf("%w: empty pipeline", domain.ErrInvalidPricing)
	}
	if !coordinator.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown coordinator role %q", domain.ErrInvalidPricing, coordinator.Role)
	}

	plan := &BudgetPlan{
		TotalBudget: coordinator.Price,
		PerRole:     make(map[domain.Role]uint64, len(pipeline)),
		Order:       make([]domain.Role, 0, len(pipeline)),
	}

	seen := map[domain.Role]bool{coordinator.Role: true}
	for _, pr := range pipeline {
		if !pr.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidPricing, pr.Role)
		}
		if seen[pr.Role] {
			return nil, fmt.Errorf("%w: duplicate role %q", domain.ErrInvalidPricing, pr.Role)
		}
		seen[pr.Role] = true

		if pr.Price > math.MaxUint64-plan.TotalBudget {
			return nil, fmt.Errorf("%w: total budget overflows", domain.ErrInvalidPricing)
		}
		plan.TotalBudget += pr.Price
		plan.PerRole[pr.Role] = pr.Price
		plan.Order = append(plan.Order, pr.Role)
	}

	return plan, nil
}

// Reconcile asserts the budget conservation invariant against a fresh
// ledger read. settled is the sum the orchestrator has settled successfully
// so far in this run.
func (a *Accountant) Reconcile(remaining, pending, settled, total uint64) error {
	if remaining+pending+settled != total {
		return fmt.Errorf("%w: remaining=%d pending=%d settled=%d total=%d",
			domain.ErrLedgerInconsistency, remaining, pending, settled, total)
	}
	return nil
}
