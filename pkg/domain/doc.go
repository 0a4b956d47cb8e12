// Package domain defines the core types of the budget-escrow orchestrator:
// roles, tasks, allocations, run results and lifecycle events.
//
// Money is always expressed as an unsigned integer amount in the smallest
// currency unit. The conservation invariant
//
//	remainingBudget + pendingAllocations + settledSum == totalBudget
//
// must hold for every task at every observation point.
package domain
