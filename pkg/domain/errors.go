package domain

import "errors"

// Error taxonomy. Ledger adapters return these sentinels (possibly wrapped)
// so callers can classify failures with errors.Is.
var (
	// ErrInvalidPricing reports client-side misconfiguration: empty role
	// sequence, duplicate roles, unknown roles or a budget overflow. It is
	// raised before any ledger call.
	ErrInvalidPricing = errors.New("invalid pricing")

	// ErrInsufficientFunds reports that the client's deposited funds do not
	// cover the requested total budget.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLedgerUnavailable reports a transport-level failure reaching the
	// ledger. Fatal to the run; the task is left in progress for external
	// recovery.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrLedgerTimeout reports a ledger call exceeding its deadline.
	ErrLedgerTimeout = errors.New("ledger timeout")

	// ErrLedgerInconsistency reports a violated conservation invariant in a
	// ledger response. Never auto-corrected.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")

	// ErrBackendDegraded reports a step backend failure. It is absorbed at
	// the executor boundary via the fallback policy and never escalates.
	ErrBackendDegraded = errors.New("backend degraded")

	// ErrRequestNotPending reports a settlement attempt on an allocation
	// that is not pending (already settled or cancelled).
	ErrRequestNotPending = errors.New("request not pending")

	// ErrTaskNotActive reports an operation on a task that is not in the
	// Created or InProgress state.
	ErrTaskNotActive = errors.New("task not active")

	// ErrPendingAllocations reports a closeTask attempt while allocations
	// are still outstanding.
	ErrPendingAllocations = errors.New("pending allocations outstanding")

	// ErrBudgetExceeded reports an allocation larger than the task's
	// remaining budget.
	ErrBudgetExceeded = errors.New("allocation exceeds remaining budget")

	// ErrTaskNotFound reports an unknown task id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrRequestNotFound reports an unknown allocation id.
	ErrRequestNotFound = errors.New("request not found")

	// ErrRunNotFound reports an unknown run id.
	ErrRunNotFound = errors.New("run not found")
)
