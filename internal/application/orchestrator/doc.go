// Package orchestrator implements the budget-escrow run lifecycle.
//
// The runner drives a single run from open to terminal state, keeping work
// and payment in lockstep: each pipeline role gets a budget allocation, its
// step is executed, and the allocation is settled before the next role is
// touched. Ledger failures halt the run immediately; content failures are
// absorbed by the executor's fallback policy and never abort a run.
//
// The accountant is the client-side arithmetic guard: it plans the budget
// decomposition before any ledger call and verifies the conservation
// invariant after each one.
//
// The manager tracks active runs, hands execution to the worker pool, and
// exposes submit, status and cancel to the API layer.
package orchestrator
