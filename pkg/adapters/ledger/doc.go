// Package ledger provides implementations of the ledger port.
//
// Implementations:
//   - redis: Redis-backed escrow state with optimistic transactions (MVP)
//   - memory: In-memory escrow for testing and offline demos
//
// Both enforce the same escrow rules: settlements are accepted exactly once,
// a failed settlement fails the owning task and refunds the client, and
// closing requires no outstanding allocations.
package ledger
