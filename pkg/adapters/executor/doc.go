// Package executor maps roles to their text-generation behavior and
// guarantees a usable output under all conditions.
//
// Backend failures, timeouts and output-contract violations (empty output,
// verbatim echo of the input) are absorbed by substituting the role's static
// fallback text. Payment decisions downstream are never blocked by a flaky
// backend.
//
// Backends:
//   - anthropic: Anthropic Claude via the official SDK (MVP)
//   - static: deterministic canned outputs for offline demos and tests
package executor
