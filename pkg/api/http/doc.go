// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Run submission, status and cancellation
//   - The ledger task read model
//   - Health checks
//   - Prometheus metrics
package http
