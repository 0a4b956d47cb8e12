// Package events provides event bus implementations for run lifecycle
// notifications.
//
// Implementations:
//   - redis: Redis Streams with consumer groups (MVP)
//   - memory: In-memory for testing and single-process deployments
package events
