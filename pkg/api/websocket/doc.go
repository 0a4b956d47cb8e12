// Package websocket provides real-time run event streaming.
//
// Clients connect to /api/runs/:id/ws to receive the run's lifecycle
// events (task opened, steps allocated and settled, terminal state) as
// they are published.
package websocket
