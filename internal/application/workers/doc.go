// Package workers implements the worker pool that executes submitted runs.
//
// The pool manages a fixed number of goroutines draining a bounded job
// queue; each job is one complete run executed by the orchestrator. The
// health monitor tracks worker status and reports it to the metrics
// collector.
package workers
