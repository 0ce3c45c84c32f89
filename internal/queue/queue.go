// Package queue carries asynchronous dispatch tasks. Submission is
// deduplicated on the (endpoint, delivery) composite key: a task whose key
// is already outstanding is not re-enqueued. That discipline is what keeps
// the three attempt triggers (intake, async task, sweeper) from running a
// duplicate concurrent attempt against the same delivery; it is a
// correctness requirement, not an optimization.
package queue

import "context"

// Task identifies one pending dispatch of a delivery to its endpoint.
type Task struct {
	EndpointID   string            `json:"endpoint_id"`
	DeliveryID   string            `json:"delivery_id"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

// Key is the composite dedup key for the task.
func (t Task) Key() string {
	return t.EndpointID + "-" + t.DeliveryID
}

// Queue accepts dispatch tasks with at-least-once execution semantics.
type Queue interface {
	// Submit enqueues the task unless one with the same key is already
	// outstanding, in which case it is silently dropped.
	Submit(ctx context.Context, t Task) error
}
