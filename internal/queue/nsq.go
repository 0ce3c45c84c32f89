package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/tidehook/tidehook/internal/metrics"
)

// nsqDedupWindow bounds how long a published task key suppresses
// re-submission. A task is consumed and attempted well within the 30s
// attempt timeout plus queue latency; after the window the sweeper's own
// eligibility scan is the source of truth anyway.
const nsqDedupWindow = time.Minute

// NSQ publishes dispatch tasks to an nsqd topic for consumption by worker
// processes. Submit-side dedup uses a timed outstanding-key window, since
// the submitter cannot observe remote completion.
type NSQ struct {
	producer *nsq.Producer
	topic    string

	mu          sync.Mutex
	outstanding map[string]time.Time
}

// NewNSQ connects a producer to nsqd at addr and publishes to topic.
func NewNSQ(addr, topic string) (*NSQ, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	return &NSQ{
		producer:    producer,
		topic:       topic,
		outstanding: make(map[string]time.Time),
	}, nil
}

// Submit publishes the task unless the same key was published within the
// dedup window.
func (q *NSQ) Submit(_ context.Context, t Task) error {
	key := t.Key()
	now := time.Now()

	q.mu.Lock()
	if at, dup := q.outstanding[key]; dup && now.Sub(at) < nsqDedupWindow {
		q.mu.Unlock()
		return nil
	}
	q.outstanding[key] = now
	for k, at := range q.outstanding {
		if now.Sub(at) >= nsqDedupWindow {
			delete(q.outstanding, k)
		}
	}
	metrics.UpdateQueueOutstanding(float64(len(q.outstanding)))
	q.mu.Unlock()

	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return q.producer.Publish(q.topic, b)
}

// Stop releases the underlying producer.
func (q *NSQ) Stop() {
	q.producer.Stop()
}
