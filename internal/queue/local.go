package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/tidehook/tidehook/internal/metrics"
)

// ErrQueueFull is returned when the local task buffer has no room.
var ErrQueueFull = errors.New("dispatch queue is full")

const localBufferSize = 1024

// Handler executes one dispatch task.
type Handler func(ctx context.Context, t Task)

// Local is an in-process task queue: a bounded worker pool behind a rate
// limiter, with submit-side dedup on the task key. Different deliveries
// are independent, so workers process tasks concurrently.
type Local struct {
	handler Handler
	limiter *rate.Limiter
	tasks   chan Task
	wg      conc.WaitGroup

	mu          sync.Mutex
	outstanding map[string]struct{}
	closed      bool
}

// NewLocal builds a local queue with the given number of workers and a
// per-second attempt ceiling shared across them.
func NewLocal(handler Handler, workers int, ratePerSec float64) *Local {
	if workers <= 0 {
		workers = 1
	}
	q := &Local{
		handler:     handler,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), workers),
		tasks:       make(chan Task, localBufferSize),
		outstanding: make(map[string]struct{}),
	}
	for i := 0; i < workers; i++ {
		q.wg.Go(func() { q.work(context.Background()) })
	}
	return q
}

// Submit enqueues t unless a task with the same key is already
// outstanding. The dedup entry is cleared only after the handler returns,
// so concurrent submissions of the same delivery collapse into one
// attempt.
func (q *Local) Submit(_ context.Context, t Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("queue is closed")
	}
	key := t.Key()
	if _, dup := q.outstanding[key]; dup {
		q.mu.Unlock()
		return nil
	}
	q.outstanding[key] = struct{}{}
	metrics.UpdateQueueOutstanding(float64(len(q.outstanding)))
	q.mu.Unlock()

	select {
	case q.tasks <- t:
		return nil
	default:
		q.forget(key)
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for in-flight handlers to finish.
func (q *Local) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Local) work(ctx context.Context) {
	for t := range q.tasks {
		if err := q.limiter.Wait(ctx); err != nil {
			q.forget(t.Key())
			return
		}
		q.handler(ctx, t)
		q.forget(t.Key())
	}
}

func (q *Local) forget(key string) {
	q.mu.Lock()
	delete(q.outstanding, key)
	metrics.UpdateQueueOutstanding(float64(len(q.outstanding)))
	q.mu.Unlock()
}
