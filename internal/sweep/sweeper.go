// Package sweep implements the reconciliation sweeper: a periodic batch
// scan for deliveries due a retry. It is the engine's durability
// guarantee, so delivery completes eventually even if the process that
// took the first attempt died mid-flight.
package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tidehook/tidehook/internal/delivery"
	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/metrics"
	"github.com/tidehook/tidehook/internal/store"
	"github.com/tidehook/tidehook/internal/tracing"
)

const (
	defaultBatchSize   = 100
	defaultConcurrency = 10
)

// Sweeper drains the eligible-delivery set through the dispatcher.
type Sweeper struct {
	store      store.Store
	dispatcher *delivery.Dispatcher
	// BatchSize bounds how many deliveries one run picks up.
	BatchSize int
	// Concurrency bounds intra-sweep parallelism. Deliveries in a batch
	// are distinct records, so attempts are independent.
	Concurrency int
	logger      *logging.Logger
}

// New builds a sweeper over the given store and dispatcher.
func New(st store.Store, d *delivery.Dispatcher) *Sweeper {
	return &Sweeper{
		store:       st,
		dispatcher:  d,
		BatchSize:   defaultBatchSize,
		Concurrency: defaultConcurrency,
		logger:      logging.New("tidehook-sweeper"),
	}
}

// Run performs one sweep and returns the number of attempts made, the
// engine's sole reporting surface to the scheduling layer. When the store
// arbitrates sweeps across processes and the lock is already held, Run
// returns without scanning.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	if locker, ok := s.store.(store.SweepLocker); ok {
		release, held, err := locker.AcquireSweepLock(ctx)
		if err != nil {
			return 0, err
		}
		if !held {
			s.logger.WithContext(ctx).Debug("sweep lock held elsewhere, skipping run")
			return 0, nil
		}
		defer release()
	}

	ctx, span := tracing.StartSpan(ctx, "sweeper.run")
	defer span.End()

	due, err := s.store.ListDue(ctx, time.Now().UTC(), s.dispatcher.Policy().MaxAttempts, s.BatchSize)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, err
	}

	var attempted, skipped atomic.Int64
	p := pool.New().WithMaxGoroutines(s.Concurrency)
	for _, d := range due {
		ep, err := s.store.GetEndpoint(ctx, d.EndpointID)
		if err != nil {
			s.logger.WithContext(ctx).WithDelivery(d.ID).WithEndpoint(d.EndpointID).WithError(err).Error("load endpoint failed")
			continue
		}
		if !ep.Active {
			skipped.Add(1)
			continue
		}
		del := d
		p.Go(func() {
			_, err := s.dispatcher.Attempt(ctx, del, ep)
			switch {
			case err == nil:
				attempted.Add(1)
			case errors.Is(err, delivery.ErrEndpointInactive), errors.Is(err, delivery.ErrNotSubscribed):
				s.logger.WithContext(ctx).WithDelivery(del.ID).WithError(err).Error("sweep attempt rejected")
			default:
				// The POST was made; only recording its result failed.
				attempted.Add(1)
				s.logger.WithContext(ctx).WithDelivery(del.ID).WithError(err).Error("sweep attempt result not recorded")
			}
		})
	}
	p.Wait()

	metrics.RecordSweep(int(attempted.Load()), int(skipped.Load()))
	span.SetAttributes(
		attribute.Int("sweep.eligible", len(due)),
		attribute.Int("sweep.attempted", int(attempted.Load())),
		attribute.Int("sweep.skipped_inactive", int(skipped.Load())),
	)
	if len(due) > 0 {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"eligible":         len(due),
			"attempted":        attempted.Load(),
			"skipped_inactive": skipped.Load(),
		}).Info("sweep completed")
	}
	return int(attempted.Load()), nil
}

// Start runs sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.logger.WithContext(ctx).WithError(err).Error("sweep run failed")
			}
		}
	}
}
