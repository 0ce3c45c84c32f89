// Package store persists endpoint and delivery records. The engine only
// needs simple key lookups, single-row conditional updates, and one range
// query for the sweeper's eligibility scan; no cross-delivery transactions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tidehook/tidehook/internal/model"
)

// ErrNotFound is returned when a lookup by id matches no record.
var ErrNotFound = errors.New("record not found")

// ErrStaleDelivery is returned when a conditional delivery write loses to
// a concurrent attempt: the caller's copy no longer reflects the stored
// record, and the stored record is left untouched.
var ErrStaleDelivery = errors.New("delivery record changed concurrently")

// Store is the persistence contract consumed by the engine.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *model.Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*model.Endpoint, error)
	// UpdateEndpoint replaces the mutable endpoint fields. The write is
	// all-or-nothing: callers validate before invoking it, and a failed
	// validation must leave the stored row untouched.
	UpdateEndpoint(ctx context.Context, ep *model.Endpoint) error
	ListEndpoints(ctx context.Context, orgID string) ([]*model.Endpoint, error)

	CreateDelivery(ctx context.Context, d *model.Delivery) error
	GetDelivery(ctx context.Context, id string) (*model.Delivery, error)
	// RecordAttempt persists the bookkeeping of exactly one attempt as a
	// single conditional write keyed by delivery id. It succeeds only if
	// the stored record is still undelivered and has recorded one fewer
	// attempt than d; otherwise ErrStaleDelivery. Overlapping triggers
	// may both perform an HTTP attempt, but only one of them writes.
	RecordAttempt(ctx context.Context, d *model.Delivery) error
	// UpdateDelivery replaces mutable delivery fields for administrative
	// edits (rescheduling, clearing response state). It refuses to clear
	// a recorded DeliveredAt; attempt results go through RecordAttempt.
	UpdateDelivery(ctx context.Context, d *model.Delivery) error
	// ListDue returns up to limit deliveries eligible for an attempt:
	// not delivered, due (no schedule or schedule elapsed), and below
	// the attempt ceiling.
	ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.Delivery, error)
	ListDeliveries(ctx context.Context, endpointID string, limit int) ([]*model.Delivery, error)
}

// SweepLocker is implemented by stores that can arbitrate a single active
// sweeper across processes. Run loops skip the sweep when the lock is
// already held elsewhere.
type SweepLocker interface {
	// AcquireSweepLock returns held=false without blocking when another
	// process owns the lock. The release func must be called when held.
	AcquireSweepLock(ctx context.Context) (release func(), held bool, err error)
}
